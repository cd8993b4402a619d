package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"fyers_desk/internal/account"
	"fyers_desk/internal/domain"
	"fyers_desk/internal/execution"
	"fyers_desk/internal/infra"
	"fyers_desk/internal/infra/fyers"
	"fyers_desk/internal/marketdata"
	"fyers_desk/internal/oauth"
	"fyers_desk/internal/session"
	"fyers_desk/internal/storage"
	"fyers_desk/internal/vault"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config   *infra.Config
	Store    *storage.Store
	Vault    *vault.Vault
	OAuth    *oauth.Broker
	Sessions *session.Manager
	Accounts *account.Service
	Registry *prometheus.Registry

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and builds the persistent services.
func (b *Bootstrap) Initialize() error {
	cfg, err := infra.LoadConfig(infra.ResolveConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg
	slog.SetDefault(infra.NewLogger(cfg))
	infra.SetUserAgent(infra.PlatformUserAgent(cfg.App.Name, cfg.App.Version))
	slog.Info("🚀 Bootstrapping", slog.String("app", cfg.App.Name), slog.String("mode", cfg.Trading.Mode))

	ws := infra.DefaultWorkspace()
	dataDir, err := ws.DataDir(cfg.Trading.Mode)
	if err != nil {
		return err
	}
	unlock, err := ws.Lock()
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := filepath.Join(dataDir, cfg.Storage.DBName)
	store, err := storage.Open(dbPath)
	if err != nil {
		b.Close()
		return err
	}
	b.Store = store
	slog.Info("✅ Store opened (WAL-mode)", slog.String("path", dbPath))

	v, err := vault.New([]byte(cfg.Security.AppSecret),
		vault.WithSalt([]byte(cfg.Security.Salt)),
		vault.WithIterations(cfg.Security.KDFIterations))
	if err != nil {
		b.Close()
		return err
	}
	b.Vault = v

	b.OAuth = oauth.NewBroker(oauth.Config{
		AuthURL:     cfg.Broker.AuthURL,
		TokenURL:    cfg.Broker.TokenURL,
		RedirectURI: cfg.Broker.RedirectURI,
	}, nil)
	b.Sessions = session.NewManager(session.WithVault(v), session.WithExchanger(b.OAuth))
	b.Accounts = account.NewService(store, v, b.Sessions)

	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return nil
}

// SignIn logs the user in, registering the account first when register is set.
func (b *Bootstrap) SignIn(ctx context.Context, username, password, email string, register bool) (domain.Session, error) {
	if register {
		u, err := b.Accounts.Register(ctx, username, password, email)
		if err != nil {
			return domain.Session{}, err
		}
		slog.Info("✅ Account registered", slog.String("username", u.Username))
	}
	return b.Accounts.Login(ctx, username, password)
}

// LinkBroker makes sure the session carries a broker token and returns the
// broker client id. Credentials from the configuration replace stored ones.
// Without a usable stored token it runs the browser login: the
// authorization URL is written to out and the loopback callback is awaited.
func (b *Bootstrap) LinkBroker(ctx context.Context, out io.Writer) (string, error) {
	cfg := b.Config
	if cfg.Broker.ClientID != "" && cfg.Broker.ClientSecret != "" {
		if err := b.Accounts.SaveCredentials(ctx, cfg.Broker.ClientID, cfg.Broker.ClientSecret); err != nil {
			return "", fmt.Errorf("save broker credentials: %w", err)
		}
	}
	clientID, _, err := b.Accounts.Credentials(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return "", errors.New("no broker credentials: set FYERS_CLIENT_ID and FYERS_CLIENT_SECRET")
	}
	if err != nil {
		return "", err
	}

	restored, err := b.Accounts.RestoreToken(ctx)
	if err != nil {
		return "", err
	}
	if restored {
		slog.Info("✅ Broker token restored")
		return clientID, nil
	}

	cb, err := oauth.NewCallbackServer(b.OAuth.RedirectURI(), b.OAuth.State(), cfg.Broker.CallbackTimeout)
	if err != nil {
		return "", err
	}
	if err := cb.Start(); err != nil {
		return "", err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cb.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "\nOpen this URL to log in to the broker:\n\n  %s\n\n", b.OAuth.AuthorizationURL(clientID))
	code, err := cb.Wait(ctx)
	if err != nil {
		return "", err
	}
	tok, err := b.Accounts.LinkBroker(ctx, code)
	if err != nil {
		return "", err
	}
	slog.Info("✅ Broker linked", slog.Time("expires_at", tok.ExpiresAt))
	return clientID, nil
}

// NewHub builds the live quote hub over the broker feed.
func (b *Bootstrap) NewHub(clientID string) (*marketdata.Hub, error) {
	md := b.Config.MarketData
	feed := fyers.NewFeed(b.Config.Broker.FeedURL, clientID, infra.WSOptions{})
	return marketdata.NewHub(b.Sessions, feed, marketdata.Config{
		StaleThreshold:    md.StaleThreshold,
		StalePollInterval: md.StalePollInterval,
		Backoff: infra.Backoff{
			Base:   md.Backoff.Base,
			Max:    md.Backoff.Max,
			Jitter: md.Backoff.Jitter,
		},
	}, marketdata.WithMetrics(marketdata.NewMetrics(b.Registry)))
}

// MarketClient returns the REST client for quotes, depth and history. A
// broker that already is the REST client is reused so its collectors are
// registered once.
func (b *Bootstrap) MarketClient(broker domain.Broker) *fyers.Client {
	if c, ok := broker.(*fyers.Client); ok {
		return c
	}
	return fyers.NewClient(execution.RESTConfig(b.Config, b.Registry), b.Sessions, nil)
}

// QuoteSource polls current quotes.
type QuoteSource interface {
	Quotes(ctx context.Context, pairs []marketdata.Pair) ([]marketdata.Update, error)
}

// SeedHub fills subscribed pairs that have no stream data yet from polled
// quotes and returns how many were filled.
func SeedHub(ctx context.Context, hub *marketdata.Hub, src QuoteSource) (int, error) {
	pairs := hub.Pairs()
	if len(pairs) == 0 {
		return 0, nil
	}
	quotes, err := src.Quotes(ctx, pairs)
	if err != nil {
		return 0, fmt.Errorf("seed quotes: %w", err)
	}
	return hub.Seed(quotes), nil
}

// Watchlist merges the configured pairs with the user's saved watchlist.
func (b *Bootstrap) Watchlist(ctx context.Context) ([]marketdata.Pair, error) {
	seen := make(map[marketdata.Pair]bool)
	var out []marketdata.Pair
	add := func(symbol, exchange string) {
		p, err := marketdata.NewPair(symbol, exchange)
		if err != nil || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, w := range b.Config.MarketData.Watchlist {
		ex, sym, err := infra.SplitInstrument(w)
		if err != nil {
			return nil, err
		}
		add(sym, ex)
	}
	saved, err := b.Accounts.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range saved {
		add(w.Symbol, w.Exchange)
	}
	return out, nil
}

// Close releases the store, the vault key and the instance lock.
func (b *Bootstrap) Close() {
	if b.Sessions != nil {
		b.Sessions.Logout()
	}
	if b.Vault != nil {
		b.Vault.Wipe()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Error("Store close failed", slog.Any("error", err))
		}
	}
	if b.unlock != nil {
		b.unlock()
	}
}
