package app

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"fyers_desk/internal/account"
	"fyers_desk/internal/execution"
	"fyers_desk/internal/infra/fyers"
	"fyers_desk/internal/infra"
	"fyers_desk/internal/marketdata"
	"fyers_desk/internal/session"
	"fyers_desk/internal/storage"
	"fyers_desk/internal/vault"
	"fyers_desk/pkg/quant"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)

	v, err := vault.New([]byte("test-secret"), vault.WithIterations(1000))
	require.NoError(t, err)

	sessions := session.NewManager(session.WithVault(v))
	b := &Bootstrap{
		Config:   &infra.Config{},
		Store:    store,
		Vault:    v,
		Sessions: sessions,
		Accounts: account.NewService(store, v, sessions, account.WithPasswordCost(vault.MinPasswordCost)),
	}
	t.Cleanup(b.Close)
	return b
}

func TestWatchlist_MergesConfigAndSaved(t *testing.T) {
	b := newTestBootstrap(t)
	ctx := context.Background()
	b.Config.MarketData.Watchlist = []string{"NSE:TCS", "nse:infy"}

	_, err := b.SignIn(ctx, "trader", "hunter22", "trader@example.com", true)
	require.NoError(t, err)
	require.NoError(t, b.Accounts.Watch(ctx, "infy", "NSE"))
	require.NoError(t, b.Accounts.Watch(ctx, "SBIN", "BSE"))

	pairs, err := b.Watchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []marketdata.Pair{
		{Symbol: "TCS", Exchange: "NSE"},
		{Symbol: "INFY", Exchange: "NSE"},
		{Symbol: "SBIN", Exchange: "BSE"},
	}, pairs)
}

func TestWatchlist_RejectsMalformedEntry(t *testing.T) {
	b := newTestBootstrap(t)
	ctx := context.Background()
	b.Config.MarketData.Watchlist = []string{"TCS"}

	_, err := b.SignIn(ctx, "trader", "hunter22", "trader@example.com", true)
	require.NoError(t, err)

	_, err = b.Watchlist(ctx)
	assert.Error(t, err)
}

func TestSignIn_WrongPassword(t *testing.T) {
	b := newTestBootstrap(t)
	ctx := context.Background()

	_, err := b.SignIn(ctx, "trader", "hunter22", "trader@example.com", true)
	require.NoError(t, err)
	b.Accounts.Logout()

	_, err = b.SignIn(ctx, "trader", "wrong", "", false)
	assert.ErrorIs(t, err, account.ErrInvalidLogin)
	assert.False(t, b.Sessions.IsAuthenticated())
}

func TestLinkBroker_RequiresCredentials(t *testing.T) {
	b := newTestBootstrap(t)
	ctx := context.Background()

	_, err := b.SignIn(ctx, "trader", "hunter22", "trader@example.com", true)
	require.NoError(t, err)

	_, err = b.LinkBroker(ctx, nil)
	assert.ErrorContains(t, err, "no broker credentials")
}

func TestLinkBroker_RestartRestoresTokenWithSameCredentials(t *testing.T) {
	b := newTestBootstrap(t)
	ctx := context.Background()
	b.Config.Broker.ClientID = "APP-100"
	b.Config.Broker.ClientSecret = "top-secret"

	sess, err := b.SignIn(ctx, "trader", "hunter22", "trader@example.com", true)
	require.NoError(t, err)
	require.NoError(t, b.Accounts.SaveCredentials(ctx, "APP-100", "top-secret"))
	enc, err := b.Vault.Encrypt("access-123")
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, b.Store.SaveToken(ctx, sess.UserID, enc, now, now.Add(time.Hour)))

	for run := 0; run < 2; run++ {
		b.Accounts.Logout()
		_, err = b.SignIn(ctx, "trader", "hunter22", "", false)
		require.NoError(t, err)

		clientID, err := b.LinkBroker(ctx, io.Discard)
		require.NoError(t, err, "run %d", run)
		assert.Equal(t, "APP-100", clientID)
		tok, ok := b.Sessions.AccessToken()
		require.True(t, ok, "run %d", run)
		assert.Equal(t, "access-123", tok)
	}
}

type offlineTransport struct{}

func (offlineTransport) Dial(context.Context, string) (marketdata.Stream, error) {
	return nil, errors.New("offline")
}

type fakeQuotes struct {
	got     []marketdata.Pair
	updates []marketdata.Update
	err     error
}

func (f *fakeQuotes) Quotes(_ context.Context, pairs []marketdata.Pair) ([]marketdata.Update, error) {
	f.got = pairs
	return f.updates, f.err
}

func TestSeedHub(t *testing.T) {
	hub, err := marketdata.NewHub(session.NewManager(), offlineTransport{}, marketdata.Config{
		StaleThreshold:    time.Hour,
		StalePollInterval: time.Second,
		Backoff:           infra.Backoff{Base: time.Second, Max: time.Second},
	})
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	ctx := context.Background()

	n, err := SeedHub(ctx, hub, &fakeQuotes{err: errors.New("must not be called")})
	require.NoError(t, err)
	assert.Zero(t, n)

	noop := func(marketdata.QuoteEvent) {}
	_, err = hub.Subscribe("TCS", "NSE", noop)
	require.NoError(t, err)
	_, err = hub.Subscribe("INFY", "NSE", noop)
	require.NoError(t, err)

	src := &fakeQuotes{updates: []marketdata.Update{
		{Symbol: "TCS", Exchange: "NSE", LTP: quant.ToPriceMicros(3510), Close: quant.ToPriceMicros(3500)},
	}}
	n, err = SeedHub(ctx, hub, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, src.got, 2)

	s, ok := hub.Snapshot("TCS", "NSE")
	require.True(t, ok)
	assert.Equal(t, quant.ToPriceMicros(3510), s.LTP)
	s, _ = hub.Snapshot("INFY", "NSE")
	assert.False(t, s.HasData())

	_, err = SeedHub(ctx, hub, &fakeQuotes{err: errors.New("boom")})
	assert.ErrorContains(t, err, "seed quotes")
}

func TestMarketClient_ReusesRESTBroker(t *testing.T) {
	b := newTestBootstrap(t)
	b.Registry = prometheus.NewRegistry()

	rest := fyers.NewClient(execution.RESTConfig(b.Config, b.Registry), b.Sessions, nil)
	assert.Same(t, rest, b.MarketClient(rest))

	b.Registry = prometheus.NewRegistry()
	paper := execution.NewPaperBroker(quant.ToPriceMicros(1000))
	assert.NotNil(t, b.MarketClient(paper))
}
