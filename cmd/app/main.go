package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyers_desk/internal/app"
	"fyers_desk/internal/domain"
	"fyers_desk/internal/execution"
	"fyers_desk/internal/infra"
	"fyers_desk/internal/infra/fyers"
	"fyers_desk/internal/marketdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PasswordEnv carries the account password so it never shows up in argv.
const PasswordEnv = "FYERS_DESK_PASSWORD"

func main() {
	if err := run(); err != nil {
		slog.Error("❌ Exiting", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("user", "", "desk account username")
	register := flag.Bool("register", false, "create the account before logging in")
	email := flag.String("email", "", "email for -register")
	watch := flag.String("watch", "", "add EXCHANGE:SYMBOL to the saved watchlist")
	unwatch := flag.String("unwatch", "", "remove EXCHANGE:SYMBOL from the saved watchlist")
	portfolioEvery := flag.Duration("portfolio-every", time.Minute, "portfolio refresh interval")
	depth := flag.String("depth", "", "log the order book of EXCHANGE:SYMBOL once connected")
	history := flag.String("history", "", "log candles of EXCHANGE:SYMBOL once connected")
	interval := flag.String("interval", "5m", "candle interval for -history (5s, 1m, 5m, 15m, 1h, D)")
	days := flag.Int("days", 1, "days of candles for -history, ending today")
	flag.Parse()

	if *username == "" {
		return errors.New("-user is required")
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config
	infra.PrintBanner(os.Stdout, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen, bootstrap)
	}

	sess, err := bootstrap.SignIn(ctx, *username, os.Getenv(PasswordEnv), *email, *register)
	if err != nil {
		return err
	}
	slog.Info("✅ Logged in", slog.String("user", sess.DisplayName))

	if err := editWatchlist(ctx, bootstrap, *watch, *unwatch); err != nil {
		return err
	}

	clientID, err := bootstrap.LinkBroker(ctx, os.Stdout)
	if err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	cfg.Broker.ClientID = clientID

	broker, err := execution.NewBroker(cfg, bootstrap.Sessions, bootstrap.Registry)
	if err != nil {
		return err
	}
	trading := execution.NewTradingService(broker)
	market := bootstrap.MarketClient(broker)

	hub, err := bootstrap.NewHub(clientID)
	if err != nil {
		return err
	}
	defer hub.Close()

	hub.OnStatus(func(ev marketdata.StatusEvent) {
		attrs := []any{slog.String("state", ev.State.String()), slog.Int("attempt", ev.Attempt)}
		if ev.Err != nil {
			attrs = append(attrs, slog.Any("error", ev.Err))
		}
		slog.Info("Feed status", attrs...)
	})

	paper, _ := broker.(*execution.PaperBroker)
	onQuote := func(ev marketdata.QuoteEvent) {
		q := ev.Snapshot
		if ev.Kind == marketdata.EventStale {
			slog.Warn("Quote stale", slog.String("pair", q.Pair.String()), slog.Time("last_update", q.UpdatedAt))
			return
		}
		slog.Debug("Quote",
			slog.String("pair", q.Pair.String()),
			slog.String("ltp", q.LTP.String()),
			slog.String("change_pct", q.ChangePercent.String()))
		if paper != nil {
			paper.OnQuote(ev)
		}
	}

	pairs, err := bootstrap.Watchlist(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if _, err := hub.Subscribe(p.Symbol, p.Exchange, onQuote); err != nil {
			return err
		}
	}
	slog.Info("✅ Watchlist subscribed", slog.Int("pairs", len(pairs)))

	if err := hub.Connect(ctx); err != nil {
		return err
	}
	if n, err := app.SeedHub(ctx, hub, market); err != nil {
		slog.Warn("Initial quotes unavailable, waiting for the stream", slog.Any("error", err))
	} else {
		slog.Info("✅ Initial quotes loaded", slog.Int("pairs", n))
	}

	if *depth != "" {
		if err := logDepth(ctx, market, *depth); err != nil {
			slog.Error("Depth fetch failed", slog.Any("error", err))
		}
	}
	if *history != "" {
		if err := logHistory(ctx, market, *history, *interval, *days); err != nil {
			slog.Error("History fetch failed", slog.Any("error", err))
		}
	}

	if err := logPortfolio(ctx, trading); err != nil {
		if domain.IsAuthKind(err, domain.AuthExpiredToken) {
			slog.Warn("Broker token rejected, it will be requested again on next start")
			return bootstrap.Accounts.ForgetToken(context.Background())
		}
		slog.Error("Portfolio fetch failed", slog.Any("error", err))
	}

	slog.InfoContext(ctx, "✨ Desk operational. Press Ctrl+C to exit.")

	ticker := time.NewTicker(*portfolioEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("👋 Shutting down gracefully...")
			hub.Disconnect()
			return nil
		case <-ticker.C:
			if err := logPortfolio(ctx, trading); err != nil && ctx.Err() == nil {
				slog.Error("Portfolio fetch failed", slog.Any("error", err))
			}
		}
	}
}

func editWatchlist(ctx context.Context, b *app.Bootstrap, watch, unwatch string) error {
	if watch != "" {
		ex, sym, err := infra.SplitInstrument(watch)
		if err != nil {
			return err
		}
		if err := b.Accounts.Watch(ctx, sym, ex); err != nil {
			return err
		}
	}
	if unwatch != "" {
		ex, sym, err := infra.SplitInstrument(unwatch)
		if err != nil {
			return err
		}
		removed, err := b.Accounts.Unwatch(ctx, sym, ex)
		if err != nil {
			return err
		}
		if !removed {
			slog.Info("Not on the watchlist", slog.String("instrument", unwatch))
		}
	}
	return nil
}

func logPortfolio(ctx context.Context, trading *execution.TradingService) error {
	pf, err := trading.Portfolio(ctx)
	if err != nil {
		return err
	}
	open := 0
	for _, o := range pf.Orders {
		if o.IsOpen() {
			open++
		}
	}
	slog.Info("Portfolio",
		slog.String("available", pf.Funds.Available.String()),
		slog.String("used", pf.Funds.Used.String()),
		slog.Int("positions", len(pf.Positions)),
		slog.Int("holdings", len(pf.Holdings)),
		slog.Int("open_orders", open))
	return nil
}

func logDepth(ctx context.Context, market *fyers.Client, instrument string) error {
	ex, sym, err := infra.SplitInstrument(instrument)
	if err != nil {
		return err
	}
	d, err := market.Depth(ctx, sym, ex)
	if err != nil {
		return err
	}
	for i := 0; i < max(len(d.Bids), len(d.Asks)); i++ {
		attrs := []any{slog.Int("level", i+1)}
		if i < len(d.Bids) {
			attrs = append(attrs, slog.String("bid", d.Bids[i].Price.String()), slog.Int64("bid_qty", d.Bids[i].Quantity))
		}
		if i < len(d.Asks) {
			attrs = append(attrs, slog.String("ask", d.Asks[i].Price.String()), slog.Int64("ask_qty", d.Asks[i].Quantity))
		}
		slog.Info("Depth "+instrument, attrs...)
	}
	slog.Info("Depth "+instrument,
		slog.String("ltp", d.LTP.String()),
		slog.String("spread", d.Spread().String()),
		slog.Int64("total_buy", d.TotalBuyQty),
		slog.Int64("total_sell", d.TotalSellQty))
	return nil
}

func logHistory(ctx context.Context, market *fyers.Client, instrument, interval string, days int) error {
	ex, sym, err := infra.SplitInstrument(instrument)
	if err != nil {
		return err
	}
	to := time.Now()
	from := to.AddDate(0, 0, -max(days-1, 0))
	candles, err := market.History(ctx, sym, ex, interval, from, to)
	if err != nil {
		return err
	}
	attrs := []any{slog.String("instrument", instrument), slog.String("interval", interval), slog.Int("candles", len(candles))}
	if n := len(candles); n > 0 {
		last := candles[n-1]
		attrs = append(attrs,
			slog.Time("last", last.Time),
			slog.String("close", last.Close.String()),
			slog.Int64("volume", last.Volume))
	}
	slog.Info("History", attrs...)
	return nil
}

// serveMetrics exposes Prometheus metrics and pprof. Bind it to loopback only.
func serveMetrics(addr string, b *app.Bootstrap) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(b.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	slog.Info("🕵️ Metrics server started", slog.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", slog.Any("error", err))
	}
}
