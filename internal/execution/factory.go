package execution

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fyers_desk/internal/domain"
	"fyers_desk/internal/infra"
	"fyers_desk/internal/infra/fyers"
	"fyers_desk/pkg/quant"

	"github.com/prometheus/client_golang/prometheus"
)

// Mode represents the trading execution mode.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeReal  Mode = "REAL"
)

// ConfirmRealMoneyEnv must be "true" before REAL mode is allowed.
const ConfirmRealMoneyEnv = "CONFIRM_REAL_MONEY"

// DefaultPaperCash is the starting paper balance in rupees.
const DefaultPaperCash = 10_00_000.0

// ErrRealMoneyNotConfirmed guards REAL mode.
var ErrRealMoneyNotConfirmed = fmt.Errorf("real trading requires %s=true", ConfirmRealMoneyEnv)

// NewBroker returns the broker for cfg.Trading.Mode. PAPER returns a
// *PaperBroker; REAL returns the REST client authorized through tokens,
// registering its collectors with reg when non-nil.
func NewBroker(cfg *infra.Config, tokens fyers.TokenSource, reg prometheus.Registerer) (domain.Broker, error) {
	mode := Mode(strings.ToUpper(cfg.Trading.Mode))
	slog.Info("Initializing execution", slog.String("mode", string(mode)))

	switch mode {
	case ModePaper:
		return NewPaperBroker(quant.ToPriceMicros(DefaultPaperCash)), nil

	case ModeReal:
		if os.Getenv(ConfirmRealMoneyEnv) != "true" {
			slog.Error("Refusing REAL mode", slog.String("env", ConfirmRealMoneyEnv))
			return nil, ErrRealMoneyNotConfirmed
		}
		slog.Warn("REAL trading enabled: orders go to the live broker account")
		return fyers.NewClient(RESTConfig(cfg, reg), tokens, nil), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}

// RESTConfig maps the broker section of cfg onto the REST client settings.
func RESTConfig(cfg *infra.Config, reg prometheus.Registerer) fyers.ClientConfig {
	return fyers.ClientConfig{
		BaseURL:           cfg.Broker.RestURL,
		DataURL:           cfg.Broker.DataURL,
		ClientID:          cfg.Broker.ClientID,
		RequestsPerSecond: cfg.Broker.RequestsPerSecond,
		Registerer:        reg,
	}
}
