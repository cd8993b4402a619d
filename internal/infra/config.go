package infra

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// currentUserAgent is protected by a mutex so a host shell can override it at runtime
	uaMu             sync.RWMutex
	currentUserAgent = PlatformUserAgent(AppName, Version)
)

// GetUserAgent returns the current active User-Agent string. (Thread-safe)
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent updates the global User-Agent string. (Thread-safe)
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// PlatformUserAgent identifies the client and host OS to the broker.
func PlatformUserAgent(name, version string) string {
	if name == "" {
		name = AppName
	}
	if version == "" {
		version = Version
	}
	return fmt.Sprintf("%s/%s (%s; %s)", name, version, runtime.GOOS, runtime.GOARCH)
}

// Config holds every setting of the application.
// Secrets are normally supplied through the environment, not the file.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode string `yaml:"mode"`
	} `yaml:"trading"`

	Broker struct {
		ClientID          string        `yaml:"client_id"`
		ClientSecret      string        `yaml:"client_secret"`
		AuthURL           string        `yaml:"auth_url"`
		TokenURL          string        `yaml:"token_url"`
		RedirectURI       string        `yaml:"redirect_uri"`
		RestURL           string        `yaml:"rest_url"`
		DataURL           string        `yaml:"data_url"`
		FeedURL           string        `yaml:"feed_url"`
		CallbackTimeout   time.Duration `yaml:"callback_timeout"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
	} `yaml:"broker"`

	Security struct {
		AppSecret     string `yaml:"app_secret"`
		Salt          string `yaml:"salt"`
		KDFIterations int    `yaml:"kdf_iterations"`
	} `yaml:"security"`

	MarketData struct {
		StaleThreshold    time.Duration `yaml:"stale_threshold"`
		StalePollInterval time.Duration `yaml:"stale_poll_interval"`
		Backoff           struct {
			Base   time.Duration `yaml:"base"`
			Max    time.Duration `yaml:"max"`
			Jitter time.Duration `yaml:"jitter"`
		} `yaml:"backoff"`
		Watchlist []string `yaml:"watchlist"` // "EXCHANGE:SYMBOL"
	} `yaml:"market_data"`

	Storage struct {
		DBName string `yaml:"db_name"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Metrics.Listen serves /metrics and pprof on loopback; empty disables it.
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
}

// LoadConfig reads .env (if present), the YAML file at path and the environment.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	// Rule #5: environment wins over the file
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = AppName
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = "PAPER"
	}
	c.Trading.Mode = strings.ToUpper(c.Trading.Mode)
	if c.Storage.DBName == "" {
		c.Storage.DBName = "desk.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Broker.RequestsPerSecond <= 0 {
		c.Broker.RequestsPerSecond = 10
	}
}

// Validate checks configuration validity.
// Staleness and backoff timings have no built-in defaults and must be set.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "PAPER", "REAL":
	default:
		return fmt.Errorf("unknown trading mode: %s", c.Trading.Mode)
	}

	if c.Broker.FeedURL == "" || (!hasPrefix(c.Broker.FeedURL, "ws://") && !hasPrefix(c.Broker.FeedURL, "wss://")) {
		return fmt.Errorf("invalid broker feed URL: %s", c.Broker.FeedURL)
	}
	if c.Broker.RestURL != "" && !hasPrefix(c.Broker.RestURL, "http://") && !hasPrefix(c.Broker.RestURL, "https://") {
		return fmt.Errorf("invalid broker REST URL: %s", c.Broker.RestURL)
	}
	if c.Broker.DataURL != "" && !hasPrefix(c.Broker.DataURL, "http://") && !hasPrefix(c.Broker.DataURL, "https://") {
		return fmt.Errorf("invalid broker data URL: %s", c.Broker.DataURL)
	}
	if c.Security.AppSecret == "" {
		return fmt.Errorf("security.app_secret is required (or FYERS_APP_SECRET)")
	}

	md := c.MarketData
	if md.StaleThreshold <= 0 {
		return fmt.Errorf("market_data.stale_threshold must be positive")
	}
	if md.StalePollInterval <= 0 {
		return fmt.Errorf("market_data.stale_poll_interval must be positive")
	}
	if md.Backoff.Base <= 0 {
		return fmt.Errorf("market_data.backoff.base must be positive")
	}
	if md.Backoff.Max < md.Backoff.Base {
		return fmt.Errorf("market_data.backoff.max must be >= base")
	}
	if md.Backoff.Jitter < 0 {
		return fmt.Errorf("market_data.backoff.jitter must not be negative")
	}
	for _, w := range md.Watchlist {
		if _, _, err := SplitInstrument(w); err != nil {
			return err
		}
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// SplitInstrument parses "NSE:TCS" into exchange and symbol.
func SplitInstrument(s string) (exchange, symbol string, err error) {
	ex, sym, ok := strings.Cut(s, ":")
	ex, sym = strings.TrimSpace(ex), strings.TrimSpace(sym)
	if !ok || ex == "" || sym == "" {
		return "", "", fmt.Errorf("invalid watchlist entry %q (want EXCHANGE:SYMBOL)", s)
	}
	return strings.ToUpper(ex), strings.ToUpper(sym), nil
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv applies FYERS_* variables over file values.
func overrideWithEnv(cfg *Config) {
	if cfg.Broker.ClientSecret != "" || cfg.Security.AppSecret != "" {
		// fmt instead of slog: the logger is built from this config
		fmt.Println("⚠️  SECURITY WARNING: secrets found in config file.")
		fmt.Println("   Recommendation: use FYERS_CLIENT_SECRET and FYERS_APP_SECRET instead.")
	}

	if v := os.Getenv("FYERS_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("FYERS_CLIENT_SECRET"); v != "" {
		cfg.Broker.ClientSecret = v
	}
	if v := os.Getenv("FYERS_APP_SECRET"); v != "" {
		cfg.Security.AppSecret = v
	}
	if v := os.Getenv("FYERS_TRADING_MODE"); v != "" {
		cfg.Trading.Mode = strings.ToUpper(v)
	}
	if v := os.Getenv("FYERS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FYERS_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

// Save writes the configuration back as YAML without secrets.
func (c *Config) Save(path string) error {
	out := *c
	out.Broker.ClientSecret = ""
	out.Security.AppSecret = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
