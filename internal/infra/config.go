package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every application setting. Secrets are overridden from the
// environment after the file is parsed and are never written back or logged.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Pairs                 []string `yaml:"pairs"` // canonical BASE/QUOTE
		EngineLoopIntervalSec int      `yaml:"engine_loop_interval_sec"`
		DefaultOrderType      string   `yaml:"default_order_type"`
		Strategy              string   `yaml:"strategy"` // "sma_cross" or "none"
		SMAShort              int      `yaml:"sma_short"`
		SMALong               int      `yaml:"sma_long"`
		OrderVolume           float64  `yaml:"order_volume"` // base units per entry
	} `yaml:"trading"`

	Risk struct {
		MaxPositionSize    float64 `yaml:"max_position_size"`  // notional, quote currency
		MaxTotalExposure   float64 `yaml:"max_total_exposure"` // notional, quote currency
		MaxPositions       int     `yaml:"max_positions"`
		MaxRiskScore       float64 `yaml:"max_risk_score"`
		MinBalanceRequired float64 `yaml:"min_balance_required"`
		MinBalanceAlert    float64 `yaml:"min_balance_alert"`
	} `yaml:"risk"`

	Fees struct {
		Maker float64 `yaml:"maker"`
		Taker float64 `yaml:"taker"`
	} `yaml:"fees"`

	Stops struct {
		StopLossPct   float64 `yaml:"stop_loss_pct"`   // adverse move, percent of entry
		TakeProfitPct float64 `yaml:"take_profit_pct"` // favorable move, percent of entry
	} `yaml:"stops"`

	API struct {
		RESTURL      string `yaml:"rest_url"`
		WSPublicURL  string `yaml:"ws_public_url"`
		WSPrivateURL string `yaml:"ws_private_url"`
		TimeoutSec   int    `yaml:"timeout_sec"`
		CacheTTLSec  int    `yaml:"cache_ttl_sec"`
		NonceWindow  int    `yaml:"nonce_window"`

		RateLimit struct {
			MaxCalls  int `yaml:"max_calls"`
			PeriodSec int `yaml:"period_sec"`
		} `yaml:"rate_limit"`

		Breaker struct {
			FailureThreshold int `yaml:"failure_threshold"`
			SuccessThreshold int `yaml:"success_threshold"`
			TimeoutSec       int `yaml:"timeout_sec"`
		} `yaml:"breaker"`

		// Filled from environment only (KRAKEN_API_KEY / KRAKEN_API_SECRET,
		// plus the optional _2 pair: polling and order placement then run
		// on separate keys with separate nonce sequences).
		Key          string `yaml:"-"`
		Secret       string `yaml:"-"`
		KeySecond    string `yaml:"-"`
		SecretSecond string `yaml:"-"`
	} `yaml:"api"`

	Storage struct {
		DBPath    string `yaml:"db_path"`
		NoncePath string `yaml:"nonce_path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the YAML config file, applies environment
// overrides (a local .env file is honored), and validates the result.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is fine; real deployments use actual env vars.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.EngineLoopIntervalSec <= 0 {
		c.Trading.EngineLoopIntervalSec = 30
	}
	if c.Trading.DefaultOrderType == "" {
		c.Trading.DefaultOrderType = "limit"
	}
	if c.Trading.SMAShort <= 0 {
		c.Trading.SMAShort = 9
	}
	if c.Trading.SMALong <= 0 {
		c.Trading.SMALong = 21
	}
	if c.API.RESTURL == "" {
		c.API.RESTURL = "https://api.kraken.com"
	}
	if c.API.WSPublicURL == "" {
		c.API.WSPublicURL = "wss://ws.kraken.com/v2"
	}
	if c.API.WSPrivateURL == "" {
		c.API.WSPrivateURL = "wss://ws-auth.kraken.com/v2"
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = 30
	}
	if c.API.CacheTTLSec <= 0 {
		c.API.CacheTTLSec = 15
	}
	if c.API.RateLimit.MaxCalls <= 0 {
		c.API.RateLimit.MaxCalls = 3
	}
	if c.API.RateLimit.PeriodSec <= 0 {
		c.API.RateLimit.PeriodSec = 3
	}
	if c.API.Breaker.FailureThreshold <= 0 {
		c.API.Breaker.FailureThreshold = 5
	}
	if c.API.Breaker.SuccessThreshold <= 0 {
		c.API.Breaker.SuccessThreshold = 2
	}
	if c.API.Breaker.TimeoutSec <= 0 {
		c.API.Breaker.TimeoutSec = 30
	}
	if c.Fees.Maker == 0 {
		c.Fees.Maker = 0.0016
	}
	if c.Fees.Taker == 0 {
		c.Fees.Taker = 0.0026
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "trading.db"
	}
	if c.Storage.NoncePath == "" {
		c.Storage.NoncePath = "nonce_state.json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if len(c.Trading.Pairs) == 0 {
		return fmt.Errorf("at least one trading pair is required")
	}
	for _, ws := range []string{c.API.WSPublicURL, c.API.WSPrivateURL} {
		if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
			return fmt.Errorf("invalid websocket URL: %s", ws)
		}
	}
	if !strings.HasPrefix(c.API.RESTURL, "http://") && !strings.HasPrefix(c.API.RESTURL, "https://") {
		return fmt.Errorf("invalid REST URL: %s", c.API.RESTURL)
	}
	if c.Risk.MaxPositions < 0 {
		return fmt.Errorf("max_positions must not be negative")
	}
	if c.Risk.MaxTotalExposure > 0 && c.Risk.MaxPositionSize > c.Risk.MaxTotalExposure {
		return fmt.Errorf("max_position_size %v exceeds max_total_exposure %v",
			c.Risk.MaxPositionSize, c.Risk.MaxTotalExposure)
	}
	return nil
}

// HasCredentials reports whether a private API key pair is configured.
func (c *Config) HasCredentials() bool {
	return c.API.Key != "" && c.API.Secret != ""
}

// HasSecondCredentials reports whether the optional second key pair is
// configured. Polling then runs on its own key and nonce sequence.
func (c *Config) HasSecondCredentials() bool {
	return c.API.KeySecond != "" && c.API.SecretSecond != ""
}

// Timeout returns the per-call REST timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// overrideWithEnv fills secrets from environment variables. Env values always
// win over anything found in the file.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("KRAKEN_API_KEY"); key != "" {
		cfg.API.Key = key
	}
	if secret := os.Getenv("KRAKEN_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}

	// Optional secondary key pair: isolates status/balance polling nonces
	// from order-placement nonces.
	cfg.API.KeySecond = os.Getenv("KRAKEN_API_KEY_2")
	cfg.API.SecretSecond = os.Getenv("KRAKEN_API_SECRET_2")

	if window := os.Getenv("KRAKEN_NONCE_WINDOW"); window != "" {
		if v, err := strconv.Atoi(window); err == nil {
			cfg.API.NonceWindow = v
		}
	}
	if db := os.Getenv("DB_PATH"); db != "" {
		cfg.Storage.DBPath = db
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
