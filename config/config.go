package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the trader process.
type Config struct {
	Instrument    InstrumentConfig    `json:"instrument"`
	Exchange      ExchangeConfig      `json:"exchange"`
	Signals       SignalsConfig       `json:"signals"`
	Gate          GateConfig          `json:"gate"`
	HardCaps      HardCapsConfig      `json:"hard_caps"`
	CircuitConfig CircuitBreakerConfig `json:"circuit_breaker"`
	LoggingConfig LoggingConfig       `json:"logging"`
	ServerConfig  ServerConfig        `json:"server"`
	AuthConfig    AuthConfig          `json:"auth"`
	VaultConfig   VaultConfig         `json:"vault"`
	RedisConfig   RedisConfig         `json:"redis"`
	DatabaseConfig DatabaseConfig     `json:"database"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// InstrumentConfig names the single traded symbol and the trial-day sizing anchor.
type InstrumentConfig struct {
	Symbol         string    `json:"symbol"`           // e.g. "DOGE-USDT-SWAP"
	TrialStartDate string    `json:"trial_start_date"` // RFC3339 date, anchors executor sizing
	StorageDir     string    `json:"storage_dir"`      // directory for state file + shadow-short log
}

// ExchangeConfig holds venue connectivity settings. Credentials themselves are
// resolved at runtime through VaultConfig / internal/vaultcreds, never stored here.
type ExchangeConfig struct {
	BaseURL        string `json:"base_url"`
	TestNet        bool   `json:"testnet"`
	Sandbox        bool   `json:"sandbox"` // venue-prescribed simulated-trading header
	MockMode       bool   `json:"mock_mode"`
	RequestTimeout int    `json:"request_timeout_secs"`
	MaxRetries     int    `json:"max_retries"`
}

// SignalsConfig locates the signal tailer's input.
type SignalsConfig struct {
	SignalsRoot string `json:"signals_root"` // <signals_root>/<YYYY-MM-DD>.jsonl
	EventsRoot  string `json:"events_root"`  // legacy fallback <events_root>/<SYMBOL>_<date>.jsonl
	ReplayMaxAgeSecs int `json:"replay_max_age_secs"` // default 60
	PollIntervalMillis int `json:"poll_interval_millis"` // default 1000
}

// GateConfig holds the three-gate admission thresholds (spec.md §4.5, §6).
type GateConfig struct {
	MainConfidence       float64 `json:"main_confidence"`        // 50
	ExceptionConfidence  float64 `json:"exception_confidence"`   // 40
	ExceptionConfirmRatio float64 `json:"exception_confirm_ratio"` // 0.75
	ExceptionMaxAgeSecs  int     `json:"exception_max_age_secs"` // 30
	ReboundPct           float64 `json:"rebound_pct"`            // 0.3
	ObservationWindowSecs int    `json:"observation_window_secs"` // 120
	HeartbeatPauseSecs   int     `json:"heartbeat_pause_secs"`   // 300
	HeartbeatCooldownSecs int    `json:"heartbeat_cooldown_secs"` // 60
}

// HardCapsConfig holds the non-negotiable executor limits (spec.md §4.8, §6).
type HardCapsConfig struct {
	MaxNotionalUSD       float64 `json:"max_notional_usd"`        // 100
	MaxContracts         int     `json:"max_contracts"`           // 50
	MaxPositionPct       float64 `json:"max_position_pct"`        // 10
	MinOrderNotionalUSD  float64 `json:"min_order_notional_usd"`  // 5
	HardStopPct          float64 `json:"hard_stop_pct"`           // 4
	TrailingTriggerPct   float64 `json:"trailing_trigger_pct"`    // 2
	TrailingDistancePct  float64 `json:"trailing_distance_pct"`   // 1.5
	AntiJitterSecs       int     `json:"anti_jitter_secs"`        // 15
	AnchorStopLossPct    float64 `json:"anchor_stop_loss_pct"`    // 4 (entry_price * (1 - this/100))
	AntiChaseWindowSecs  int     `json:"anti_chase_window_secs"`  // 60
	AntiChaseRisePct     float64 `json:"anti_chase_rise_pct"`     // 2.0
	SpeedDropWindowSecs  int     `json:"speed_drop_window_secs"`  // 60
	SpeedDropMaxPct      float64 `json:"speed_drop_max_pct"`      // 1.5
}

// CircuitBreakerConfig configures the secondary kill-switch layered above
// the Position State Machine (SPEC_FULL.md §4.10).
type CircuitBreakerConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxLossPerHour       float64 `json:"max_loss_per_hour"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
	MaxTradesPerMinute   int     `json:"max_trades_per_minute"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxDailyTrades       int     `json:"max_daily_trades"`
}

// DefaultCircuitBreakerConfig returns safe defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:              true,
		MaxLossPerHour:       3.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
		MaxTradesPerMinute:   10,
		MaxDailyLoss:         5.0,
		MaxDailyTrades:       100,
	}
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// ServerConfig holds the minimal process-control HTTP surface settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig configures the operator JWT used by the control surface.
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	OperatorUser        string        `json:"operator_user"`
	OperatorPassHash    string        `json:"operator_pass_hash"`
}

// VaultConfig holds HashiCorp Vault configuration for credential resolution.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig configures the EMA/position-state cache mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig configures the optional Postgres trade/shadow-short archive.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslmode"`
}

// NotificationConfig toggles Telegram/Discord trade-event notifications.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// Load reads a base config.json (if present) and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = defaults()
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			Symbol:     "DOGE-USDT-SWAP",
			StorageDir: "storage",
		},
		Signals: SignalsConfig{
			SignalsRoot:        "data/signals",
			EventsRoot:         "data/events",
			ReplayMaxAgeSecs:   60,
			PollIntervalMillis: 1000,
		},
		Gate: GateConfig{
			MainConfidence:        50,
			ExceptionConfidence:   40,
			ExceptionConfirmRatio: 0.75,
			ExceptionMaxAgeSecs:   30,
			ReboundPct:            0.3,
			ObservationWindowSecs: 120,
			HeartbeatPauseSecs:    300,
			HeartbeatCooldownSecs: 60,
		},
		HardCaps: HardCapsConfig{
			MaxNotionalUSD:      100,
			MaxContracts:        50,
			MaxPositionPct:      10,
			MinOrderNotionalUSD: 5,
			HardStopPct:         4,
			TrailingTriggerPct:  2,
			TrailingDistancePct: 1.5,
			AntiJitterSecs:      15,
			AnchorStopLossPct:   4,
			AntiChaseWindowSecs: 60,
			AntiChaseRisePct:    2.0,
			SpeedDropWindowSecs: 60,
			SpeedDropMaxPct:     1.5,
		},
		CircuitConfig: DefaultCircuitBreakerConfig(),
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Instrument.Symbol = getEnvOrDefault("TRADER_SYMBOL", orDefault(cfg.Instrument.Symbol, "DOGE-USDT-SWAP"))
	cfg.Instrument.TrialStartDate = getEnvOrDefault("TRADER_TRIAL_START_DATE", cfg.Instrument.TrialStartDate)
	cfg.Instrument.StorageDir = getEnvOrDefault("TRADER_STORAGE_DIR", orDefault(cfg.Instrument.StorageDir, "storage"))

	cfg.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.TestNet = getEnvOrDefault("EXCHANGE_TESTNET", "false") == "true"
	cfg.Exchange.Sandbox = getEnvOrDefault("EXCHANGE_SANDBOX", "false") == "true"
	cfg.Exchange.MockMode = getEnvOrDefault("EXCHANGE_MOCK_MODE", "false") == "true"
	cfg.Exchange.RequestTimeout = getEnvIntOrDefault("EXCHANGE_REQUEST_TIMEOUT_SECS", orDefaultInt(cfg.Exchange.RequestTimeout, 10))
	cfg.Exchange.MaxRetries = getEnvIntOrDefault("EXCHANGE_MAX_RETRIES", orDefaultInt(cfg.Exchange.MaxRetries, 3))

	cfg.Signals.SignalsRoot = getEnvOrDefault("SIGNALS_ROOT", cfg.Signals.SignalsRoot)
	cfg.Signals.EventsRoot = getEnvOrDefault("SIGNALS_EVENTS_ROOT", cfg.Signals.EventsRoot)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", orDefaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", orDefault(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orDefault(cfg.ServerConfig.AllowedOrigins, "*"))

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", "false") == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute)
	cfg.AuthConfig.OperatorUser = getEnvOrDefault("AUTH_OPERATOR_USER", cfg.AuthConfig.OperatorUser)
	cfg.AuthConfig.OperatorPassHash = getEnvOrDefault("AUTH_OPERATOR_PASS_HASH", cfg.AuthConfig.OperatorPassHash)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.VaultConfig.SecretPath, "doge-trader/exchange"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", orDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefaultInt(cfg.RedisConfig.PoolSize, 10))

	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", "false") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orDefault(cfg.DatabaseConfig.User, "trader"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.DatabaseConfig.Database, "doge_trader"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
