// config/config.go
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Port             string   `env:"PORT" envDefault:":5200"`
	DatabaseURL      string   `env:"DATABASE_URL,required,notEmpty"`
	GameServiceToken string   `env:"GAME_SERVICE_TOKEN,required,notEmpty"`
	AllowedOrigins   []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AuthServiceURL   string   `env:"AUTH_SERVICE_URL"`
	RedisURL         string   `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	Queue     QueueConfig     `envPrefix:"QUEUE_"`
	Match     MatchConfig     `envPrefix:"MATCH_"`
	Bots      BotConfig       `envPrefix:"BOT_"`
	Stream    StreamConfig    `envPrefix:"STREAM_"`
	Telemetry TelemetryConfig `envPrefix:"TELEMETRY_"`
	R2        R2Config        `envPrefix:"R2_"`
}

type QueueConfig struct {
	ScanInterval   time.Duration `env:"SCAN_INTERVAL" envDefault:"30s"`
	BotFillTimeout time.Duration `env:"BOT_FILL_TIMEOUT" envDefault:"60s"`
	// SettleDelay is the pause between pairing and promotion that the client
	// uses for its "opponent found" transition.
	SettleDelay time.Duration `env:"SETTLE_DELAY" envDefault:"5s"`
}

type MatchConfig struct {
	StartingAura      int           `env:"STARTING_AURA" envDefault:"3"`
	AuraPerBank       int           `env:"AURA_PER_BANK" envDefault:"1"`
	LoadoutStarBudget int           `env:"LOADOUT_STAR_BUDGET" envDefault:"10"`
	RollSettle        time.Duration `env:"ROLL_SETTLE" envDefault:"0s"`
	StaleRollAfter    time.Duration `env:"STALE_ROLL_AFTER" envDefault:"15s"`
	MaintenanceEvery  time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"20s"`
	CASAttempts       uint          `env:"CAS_ATTEMPTS" envDefault:"5"`
}

type BotConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"true"`
	TurnDelay time.Duration `env:"TURN_DELAY" envDefault:"1500ms"`
	BankAt    int           `env:"BANK_AT" envDefault:"20"`
}

type StreamConfig struct {
	GraceWindow  time.Duration `env:"GRACE_WINDOW" envDefault:"5s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
}

type TelemetryConfig struct {
	Stream string `env:"STREAM" envDefault:"dice-duel:telemetry"`
	Buffer int    `env:"BUFFER" envDefault:"256"`
}

type R2Config struct {
	AccountID       string        `env:"ACCOUNT_ID"`
	AccessKeyID     string        `env:"ACCESS_KEY_ID"`
	AccessKeySecret string        `env:"ACCESS_KEY_SECRET"`
	Bucket          string        `env:"BUCKET_NAME"`
	Endpoint        string        `env:"ENDPOINT"`
	CDNBaseURL      string        `env:"CDN_BASE_URL"`
	PresignTTL      time.Duration `env:"PRESIGN_TTL" envDefault:"15m"`
}

// Enabled reports whether enough credentials are present to talk to R2.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, eris.Wrap(err, "parse environment")
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Queue.ScanInterval <= 0 {
		return eris.New("QUEUE_SCAN_INTERVAL must be positive")
	}
	if c.Queue.BotFillTimeout < 0 || c.Queue.SettleDelay < 0 {
		return eris.New("queue timeouts must not be negative")
	}
	if c.Match.StartingAura < 0 || c.Match.AuraPerBank < 0 {
		return eris.New("aura settings must not be negative")
	}
	if c.Match.CASAttempts == 0 {
		return eris.New("MATCH_CAS_ATTEMPTS must be at least 1")
	}
	return nil
}

// SetupLogging configures the global zerolog logger.
func (c *Config) SetupLogging() {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
