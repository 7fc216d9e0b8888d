package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable the service reads at startup.
// Precedence: file > environment > defaults.
type Config struct {
	HTTP      HTTPConfig      `json:"http"       envPrefix:"LIFELINE_HTTP_"`
	Database  DatabaseConfig  `json:"database"   envPrefix:"LIFELINE_DATABASE_"`
	WebSocket WebSocketConfig `json:"websocket"  envPrefix:"LIFELINE_WEBSOCKET_"`
	Scorer    ScorerConfig    `json:"scorer"     envPrefix:"LIFELINE_SCORER_"`
	Notifier  NotifierConfig  `json:"notifier"   envPrefix:"LIFELINE_NOTIFIER_"`
	Guardian  GuardianConfig  `json:"guardian"   envPrefix:"LIFELINE_GUARDIAN_"`
	Logging   LoggingConfig   `json:"logging"    envPrefix:"LIFELINE_LOG_"`
}

type HTTPConfig struct {
	Host         string        `json:"host"          env:"HOST"          envDefault:"0.0.0.0"`
	Port         int           `json:"port"          env:"PORT"          envDefault:"8080"`
	ReadTimeout  time.Duration `json:"read_timeout"  env:"READ_TIMEOUT"  envDefault:"30s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"    env:"PATH"    envDefault:"./data/lifeline.db"`
	Timeout time.Duration `json:"timeout" env:"TIMEOUT" envDefault:"30s"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" env:"PING_INTERVAL" envDefault:"30s"`
	ReadTimeout  time.Duration `json:"read_timeout"  env:"READ_TIMEOUT"  envDefault:"60s"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"5s"`
	BufferSize   int           `json:"buffer_size"   env:"BUFFER_SIZE"   envDefault:"100"`
}

type ScorerConfig struct {
	Endpoint string        `json:"endpoint" env:"ENDPOINT"`
	Timeout  time.Duration `json:"timeout"  env:"TIMEOUT"  envDefault:"3s"`
}

// NotifierConfig holds the SMS gateway credentials. Empty credentials
// select the log-only notifier.
type NotifierConfig struct {
	AccountSID string `json:"account_sid" env:"ACCOUNT_SID"`
	AuthToken  string `json:"auth_token"  env:"AUTH_TOKEN"`
	From       string `json:"from"        env:"FROM"`
}

type GuardianConfig struct {
	SigningKey string        `json:"signing_key" env:"SIGNING_KEY" envDefault:"dev-signing-key"`
	TokenTTL   time.Duration `json:"token_ttl"   env:"TOKEN_TTL"   envDefault:"4h"`
	LinkBase   string        `json:"link_base"   env:"LINK_BASE"   envDefault:"http://localhost:5173"`
}

type LoggingConfig struct {
	Level  string `json:"level"  env:"LEVEL"  envDefault:"info"`
	Format string `json:"format" env:"FORMAT" envDefault:"json"`
}

// Load builds the runtime configuration: defaults, then environment,
// then the optional JSON file. A missing file is not an error; a
// malformed one is.
func Load(filepath string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if filepath != "" {
		if err := applyFile(&cfg, filepath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fileConfig is the JSON overlay shape. Durations are strings so the
// file can say "30s" rather than nanosecond counts.
type fileConfig struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Scorer *struct {
		Endpoint string `json:"endpoint"`
		Timeout  string `json:"timeout"`
	} `json:"scorer"`
	Notifier *struct {
		AccountSID string `json:"account_sid"`
		AuthToken  string `json:"auth_token"`
		From       string `json:"from"`
	} `json:"notifier"`
	Guardian *struct {
		SigningKey string `json:"signing_key"`
		TokenTTL   string `json:"token_ttl"`
		LinkBase   string `json:"link_base"`
	} `json:"guardian"`
	Logging *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"logging"`
}

func applyFile(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if file.HTTP != nil {
		setString(&cfg.HTTP.Host, file.HTTP.Host)
		setInt(&cfg.HTTP.Port, file.HTTP.Port)
		setDuration(&cfg.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		setDuration(&cfg.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.Database != nil {
		setString(&cfg.Database.Path, file.Database.Path)
		setDuration(&cfg.Database.Timeout, file.Database.Timeout)
	}
	if file.WebSocket != nil {
		setDuration(&cfg.WebSocket.PingInterval, file.WebSocket.PingInterval)
		setDuration(&cfg.WebSocket.ReadTimeout, file.WebSocket.ReadTimeout)
		setDuration(&cfg.WebSocket.WriteTimeout, file.WebSocket.WriteTimeout)
		setInt(&cfg.WebSocket.BufferSize, file.WebSocket.BufferSize)
	}
	if file.Scorer != nil {
		setString(&cfg.Scorer.Endpoint, file.Scorer.Endpoint)
		setDuration(&cfg.Scorer.Timeout, file.Scorer.Timeout)
	}
	if file.Notifier != nil {
		setString(&cfg.Notifier.AccountSID, file.Notifier.AccountSID)
		setString(&cfg.Notifier.AuthToken, file.Notifier.AuthToken)
		setString(&cfg.Notifier.From, file.Notifier.From)
	}
	if file.Guardian != nil {
		setString(&cfg.Guardian.SigningKey, file.Guardian.SigningKey)
		setDuration(&cfg.Guardian.TokenTTL, file.Guardian.TokenTTL)
		setString(&cfg.Guardian.LinkBase, file.Guardian.LinkBase)
	}
	if file.Logging != nil {
		setString(&cfg.Logging.Level, file.Logging.Level)
		setString(&cfg.Logging.Format, file.Logging.Format)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if v == "" {
		return
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		*dst = parsed
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("websocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.Scorer.Timeout <= 0 {
		return fmt.Errorf("scorer timeout must be positive")
	}
	if c.Guardian.SigningKey == "" {
		return fmt.Errorf("guardian signing key cannot be empty")
	}
	if c.Guardian.TokenTTL <= 0 {
		return fmt.Errorf("guardian token ttl must be positive")
	}
	return nil
}
