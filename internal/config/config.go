package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeRealtime = "realtime"
	ModePolling  = "polling"
)

// Config is the application's configuration model.
// It captures the backend endpoint, credentials and how the mirror is kept in sync.
type Config struct {
	Endpoint    EndpointConfig    `yaml:"endpoint"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Transport   TransportConfig   `yaml:"transport"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Engagement  EngagementConfig  `yaml:"engagement"`
	Storage     StorageConfig     `yaml:"storage"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type EndpointConfig struct {
	// API root, e.g. https://pb.fireship.app/api
	BaseURL string `yaml:"baseURL"`
	// Site sent as origin and referer
	Site      string `yaml:"site"`
	UserAgent string `yaml:"userAgent"`
}

type CredentialsConfig struct {
	// If empty, read from env POCKET_USERNAME / POCKET_PASSWORD
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// A previously issued token skips the password login. Env POCKET_TOKEN / POCKET_USER_ID
	Token  string `yaml:"token"`
	UserID string `yaml:"userID"`
}

type TransportConfig struct {
	// "realtime" or "polling"
	Mode           string        `yaml:"mode"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	PollLength     int           `yaml:"pollLength"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// EngagementConfig caps outgoing actions per type ("send", "hearts", "poops").
// Types without an entry are not limited; zero means no limit.
type EngagementConfig struct {
	PerType map[string]Budget `yaml:"perType"`
}

type Budget struct {
	MaxPerHour int `yaml:"maxPerHour"`
	MaxPerDay  int `yaml:"maxPerDay"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type MetricsConfig struct {
	// Empty disables the metrics server unless METRICS_ADDR is set
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Endpoint: EndpointConfig{
			BaseURL:   "https://pb.fireship.app/api",
			Site:      "https://pocketchat.fireship.app/",
			UserAgent: "pocketsync/0.1 (Go)",
		},
		Transport: TransportConfig{
			Mode:           ModeRealtime,
			PollInterval:   10 * time.Second,
			PollLength:     10,
			RequestTimeout: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{RPS: 2, Burst: 10},
		Engagement: EngagementConfig{PerType: map[string]Budget{
			"send": {MaxPerHour: 60, MaxPerDay: 500},
		}},
		Storage:   StorageConfig{DBPath: "./pocketsync.db"},
		Log:       LogConfig{Level: "info"},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if v := os.Getenv("POCKET_BASE_URL"); v != "" {
		c.Endpoint.BaseURL = v
	}
	if c.Credentials.Username == "" {
		c.Credentials.Username = os.Getenv("POCKET_USERNAME")
	}
	if c.Credentials.Password == "" {
		c.Credentials.Password = os.Getenv("POCKET_PASSWORD")
	}
	if c.Credentials.Token == "" {
		c.Credentials.Token = os.Getenv("POCKET_TOKEN")
	}
	if c.Credentials.UserID == "" {
		c.Credentials.UserID = os.Getenv("POCKET_USER_ID")
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = os.Getenv("METRICS_ADDR")
	}
}

// Validate checks the transport section.
func (c Config) Validate() error {
	if c.Endpoint.BaseURL == "" {
		return errors.New("endpoint.baseURL is required")
	}
	switch c.Transport.Mode {
	case ModeRealtime, ModePolling:
	default:
		return fmt.Errorf("transport.mode must be %q or %q, got %q", ModeRealtime, ModePolling, c.Transport.Mode)
	}
	if c.Transport.PollInterval <= 0 {
		return fmt.Errorf("transport.pollInterval must be positive, got %s", c.Transport.PollInterval)
	}
	if c.Transport.PollLength < 1 || c.Transport.PollLength > 500 {
		return fmt.Errorf("transport.pollLength must be within 1-500, got %d", c.Transport.PollLength)
	}
	return nil
}

// Load reads YAML config from path on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, cfg.Validate()
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
