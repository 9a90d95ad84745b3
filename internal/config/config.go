package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model.
// It captures account identity, credentials, reply policy, schedule,
// and the locations of external collaborators.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Reply       ReplyConfig       `yaml:"reply"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Allowlist   AllowlistConfig   `yaml:"allowlist"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
}

type CredentialsConfig struct {
	// X/Twitter API bearer token for read endpoints. If empty, read X_BEARER_TOKEN.
	BearerToken string `yaml:"bearerToken"`
	// OAuth1.0a user-context credentials for write endpoints.
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

type ReplyConfig struct {
	// Trailing eligibility window for candidates, in hours.
	WindowHours int `yaml:"windowHours"`
	// Cap on replies per job run. Must be positive; the recency filter
	// yields nothing under a non-positive cap.
	MaxPerRun int `yaml:"maxPerRun"`
	// How many of our own recent posts to gather replies for.
	RecentPosts int `yaml:"recentPosts"`
	// Daily budget across reply jobs; 0 disables the check.
	MaxPerDay int `yaml:"maxPerDay"`
}

type ScheduleConfig struct {
	// IANA timezone the cron specs are evaluated in.
	Timezone string `yaml:"timezone"`
	// Cron specs per job, robfig/cron format.
	PostTweet     string `yaml:"postTweet"`
	ReplyRecent   string `yaml:"replyRecent"`
	ReplyMentions string `yaml:"replyMentions"`
}

type GeneratorConfig struct {
	// Base URL of the inference service, e.g. http://localhost:8000
	BaseURL string `yaml:"baseURL"`
	// Prompts the post-tweet job cycles through.
	PostPrompts []string `yaml:"postPrompts"`
}

type AllowlistConfig struct {
	// Path to the CSV sheet of permitted profile URLs.
	Path string `yaml:"path"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account:     AccountConfig{Username: ""},
		Credentials: CredentialsConfig{},
		Reply: ReplyConfig{
			WindowHours: 15,
			MaxPerRun:   10,
			RecentPosts: 3,
			MaxPerDay:   40,
		},
		Schedule: ScheduleConfig{
			Timezone:      "America/New_York",
			PostTweet:     "0 9 * * *",
			ReplyRecent:   "0 12,18 * * *",
			ReplyMentions: "30 12,18 * * *",
		},
		Generator: GeneratorConfig{
			BaseURL: "http://localhost:8000",
			PostPrompts: []string{
				"Share a cryptic observation about on-chain liquidity today.",
				"Comment on the current state of decentralized systems.",
			},
		},
		Allowlist: AllowlistConfig{Path: "./data/allowlist.csv"},
		Storage:   StorageConfig{DBPath: "./mindbot.db"},
		Server:    ServerConfig{Addr: ":8080", MetricsAddr: ""},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Credentials.ConsumerKey == "" {
		c.Credentials.ConsumerKey = os.Getenv("X_CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		c.Credentials.ConsumerSecret = os.Getenv("X_CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = os.Getenv("X_ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = os.Getenv("X_ACCESS_SECRET")
	}
	if v := os.Getenv("GENERATOR_URL"); v != "" && c.Generator.BaseURL == "" {
		c.Generator.BaseURL = v
	}
}

// Validate checks the fields no job can run without.
func (c *Config) Validate() error {
	if c.Account.Username == "" {
		return errors.New("account.username is required")
	}
	if c.Generator.BaseURL == "" {
		return errors.New("generator.baseURL is required")
	}
	if c.Reply.WindowHours <= 0 {
		return errors.New("reply.windowHours must be positive")
	}
	if c.Reply.MaxPerRun <= 0 {
		return errors.New("reply.maxPerRun must be positive")
	}
	return nil
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
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
	return os.WriteFile(path, b, 0o644)
}
