package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvOverride names the environment variable that overrides Log.Env.
const EnvOverride = "TALLY_ENV"

// Config is the daemon configuration.
type Config struct {
	DataDir    string     `toml:"DataDir" yaml:"dataDir"`
	Storage    Storage    `toml:"Storage" yaml:"storage"`
	Program    Program    `toml:"Program" yaml:"program"`
	RPC        RPC        `toml:"RPC" yaml:"rpc"`
	Keeper     Keeper     `toml:"Keeper" yaml:"keeper"`
	EventStore EventStore `toml:"EventStore" yaml:"eventStore"`
	Telemetry  Telemetry  `toml:"Telemetry" yaml:"telemetry"`
	Log        Log        `toml:"Log" yaml:"log"`
	Webhook    Webhook    `toml:"Webhook" yaml:"webhook"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the configuration at path, creating a default TOML file when
// none exists. YAML is used for .yaml and .yml files.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %s in %s", undecoded[0], path)
		}
	}

	cfg.applyDefaults()
	if env := strings.TrimSpace(os.Getenv(EnvOverride)); env != "" {
		cfg.Log.Env = env
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tally-data"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "leveldb"
	}
	if c.Storage.Path == "" && c.Storage.Backend != "memory" {
		c.Storage.Path = filepath.Join(c.DataDir, "state")
	}
	if c.Program.LowAllowancePeriods == 0 {
		c.Program.LowAllowancePeriods = 2
	}
	if c.Program.EventRetention == 0 {
		c.Program.EventRetention = 10_000
	}
	if c.RPC.ListenAddress == "" {
		c.RPC.ListenAddress = ":8080"
	}
	if c.RPC.RateLimitPerSecond == 0 {
		c.RPC.RateLimitPerSecond = 20
	}
	if c.RPC.RateLimitBurst == 0 {
		c.RPC.RateLimitBurst = 40
	}
	if c.RPC.ReadTimeoutSecs == 0 {
		c.RPC.ReadTimeoutSecs = 10
	}
	if c.RPC.WriteTimeoutSecs == 0 {
		c.RPC.WriteTimeoutSecs = 15
	}
	if c.RPC.JWTIssuer == "" {
		c.RPC.JWTIssuer = "tally"
	}
	if c.Keeper.IntervalSecs == 0 {
		c.Keeper.IntervalSecs = 60
	}
	if c.Keeper.Concurrency == 0 {
		c.Keeper.Concurrency = 8
	}
	if c.Keeper.RatePerSecond == 0 {
		c.Keeper.RatePerSecond = 50
	}
	if c.Keeper.MaxRetries == 0 {
		c.Keeper.MaxRetries = 3
	}
	if c.Keeper.BatchLimit == 0 {
		c.Keeper.BatchLimit = 500
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// JWTSecret resolves the signing secret, preferring the environment
// variable named by RPC.JWTSecretEnv.
func (c *Config) JWTSecret() string {
	if name := strings.TrimSpace(c.RPC.JWTSecretEnv); name != "" {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return c.RPC.JWTSecret
}

// WebhookSecret resolves the webhook signing secret, preferring the
// environment variable named by Webhook.SecretEnv.
func (c *Config) WebhookSecret() string {
	if name := strings.TrimSpace(c.Webhook.SecretEnv); name != "" {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return c.Webhook.Secret
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
