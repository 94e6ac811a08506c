// Package config loads and validates the gateway's YAML configuration.
// Values may reference environment variables with ${VAR} syntax; secrets are
// expected to arrive that way rather than being written into the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen      string `yaml:"listen"`
	MaxBodySize int64  `yaml:"max_body_size,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// WhatsAppConfig holds the platform credentials for webhook authentication.
type WhatsAppConfig struct {
	// VerifyToken is compared against hub.verify_token during the GET handshake.
	VerifyToken string `yaml:"verify_token"`

	// AppSecret is the HMAC key for X-Hub-Signature-256 verification.
	AppSecret string `yaml:"app_secret"`
}

// RedisConfig configures the shared counter store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// RateLimitsConfig holds the two independent admission-control layers.
type RateLimitsConfig struct {
	IP   LimitRule `yaml:"ip"`
	User LimitRule `yaml:"user"`
}

// LimitRule is one fixed-window rate limit rule.
type LimitRule struct {
	MaxRequests int      `yaml:"max_requests"`
	Window      Duration `yaml:"window"`
}

// Duration wraps time.Duration so YAML values can use duration strings
// ("30s", "1m") as well as integer seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if err := node.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Defaults applied when the file omits a section.
const (
	defaultListen      = "127.0.0.1:8080"
	defaultLogLevel    = "INFO"
	defaultRedisAddr   = "localhost:6379"
	defaultMaxBodySize = 1048576 // 1 MB

	defaultIPMaxRequests   = 100
	defaultUserMaxRequests = 20
	defaultWindow          = time.Minute
)

// Load reads, expands and validates configuration from a YAML file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", configPath)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// An unset variable is an error rather than an empty credential.
func expandEnvVars(raw string) (string, error) {
	var missing []string
	expanded := envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variables referenced in config but not set: %v", missing)
	}
	return expanded, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultListen
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = defaultMaxBodySize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaultRedisAddr
	}
	if cfg.RateLimits.IP.MaxRequests == 0 {
		cfg.RateLimits.IP.MaxRequests = defaultIPMaxRequests
	}
	if cfg.RateLimits.IP.Window == 0 {
		cfg.RateLimits.IP.Window = Duration(defaultWindow)
	}
	if cfg.RateLimits.User.MaxRequests == 0 {
		cfg.RateLimits.User.MaxRequests = defaultUserMaxRequests
	}
	if cfg.RateLimits.User.Window == 0 {
		cfg.RateLimits.User.Window = Duration(defaultWindow)
	}
}

func validate(cfg *Config) error {
	if cfg.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("whatsapp.verify_token is required")
	}
	if cfg.WhatsApp.AppSecret == "" {
		return fmt.Errorf("whatsapp.app_secret is required")
	}
	if cfg.Server.MaxBodySize < 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	for name, rule := range map[string]LimitRule{
		"rate_limits.ip":   cfg.RateLimits.IP,
		"rate_limits.user": cfg.RateLimits.User,
	} {
		if rule.MaxRequests < 0 {
			return fmt.Errorf("%s.max_requests must be positive", name)
		}
		if rule.Window < 0 {
			return fmt.Errorf("%s.window must be positive", name)
		}
	}
	return nil
}
