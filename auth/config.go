package auth

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded flow defaults.
const (
	DefaultSuccessRedirectDelay = 800 * time.Millisecond
	DefaultExpiredRedirectDelay = 2 * time.Second
)

// Default provider endpoints (Google).
const (
	DefaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultRevokeURL   = "https://oauth2.googleapis.com/revoke"
)

// Config captures the daemon configuration loaded from YAML and environment
// variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Flow     FlowConfig     `yaml:"flow"`
}

// ServerConfig controls the loopback listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	PublicURL  string `yaml:"public_url"`
	LogLevel   string `yaml:"log_level"`
}

// ProviderConfig identifies the upstream identity provider. A missing
// client_id is deliberately not a load-time failure: it surfaces as a
// configuration error when a sign-in redirect is built.
type ProviderConfig struct {
	ClientID    string `yaml:"client_id"`
	Issuer      string `yaml:"issuer"`
	AuthURL     string `yaml:"auth_url"`
	UserInfoURL string `yaml:"userinfo_url"`
	RevokeURL   string `yaml:"revoke_url"`
	DebugOAuth  bool   `yaml:"debug_oauth"`
}

// StorageConfig locates the durable credential cache.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// FlowConfig tunes the callback controller's terminal behaviour.
type FlowConfig struct {
	LandingPath  string `yaml:"landing_path"`
	SignInPath   string `yaml:"signin_path"`
	SuccessDelay string `yaml:"success_delay"`
	ExpiredDelay string `yaml:"expired_delay"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8080",
			PublicURL:  "http://127.0.0.1:8080",
			LogLevel:   "info",
		},
		Provider: ProviderConfig{
			AuthURL:     DefaultAuthURL,
			UserInfoURL: DefaultUserInfoURL,
			RevokeURL:   DefaultRevokeURL,
		},
		Storage: StorageConfig{
			Path: ".authd",
		},
		Flow: FlowConfig{
			LandingPath: "/",
			SignInPath:  "/login",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHD_LISTEN_ADDR":  func(v string) { cfg.Server.ListenAddr = v },
		"AUTHD_PUBLIC_URL":   func(v string) { cfg.Server.PublicURL = v },
		"AUTHD_LOG_LEVEL":    func(v string) { cfg.Server.LogLevel = v },
		"AUTHD_CLIENT_ID":    func(v string) { cfg.Provider.ClientID = v },
		"AUTHD_ISSUER":       func(v string) { cfg.Provider.Issuer = v },
		"AUTHD_DEBUG_OAUTH":  func(v string) { cfg.Provider.DebugOAuth = parseBool(v, cfg.Provider.DebugOAuth) },
		"AUTHD_STORAGE_PATH": func(v string) { cfg.Storage.Path = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// Validate performs minimal sanity checks on the config. The provider client
// id is intentionally not checked here.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	if c.Server.PublicURL == "" {
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if !strings.HasPrefix(c.Flow.LandingPath, "/") {
		return fmt.Errorf("flow.landing_path must start with /, got: %s", c.Flow.LandingPath)
	}
	if !strings.HasPrefix(c.Flow.SignInPath, "/") {
		return fmt.Errorf("flow.signin_path must start with /, got: %s", c.Flow.SignInPath)
	}
	for _, d := range []string{c.Flow.SuccessDelay, c.Flow.ExpiredDelay} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid flow delay %q: %w", d, err)
		}
	}
	return nil
}

// RedirectURL is the registered callback location under the daemon's own
// origin.
func (c Config) RedirectURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/auth/callback"
}

// SuccessRedirectDelay is how long the success state stays visible before
// navigating to the landing destination.
func (c Config) SuccessRedirectDelay() time.Duration {
	return parseDuration(c.Flow.SuccessDelay, DefaultSuccessRedirectDelay)
}

// ExpiredRedirectDelay is how long a session-expired failure stays visible
// before navigating back to sign-in.
func (c Config) ExpiredRedirectDelay() time.Duration {
	return parseDuration(c.Flow.ExpiredDelay, DefaultExpiredRedirectDelay)
}

// Level parses the configured log level.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
