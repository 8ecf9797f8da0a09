package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultLogDir  = "logs"

	// Temperature is sent with every completion request.
	Temperature float32 = 0.7

	EnvAPIKey  = "OPENAI_API_KEY"
	EnvBaseURL = "OPENAI_BASE_URL"
	EnvModel   = "CHATDESK_MODEL"
)

// Config holds application configuration
type Config struct {
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	Model          string   `toml:"model"`
	RequestTimeout Duration `toml:"request_timeout"` // zero means no timeout
	Debug          bool     `toml:"debug"`
	LogDir         string   `toml:"log_dir"`
	JournalPath    string   `toml:"journal_path"` // empty disables the transcript journal
	Telemetry      bool     `toml:"telemetry"`
}

// Duration lets TOML files spell timeouts as "30s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Model:     DefaultModel,
		LogDir:    DefaultLogDir,
		Telemetry: true,
	}
}

// DefaultPath is ~/.config/chatdesk/config.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve config directory")
	}
	return filepath.Join(dir, "chatdesk", "config.toml"), nil
}

// Load builds the configuration from defaults, the TOML file at path and the
// environment, in that order. An empty path falls back to DefaultPath; a
// missing default file is not an error, a missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := LoadTOML(&cfg, path); err != nil {
				return Config{}, err
			}
		} else if explicit {
			return Config{}, errors.Wrapf(err, "config file %s", path)
		}
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg, leaving fields absent from the file intact.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return errors.Wrapf(err, "failed to decode TOML file %s", path)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv outside
// of tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		c.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		c.Model = v
	}
}

// HasCredential reports whether an API key is configured. A missing key is
// not a configuration error: it only blocks submissions.
func (c Config) HasCredential() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model must not be empty")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url must not be empty")
	}
	if c.RequestTimeout.Duration < 0 {
		return errors.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout)
	}
	return nil
}
