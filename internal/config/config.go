package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the global ~/.taptoon/config.toml.
type Config struct {
	DefaultProfile string      `toml:"default_profile" validate:"omitempty,max=64"`
	APIBaseURL     string      `toml:"api_base_url" validate:"required,url"`
	WSBaseURL      string      `toml:"ws_base_url" validate:"required,url"`
	MetricsAddr    string      `toml:"metrics_addr" validate:"omitempty,hostname_port"`
	Reconnect      Reconnect   `toml:"reconnect"`
	Attachments    Attachments `toml:"attachments"`
}

// Reconnect bounds automatic socket reconnects.
type Reconnect struct {
	BaseDelay  Duration `toml:"base_delay" validate:"required"`
	CapDelay   Duration `toml:"cap_delay" validate:"required,gtefield=BaseDelay"`
	MaxRetries int      `toml:"max_retries" validate:"min=0"`
}

// Attachments caps images per chat message, post and portfolio.
type Attachments struct {
	ChatLimit          int    `toml:"chat_limit" validate:"min=1"`
	PostLimit          int    `toml:"post_limit" validate:"min=1"`
	PortfolioLimit     int    `toml:"portfolio_limit" validate:"min=1"`
	PostDirectory      string `toml:"post_directory" validate:"required"`
	PortfolioDirectory string `toml:"portfolio_directory" validate:"required"`
	ImageFileType      string `toml:"image_file_type" validate:"required"`
}

// Duration is a time.Duration written as a string ("1s", "10s") in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the values used when config.toml is missing or leaves a
// key unset.
func Default() *Config {
	return &Config{
		APIBaseURL: "http://localhost:8080",
		WSBaseURL:  "ws://localhost:8080",
		Reconnect: Reconnect{
			BaseDelay:  Duration(time.Second),
			CapDelay:   Duration(10 * time.Second),
			MaxRetries: 5,
		},
		Attachments: Attachments{
			ChatLimit:          5,
			PostLimit:          3,
			PortfolioLimit:     3,
			PostDirectory:      "MATCHING_POST",
			PortfolioDirectory: "PORTFOLIO",
			ImageFileType:      "IMAGE",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks URLs, delays and limits.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads config from the given path over Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, but a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
