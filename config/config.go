package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	External ExternalConfig `koanf:"external"`
	Import   ImportConfig   `koanf:"import"`
	Mail     MailConfig     `koanf:"mail"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Port         int    `koanf:"port"`
	AllowOrigins string `koanf:"allow_origins"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

// ExternalConfig points the engine at the speedrun.com API. Either GameID or
// GameAbbreviation must be set for an import to resolve its game.
type ExternalConfig struct {
	BaseURL           string        `koanf:"base_url"`
	GameID            string        `koanf:"game_id"`
	GameAbbreviation  string        `koanf:"game_abbreviation"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	UserAgent         string        `koanf:"user_agent"`
}

type ImportConfig struct {
	FetchLimit        int `koanf:"fetch_limit"`
	BatchSize         int `koanf:"batch_size"`
	Workers           int `koanf:"workers"`
	LookupConcurrency int `koanf:"lookup_concurrency"`
	DeleteChunkSize   int `koanf:"delete_chunk_size"`
}

type MailConfig struct {
	SendGridAPIKey string `koanf:"sendgrid_api_key"`
	From           string `koanf:"from"`
	ReportTo       string `koanf:"report_to"`
}

// Enabled reports whether import reports should be emailed.
func (m MailConfig) Enabled() bool {
	return m.SendGridAPIKey != "" && m.From != "" && m.ReportTo != ""
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			AllowOrigins: "*",
		},
		External: ExternalConfig{
			BaseURL:           "https://www.speedrun.com/api/v1",
			Timeout:           15 * time.Second,
			RequestsPerMinute: 100,
			UserAgent:         "speedrun-backend-importer/1.0",
		},
		Import: ImportConfig{
			FetchLimit:        1000,
			BatchSize:         200,
			Workers:           4,
			LookupConcurrency: 8,
			DeleteChunkSize:   500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.External.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("external requests_per_minute must be greater than 0"))
	}
	if err := c.Import.validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c ImportConfig) validate() error {
	switch {
	case c.FetchLimit <= 0:
		return errors.New("import fetch_limit must be greater than 0")
	case c.BatchSize <= 0:
		return errors.New("import batch_size must be greater than 0")
	case c.BatchSize > c.FetchLimit:
		return fmt.Errorf("import batch_size %d exceeds fetch_limit %d", c.BatchSize, c.FetchLimit)
	case c.Workers <= 0:
		return errors.New("import workers must be greater than 0")
	case c.LookupConcurrency <= 0:
		return errors.New("import lookup_concurrency must be greater than 0")
	case c.DeleteChunkSize <= 0 || c.DeleteChunkSize > 500:
		return fmt.Errorf("import delete_chunk_size must be between 1 and 500, got %d", c.DeleteChunkSize)
	}
	return nil
}
