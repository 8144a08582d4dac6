package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"speedrun-backend/logging"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing priority. A .env file is read first unless the
// process runs on Render, where the platform injects the environment.
func Load() (*Config, error) {
	if os.Getenv("RENDER") == "" {
		if err := godotenv.Load(); err != nil {
			logging.Debug().Msg("No .env file found, continuing with system environment variables")
		}
	}
	return load(findConfigFile())
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":                      "server.port",
	"cors_allow_origins":        "server.allow_origins",
	"database_url":              "database.url",
	"jwt_secret":                "auth.jwt_secret",
	"src_base_url":              "external.base_url",
	"src_game_id":               "external.game_id",
	"src_game_abbreviation":     "external.game_abbreviation",
	"src_timeout":               "external.timeout",
	"src_requests_per_minute":   "external.requests_per_minute",
	"src_user_agent":            "external.user_agent",
	"import_fetch_limit":        "import.fetch_limit",
	"import_batch_size":         "import.batch_size",
	"import_workers":            "import.workers",
	"import_lookup_concurrency": "import.lookup_concurrency",
	"import_delete_chunk_size":  "import.delete_chunk_size",
	"sendgrid_api_key":          "mail.sendgrid_api_key",
	"email_from":                "mail.from",
	"import_report_to":          "mail.report_to",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
}

// envTransformFunc maps known environment variables onto koanf paths.
// Anything unknown returns "" and is ignored, so the process environment
// cannot inject arbitrary keys.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
