package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 64 * 1024

	// FileEnv names the environment variable holding an optional YAML
	// config file path.
	FileEnv = "DBRELEASE_CONFIG"
)

// envKeys maps the environment variables dbrelease reads to config keys.
// Anything not listed here is ignored.
var envKeys = map[string]string{
	"GITHUB_REPOSITORY":  "github_repository",
	"DB_ID":              "db_id",
	"FINDER_IGNORE":      "finder_ignore",
	"BROKEN_MRAS_IGNORE": "broken_mras_ignore",
	"TRACK_RELEASE":      "track_release",
	"LOG_LEVEL":          "log.level",
	"LOG_FORMAT":         "log.format",
}

// Options are the values supplied by the command line rather than the
// environment.
type Options struct {
	WorkDir string
	DryRun  bool
	// File is an optional YAML file loaded before the environment.
	File string
}

// Load resolves configuration.
//
// Precedence (highest to lowest):
//  1. Environment variables (GITHUB_REPOSITORY, DB_ID, ...)
//  2. YAML file named by Options.File
//  3. Defaults
//
// Empty values count as unset.
func Load(opts Options) (Config, error) {
	k := koanf.New(".")

	if opts.File != "" {
		content, err := readConfigFile(opts.File)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", opts.File, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Config{
		Repository:       stringOr(k, "github_repository", DefaultRepository),
		FinderIgnore:     k.String("finder_ignore"),
		BrokenMRAsIgnore: stringOr(k, "broken_mras_ignore", "true"),
		TrackRelease:     !strings.EqualFold(strings.TrimSpace(k.String("track_release")), "false"),
		DryRun:           opts.DryRun,
		WorkDir:          opts.WorkDir,
		Log: LogConfig{
			Level:  stringOr(k, "log.level", "info"),
			Format: stringOr(k, "log.format", "console"),
		},
	}
	cfg.DBID = stringOr(k, "db_id", cfg.Repository)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envValue maps a listed, non-empty environment variable to its config key.
// A blank key tells the provider to skip the variable.
func envValue(name, value string) (string, interface{}) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envKeys[name], value
}

func stringOr(k *koanf.Koanf, key, fallback string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return fallback
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
