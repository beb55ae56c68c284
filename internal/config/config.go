// Package config resolves the release configuration for dbrelease.
//
// Configuration is read once at startup from an optional YAML file and the
// process environment, then passed by value to every step. Nothing in the
// release flow reads the environment directly.
package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultRepository is used when GITHUB_REPOSITORY is unset.
	DefaultRepository = "theypsilon/test"

	// TemplateRepository is the slug of the template repository that ships
	// the bootstrap build script. Legacy cleanup never runs there.
	TemplateRepository = "theypsilon/db-template_mister"

	rawContentBase = "https://raw.githubusercontent.com"
)

// Config holds the resolved release configuration.
type Config struct {
	Repository       string
	DBID             string
	FinderIgnore     string
	BrokenMRAsIgnore string
	TrackRelease     bool
	DryRun           bool
	WorkDir          string
	Log              LogConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// DBURL is the location the published database is served from.
func (c Config) DBURL() string {
	return fmt.Sprintf("%s/%s/db/db.json.zip", rawContentBase, c.Repository)
}

// BaseFilesURL is the per-branch raw file base. The %s is filled in by the
// operator, not here.
func (c Config) BaseFilesURL() string {
	return rawContentBase + "/" + c.Repository + "/%s/"
}

// IsTemplateRepository reports whether the run happens in the template
// repository itself.
func (c Config) IsTemplateRepository() bool {
	return strings.EqualFold(strings.TrimSpace(c.Repository), TemplateRepository)
}

// Validate checks the resolved configuration.
func (c Config) Validate() error {
	var errs []error

	if c.Repository == "" {
		errs = append(errs, errors.New("repository slug is required"))
	} else if !strings.Contains(c.Repository, "/") {
		errs = append(errs, fmt.Errorf("repository slug must be owner/name, got %q", c.Repository))
	}
	if c.DBID == "" {
		errs = append(errs, errors.New("database id is required"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work dir is required"))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log format must be 'json' or 'console', got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
