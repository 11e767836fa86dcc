package spnsqlite

import (
	"github.com/s-p-n/spn-sqlite/logging"
	"github.com/s-p-n/spn-sqlite/worker"
)

// Config is the top-level configuration for a DB, loadable via
// github.com/s-p-n/spn-sqlite/config's FromYAMLFile/FromEnv/Load the way
// every configuration struct in the teacher library is.
type Config struct {
	// Filename is the SQLite database file, or the sentinel ":memory:".
	Filename string `yaml:"filename" env:"FILENAME" default:":memory:"`

	// Driver names the database/sql driver to use; normalized via
	// worker.NormalizeName (a trailing "sqlite3" becomes "sqlite").
	Driver string `yaml:"driver" env:"DRIVER" default:"sqlite"`

	// Workers is the worker pool size. Left at its zero value, New applies
	// spec.md §6's default-worker-count rule.
	Workers int `yaml:"workers" env:"WORKERS"`

	// MaxQueue bounds the dispatcher's pending-job queue. Zero means
	// unbounded.
	MaxQueue int `yaml:"max_queue" env:"MAX_QUEUE" default:"0"`

	Pragma  worker.PragmaOptions `yaml:"pragma" env:",inline"`
	Logging logging.Config       `yaml:"logging" env:",inline"`
}

// SetDefaults implements defaults.Setter, delegating to Logging's own
// defaulting; Filename/Driver/MaxQueue defaults are applied via the
// `default` struct tags above.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
}

// Validate checks the configuration, including the nested Logging config.
func (c *Config) Validate() error {
	if c.Filename == "" {
		return errEmptyFilename
	}
	if _, err := worker.NormalizeName(c.Driver); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errNegativeWorkers
	}
	if c.MaxQueue < 0 {
		return errNegativeMaxQueue
	}

	return c.Logging.Validate()
}
