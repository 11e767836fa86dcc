package config

// Validator is an interface that must be implemented by any configuration struct used in [FromYAMLFile].
//
// The Validate method checks the configuration values and
// returns an error if any value is invalid or missing when required.
//
// For fields such as file paths, the responsibility of Validate is limited to
// verifying the presence and format of the value,
// not checking external conditions like file existence or readability.
// This principle applies generally to any field where external validation
// (e.g., network availability, resource accessibility) is beyond the scope of basic configuration validation.
type Validator interface {
	// Validate checks the configuration values and
	// returns an error if any value is invalid or missing when required.
	Validate() error
}

// Flags gives [Load] access to the handful of CLI flag values it needs to
// decide where the YAML configuration file lives and whether its path was
// set explicitly, without coupling config to any particular flags struct.
type Flags interface {
	// GetConfigPath returns the path to the YAML configuration file.
	GetConfigPath() string

	// IsExplicitConfigPath reports whether the path was set explicitly on
	// the command line, as opposed to falling back to a built-in default.
	IsExplicitConfigPath() bool
}
