package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type simpleConfig struct {
	Key string `yaml:"key" env:"KEY"`
}

func (*simpleConfig) Validate() error { return nil }

type defaultedConfig struct {
	Key     string `yaml:"key" env:"KEY"`
	Default string `yaml:"default_key" env:"DEFAULT_KEY" default:"default-value"`
}

func (*defaultedConfig) Validate() error { return nil }

var errAlwaysInvalid = errors.New("always invalid")

type invalidConfig struct {
	Key string `yaml:"key" env:"KEY"`
}

func (*invalidConfig) Validate() error { return errAlwaysInvalid }

func withTempYAML(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestFromYAMLFile(t *testing.T) {
	t.Run("simple config", func(t *testing.T) {
		path := withTempYAML(t, "key: value\n")

		var cfg simpleConfig
		require.NoError(t, FromYAMLFile(path, &cfg))
		require.Equal(t, "value", cfg.Key)
	})

	t.Run("applies defaults", func(t *testing.T) {
		path := withTempYAML(t, "key: value\n")

		var cfg defaultedConfig
		require.NoError(t, FromYAMLFile(path, &cfg))
		require.Equal(t, "default-value", cfg.Default)
	})

	t.Run("overriding defaults", func(t *testing.T) {
		path := withTempYAML(t, "key: value\ndefault_key: overridden\n")

		var cfg defaultedConfig
		require.NoError(t, FromYAMLFile(path, &cfg))
		require.Equal(t, "overridden", cfg.Default)
	})

	t.Run("invalid configuration is wrapped", func(t *testing.T) {
		path := withTempYAML(t, "key: value\n")

		var cfg invalidConfig
		err := FromYAMLFile(path, &cfg)
		require.ErrorIs(t, err, ErrInvalidConfiguration)
		require.ErrorIs(t, err, errAlwaysInvalid)
	})

	t.Run("non-existent file", func(t *testing.T) {
		var cfg simpleConfig
		err := FromYAMLFile("does-not-exist.yaml", &cfg)
		require.Error(t, err)
	})

	t.Run("nil argument rejected", func(t *testing.T) {
		err := FromYAMLFile("irrelevant.yaml", nil)
		require.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("nil non-struct pointer argument rejected", func(t *testing.T) {
		err := FromYAMLFile("irrelevant.yaml", (*nonStructValidator)(nil))
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

type nonStructValidator int

func (*nonStructValidator) Validate() error { return nil }

func TestFromEnv(t *testing.T) {
	t.Run("simple config", func(t *testing.T) {
		var cfg simpleConfig
		err := FromEnv(&cfg, EnvOptions{Environment: map[string]string{"KEY": "value"}})
		require.NoError(t, err)
		require.Equal(t, "value", cfg.Key)
	})

	t.Run("applies defaults", func(t *testing.T) {
		var cfg defaultedConfig
		err := FromEnv(&cfg, EnvOptions{Environment: map[string]string{"KEY": "value"}})
		require.NoError(t, err)
		require.Equal(t, "default-value", cfg.Default)
	})

	t.Run("invalid configuration is wrapped", func(t *testing.T) {
		var cfg invalidConfig
		err := FromEnv(&cfg, EnvOptions{Environment: map[string]string{"KEY": "value"}})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("nil argument rejected", func(t *testing.T) {
		err := FromEnv(nil, EnvOptions{})
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestLoad(t *testing.T) {
	t.Run("YAML file missing falls back to env", func(t *testing.T) {
		var cfg simpleConfig

		err := Load(&cfg, LoadOptions{
			Flags:      testFlags{},
			EnvOptions: EnvOptions{Environment: map[string]string{"KEY": "from-env"}},
		})
		require.NoError(t, err)
		require.Equal(t, "from-env", cfg.Key)
	})

	t.Run("env overrides YAML", func(t *testing.T) {
		path := withTempYAML(t, "key: from-yaml\n")

		var cfg simpleConfig
		err := Load(&cfg, LoadOptions{
			Flags:      testFlags{path: path},
			EnvOptions: EnvOptions{Environment: map[string]string{"KEY": "from-env"}},
		})
		require.NoError(t, err)
		require.Equal(t, "from-env", cfg.Key)
	})
}

// testFlags is a minimal Flags implementation used only by this test file.
type testFlags struct {
	path string
}

func (f testFlags) GetConfigPath() string     { return f.path }
func (f testFlags) IsExplicitConfigPath() bool { return f.path != "" }

func TestParseFlags(t *testing.T) {
	t.Run("simple flags", func(t *testing.T) {
		originalArgs := os.Args
		defer func() { os.Args = originalArgs }()
		os.Args = []string{"cmd", "--test-flag=value"}

		type cliFlags struct {
			TestFlag string `long:"test-flag"`
		}

		var flags cliFlags
		require.NoError(t, ParseFlags(&flags))
		require.Equal(t, "value", flags.TestFlag)
	})

	t.Run("nil argument rejected", func(t *testing.T) {
		require.ErrorIs(t, ParseFlags(nil), ErrInvalidArgument)
	})
}
