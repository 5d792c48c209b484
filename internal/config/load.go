package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/errors"
)

// newViperInstance creates a new Viper instance with the standard cub
// configuration: defaults, CUB_ environment prefix, and key replacer.
func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// viperDecoderOption returns the decode hooks used when unmarshaling
// config: string→duration and string→slice.
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// isConfigNotFoundError returns true if the error is a viper config file
// not found error.
func isConfigNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var notFound viper.ConfigFileNotFoundError
	return stderrors.As(err, &notFound)
}

// Load reads configuration from all available sources with proper
// precedence. Missing config files are not an error.
//
// projectDir is the project root; project config is read from
// {projectDir}/.cub/config.yaml.
func Load(ctx context.Context, projectDir string) (*Config, error) {
	v := newViperInstance()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(v, projectDir); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	logger := zerolog.Ctx(ctx).With().Str("component", "config").Logger()
	logger.Debug().
		Str("harness", cfg.Harness.Name).
		Dur("harness.timeout", cfg.Harness.Timeout).
		Dur("loop.per_task_timeout", cfg.Loop.PerTaskTimeout).
		Msg("configuration loaded")

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// loadGlobalConfig merges ~/.cub/config.yaml when present.
func loadGlobalConfig(v *viper.Viper) error {
	home, err := os.UserHomeDir()
	if err != nil {
		// No home directory: skip the global layer.
		return nil
	}
	path := filepath.Join(home, constants.CubDir, constants.GlobalConfigName)
	if !fileExists(path) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrapf(err, "failed to read global config %s", path)
	}
	return nil
}

// loadProjectConfig merges {projectDir}/.cub/config.yaml over the global
// layer when present.
func loadProjectConfig(v *viper.Viper, projectDir string) error {
	if projectDir == "" {
		return nil
	}
	path := filepath.Join(projectDir, constants.CubDir, constants.ProjectConfigName)
	if !fileExists(path) {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrapf(err, "failed to read project config %s", path)
	}
	return nil
}

// fileExists checks whether path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ProjectDir resolves the project root: CUB_PROJECT_DIR when set, else
// the current working directory.
func ProjectDir() (string, error) {
	if dir := os.Getenv(constants.EnvProjectDir); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to determine project directory")
	}
	return dir, nil
}
