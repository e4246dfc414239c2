// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/invowk/boardmod/internal/issue"
	"github.com/invowk/boardmod/pkg/cueutil"
	"github.com/invowk/boardmod/pkg/platform"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "boardmod"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. BOARDMOD_PROXY or
	// BOARDMOD_RETRY_MAX_ATTEMPTS.
	EnvPrefix = "BOARDMOD"
	// ConfigDirEnv relocates the configuration directory. CI jobs and tests
	// set it where os.UserHomeDir ignores HOME (macOS).
	ConfigDirEnv = EnvPrefix + "_CONFIG_DIR"

	// keyDelimiter separates nested viper keys. Alias keys are module paths
	// and contain dots, so the dot cannot be used.
	keyDelimiter = "::"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the boardmod configuration directory. $BOARDMOD_CONFIG_DIR
// wins; otherwise Windows uses %APPDATA%, macOS ~/Library/Application Support
// and everything else $XDG_CONFIG_HOME (default ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	var configDir string

	switch runtime.GOOS {
	case platform.Windows:
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case platform.Darwin:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// key joins nested config keys with the viper delimiter.
func key(parts ...string) string {
	return strings.Join(parts, keyDelimiter)
}

func newViper() *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault(key("cache_dir"), string(defaults.CacheDir))
	v.SetDefault(key("offline"), defaults.Offline)
	v.SetDefault(key("locked"), defaults.Locked)
	v.SetDefault(key("proxy"), string(defaults.Proxy))
	v.SetDefault(key("concurrency"), defaults.Concurrency)
	v.SetDefault(key("retry", "max_attempts"), defaults.Retry.MaxAttempts)
	v.SetDefault(key("retry", "initial_interval"), defaults.Retry.InitialInterval)
	v.SetDefault(key("log_level"), string(defaults.LogLevel))
	v.SetDefault(key("discover", "extensions"), defaults.Discover.ExtensionStrings())
	v.SetDefault(key("discover", "aliases"), defaults.Discover.Aliases)
	return v
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. It returns the config and the file it came from,
// empty when only defaults and the environment applied.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()
	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'boardmod config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}
		if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
			resolvedPath = p
		}
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Discover.Aliases == nil {
		cfg.Discover.Aliases = map[string]string{}
	}

	// Environment values bypass the CUE schema.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check the BOARDMOD_* environment variables").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// values into v, above the defaults and below the environment.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := cueutil.ParseAndDecodeString[map[string]any](
		configSchema,
		data,
		"#Config",
		cueutil.WithConcrete(false),
		cueutil.WithFilename(path),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*result.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration when no config file
// exists yet and returns its path.
func CreateDefaultConfig() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if fileExists(cfgPath) {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE renders cfg as a config file accepted by the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// boardmod configuration\n\n")

	if cfg.CacheDir != "" {
		fmt.Fprintf(&sb, "cache_dir: %q\n", cfg.CacheDir)
	}
	fmt.Fprintf(&sb, "offline: %v\n", cfg.Offline)
	fmt.Fprintf(&sb, "locked: %v\n", cfg.Locked)
	if cfg.Proxy != "" {
		fmt.Fprintf(&sb, "proxy: %q\n", cfg.Proxy)
	}
	fmt.Fprintf(&sb, "concurrency: %d\n", cfg.Concurrency)
	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)

	sb.WriteString("\nretry: {\n")
	fmt.Fprintf(&sb, "\tmax_attempts: %d\n", cfg.Retry.MaxAttempts)
	fmt.Fprintf(&sb, "\tinitial_interval: %q\n", cfg.Retry.InitialInterval.String())
	sb.WriteString("}\n")

	sb.WriteString("\ndiscover: {\n")
	exts := make([]string, len(cfg.Discover.Extensions))
	for i, x := range cfg.Discover.Extensions {
		exts[i] = fmt.Sprintf("%q", x)
	}
	fmt.Fprintf(&sb, "\textensions: [%s]\n", strings.Join(exts, ", "))
	if len(cfg.Discover.Aliases) > 0 {
		sb.WriteString("\taliases: {\n")
		prefixes := make([]string, 0, len(cfg.Discover.Aliases))
		for p := range cfg.Discover.Aliases {
			prefixes = append(prefixes, p)
		}
		slices.Sort(prefixes)
		for _, p := range prefixes {
			fmt.Fprintf(&sb, "\t\t%q: %q\n", p, cfg.Discover.Aliases[p])
		}
		sb.WriteString("\t}\n")
	}
	sb.WriteString("}\n")

	return sb.String()
}
