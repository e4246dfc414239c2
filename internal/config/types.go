// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/module"
)

const (
	// LogLevelDebug logs every wave and cache decision.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs a summary per command.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs best-effort failures only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs fatal errors only.
	LogLevelError LogLevel = "error"

	// DefaultConcurrency bounds parallel fetches per resolution wave.
	DefaultConcurrency = 8
	// DefaultMaxAttempts bounds retries of transient network failures.
	DefaultMaxAttempts = 3
	// DefaultInitialInterval is the first retry delay.
	DefaultInitialInterval = 500 * time.Millisecond
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidCacheDirPath is returned when a CacheDirPath value is whitespace-only.
	ErrInvalidCacheDirPath = errors.New("invalid cache dir path")
	// ErrInvalidProxyURL is returned when a ProxyURL is not an absolute http(s) URL.
	ErrInvalidProxyURL = errors.New("invalid proxy URL")
	// ErrInvalidFileExtension is returned when a FileExtension does not look like ".ext".
	ErrInvalidFileExtension = errors.New("invalid file extension")
	// ErrInvalidAlias is returned when an import alias maps between malformed paths.
	ErrInvalidAlias = errors.New("invalid import alias")
	// ErrInvalidRetryConfig is the sentinel error wrapped by InvalidRetryConfigError.
	ErrInvalidRetryConfig = errors.New("invalid retry config")
	// ErrInvalidDiscoverConfig is the sentinel error wrapped by InvalidDiscoverConfigError.
	ErrInvalidDiscoverConfig = errors.New("invalid discover config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level written to stderr.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// CacheDirPath is the content cache root.
	// The zero value ("") is valid and means "use the default cache directory".
	CacheDirPath string

	// InvalidCacheDirPathError is returned when a CacheDirPath value is
	// non-empty but whitespace-only.
	InvalidCacheDirPathError struct {
		Value CacheDirPath
	}

	// ProxyURL is the base URL of a remote-cache proxy.
	// The zero value ("") disables the proxy.
	ProxyURL string

	// InvalidProxyURLError is returned when a ProxyURL is not an absolute
	// http or https URL.
	InvalidProxyURLError struct {
		Value ProxyURL
	}

	// FileExtension is a source file extension scanned by auto-discovery,
	// including the leading dot.
	FileExtension string

	// InvalidFileExtensionError is returned for an extension without a
	// leading dot or containing a path separator.
	InvalidFileExtensionError struct {
		Value FileExtension
	}

	// InvalidAliasError is returned when an alias prefix or its target is
	// not a valid module path.
	InvalidAliasError struct {
		Prefix string
		Target string
		Err    error
	}

	// InvalidRetryConfigError collects RetryConfig field errors.
	InvalidRetryConfigError struct {
		FieldErrors []error
	}

	// InvalidDiscoverConfigError collects DiscoverConfig field errors.
	InvalidDiscoverConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// CacheDir overrides the content cache root.
		CacheDir CacheDirPath `json:"cache_dir" mapstructure:"cache_dir"`
		// Offline forbids network access by default.
		Offline bool `json:"offline" mapstructure:"offline"`
		// Locked forbids lockfile and manifest changes by default.
		Locked bool `json:"locked" mapstructure:"locked"`
		// Proxy is consulted before direct git fetches.
		Proxy ProxyURL `json:"proxy" mapstructure:"proxy"`
		// Concurrency bounds parallel fetches.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
		// Retry bounds retries of transient network failures.
		Retry RetryConfig `json:"retry" mapstructure:"retry"`
		// LogLevel is the minimum level logged.
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// Discover configures auto-discovery.
		Discover DiscoverConfig `json:"discover" mapstructure:"discover"`
	}

	// RetryConfig bounds retries of transient network failures.
	RetryConfig struct {
		MaxAttempts     int           `json:"max_attempts" mapstructure:"max_attempts"`
		InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
	}

	// DiscoverConfig configures auto-discovery.
	DiscoverConfig struct {
		// Extensions lists the source file extensions scanned for imports.
		Extensions []FileExtension `json:"extensions" mapstructure:"extensions"`
		// Aliases maps an import prefix to the module path providing it.
		Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
	}
)

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels,
// and a list of validation errors if it is not.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Level converts the value to a charmbracelet/log level. Unknown values
// map to info.
func (l LogLevel) Level() log.Level {
	switch l {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// String returns the string representation of the CacheDirPath.
func (p CacheDirPath) String() string { return string(p) }

// IsValid returns whether the CacheDirPath is valid.
// The zero value ("") is valid (means "use default cache directory").
// Non-zero values must not be whitespace-only.
func (p CacheDirPath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidCacheDirPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidCacheDirPathError.
func (e *InvalidCacheDirPathError) Error() string {
	return fmt.Sprintf("invalid cache dir path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidCacheDirPath for errors.Is() compatibility.
func (e *InvalidCacheDirPathError) Unwrap() error { return ErrInvalidCacheDirPath }

// String returns the string representation of the ProxyURL.
func (p ProxyURL) String() string { return string(p) }

// IsValid returns whether the ProxyURL is empty or an absolute http(s) URL.
func (p ProxyURL) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	u, err := url.Parse(string(p))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false, []error{&InvalidProxyURLError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidProxyURLError.
func (e *InvalidProxyURLError) Error() string {
	return fmt.Sprintf("invalid proxy URL %q: must be an absolute http or https URL", e.Value)
}

// Unwrap returns ErrInvalidProxyURL for errors.Is() compatibility.
func (e *InvalidProxyURLError) Unwrap() error { return ErrInvalidProxyURL }

// IsValid returns whether the FileExtension looks like ".brd".
func (x FileExtension) IsValid() (bool, []error) {
	s := string(x)
	if len(s) < 2 || s[0] != '.' || strings.ContainsAny(s, `/\ `) {
		return false, []error{&InvalidFileExtensionError{Value: x}}
	}
	return true, nil
}

// Error implements the error interface for InvalidFileExtensionError.
func (e *InvalidFileExtensionError) Error() string {
	return fmt.Sprintf("invalid file extension %q: want a leading dot and no separators", e.Value)
}

// Unwrap returns ErrInvalidFileExtension for errors.Is() compatibility.
func (e *InvalidFileExtensionError) Unwrap() error { return ErrInvalidFileExtension }

// Error implements the error interface for InvalidAliasError.
func (e *InvalidAliasError) Error() string {
	return fmt.Sprintf("invalid import alias %q -> %q: %v", e.Prefix, e.Target, e.Err)
}

// Unwrap returns ErrInvalidAlias for errors.Is() compatibility.
func (e *InvalidAliasError) Unwrap() error { return ErrInvalidAlias }

// IsValid returns whether the retry bounds are positive.
func (c RetryConfig) IsValid() (bool, []error) {
	var errs []error
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.InitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("initial_interval must be positive, got %s", c.InitialInterval))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidRetryConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRetryConfigError.
func (e *InvalidRetryConfigError) Error() string {
	return fmt.Sprintf("invalid retry config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidRetryConfig and the field errors for errors.Is() compatibility.
func (e *InvalidRetryConfigError) Unwrap() []error {
	return append([]error{ErrInvalidRetryConfig}, e.FieldErrors...)
}

// IsValid checks every extension and that both sides of each alias are
// module paths.
func (c DiscoverConfig) IsValid() (bool, []error) {
	var errs []error
	for _, x := range c.Extensions {
		if valid, fieldErrs := x.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	for prefix, target := range c.Aliases {
		if err := module.CheckImportPath(prefix); err != nil {
			errs = append(errs, &InvalidAliasError{Prefix: prefix, Target: target, Err: err})
			continue
		}
		if err := module.CheckPath(target); err != nil {
			errs = append(errs, &InvalidAliasError{Prefix: prefix, Target: target, Err: err})
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidDiscoverConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidDiscoverConfigError.
func (e *InvalidDiscoverConfigError) Error() string {
	return fmt.Sprintf("invalid discover config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidDiscoverConfig and the field errors for errors.Is() compatibility.
func (e *InvalidDiscoverConfigError) Unwrap() []error {
	return append([]error{ErrInvalidDiscoverConfig}, e.FieldErrors...)
}

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.CacheDir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Proxy.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if valid, fieldErrs := c.Retry.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Discover.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// ExtensionStrings returns the configured extensions as plain strings.
func (c DiscoverConfig) ExtensionStrings() []string {
	out := make([]string, len(c.Extensions))
	for i, x := range c.Extensions {
		out[i] = string(x)
	}
	return out
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Concurrency: DefaultConcurrency,
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: DefaultInitialInterval,
		},
		LogLevel: LogLevelWarn,
		Discover: DiscoverConfig{
			Extensions: []FileExtension{".brd", ".board"},
			Aliases:    map[string]string{},
		},
	}
}
