// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/invowk/boardmod/internal/config"
	"github.com/invowk/boardmod/internal/gitfetch"
	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/autodiscover"
	"github.com/invowk/boardmod/pkg/modver"
	"github.com/invowk/boardmod/pkg/resolve"
	"github.com/invowk/boardmod/pkg/workspace"
)

// mirrorDirName holds the blobless clones gitfetch derives pseudo-versions from.
const mirrorDirName = ".mirrors"

var (
	_ remote = (*gitfetch.Fetcher)(nil)
	_ remote = (*gitfetch.Proxy)(nil)
)

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives it and builds a session from it.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}

	// globalFlags are the persistent root flags.
	globalFlags struct {
		dir        string
		configPath string
		verbose    bool
	}

	// modeFlags override the offline and locked config keys for one run.
	modeFlags struct {
		offline bool
		locked  bool
	}

	// remote is what both a plain fetcher and a proxy offer.
	remote interface {
		resolve.Source
		autodiscover.Source
	}

	// session is everything one command invocation needs.
	session struct {
		cfg    *config.Config
		root   string
		logger *log.Logger
		cache  *modcache.Cache
		// source is nil in offline mode.
		source remote
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	return &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
}

// newLogger builds the run's logger from the configured level; --verbose
// forces debug output.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: false,
		Prefix:          "boardmod",
	})
	logger.SetLevel(cfg.LogLevel.Level())
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// workDir returns the -C directory or the process working directory.
func (g *globalFlags) workDir() (string, error) {
	if g.dir != "" {
		return filepath.Abs(g.dir)
	}
	return os.Getwd()
}

// loadConfig loads the configuration honoring --config.
func (a *App) loadConfig(ctx context.Context, g *globalFlags) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: g.configPath})
}

// newSession loads configuration, applies the mode flags on top of it and
// opens the content cache. The workspace root is the nearest board.toml
// above the working directory.
func (a *App) newSession(ctx context.Context, g *globalFlags, mode modeFlags) (*session, error) {
	cfg, err := a.loadConfig(ctx, g)
	if err != nil {
		return nil, err
	}
	cfg.Offline = cfg.Offline || mode.offline
	cfg.Locked = cfg.Locked || mode.locked

	logger := newLogger(a.stderr, cfg, g.verbose)

	dir, err := g.workDir()
	if err != nil {
		return nil, err
	}
	root, err := workspace.FindRoot(dir)
	if err != nil {
		return nil, err
	}

	cacheDir := string(cfg.CacheDir)
	if cacheDir == "" {
		if cacheDir, err = modcache.DefaultDir(); err != nil {
			return nil, err
		}
	}
	cache, err := modcache.New(cacheDir, logger)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, root: root, logger: logger, cache: cache}
	if !cfg.Offline {
		s.source = newRemote(cfg, cache, logger)
	}
	logger.Debug("session ready", "root", root, "cache", cache.Root(), "offline", cfg.Offline, "locked", cfg.Locked)
	return s, nil
}

// newRemote builds the git fetcher, fronted by the proxy when one is configured.
func newRemote(cfg *config.Config, cache *modcache.Cache, logger *log.Logger) remote {
	f := gitfetch.New(gitfetch.Options{
		Logger: logger,
		Retry: gitfetch.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
		},
		MirrorDir: filepath.Join(cache.Root(), mirrorDirName),
	})
	if cfg.Proxy != "" {
		return gitfetch.NewProxy(string(cfg.Proxy), f)
	}
	return f
}

// resolveOptions turns the session into resolver options.
func (s *session) resolveOptions(update bool) resolve.Options {
	opts := resolve.Options{
		Root:        s.root,
		Cache:       s.cache,
		Offline:     s.cfg.Offline,
		Locked:      s.cfg.Locked,
		Update:      update,
		Concurrency: s.cfg.Concurrency,
		Toolchain:   toolchainVersion(),
		Logger:      s.logger,
	}
	if s.source != nil {
		opts.Source = s.source
	}
	return opts
}

// discoverOptions turns the session into auto-discovery options.
func (s *session) discoverOptions() autodiscover.Options {
	opts := autodiscover.Options{
		Root:        s.root,
		Cache:       s.cache,
		Offline:     s.cfg.Offline,
		Locked:      s.cfg.Locked,
		Extensions:  s.cfg.Discover.ExtensionStrings(),
		Aliases:     s.cfg.Discover.Aliases,
		Concurrency: s.cfg.Concurrency,
		Logger:      s.logger,
	}
	if s.source != nil {
		opts.Source = s.source
	}
	return opts
}

// resolve runs a resolution with the session's settings.
func (s *session) resolve(ctx context.Context, update bool) (*resolve.Resolution, error) {
	res, err := resolve.Resolve(ctx, s.resolveOptions(update))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.root, err)
	}
	return res, nil
}

// toolchainVersion is the version manifests' toolchain minimums are checked
// against. Development builds skip the check.
func toolchainVersion() string {
	if !modver.IsValid(Version) {
		return ""
	}
	return Version
}
