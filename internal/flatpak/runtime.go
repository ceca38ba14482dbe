// internal/flatpak/runtime.go
package flatpak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"ideworker/internal/domain"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultRepoName is the flatpak remote development builds are exported to.
	DefaultRepoName = "gnome-builder-builds"
	// FallbackAppID is used when neither the configuration nor the manifest
	// names the application.
	FallbackAppID = "org.gnome.FlatpakApp"
	// Prefix is the install prefix inside the sandbox.
	Prefix = "/app"
)

// Config describes one flatpak runtime of a project.
type Config struct {
	RuntimeID     string `validate:"required"`
	ProjectID     string `validate:"required"`
	CacheDir      string `validate:"required"`
	Sdk           string
	Platform      string
	Branch        string
	PrimaryModule string
	AppID         string
	ManifestPath  string
	ProjectPath   string
	RepoName      string
}

// Runtime builds, installs and runs a project inside a flatpak sandbox by
// driving the flatpak and flatpak-builder tools.
type Runtime struct {
	cfg    Config
	runner domain.CommandRunner
	logger *slog.Logger
}

// NewRuntime validates cfg and creates a runtime. runner may be nil if only
// argv construction is needed.
func NewRuntime(cfg Config, runner domain.CommandRunner, logger *slog.Logger) (*Runtime, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid flatpak runtime config: %w", err)
	}
	if cfg.RepoName == "" {
		cfg.RepoName = DefaultRepoName
	}
	return &Runtime{
		cfg:    cfg,
		runner: runner,
		logger: logger.With("component", "flatpak-runtime", "runtime", cfg.RuntimeID),
	}, nil
}

// BuildDir is where the project is built for this runtime.
func (r *Runtime) BuildDir() string {
	return filepath.Join(r.cfg.CacheDir, "gnome-builder", "builds", r.cfg.ProjectID, "flatpak", r.cfg.RuntimeID)
}

// RepoDir is the local repository builds are exported to.
func (r *Runtime) RepoDir() string {
	return filepath.Join(r.cfg.CacheDir, "gnome-builder", "flatpak-repo")
}

// Manifest loads the configured manifest. It returns nil if none is configured.
func (r *Runtime) Manifest() (*Manifest, error) {
	if r.cfg.ManifestPath == "" {
		return nil, nil
	}
	return LoadManifest(r.cfg.ManifestPath)
}

// optionalManifest is Manifest for steps that can proceed without one.
func (r *Runtime) optionalManifest() *Manifest {
	m, err := r.Manifest()
	if err != nil {
		r.logger.Debug("ignoring unreadable manifest", "manifest", r.cfg.ManifestPath, "error", err)
		return nil
	}
	return m
}

// AppID resolves the application id from the configuration, then the
// manifest, then FallbackAppID.
func (r *Runtime) AppID() string {
	if r.cfg.AppID != "" {
		return r.cfg.AppID
	}
	if m := r.optionalManifest(); m != nil && m.ApplicationID() != "" {
		return m.ApplicationID()
	}
	r.logger.Warn("could not determine application id", "fallback", FallbackAppID)
	return FallbackAppID
}

// Prebuild prepares the build directory: it registers the local repo as a
// remote and then either builds the manifest dependencies with
// flatpak-builder or initializes an empty build directory.
func (r *Runtime) Prebuild(ctx context.Context) error {
	buildDir, repoDir := r.BuildDir(), r.RepoDir()
	for _, dir := range []string{buildDir, repoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := r.run(ctx, "flatpak", "remote-add", "--user", "--no-gpg-verify", "--if-not-exists", r.cfg.RepoName, repoDir); err != nil {
		return err
	}

	if exists(filepath.Join(buildDir, "metadata")) {
		r.logger.Debug("build directory already initialized", "build_dir", buildDir)
		return nil
	}

	if r.cfg.ManifestPath != "" {
		m, err := r.Manifest()
		if err != nil {
			return err
		}
		if len(m.Modules) > 1 {
			if r.cfg.PrimaryModule == "" {
				return errors.New("manifest has dependencies but no primary module is configured")
			}
			return r.run(ctx, "flatpak-builder", "--ccache", "--force-clean",
				"--stop-at="+r.cfg.PrimaryModule, buildDir, r.cfg.ManifestPath)
		}
	}

	if r.cfg.Sdk == "" || r.cfg.Platform == "" || r.cfg.Branch == "" {
		return errors.New("sdk, platform and branch are required to initialize a build directory")
	}
	return r.run(ctx, "flatpak", "build-init", buildDir, r.AppID(), r.cfg.Sdk, r.cfg.Platform, r.cfg.Branch)
}

// Postinstall finishes the build, exports it to the local repo and
// (re)installs the application for the current user.
func (r *Runtime) Postinstall(ctx context.Context) error {
	buildDir, repoDir := r.BuildDir(), r.RepoDir()

	if !exists(filepath.Join(buildDir, "export")) {
		argv := []string{"flatpak", "build-finish"}
		if m := r.optionalManifest(); m != nil {
			if m.Command != "" {
				argv = append(argv, "--command="+m.Command)
			}
			argv = append(argv, m.FinishArgs...)
		}
		argv = append(argv, buildDir)
		if err := r.run(ctx, argv...); err != nil {
			return err
		}
	}

	if err := r.run(ctx, "flatpak", "build-export", "--subject=Development build", repoDir, buildDir); err != nil {
		return err
	}

	appID := r.AppID()
	if err := r.run(ctx, "flatpak", "uninstall", "--user", appID); err != nil {
		r.logger.Debug("previous install not removed", "app_id", appID, "error", err)
	}
	return r.run(ctx, "flatpak", "install", "--user", "--app", r.cfg.RepoName, appID)
}

// LauncherArgv wraps argv so that it runs inside the build sandbox with the
// project mounted and the manifest build options applied.
func (r *Runtime) LauncherArgv(argv ...string) []string {
	out := []string{"flatpak", "build"}

	if dir := r.projectDir(); dir != "" {
		name := filepath.Base(dir)
		out = append(out,
			"--nofilesystem=host",
			"--filesystem="+dir,
			fmt.Sprintf("--bind-mount=/run/build/%s=%s", name, dir),
			"--build-dir=/run/build/"+name,
		)
	}

	if m := r.optionalManifest(); m != nil && m.BuildOptions != nil {
		opts := m.BuildOptions
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k != "" && opts.Env[k] != "" {
				out = append(out, fmt.Sprintf("--env=%s=%s", k, opts.Env[k]))
			}
		}
		if opts.CFlags != "" {
			out = append(out, "--env=CFLAGS="+opts.CFlags)
		}
		if opts.CXXFlags != "" {
			out = append(out, "--env=CXXFLAGS="+opts.CXXFlags)
		}
	}

	// configure runs as its own step.
	out = append(out, "--env=NOCONFIGURE=1", r.BuildDir())
	return append(out, argv...)
}

// RunnerArgv is the command that runs the installed application.
func (r *Runtime) RunnerArgv() []string {
	return []string{"flatpak", "run", "--share=ipc", "--socket=x11", "--socket=wayland", r.AppID()}
}

// ContainsProgramInPath reports whether program can be found inside the
// build sandbox.
func (r *Runtime) ContainsProgramInPath(ctx context.Context, program string) bool {
	return r.run(ctx, r.LauncherArgv("which", program)...) == nil
}

// Exec runs argv on the host through the runtime's runner.
func (r *Runtime) Exec(ctx context.Context, argv ...string) (string, error) {
	if r.runner == nil {
		return "", errors.New("flatpak runtime has no command runner")
	}
	return r.runner.Run(ctx, &domain.Command{Argv: argv})
}

func (r *Runtime) run(ctx context.Context, argv ...string) error {
	_, err := r.Exec(ctx, argv...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", argv[0], argv[1], err)
	}
	return nil
}

// projectDir is the project directory; a project file resolves to its parent.
func (r *Runtime) projectDir() string {
	p := r.cfg.ProjectPath
	if p == "" {
		return ""
	}
	if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
		return filepath.Dir(p)
	}
	return p
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
