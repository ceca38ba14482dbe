// internal/flatpak/plugin.go
package flatpak

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ideworker/internal/worker"

	"github.com/go-playground/validator/v10"
)

// Methods served by the flatpak worker plugin.
const (
	MethodManifest = "flatpak/manifest"
	MethodBuildEnv = "flatpak/build-env"
)

// ManifestParams selects the manifest to inspect.
type ManifestParams struct {
	Path string `json:"path" validate:"required"`
}

// ManifestSummary is the reply to MethodManifest.
type ManifestSummary struct {
	AppID        string        `json:"app_id"`
	Command      string        `json:"command,omitempty"`
	FinishArgs   []string      `json:"finish_args,omitempty"`
	Modules      []string      `json:"modules"`
	BuildOptions *BuildOptions `json:"build_options,omitempty"`
}

// BuildEnvParams describes the runtime and the command to wrap.
type BuildEnvParams struct {
	RuntimeID   string   `json:"runtime_id" validate:"required"`
	ProjectID   string   `json:"project_id" validate:"required"`
	CacheDir    string   `json:"cache_dir" validate:"required"`
	Manifest    string   `json:"manifest"`
	ProjectPath string   `json:"project_path"`
	Argv        []string `json:"argv" validate:"required,min=1"`
}

// BuildEnvResult is the reply to MethodBuildEnv.
type BuildEnvResult struct {
	Argv     []string `json:"argv"`
	BuildDir string   `json:"build_dir"`
}

type plugin struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewPlugin returns the worker plugin that inspects manifests out of process.
func NewPlugin(logger *slog.Logger) worker.Plugin {
	return &plugin{validate: validator.New(), logger: logger}
}

func (p *plugin) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodManifest:
		var req ManifestParams
		if err := p.decode(params, &req); err != nil {
			return nil, err
		}
		m, err := LoadManifest(req.Path)
		if err != nil {
			return nil, err
		}
		return ManifestSummary{
			AppID:        m.ApplicationID(),
			Command:      m.Command,
			FinishArgs:   m.FinishArgs,
			Modules:      m.ModuleNames(),
			BuildOptions: m.BuildOptions,
		}, nil

	case MethodBuildEnv:
		var req BuildEnvParams
		if err := p.decode(params, &req); err != nil {
			return nil, err
		}
		rt, err := NewRuntime(Config{
			RuntimeID:    req.RuntimeID,
			ProjectID:    req.ProjectID,
			CacheDir:     req.CacheDir,
			ManifestPath: req.Manifest,
			ProjectPath:  req.ProjectPath,
		}, nil, p.logger)
		if err != nil {
			return nil, err
		}
		return BuildEnvResult{Argv: rt.LauncherArgv(req.Argv...), BuildDir: rt.BuildDir()}, nil
	}
	return nil, worker.ErrMethodNotFound
}

func (p *plugin) decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := p.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
