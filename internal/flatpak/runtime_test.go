package flatpak

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ideworker/internal/domain"

	"github.com/stretchr/testify/require"
)

// recordingRunner records every argv and fails commands whose tool+subcommand
// appear in fail.
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool
}

func (r *recordingRunner) Run(_ context.Context, cmd *domain.Command) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd.Argv)
	if r.fail[strings.Join(cmd.Argv[:2], " ")] {
		return "", errors.New("exit status 1")
	}
	return "", nil
}

func (r *recordingRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, argv := range r.calls {
		out = append(out, strings.Join(argv, " "))
	}
	return out
}

func newTestRuntime(t *testing.T, cfg Config, runner domain.CommandRunner) *Runtime {
	t.Helper()
	if cfg.RuntimeID == "" {
		cfg.RuntimeID = "flatpak:org.gnome.Sdk/x86_64/master"
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = "hello"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	rt, err := NewRuntime(cfg, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return rt
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "org.example.Hello.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewRuntimeValidatesConfig(t *testing.T) {
	_, err := NewRuntime(Config{RuntimeID: "x"}, nil, slog.Default())
	require.Error(t, err)
}

func TestRuntimeDirectories(t *testing.T) {
	rt := newTestRuntime(t, Config{CacheDir: "/home/u/.cache", RuntimeID: "rt"}, nil)
	require.Equal(t, "/home/u/.cache/gnome-builder/builds/hello/flatpak/rt", rt.BuildDir())
	require.Equal(t, "/home/u/.cache/gnome-builder/flatpak-repo", rt.RepoDir())
}

func TestPrebuildWithDependenciesRunsFlatpakBuilder(t *testing.T) {
	runner := &recordingRunner{}
	manifest := writeManifest(t, jsonManifest)
	rt := newTestRuntime(t, Config{ManifestPath: manifest, PrimaryModule: "hello"}, runner)

	require.NoError(t, rt.Prebuild(context.Background()))
	require.DirExists(t, rt.BuildDir())
	require.DirExists(t, rt.RepoDir())

	require.Equal(t, []string{
		"flatpak remote-add --user --no-gpg-verify --if-not-exists gnome-builder-builds " + rt.RepoDir(),
		"flatpak-builder --ccache --force-clean --stop-at=hello " + rt.BuildDir() + " " + manifest,
	}, runner.commands())
}

func TestPrebuildWithoutDependenciesRunsBuildInit(t *testing.T) {
	runner := &recordingRunner{}
	manifest := writeManifest(t, `{"app-id": "org.example.Hello", "modules": [{"name": "hello"}]}`)
	rt := newTestRuntime(t, Config{
		ManifestPath: manifest,
		Sdk:          "org.gnome.Sdk",
		Platform:     "org.gnome.Platform",
		Branch:       "master",
		RepoName:     "local-builds",
	}, runner)

	require.NoError(t, rt.Prebuild(context.Background()))
	cmds := runner.commands()
	require.Len(t, cmds, 2)
	require.Contains(t, cmds[0], "--if-not-exists local-builds ")
	require.Equal(t, "flatpak build-init "+rt.BuildDir()+" org.example.Hello org.gnome.Sdk org.gnome.Platform master", cmds[1])
}

func TestPrebuildSkipsInitializedBuildDir(t *testing.T) {
	runner := &recordingRunner{}
	rt := newTestRuntime(t, Config{}, runner)
	require.NoError(t, os.MkdirAll(rt.BuildDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rt.BuildDir(), "metadata"), nil, 0o644))

	require.NoError(t, rt.Prebuild(context.Background()))
	require.Len(t, runner.commands(), 1)
}

func TestPrebuildStopsWhenRemoteAddFails(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"flatpak remote-add": true}}
	rt := newTestRuntime(t, Config{Sdk: "s", Platform: "p", Branch: "b"}, runner)

	require.Error(t, rt.Prebuild(context.Background()))
	require.Len(t, runner.commands(), 1)
}

func TestPostinstallFinishesExportsAndInstalls(t *testing.T) {
	runner := &recordingRunner{fail: map[string]bool{"flatpak uninstall": true}}
	manifest := writeManifest(t, jsonManifest)
	rt := newTestRuntime(t, Config{ManifestPath: manifest}, runner)

	require.NoError(t, rt.Postinstall(context.Background()))
	require.Equal(t, []string{
		"flatpak build-finish --command=hello --share=network --socket=wayland " + rt.BuildDir(),
		"flatpak build-export --subject=Development build " + rt.RepoDir() + " " + rt.BuildDir(),
		"flatpak uninstall --user org.example.Hello",
		"flatpak install --user --app gnome-builder-builds org.example.Hello",
	}, runner.commands())
}

func TestPostinstallSkipsFinishWhenExported(t *testing.T) {
	runner := &recordingRunner{}
	rt := newTestRuntime(t, Config{AppID: "org.example.Configured"}, runner)
	require.NoError(t, os.MkdirAll(filepath.Join(rt.BuildDir(), "export"), 0o755))

	require.NoError(t, rt.Postinstall(context.Background()))
	cmds := runner.commands()
	require.Len(t, cmds, 3)
	require.True(t, strings.HasPrefix(cmds[0], "flatpak build-export"))
	require.Equal(t, "flatpak install --user --app gnome-builder-builds org.example.Configured", cmds[2])
}

func TestLauncherArgv(t *testing.T) {
	project := filepath.Join(t.TempDir(), "hello")
	require.NoError(t, os.MkdirAll(project, 0o755))
	projectFile := filepath.Join(project, "meson.build")
	require.NoError(t, os.WriteFile(projectFile, nil, 0o644))

	rt := newTestRuntime(t, Config{ManifestPath: writeManifest(t, jsonManifest), ProjectPath: projectFile}, nil)

	require.Equal(t, []string{
		"flatpak", "build",
		"--nofilesystem=host",
		"--filesystem=" + project,
		"--bind-mount=/run/build/hello=" + project,
		"--build-dir=/run/build/hello",
		"--env=V=1",
		"--env=CFLAGS=-O2 -g",
		"--env=CXXFLAGS=-O2",
		"--env=NOCONFIGURE=1",
		rt.BuildDir(),
		"make", "-j4",
	}, rt.LauncherArgv("make", "-j4"))
}

func TestLauncherArgvWithoutProjectOrManifest(t *testing.T) {
	rt := newTestRuntime(t, Config{}, nil)
	require.Equal(t, []string{"flatpak", "build", "--env=NOCONFIGURE=1", rt.BuildDir(), "true"}, rt.LauncherArgv("true"))
}

func TestRunnerArgvFallsBackToDefaultAppID(t *testing.T) {
	rt := newTestRuntime(t, Config{}, nil)
	require.Equal(t, []string{"flatpak", "run", "--share=ipc", "--socket=x11", "--socket=wayland", FallbackAppID}, rt.RunnerArgv())
}

func TestContainsProgramInPath(t *testing.T) {
	runner := &recordingRunner{}
	rt := newTestRuntime(t, Config{}, runner)
	require.True(t, rt.ContainsProgramInPath(context.Background(), "meson"))
	require.Equal(t, "flatpak build --env=NOCONFIGURE=1 "+rt.BuildDir()+" which meson", runner.commands()[0])

	runner.fail = map[string]bool{"flatpak build": true}
	require.False(t, rt.ContainsProgramInPath(context.Background(), "cmake"))
}

func TestExecWithoutRunner(t *testing.T) {
	rt := newTestRuntime(t, Config{}, nil)
	_, err := rt.Exec(context.Background(), "flatpak", "--version")
	require.Error(t, err)
}
