package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"ideworker/internal/domain"

	"github.com/stretchr/testify/require"
)

func newTestRunner(timeout time.Duration) domain.CommandRunner {
	return NewCommandRunner(timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestRunReturnsStdout(t *testing.T) {
	requireSh(t)
	r := newTestRunner(0)

	out, err := r.Run(context.Background(), &domain.Command{
		Argv: []string{"sh", "-c", `printf '%s' "$GREETING"; echo ignored >&2`},
		Env:  []string{"GREETING=hello"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello", out)
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()

	out, err := newTestRunner(0).Run(context.Background(), &domain.Command{
		Argv: []string{"sh", "-c", "pwd -P"},
		Dir:  dir,
	})
	require.NoError(t, err)
	require.Contains(t, out, dir[len(dir)-10:])
}

func TestRunReportsExitStatus(t *testing.T) {
	requireSh(t)

	_, err := newTestRunner(0).Run(context.Background(), &domain.Command{
		Argv: []string{"sh", "-c", "echo broken >&2; exit 3"},
	})
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 3, exitErr.Code)
	require.Contains(t, exitErr.Error(), "broken")
}

func TestRunHonoursTimeout(t *testing.T) {
	requireSh(t)

	_, err := newTestRunner(50*time.Millisecond).Run(context.Background(), &domain.Command{
		Argv: []string{"sh", "-c", "exec sleep 5"},
	})
	require.Error(t, err)
	var exitErr *ExitError
	require.False(t, errors.As(err, &exitErr))
}

func TestRunRejectsEmptyCommand(t *testing.T) {
	_, err := newTestRunner(0).Run(context.Background(), &domain.Command{})
	require.Error(t, err)
}
