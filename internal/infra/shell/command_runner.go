// internal/infra/shell/command_runner.go
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ideworker/internal/domain"
	"ideworker/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExitError is returned when a command ran but exited with a non-zero status.
type ExitError struct {
	Argv   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Argv[0], e.Code)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// commandRunner implements domain.CommandRunner with os/exec.
type commandRunner struct {
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewCommandRunner creates a runner. A zero timeout means commands are only
// bounded by the caller's context.
func NewCommandRunner(timeout time.Duration, logger *slog.Logger) domain.CommandRunner {
	return &commandRunner{
		timeout: timeout,
		logger:  logger.With("component", "command-runner"),
		tracer:  otel.Tracer("ide-worker-command-runner"),
	}
}

// Run executes cmd.Argv without a shell and returns its stdout.
func (r *commandRunner) Run(ctx context.Context, cmd *domain.Command) (string, error) {
	if cmd == nil || len(cmd.Argv) == 0 {
		return "", errors.New("empty command")
	}
	tool := filepath.Base(cmd.Argv[0])

	ctx, span := r.tracer.Start(ctx, "shell.Run", trace.WithAttributes(
		attribute.String("command.tool", tool),
		attribute.String("command.argv", strings.Join(cmd.Argv, " ")),
	))
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.WaitDelay = time.Second
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug("running command", "argv", cmd.Argv, "dir", cmd.Dir)
	err := c.Run()
	output := stdout.String()

	if errOutput := stderr.String(); errOutput != "" {
		span.SetAttributes(attribute.String("command.stderr", errOutput))
	}

	if err != nil {
		metrics.FlatpakCommandsTotal.WithLabelValues(tool, "failed").Inc()
		span.SetStatus(codes.Error, "command failed")
		span.RecordError(err)

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return output, &ExitError{Argv: cmd.Argv, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return output, fmt.Errorf("failed to run %s: %w", tool, err)
	}

	metrics.FlatpakCommandsTotal.WithLabelValues(tool, "success").Inc()
	return output, nil
}
