// internal/manager/process.go
package manager

import (
	"fmt"
	"os"
	"os/exec"
)

// Process is a handle on a spawned worker process.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	// Kill forces the process to exit.
	Kill() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(argv0 string, args []string) (Process, error)
}

// WorkerArgs is the command line passed to a worker: the plugin to host and
// the address of the manager to connect back to.
func WorkerArgs(plugin, address string) []string {
	return []string{
		"worker",
		"--plugin=" + plugin,
		"--address=" + address,
	}
}

type execLauncher struct{}

// ExecLauncher starts workers as child processes that share the manager's
// stdout and stderr.
func ExecLauncher() Launcher {
	return execLauncher{}
}

func (execLauncher) Launch(argv0 string, args []string) (Process, error) {
	cmd := exec.Command(argv0, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv0, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
