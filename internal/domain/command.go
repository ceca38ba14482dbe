package domain

import "context"

// Command describes an external process invocation.
type Command struct {
	Argv []string
	Dir  string
	Env  []string
}

// CommandRunner runs a command to completion and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, cmd *Command) (output string, err error)
}
