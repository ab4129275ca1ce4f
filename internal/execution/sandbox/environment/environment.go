// Package environment provides isolated per-session workspaces.
package environment

import (
	"context"
)

// Environment is a workspace owned by exactly one session.
type Environment interface {
	// ID is unique among live environments.
	ID() string
	// Dir is the workspace root as seen by commands run inside it.
	Dir() string
	// WriteFile stores data at a path relative to Dir.
	WriteFile(ctx context.Context, name string, data []byte) error
	// ReadFile loads a file relative to Dir.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// RunCommand runs a command inside the workspace and collects its output.
	// A non-zero exit status is reported in the result, not as an error.
	RunCommand(ctx context.Context, cmd []string, opts RunOptions) (CommandResult, error)
	// Destroy releases the workspace. Calling it more than once is a no-op.
	Destroy(ctx context.Context) error
}

// RunOptions tunes a single RunCommand call.
type RunOptions struct {
	Env []string
	// MaxOutputBytes caps each collected stream. Zero means the provider default.
	MaxOutputBytes int64
}

// CommandResult is the collected result of RunCommand.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Provider creates environments.
type Provider interface {
	Create(ctx context.Context, sessionID string) (Environment, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, sessionID string) (Environment, error)

// Create calls f.
func (f ProviderFunc) Create(ctx context.Context, sessionID string) (Environment, error) {
	return f(ctx, sessionID)
}
