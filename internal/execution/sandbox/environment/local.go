package environment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxOutputBytes int64 = 1 << 20
	// defaultWaitDelay outlasts the helper's own grace and confirm windows
	// before os/exec escalates a cancelled command to SIGKILL.
	defaultWaitDelay = 5 * time.Second
)

// LocalConfig configures temp-directory workspaces on the host.
type LocalConfig struct {
	// Root holds the workspaces. Empty means the system temp directory.
	Root           string `yaml:"root"`
	MaxOutputBytes int64  `yaml:"maxOutputBytes"`
}

// LocalProvider creates one temp directory per session.
type LocalProvider struct {
	cfg LocalConfig
}

// NewLocalProvider creates a provider backed by the host filesystem.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Root != "" {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, appErr.Wrapf(err, appErr.EnvironmentCreateFailed, "create workspace root %s", cfg.Root)
		}
	}
	return &LocalProvider{cfg: cfg}, nil
}

// Create makes a fresh workspace for the session.
func (p *LocalProvider) Create(ctx context.Context, sessionID string) (Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.ExecutionCancelled, "create workspace")
	}
	dir, err := os.MkdirTemp(p.cfg.Root, "session-"+sanitize(sessionID)+"-")
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentCreateFailed, "create workspace for %s", sessionID)
	}
	logger.Debug(ctx, "workspace created", zap.String("dir", dir))
	return &localEnvironment{
		id:        filepath.Base(dir),
		dir:       dir,
		maxOutput: p.cfg.MaxOutputBytes,
	}, nil
}

type localEnvironment struct {
	id        string
	dir       string
	maxOutput int64

	destroyOnce sync.Once
	destroyErr  error
}

func (e *localEnvironment) ID() string  { return e.id }
func (e *localEnvironment) Dir() string { return e.dir }

func (e *localEnvironment) WriteFile(ctx context.Context, name string, data []byte) error {
	path, err := e.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentIOFailed, "create parent of %s", name)
	}
	// Copied build artifacts must stay runnable.
	if err := os.WriteFile(path, data, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.EnvironmentIOFailed, "write %s", name)
	}
	return nil
}

func (e *localEnvironment) ReadFile(ctx context.Context, name string) ([]byte, error) {
	path, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.EnvironmentIOFailed, "read %s", name)
	}
	return data, nil
}

func (e *localEnvironment) RunCommand(ctx context.Context, cmdline []string, opts RunOptions) (CommandResult, error) {
	if len(cmdline) == 0 {
		return CommandResult{}, appErr.ValidationError("cmd", "command is required")
	}
	max := opts.MaxOutputBytes
	if max <= 0 {
		max = e.maxOutput
	}

	cmd := exec.CommandContext(ctx, cmdline[0], cmdline[1:]...)
	cmd.Dir = e.dir
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	stdout := &limitedBuffer{max: max}
	stderr := &limitedBuffer{max: max}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureGroup(cmd)
	cmd.WaitDelay = defaultWaitDelay

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if ctx.Err() != nil {
		return res, appErr.Wrapf(ctx.Err(), appErr.ExecutionCancelled, "run %s", cmdline[0])
	}
	return res, appErr.Wrapf(err, appErr.ProcessStartFailed, "run %s", cmdline[0])
}

func (e *localEnvironment) Destroy(ctx context.Context) error {
	e.destroyOnce.Do(func() {
		if err := os.RemoveAll(e.dir); err != nil {
			e.destroyErr = appErr.Wrapf(err, appErr.EnvironmentIOFailed, "remove workspace %s", e.dir)
			return
		}
		logger.Debug(ctx, "workspace destroyed", zap.String("dir", e.dir))
	})
	return e.destroyErr
}

// resolve keeps name inside the workspace.
func (e *localEnvironment) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", appErr.ValidationError("name", "must be a relative path")
	}
	path := filepath.Join(e.dir, name)
	rel, err := filepath.Rel(e.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", appErr.ValidationError("name", "escapes the workspace")
	}
	return path, nil
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= 36 {
			break
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	return b.String()
}

// limitedBuffer keeps the first max bytes and drops the rest while still
// reporting full writes, so the writer is never blocked or failed.
type limitedBuffer struct {
	buf bytes.Buffer
	max int64
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(b.buf.Len())
	if room > 0 {
		if int64(len(p)) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}
