package engine

import (
	"context"
	"time"

	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/monitorproto"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// trailerHeadroom leaves room for the measurement lines after capped output.
const trailerHeadroom = 256

// stdinRedirect feeds the file named by $0 to the remaining arguments.
const stdinRedirect = `exec "$@" < "$0"`

type delegatedEngine struct {
	cfg Config
	env environment.Environment
}

// NewDelegated creates a supervisor that runs commands through the monitor
// helper inside env. It is used when the environment is not a direct child
// of this process, so limits must be enforced from within.
func NewDelegated(env environment.Environment, cfg Config) Engine {
	return &delegatedEngine{cfg: cfg.withDefaults(), env: env}
}

// WrapCommand builds the full helper invocation for runSpec. The helper is
// told the configured sentinels and output cap so its exit codes and output
// match what ParseOutput expects.
func WrapCommand(cfg Config, runSpec spec.RunSpec) []string {
	cfg = cfg.withDefaults()
	inner := runSpec.Cmd
	if runSpec.StdinPath != "" {
		inner = append([]string{"sh", "-c", stdinRedirect, runSpec.StdinPath}, runSpec.Cmd...)
	}
	flags := monitorproto.HelperFlags{ExitCodes: cfg.ExitCodes, OutputMaxBytes: cfg.OutputMaxBytes}
	return monitorproto.BuildCommand(cfg.MonitorHelper, flags, runSpec.Limits, inner)
}

func (e *delegatedEngine) Run(ctx context.Context, runSpec spec.RunSpec) (out result.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "delegated supervisor panic", zap.String("label", runSpec.Label), zap.Any("panic", r))
			out = recoverOutcome(r)
		}
	}()

	if err := validateRunSpec(runSpec); err != nil {
		return result.Failure(appErr.Reason(err))
	}
	if ctx.Err() != nil {
		return result.Failure(cancelledReason)
	}

	// the helper enforces the time limit; the context only guards a hung helper
	runCtx := ctx
	if d := runSpec.Limits.Deadline(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d+e.cfg.GracePeriod+e.cfg.ConfirmTimeout+time.Second)
		defer cancel()
	}

	cmd := WrapCommand(e.cfg, runSpec)
	res, err := e.env.RunCommand(runCtx, cmd, environment.RunOptions{
		Env:            runSpec.Env,
		MaxOutputBytes: e.cfg.OutputMaxBytes + trailerHeadroom,
	})
	if err != nil {
		if ctx.Err() != nil {
			return result.Failure(cancelledReason)
		}
		logger.Error(ctx, "delegated run failed", zap.String("label", runSpec.Label), zap.Error(err))
		return result.Failure(appErr.Reason(err))
	}

	out = monitorproto.ParseOutput(res.Stdout, res.Stderr, res.ExitCode, runSpec.Limits, e.cfg.ExitCodes)
	if int64(len(out.Stdout)) >= e.cfg.OutputMaxBytes || int64(len(out.Stderr)) >= e.cfg.OutputMaxBytes {
		out.Truncated = true
	}
	return out
}
