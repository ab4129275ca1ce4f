package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"runbox/internal/execution/sandbox/engine"
	"runbox/internal/execution/sandbox/environment"
	"runbox/internal/execution/sandbox/observer"
	"runbox/internal/execution/sandbox/profile"
	"runbox/internal/execution/sandbox/result"
	"runbox/internal/execution/sandbox/runner"
	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"
	"runbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EngineFactory returns the supervisor used for commands inside env.
type EngineFactory func(env environment.Environment) engine.Engine

// FixedEngine uses the same engine for every environment.
func FixedEngine(e engine.Engine) EngineFactory {
	return func(environment.Environment) engine.Engine { return e }
}

// DelegatedEngines supervises through the monitor helper inside each environment.
func DelegatedEngines(cfg engine.Config) EngineFactory {
	return func(env environment.Environment) engine.Engine { return engine.NewDelegated(env, cfg) }
}

// Config controls session scheduling.
type Config struct {
	Isolation Isolation `yaml:"isolation"`
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Registry *profile.Registry
	Provider environment.Provider
	Runner   *runner.Runner
	Engines  EngineFactory
	// Metrics is optional.
	Metrics observer.MetricsRecorder
}

// Orchestrator runs sessions. Sessions are independent; one Orchestrator
// serves any number of them concurrently.
type Orchestrator struct {
	registry       *profile.Registry
	provider       environment.Provider
	runner         *runner.Runner
	engines        EngineFactory
	metrics        observer.MetricsRecorder
	isolation      Isolation
	statusReporter StatusReporter
}

// NewOrchestrator creates an orchestrator with required dependencies.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Provider == nil || deps.Runner == nil || deps.Engines == nil {
		return nil, appErr.New(appErr.ExecutionSystemError).WithMessage("orchestrator dependencies are not initialized")
	}
	switch cfg.Isolation {
	case "":
		cfg.Isolation = IsolationShared
	case IsolationShared, IsolationPerTest:
	default:
		return nil, appErr.ValidationError("isolation", "must be shared or per-test")
	}
	if deps.Metrics == nil {
		deps.Metrics = observer.NoopMetricsRecorder{}
	}
	return &Orchestrator{
		registry:  deps.Registry,
		provider:  deps.Provider,
		runner:    deps.Runner,
		engines:   deps.Engines,
		metrics:   deps.Metrics,
		isolation: cfg.Isolation,
	}, nil
}

// SetStatusReporter injects a status reporter for intermediate updates.
func (o *Orchestrator) SetStatusReporter(reporter StatusReporter) {
	o.statusReporter = reporter
}

// Execute runs a session and returns every outcome at once.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) result.Report {
	return o.Stream(ctx, req, nil)
}

// Stream runs a session and hands each outcome to sink as soon as it is
// known, followed by exactly one terminal frame. The returned report is the
// same one Execute would produce.
func (o *Orchestrator) Stream(ctx context.Context, req ExecuteRequest, sink FrameSink) result.Report {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.ReceivedAt == 0 {
		req.ReceivedAt = time.Now().Unix()
	}
	emit := func(f Frame) {
		if sink != nil {
			sink(f)
		}
	}
	report := o.runSession(ctx, req, emit)
	emit(terminalFrame(report, len(req.TestCases)))
	return report
}

func (o *Orchestrator) runSession(ctx context.Context, req ExecuteRequest, emit FrameSink) (report result.Report) {
	total := len(req.TestCases)
	report = result.Report{
		SessionID: req.SessionID,
		Language:  req.Language,
		State:     result.StateCreated,
		Outcomes:  make([]result.Outcome, 0, total),
	}
	started := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "session panicked",
				zap.String("session_id", req.SessionID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			report.State = result.StateFailed
			report.SessionError = fmt.Sprintf("internal error: %v", r)
		}
		o.finish(ctx, req, report, started)
	}()

	lang, err := o.registry.Lookup(req.Language)
	if err != nil {
		return o.fail(ctx, report, err)
	}
	report.Language = lang.ID
	started = true
	o.metrics.SessionStarted(ctx, lang.ID)
	logger.Info(ctx, "session started",
		zap.String("session_id", req.SessionID),
		zap.String("language", lang.ID),
		zap.Int("tests", total),
		zap.String("isolation", string(o.isolation)),
	)

	env, err := o.provider.Create(ctx, req.SessionID)
	if err != nil {
		return o.fail(ctx, report, err)
	}
	defer o.release(ctx, req.SessionID, env)

	name, source := runner.PrepareSource(lang, req.Code)
	if err := env.WriteFile(ctx, name, source); err != nil {
		return o.fail(ctx, report, err)
	}
	report.State = result.StateSourceWritten

	if lang.Compiled() {
		o.reportStatus(ctx, req, lang.ID, result.StatusCompiling, 0)
	}
	record, err := o.runner.Compile(ctx, o.engines(env), env, lang)
	if err != nil {
		return o.fail(ctx, report, err)
	}
	if lang.Compiled() {
		report.State = result.StateCompileAttempted
		report.Compile = &record
	}
	if !record.Succeeded {
		for range req.TestCases {
			report.Outcomes = append(report.Outcomes, result.Failure(record.Diagnostic))
		}
		report.State = result.StateComplete
		return report
	}

	report.State = result.StateRunning
	o.reportStatus(ctx, req, lang.ID, result.StatusRunning, 0)
	for i, tc := range req.TestCases {
		if ctx.Err() != nil {
			return o.fail(ctx, report, ctx.Err())
		}
		out := o.runTest(ctx, env, lang, req, i, tc)
		report.Outcomes = append(report.Outcomes, out)
		if ctx.Err() != nil {
			return o.fail(ctx, report, ctx.Err())
		}
		emit(Frame{Type: FrameResult, Index: i, TotalCount: total, Result: &out})
		o.reportStatus(ctx, req, lang.ID, result.StatusRunning, i+1)
	}
	report.State = result.StateComplete
	return report
}

// runTest never aborts the session: every problem becomes a failed outcome.
func (o *Orchestrator) runTest(ctx context.Context, env environment.Environment, lang profile.LanguageSpec, req ExecuteRequest, index int, tc spec.TestCase) result.Outcome {
	label := "test-" + strconv.Itoa(index)
	target := env
	if o.isolation == IsolationPerTest {
		testEnv, err := o.cloneWorkspace(ctx, env, lang, req, label)
		if err != nil {
			logger.Warn(ctx, "prepare test workspace failed",
				zap.String("session_id", req.SessionID),
				zap.String("test", label),
				zap.Error(err),
			)
			return result.Failure(appErr.Reason(err))
		}
		defer o.release(ctx, req.SessionID, testEnv)
		target = testEnv
	}

	plan, err := o.runner.PrepareRun(lang, target.Dir(), req.Code, tc.Stdin)
	if err != nil {
		return result.Failure(appErr.Reason(err))
	}
	return o.runner.Run(ctx, o.engines(target), target, lang, label, plan, tc.Limits())
}

// cloneWorkspace creates a fresh environment holding the prepared source
// and, for compiled languages, the build artifact from the session workspace.
func (o *Orchestrator) cloneWorkspace(ctx context.Context, from environment.Environment, lang profile.LanguageSpec, req ExecuteRequest, label string) (environment.Environment, error) {
	to, err := o.provider.Create(ctx, req.SessionID+"-"+label)
	if err != nil {
		return nil, err
	}
	name, source := runner.PrepareSource(lang, req.Code)
	if err := to.WriteFile(ctx, name, source); err != nil {
		o.release(ctx, req.SessionID, to)
		return nil, err
	}
	if lang.Compiled() && lang.BinaryFile != "" {
		artifact, err := from.ReadFile(ctx, lang.BinaryFile)
		if err == nil {
			err = to.WriteFile(ctx, lang.BinaryFile, artifact)
		}
		if err != nil {
			o.release(ctx, req.SessionID, to)
			return nil, err
		}
	}
	return to, nil
}

// fail moves the session to the absorbing Failed state.
func (o *Orchestrator) fail(ctx context.Context, report result.Report, err error) result.Report {
	report.State = result.StateFailed
	if ctx.Err() != nil || appErr.Is(err, appErr.ExecutionCancelled) {
		report.SessionError = appErr.ExecutionCancelled.Message()
	} else {
		report.SessionError = appErr.Reason(err)
	}
	logger.Warn(ctx, "session failed",
		zap.String("session_id", report.SessionID),
		zap.String("reason", report.SessionError),
	)
	return report
}

// release destroys env, even when the caller's context is already cancelled.
func (o *Orchestrator) release(ctx context.Context, sessionID string, env environment.Environment) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "workspace teardown panicked",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := env.Destroy(context.WithoutCancel(ctx)); err != nil {
		logger.Error(ctx, "destroy workspace failed",
			zap.String("session_id", sessionID),
			zap.String("env", env.ID()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finish(ctx context.Context, req ExecuteRequest, report result.Report, started bool) {
	status := result.StatusFinished
	if report.State == result.StateFailed {
		status = result.StatusFailed
	}
	if o.statusReporter != nil {
		update := StatusUpdate{
			SessionID:  req.SessionID,
			Status:     status,
			Language:   report.Language,
			TotalTests: len(req.TestCases),
			DoneTests:  len(report.Outcomes),
			ReceivedAt: req.ReceivedAt,
			FinishedAt: time.Now().Unix(),
			Error:      report.SessionError,
		}
		if err := o.statusReporter.ReportStatus(context.WithoutCancel(ctx), update); err != nil {
			logger.Warn(ctx, "report final status failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}
	if started {
		o.metrics.SessionFinished(ctx, report.Language, string(report.State))
	}
	logger.Info(ctx, "session finished",
		zap.String("session_id", req.SessionID),
		zap.String("state", string(report.State)),
		zap.Int("outcomes", len(report.Outcomes)),
	)
}

func (o *Orchestrator) reportStatus(ctx context.Context, req ExecuteRequest, language string, status result.SessionStatus, done int) {
	if o.statusReporter == nil {
		return
	}
	err := o.statusReporter.ReportStatus(ctx, StatusUpdate{
		SessionID:  req.SessionID,
		Status:     status,
		Language:   language,
		TotalTests: len(req.TestCases),
		DoneTests:  done,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		logger.Warn(ctx, "report status failed", zap.String("session_id", req.SessionID), zap.Error(err))
	}
}

var _ Service = (*Orchestrator)(nil)
