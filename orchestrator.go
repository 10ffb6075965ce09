package gravity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CeleryBeatDBTimeout bounds the wait for the scheduler's persisted
// database to appear after start.
const CeleryBeatDBTimeout = 10 * time.Second

// Result is the structured outcome of a lifecycle operation. Errors are
// recovered here rather than allowed to terminate the tool; the CLI maps
// OK to the process exit code.
type Result struct {
	// OK reports overall success
	OK bool
	// Message is human-readable output for the operator
	Message string
	// Diagnostic carries collected logs or raw backend output on failure
	Diagnostic string
}

// StatusRow is one service's process-level status annotated with whether
// it currently passes its readiness probe. A service can be running at
// the process level without being ready.
type StatusRow struct {
	Name    string
	Running bool
	PID     int
	State   string
	Ready   bool
}

// Orchestrator sequences backend adapter calls to implement the
// lifecycle operations for a single instance.
type Orchestrator struct {
	cfg      *Config
	manager  ProcessManager
	verifier *Verifier
	logger   *zap.Logger

	stopTimeout  time.Duration
	stopInterval time.Duration
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithManager injects the backend adapter, used by tests to substitute a
// fake instead of driving a live process manager.
func WithManager(m ProcessManager) OrchestratorOption {
	return func(o *Orchestrator) {
		o.manager = m
	}
}

// WithVerifier substitutes the readiness verifier
func WithVerifier(v *Verifier) OrchestratorOption {
	return func(o *Orchestrator) {
		o.verifier = v
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithStopWait bounds the status polling that confirms a unit-based stop
func WithStopWait(timeout, interval time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.stopTimeout = timeout
		o.stopInterval = interval
	}
}

// NewOrchestrator creates an Orchestrator for the instance configuration.
// The backend variant is selected here, once, from the configuration.
func NewOrchestrator(cfg *Config, opts ...OrchestratorOption) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:          cfg,
		verifier:     NewVerifier(),
		logger:       zap.NewNop(),
		stopTimeout:  5 * time.Second,
		stopInterval: DefaultProbeInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.manager == nil {
		m, err := NewProcessManager(cfg.ManagerKind(), cfg)
		if err != nil {
			return nil, err
		}
		o.manager = m
	}
	return o, nil
}

// fail recovers an error into a structured Result, pulling collected
// diagnostics out of the error where they exist.
func fail(err error) Result {
	res := Result{OK: false, Message: err.Error()}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		res.Diagnostic = cmdErr.Output
	}
	var readyErr *ReadinessError
	if errors.As(err, &readyErr) {
		res.Diagnostic = readyErr.Log
	}
	return res
}

// Update loads and validates the registry, regenerates the backend's
// native configuration, and persists the runtime state record. Apply is
// atomic per artifact, so a failed update leaves the previous
// configuration intact. Updates for the same instance are serialized
// through a file lock.
func (o *Orchestrator) Update(ctx context.Context, force bool) Result {
	reg, err := o.cfg.Registry()
	if err != nil {
		return fail(err)
	}

	unlock, err := lockState(o.cfg.StateDir())
	if err != nil {
		return fail(err)
	}
	defer unlock()

	version, err := o.manager.Apply(ctx, reg, force)
	if err != nil {
		return fail(err)
	}

	st := &State{
		ProcessManager:  o.manager.Kind().String(),
		ConfigFile:      o.cfg.Path,
		InstanceName:    o.cfg.Gravity.InstanceName,
		ArtifactVersion: version,
		UpdatedAt:       time.Now(),
	}
	if err := SaveState(o.cfg.StateDir(), st); err != nil {
		return fail(err)
	}
	if err := RegisterInstance(o.cfg.StateDir(), InstanceRecord{
		ConfigFile:   o.cfg.Path,
		ConfigType:   o.cfg.ConfigType,
		InstanceName: o.cfg.Gravity.InstanceName,
	}); err != nil {
		return fail(err)
	}

	o.logger.Info("configuration updated",
		zap.String("instance", o.cfg.Gravity.InstanceName),
		zap.String("version", version))
	return Result{OK: true, Message: fmt.Sprintf("instance %s updated (version %s)", o.cfg.Gravity.InstanceName, version)}
}

// Start starts the instance's services and verifies readiness. Overall
// success requires every invoked readiness check to pass within its
// deadline; on failure the result carries the first failing service's
// log since start. A service that timed out is left running for
// inspection.
func (o *Orchestrator) Start(ctx context.Context) Result {
	st, err := LoadState(o.cfg.StateDir())
	if err != nil {
		return fail(err)
	}
	reg, err := o.cfg.Registry()
	if err != nil {
		return fail(err)
	}

	since := time.Now()
	outcomes, err := o.manager.Start(ctx, nil)
	if err != nil {
		return fail(err)
	}
	st.StartedAt = since
	if err := SaveState(o.cfg.StateDir(), st); err != nil {
		return fail(err)
	}
	var lines []string
	for _, oc := range outcomes {
		if oc.Err != nil {
			return fail(oc.Err)
		}
		if text := strings.TrimSpace(oc.Output); text != "" {
			lines = append(lines, text)
		}
	}

	o.logger.Info("services started, verifying readiness",
		zap.String("instance", o.cfg.Gravity.InstanceName))
	if err := o.verifier.AwaitAll(ctx, reg.Services(), since, o.manager); err != nil {
		return fail(err)
	}

	if res := o.confirmScheduler(ctx, reg, since); !res.OK {
		return res
	}

	return Result{OK: true, Message: strings.Join(lines, "\n")}
}

// confirmScheduler waits for the scheduler's persisted database when a
// scheduler service is declared. The storage engine decides the file's
// suffix, so existence is a set-membership check over all variants.
func (o *Orchestrator) confirmScheduler(ctx context.Context, reg *Registry, since time.Time) Result {
	hasScheduler := false
	var schedulerName string
	for _, svc := range reg.Services() {
		if svc.Kind == KindScheduler {
			hasScheduler = true
			schedulerName = svc.Name
		}
	}
	if !hasScheduler {
		return Result{OK: true}
	}

	found, err := AwaitAnyPath(ctx, BeatDBCandidates(o.cfg.StateDir()), CeleryBeatDBTimeout)
	if err != nil {
		return fail(err)
	}
	if !found {
		tail, tailErr := o.manager.TailLog(ctx, schedulerName, since)
		if tailErr != nil {
			tail = fmt.Sprintf("(log unavailable: %v)", tailErr)
		}
		return Result{
			OK:         false,
			Message:    fmt.Sprintf("scheduler %s failed to write its database", schedulerName),
			Diagnostic: tail,
		}
	}
	return Result{OK: true}
}

// Stop stops the instance's services. For the reconciling backend the
// terminal all-stopped marker in the command output confirms shutdown;
// for the unit-based backend shutdown is confirmed by polling status
// until nothing reports running, bounded by a short timeout. Stop is
// best-effort: units still running after the timeout are reported but
// the call returns.
func (o *Orchestrator) Stop(ctx context.Context) Result {
	if _, err := LoadState(o.cfg.StateDir()); err != nil {
		return fail(err)
	}

	out, err := o.manager.Stop(ctx, nil)
	if err != nil {
		return fail(err)
	}

	if o.manager.Kind() == ManagerSystemd {
		leftover, confirmErr := o.awaitStopped(ctx)
		if confirmErr != nil {
			res := fail(confirmErr)
			res.OK = true
			res.Message = fmt.Sprintf("stop issued but shutdown could not be confirmed: %v", confirmErr)
			return res
		}
		if len(leftover) > 0 {
			return Result{
				OK:      true,
				Message: fmt.Sprintf("still running after stop: %s", strings.Join(leftover, ", ")),
			}
		}
	}

	return Result{OK: true, Message: out}
}

// awaitStopped polls the status snapshot until no service reports
// running or the stop timeout elapses, returning the leftovers. If no
// status query ever succeeds the last query error is returned instead,
// so an unconfirmable shutdown is never reported as a clean one.
func (o *Orchestrator) awaitStopped(ctx context.Context) ([]string, error) {
	deadline := time.NewTimer(o.stopTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.stopInterval)
	defer ticker.Stop()

	var lastErr error
	var running []string
	confirmed := false

	for {
		statuses, err := o.manager.Status(ctx)
		if err != nil {
			lastErr = err
		} else {
			confirmed = true
			running = running[:0]
			for _, st := range statuses {
				if st.Running {
					running = append(running, st.Name)
				}
			}
			if len(running) == 0 {
				return nil, nil
			}
		}
		select {
		case <-ctx.Done():
		case <-deadline.C:
		case <-ticker.C:
			continue
		}
		if !confirmed {
			return nil, lastErr
		}
		return running, nil
	}
}

// Restart regenerates configuration first when the on-disk artifacts are
// stale relative to the current configuration, then stops and starts.
// Without a configuration change it is pure stop-then-start.
func (o *Orchestrator) Restart(ctx context.Context) Result {
	st, err := LoadState(o.cfg.StateDir())
	if err != nil {
		return fail(err)
	}
	reg, err := o.cfg.Registry()
	if err != nil {
		return fail(err)
	}
	version, err := o.manager.Version(reg)
	if err != nil {
		return fail(err)
	}
	if version != st.ArtifactVersion {
		o.logger.Info("configuration changed, updating before restart",
			zap.String("have", st.ArtifactVersion), zap.String("want", version))
		if res := o.Update(ctx, false); !res.OK {
			return res
		}
	}

	if res := o.Stop(ctx); !res.OK {
		return res
	}
	return o.Start(ctx)
}

// Status returns the synchronous process-level snapshot annotated with
// each service's current readiness. It never blocks on readiness.
func (o *Orchestrator) Status(ctx context.Context) ([]StatusRow, error) {
	reg, err := o.cfg.Registry()
	if err != nil {
		return nil, err
	}
	statuses, err := o.manager.Status(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Time{}
	if st, err := LoadState(o.cfg.StateDir()); err == nil {
		since = st.UpdatedAt
		if !st.StartedAt.IsZero() {
			since = st.StartedAt
		}
	}

	rows := make([]StatusRow, 0, len(statuses))
	for _, st := range statuses {
		row := StatusRow{
			Name:    st.Name,
			Running: st.Running,
			PID:     st.PID,
			State:   st.State,
		}
		if svc, err := reg.Service(st.Name); err == nil && st.Running {
			row.Ready = o.verifier.Check(ctx, svc, since, o.manager)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Show returns the resolved instance configuration, defaults included,
// for operator inspection. It is read-only and mutates nothing.
func (o *Orchestrator) Show() (string, error) {
	return o.cfg.Resolved()
}
