package core

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

const defaultDeliveryTimeout = 60 * time.Second

// Dispatcher turns a verified CommandEnvelope into one or more worker
// invocations and routes the results back to the controller and to every
// configured return sink. One Dispatcher serves one agent process.
type Dispatcher struct {
	registry     ports.FunctionRegistry
	conn         *ConnectionManager
	matcher      *Matcher
	matcherCtx   func() *domain.MatcherContext
	sinks        map[string]ports.ReturnSink
	logger       Logger
	agentID      string
	jobRecordDir string
	reloadFn     func()
}

// NewDispatcher builds a Dispatcher. matcherCtx supplies the current
// attribute/config snapshot the target test evaluates against.
func NewDispatcher(registry ports.FunctionRegistry, conn *ConnectionManager, matcher *Matcher, matcherCtx func() *domain.MatcherContext, logger Logger, agentID string) *Dispatcher {
	return &Dispatcher{
		registry:   registry,
		conn:       conn,
		matcher:    matcher,
		matcherCtx: matcherCtx,
		sinks:      make(map[string]ports.ReturnSink),
		logger:     logger,
		agentID:    agentID,
	}
}

// SetJobRecordDir sets the on-disk job ledger directory workers write to.
func (d *Dispatcher) SetJobRecordDir(dir string) { d.jobRecordDir = dir }

// SetReloadFunc installs the callback sys.reload_modules triggers.
func (d *Dispatcher) SetReloadFunc(fn func()) { d.reloadFn = fn }

// RegisterSink adds a return sink, addressable by name from a
// CommandEnvelope's ReturnSinks list (the "<name>.returner" registry).
func (d *Dispatcher) RegisterSink(sink ports.ReturnSink) {
	d.sinks[sink.Name()] = sink
}

// Dispatch runs the target test and, if the envelope targets this agent,
// spawns a worker per invocation mode in the background. It returns
// immediately; results are delivered asynchronously via the connection
// manager and return sinks.
func (d *Dispatcher) Dispatch(ctx context.Context, env domain.CommandEnvelope) error {
	if env.Target == "" || env.JobID == "" || len(env.Fun) == 0 {
		return nil // missing tgt/jid/fun -> drop silently
	}

	if !d.targeted(env) {
		return nil
	}

	go d.run(ctx, env)
	return nil
}

func (d *Dispatcher) targeted(env domain.CommandEnvelope) bool {
	mctx := d.matcherCtx()
	if mctx == nil {
		return false
	}
	return d.matcher.Match(env.Target, env.TargetType, mctx)
}

func (d *Dispatcher) run(ctx context.Context, env domain.CommandEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("job %s panicked: %v", env.JobID, r)
		}
	}()

	if d.jobRecordDir != "" {
		rec := domain.JobRecord{
			JobID:     env.JobID,
			Pid:       os.Getpid(),
			Function:  firstOr(env.Fun, ""),
			StartedAt: time.Now(),
			Envelope:  env,
		}
		if err := WriteJobRecord(d.jobRecordDir, rec); err != nil {
			d.logger.Warningf("job %s: failed to write job record: %v", env.JobID, err)
		}
		defer func() {
			if err := RemoveJobRecord(d.jobRecordDir, env.JobID); err != nil {
				d.logger.Warningf("job %s: failed to remove job record: %v", env.JobID, err)
			}
		}()
	}

	w := &worker{
		registry: d.registry,
		reload:   d.reloadFn,
		logger:   d.logger,
		agentID:  d.agentID,
		emit:     d.emitProgress(env.JobID),
	}

	result := d.execute(ctx, w, env)
	timeout := env.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	d.deliver(ctx, result, env.ReturnSinks, timeout)
}

// deliver sends a JobResult back to the controller (bounded by timeout) and
// fans it out to every named return sink, logging but never aborting on a
// per-sink failure. Shared by the dispatched-envelope path (run) and the
// scheduler's RunScheduled path, so both produce results through the
// identical delivery mechanism.
func (d *Dispatcher) deliver(ctx context.Context, result domain.JobResult, returnSinks []string, timeout time.Duration) {
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.conn.SendReturn(sendCtx, result); err != nil {
		d.logger.Warningf("job %s: dropping result after delivery timeout: %v", result.JobID, err)
	}

	for _, name := range returnSinks {
		sink, ok := d.sinks[name]
		if !ok {
			d.logger.Warningf("job %s: unknown return sink %q", result.JobID, name)
			continue
		}
		if err := sink.Send(ctx, result); err != nil {
			d.logger.Errorf("job %s: return sink %q failed: %v", result.JobID, name, err)
		}
	}
}

// RunScheduled runs one scheduler-fired function through the same
// worker/result/sink path as a dispatched command envelope (spec.md §4.B:
// "the same result path as inbound jobs"). It blocks until the invocation
// and delivery complete, and returns the invocable's value/error so the
// caller (BareJob.Run) can reflect failure into the job's Execution.
func (d *Dispatcher) RunScheduled(ctx context.Context, jobID, function string, arg []string, kwarg map[string]any, returnSinks []string, metadata map[string]any) (any, error) {
	w := &worker{
		registry: d.registry,
		reload:   d.reloadFn,
		logger:   d.logger,
		agentID:  d.agentID,
		emit:     d.emitProgress(jobID),
	}

	value, err := w.invoke(ctx, jobID, 0, function, arg, kwarg, nil)

	env := domain.CommandEnvelope{JobID: jobID, Fun: []string{function}, Metadata: metadata, ReturnSinks: returnSinks}
	result := d.buildResult(env, function, arg, value, err)
	d.deliver(ctx, result, returnSinks, defaultDeliveryTimeout)

	return value, err
}

// execute runs a single function in single mode, or every (fun, arg) pair
// in order for multi mode, accumulating {return: {fun: value}, success:
// {fun: bool}} exactly as the single-function result shape generalizes.
func (d *Dispatcher) execute(ctx context.Context, w *worker, env domain.CommandEnvelope) domain.JobResult {
	invocations := pairInvocations(env)

	if len(invocations) == 1 {
		fn := invocations[0]
		value, err := w.invoke(ctx, env.JobID, 0, fn.Fun, fn.Arg, env.Kwarg, env.Raw)
		return d.buildResult(env, fn.Fun, fn.Arg, value, err)
	}

	returns := make(map[string]any, len(invocations))
	successes := make(map[string]bool, len(invocations))
	allOK := true
	var lastErr error

	for i, fn := range invocations {
		value, err := w.invoke(ctx, env.JobID, i, fn.Fun, fn.Arg, env.Kwarg, env.Raw)
		returns[fn.Fun] = value
		successes[fn.Fun] = err == nil
		if err != nil {
			allOK = false
			lastErr = err
			returns[fn.Fun] = err.Error()
		}
	}

	result := domain.JobResult{
		JobID:    env.JobID,
		Function: joinFuncNames(env.Fun),
		Success:  allOK,
		Return:   map[string]any{"return": returns, "success": successes},
		Metadata: env.Metadata,
		MasterID: env.MasterID,
	}
	if lastErr != nil {
		result.ErrTraceback = lastErr.Error()
	}
	return result
}

func (d *Dispatcher) buildResult(env domain.CommandEnvelope, fun string, arg []string, value any, err error) domain.JobResult {
	tags := defaultResultTags(d.agentID, fun)
	result := domain.JobResult{
		JobID:    env.JobID,
		Function: fun,
		Arg:      arg,
		Return:   value,
		Success:  err == nil,
		Metadata: mergeResultTags(env.Metadata, tags),
		MasterID: env.MasterID,
	}

	if err != nil {
		result.ErrTraceback = err.Error()
		if nz, ok := asNonZeroExit(err); ok {
			result.RetCode = nz
		} else {
			result.RetCode = 1
		}
	}

	return result
}

func (d *Dispatcher) emitProgress(jid string) func(event string, payload any) {
	return func(event string, payload any) {
		d.logger.Debugf("job %s: progress event %s", jid, event)
		_ = d.conn.SendReturn(context.Background(), domain.JobResult{
			JobID:    jid,
			Return:   payload,
			Success:  true,
			Metadata: map[string]any{"event": event},
		})
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return values[0]
}

func joinFuncNames(funs []string) string {
	out := ""
	for i, f := range funs {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func asNonZeroExit(err error) (int, bool) {
	var nz NonZeroExitError
	if errors.As(err, &nz) {
		return nz.ExitCode, true
	}
	return 0, false
}
