package core

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	gobsargs "github.com/gobs/args"

	"github.com/netresearch/fleetagent/core/domain"
)

// BareJob is the concrete Job implementation backing one ScheduleEntry. It
// carries the trigger, window, and concurrency-cap fields spec'd for
// ScheduleEntry, plus the bookkeeping (history, cron job id, running
// counter) shared by every job regardless of trigger kind.
type BareJob struct {
	Schedule string `hash:"true"`
	Name     string `hash:"true"`
	Command  string `hash:"true"`

	HistoryLimit int `default:"10"`

	Trigger    domain.TriggerKind
	Once       time.Time
	OnceFmt    string
	When       []string
	RunOnStart bool `default:"true"`
	After      *time.Time
	Until      *time.Time
	Range      *domain.ActiveRange
	SplayStart time.Duration
	SplayEnd   time.Duration
	MaxRunning int  `default:"1"`
	Jobless    bool // copied from the schedule entry; no code path reads it
	Persist    bool

	ReturnSinks []string
	Metadata    map[string]any

	middlewareContainer
	running int32
	lock    sync.Mutex
	history []*Execution
	lastRun *Execution
	cronID  uint64

	// internal tick state, mutated by the scheduler only
	whenRun   bool
	whenIndex int
}

func (j *BareJob) GetName() string {
	return j.Name
}

func (j *BareJob) GetSchedule() string {
	return j.Schedule
}

func (j *BareJob) GetCommand() string {
	return j.Command
}

// ShouldRunOnStartup reports whether an interval-triggered entry should
// fire immediately on its first tick rather than waiting a full interval.
func (j *BareJob) ShouldRunOnStartup() bool {
	return j.RunOnStart
}

func (j *BareJob) Running() int32 {
	return atomic.LoadInt32(&j.running)
}

func (j *BareJob) NotifyStart() {
	atomic.AddInt32(&j.running, 1)
}

func (j *BareJob) NotifyStop() {
	atomic.AddInt32(&j.running, -1)
}

func (j *BareJob) GetCronJobID() uint64 {
	return j.cronID
}

func (j *BareJob) SetCronJobID(id uint64) {
	j.cronID = id
}

// Hash returns a hash of all the job attributes. Used to detect changes
// made by a manage_schedule event against the persisted config fragment.
func (j *BareJob) Hash() (string, error) {
	var hash string
	if err := GetHash(reflect.TypeOf(j).Elem(), reflect.ValueOf(j).Elem(), &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// SetLastRun stores the last executed run for the job.
func (j *BareJob) SetLastRun(e *Execution) {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.lastRun = e
	j.history = append(j.history, e)
	if j.HistoryLimit > 0 && len(j.history) > j.HistoryLimit {
		j.history = j.history[len(j.history)-j.HistoryLimit:]
	}
}

// GetLastRun returns the last execution of the job, if any.
func (j *BareJob) GetLastRun() *Execution {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.lastRun
}

// GetHistory returns a copy of the job's execution history.
func (j *BareJob) GetHistory() []*Execution {
	j.lock.Lock()
	defer j.lock.Unlock()
	hist := make([]*Execution, len(j.history))
	copy(hist, j.history)
	return hist
}

// Run implements the Job interface: it tokenizes Command into a function
// name plus positional arguments and runs it through the scheduler's
// dispatcher, so a fired schedule entry follows exactly the same
// worker/result/return-sink path as a dispatched command envelope.
func (j *BareJob) Run(ctx *Context) error {
	if ctx.Scheduler.Dispatcher == nil {
		return fmt.Errorf("scheduled job %q: no dispatcher wired to scheduler", j.Name)
	}

	fun, arg := splitCommand(j.Command)
	if fun == "" {
		return fmt.Errorf("scheduled job %q: empty command", j.Name)
	}

	value, err := ctx.Scheduler.Dispatcher.RunScheduled(ctx.Ctx, ctx.Execution.ID, fun, arg, nil, j.ReturnSinks, j.Metadata)
	if err != nil {
		if ctx.Execution.ErrorStream != nil {
			_, _ = ctx.Execution.ErrorStream.Write([]byte(err.Error()))
		}
		return err
	}
	if ctx.Execution.OutputStream != nil {
		if out, ok := value.(string); ok && out != "" {
			_, _ = ctx.Execution.OutputStream.Write([]byte(out))
		} else if value != nil {
			_, _ = fmt.Fprintf(ctx.Execution.OutputStream, "%v", value)
		}
	}
	return nil
}

// splitCommand tokenizes a ScheduleEntry's Command string ("fun arg1
// arg2...") the same way the worker tokenizes dispatched-envelope
// arguments, so "key=value" tokens reach the dispatcher unsplit and are
// parsed identically on both paths.
func splitCommand(cmd string) (fun string, arg []string) {
	tokens := gobsargs.GetArgs(cmd)
	if len(tokens) == 0 {
		return "", nil
	}
	return tokens[0], tokens[1:]
}
