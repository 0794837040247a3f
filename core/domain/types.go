// Package domain holds the plain data types passed between the agent's
// components: envelopes coming off the wire, records written to the job
// ledger, results handed back to sinks, and the schedule/config shapes that
// drive the scheduler and connection manager.
package domain

import "time"

// ConnectionState is the lifecycle state of a ControllerBinding.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SelectionMode chooses how the Connection Manager picks a controller
// address out of AgentConfig.Controllers.
type SelectionMode string

const (
	SelectionSingle         SelectionMode = "single"
	SelectionFailover       SelectionMode = "failover"
	SelectionResolverModule SelectionMode = "resolver-module"
)

// WorkerMode chooses how the Job Dispatcher spawns work.
type WorkerMode string

const (
	WorkerSubprocess WorkerMode = "subprocess"
	WorkerThread     WorkerMode = "thread"
)

// RetryPolicy bounds reconnect/handshake backoff for the Connection Manager.
type RetryPolicy struct {
	RetryDNS      time.Duration
	AcceptWait    time.Duration
	AcceptWaitMax time.Duration
	AuthTimeout   time.Duration
	AuthTries     int
}

// AgentConfig is the resolved, validated runtime configuration for one
// agent process. It is built by cli/config from the on-disk INI tree and
// handed to the Supervisor at boot.
type AgentConfig struct {
	ID             string
	Controllers    []string
	SelectionMode  SelectionMode
	ResolverFunc   string
	MasterShuffle  bool
	PublishPort    int
	PullPort       int
	URIFormat      string
	Retry          RetryPolicy
	WorkerMode     WorkerMode
	ReturnRetryMin time.Duration
	ReturnRetryMax time.Duration
	CacheDir       string
	LoopInterval   time.Duration
	PingInterval   time.Duration
	MaxMemoryBytes int64
	IPv6           bool
}

// ControllerBinding tracks one live (or dying) relationship to a single
// controller endpoint.
type ControllerBinding struct {
	Address       string
	PublishHandle string
	AuthToken     string
	State         ConnectionState
	BackoffCount  int
	LastError     error
}

// CommandEnvelope is one decoded publication from a controller, ready for
// the dispatcher to act on. Arg/Kwarg hold the raw job arguments; Fun may
// name a single function or, for multi-function jobs, several in order.
type CommandEnvelope struct {
	JobID         string
	Fun           []string
	Arg           [][]string
	Kwarg         map[string]any
	Target        string
	TargetType    string
	User          string
	Metadata      map[string]any
	ReturnSinks   []string
	DeliveryTimeout time.Duration
	MasterID      string
	Raw           map[string]any // passthrough fields, including __pub_*
}

// JobRecord is the on-disk crash-recovery/concurrency marker written before
// a worker starts and removed after it finishes. Its JSON shape is load
// bearing: other agent processes (after a restart) read it back.
type JobRecord struct {
	JobID     string    `json:"jid"`
	Pid       int       `json:"pid"`
	Function  string    `json:"fun"`
	Schedule  string    `json:"schedule,omitempty"`
	StartedAt time.Time `json:"start_time"`
	Envelope  CommandEnvelope `json:"envelope"`
}

// JobResult is what the dispatcher hands to the controller channel (as
// cmd=_return) and to every configured return sink.
type JobResult struct {
	JobID      string
	Function   string
	Arg        []string
	Return     any
	Success    bool
	RetCode    int
	Out        string
	Metadata   map[string]any
	MasterID   string
	ReturnConfig []string
	ErrTraceback string
}

// TriggerKind selects which of ScheduleEntry's mutually exclusive trigger
// fields is active.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
	TriggerWhen     TriggerKind = "when"
	TriggerOnce     TriggerKind = "once"
)

// ActiveRange gates a ScheduleEntry to a date-time window on the local
// clock, optionally inverted (run outside the window instead of inside).
type ActiveRange struct {
	Start  time.Time
	End    time.Time
	Invert bool
}

// ScheduleEntry is one named, schedulable unit of work: the Go analogue of
// a `schedule:` config stanza, mutable at runtime through manage_schedule
// events.
type ScheduleEntry struct {
	Name         string
	Function     string
	Arg          []string
	Kwarg        map[string]any
	Trigger      TriggerKind
	Seconds      int
	Minutes      int
	Hours        int
	Days         int
	Cron         string
	Once         time.Time
	OnceFmt      string
	When         []string
	RunOnStart   bool
	After        *time.Time
	Until        *time.Time
	Range        *ActiveRange
	SplayStart   time.Duration
	SplayEnd     time.Duration
	MaxRunning   int
	Jobless      bool // carried through to BareJob; no code path reads it
	ReturnSinks  []string
	Metadata     map[string]any
	Enabled      bool
	Persist      bool

	// internal tick state, mutated by the scheduler only
	LastRun   time.Time
	WhenRun   bool
	WhenIndex int
}

// MatcherContext is the atomically-refreshed snapshot the Matcher evaluates
// target expressions against.
type MatcherContext struct {
	AgentID      string
	Addresses    []string
	AttributeTree map[string]any
	ConfigTree    map[string]any
}
