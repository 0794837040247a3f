package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
)

// Event is one prefix-tagged internal control message, produced by helpers
// (the dispatcher, the connection manager) or by a scheduled job's command,
// and consumed single-threaded by the EventLoop (spec.md §4.E).
type Event struct {
	Tag     string
	Payload any
}

// EventHandler processes one Event. Every handler runs on the EventLoop's
// single goroutine except where documented otherwise (pillar_refresh may
// suspend on configuration-tree I/O; that suspension blocks the loop by
// design, matching the cooperative single-threaded model).
type EventHandler func(ctx context.Context, ev Event) error

// ScheduleAction is the manage_schedule event payload: one CRUD/lifecycle
// verb against a named schedule entry.
type ScheduleAction struct {
	Verb  string // add, modify, delete, enable, disable, run, reload, list, save
	Name  string
	Entry *domain.ScheduleEntry
}

// BeaconAction is the manage_beacons event payload, mirroring ScheduleAction
// for the lighter-weight sensor-config registry.
type BeaconAction struct {
	Verb   string // add, modify, delete, enable, disable
	Name   string
	Config *BeaconConfig
}

// BeaconConfig is one configured sensor: a named interval at which the
// agent should evaluate some local condition and fire an event if it
// fires. The evaluation itself is beyond this package's scope (no sensor
// implementations ship here); EventLoop only owns the config registry and
// the enable/disable bookkeeping manage_beacons events mutate.
type BeaconConfig struct {
	Name     string
	Interval time.Duration
	Enabled  bool
}

// EventLoop is the single-threaded cooperative dispatcher for internal
// control events (spec.md §4.E). It owns no network connections itself;
// the Supervisor feeds it events from the connection manager(s) and the
// scheduler, and wires its module_refresh/pillar_refresh callbacks.
type EventLoop struct {
	logger Logger
	store  *AttrStore

	reload     func()
	pillarFn   func(ctx context.Context) (map[string]any, error)
	grainsFn   func(ctx context.Context) (map[string]any, error)
	persistFn  func([]domain.ScheduleEntry) error
	setenvFn   func(key, value string) error
	authCache  map[string]string
	authMu     sync.Mutex
	scheduler  *Scheduler
	conn       *ConnectionManager

	beacons   map[string]*BeaconConfig
	beaconsMu sync.Mutex

	handlers map[string]EventHandler
	inbox    chan Event
}

// NewEventLoop builds an EventLoop with its fixed prefix handlers
// pre-registered. Callers wire optional hooks (SetReloadFunc,
// SetPillarFetch, ...) before calling Run.
func NewEventLoop(logger Logger, store *AttrStore, scheduler *Scheduler, conn *ConnectionManager) *EventLoop {
	el := &EventLoop{
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		conn:      conn,
		authCache: make(map[string]string),
		beacons:   make(map[string]*BeaconConfig),
		handlers:  make(map[string]EventHandler),
		inbox:     make(chan Event, 256),
	}

	el.handlers["module_refresh"] = el.handleModuleRefresh
	el.handlers["pillar_refresh"] = el.handlePillarRefresh
	el.handlers["grains_refresh"] = el.handleGrainsRefresh
	el.handlers["manage_schedule"] = el.handleManageSchedule
	el.handlers["manage_beacons"] = el.handleManageBeacons
	el.handlers["environ_setenv"] = el.handleEnvironSetenv
	el.handlers["_minion_mine"] = el.handleMinionMine
	el.handlers["fire_master"] = el.handleFireMaster
	el.handlers["__master_disconnected"] = el.handleMasterDisconnected
	el.handlers["__master_connected"] = el.handleMasterConnected
	el.handlers["_salt_error"] = el.handleSaltError
	el.handlers["salt/auth/creds"] = el.handleAuthCreds

	return el
}

// SetReloadFunc installs the callback that rebuilds the function table
// (module_refresh) before swapping it into the registry.
func (el *EventLoop) SetReloadFunc(fn func()) { el.reload = fn }

// SetPillarFetch installs the callback that recompiles the configuration
// tree (pillar_refresh). May block on I/O.
func (el *EventLoop) SetPillarFetch(fn func(context.Context) (map[string]any, error)) {
	el.pillarFn = fn
}

// SetGrainsFetch installs the callback that recomputes the attribute tree
// (grains_refresh).
func (el *EventLoop) SetGrainsFetch(fn func(context.Context) (map[string]any, error)) {
	el.grainsFn = fn
}

// SetPersistFunc installs the callback manage_schedule's "save" action uses
// to write the schedule fragment to disk.
func (el *EventLoop) SetPersistFunc(fn func([]domain.ScheduleEntry) error) {
	el.persistFn = fn
}

// SetEnvironFunc installs the callback environ_setenv uses to mutate the
// process environment (os.Setenv by default if never set).
func (el *EventLoop) SetEnvironFunc(fn func(key, value string) error) {
	el.setenvFn = fn
}

// RegisterHandler adds or overrides a prefix handler. Exists mainly so
// tests can stub individual prefixes without rebuilding the whole loop.
func (el *EventLoop) RegisterHandler(prefix string, fn EventHandler) {
	el.handlers[prefix] = fn
}

// Emit enqueues an event for the loop to process. Non-blocking: an event
// dropped because the inbox is full is logged and discarded, matching the
// "best effort" delivery semantics the rest of the agent uses internally.
func (el *EventLoop) Emit(ev Event) {
	select {
	case el.inbox <- ev:
	default:
		el.logger.Warningf("event loop inbox full, dropping event %q", ev.Tag)
	}
}

// Run drains the inbox until ctx is cancelled, dispatching one event at a
// time on the calling goroutine (the single-threaded cooperative model
// spec.md §5 describes).
func (el *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-el.inbox:
			if err := el.Dispatch(ctx, ev); err != nil {
				el.logger.Errorf("event %q: %v", ev.Tag, err)
			}
		}
	}
}

// Dispatch routes ev to its registered prefix handler. An unrecognized
// prefix is logged and dropped, never returned as an error: a malformed or
// future-version event must not be able to stall the loop.
func (el *EventLoop) Dispatch(ctx context.Context, ev Event) error {
	h, ok := el.handlers[ev.Tag]
	if !ok {
		el.logger.Debugf("event loop: no handler for %q, dropping", ev.Tag)
		return nil
	}
	return h(ctx, ev)
}

func (el *EventLoop) handleModuleRefresh(_ context.Context, _ Event) error {
	if el.reload == nil {
		return nil
	}
	el.reload()
	return nil
}

func (el *EventLoop) handlePillarRefresh(ctx context.Context, _ Event) error {
	if el.pillarFn == nil {
		return nil
	}
	tree, err := el.pillarFn(ctx)
	if err != nil {
		return fmt.Errorf("pillar refresh: %w", err)
	}
	el.store.SetConfigTree(tree)
	if el.reload != nil {
		el.reload()
	}
	return nil
}

func (el *EventLoop) handleGrainsRefresh(ctx context.Context, ev Event) error {
	if el.grainsFn == nil {
		return nil
	}
	tree, err := el.grainsFn(ctx)
	if err != nil {
		return fmt.Errorf("grains refresh: %w", err)
	}
	if reflect.DeepEqual(tree, el.store.AttributeTree()) {
		return nil
	}
	el.store.SetAttributeTree(tree)
	return el.handlePillarRefresh(ctx, ev)
}

func (el *EventLoop) handleManageSchedule(_ context.Context, ev Event) error {
	act, ok := ev.Payload.(ScheduleAction)
	if !ok {
		return fmt.Errorf("manage_schedule: payload is %T, want ScheduleAction", ev.Payload)
	}
	if el.scheduler == nil {
		return fmt.Errorf("manage_schedule: no scheduler wired")
	}

	switch act.Verb {
	case "add", "modify", "reload":
		if act.Entry == nil {
			return fmt.Errorf("manage_schedule %s: nil entry", act.Verb)
		}
		job := BuildBareJob(*act.Entry)
		if existing := el.scheduler.GetJob(job.Name); existing != nil {
			return el.scheduler.UpdateJob(job.Name, job.Schedule, job)
		}
		return el.scheduler.AddJob(job)
	case "delete":
		if j := el.scheduler.GetJob(act.Name); j != nil {
			return el.scheduler.RemoveJob(j)
		}
		return nil
	case "enable":
		return el.scheduler.EnableJob(act.Name)
	case "disable":
		return el.scheduler.DisableJob(act.Name)
	case "run":
		return el.scheduler.RunJob(context.Background(), act.Name)
	case "save":
		if el.persistFn == nil {
			return nil
		}
		return el.persistFn(el.entriesFromJobs())
	case "list":
		return nil // caller inspects el.entriesFromJobs() directly
	default:
		return fmt.Errorf("manage_schedule: unknown verb %q", act.Verb)
	}
}

// entriesFromJobs reconstitutes ScheduleEntry values from the scheduler's
// live BareJobs, the shape manage_schedule's "save"/"list" actions expose.
func (el *EventLoop) entriesFromJobs() []domain.ScheduleEntry {
	var entries []domain.ScheduleEntry
	for _, j := range el.scheduler.Jobs {
		bare, ok := j.(*BareJob)
		if !ok {
			continue
		}
		entries = append(entries, domain.ScheduleEntry{
			Name:        bare.Name,
			Trigger:     bare.Trigger,
			Once:        bare.Once,
			OnceFmt:     bare.OnceFmt,
			When:        bare.When,
			RunOnStart:  bare.RunOnStart,
			After:       bare.After,
			Until:       bare.Until,
			Range:       bare.Range,
			SplayStart:  bare.SplayStart,
			SplayEnd:    bare.SplayEnd,
			MaxRunning:  bare.MaxRunning,
			Jobless:     bare.Jobless,
			Persist:     bare.Persist,
			ReturnSinks: bare.ReturnSinks,
			Metadata:    bare.Metadata,
			Enabled:     true,
		})
	}
	return entries
}

func (el *EventLoop) handleManageBeacons(_ context.Context, ev Event) error {
	act, ok := ev.Payload.(BeaconAction)
	if !ok {
		return fmt.Errorf("manage_beacons: payload is %T, want BeaconAction", ev.Payload)
	}

	el.beaconsMu.Lock()
	defer el.beaconsMu.Unlock()

	switch act.Verb {
	case "add", "modify":
		if act.Config == nil {
			return fmt.Errorf("manage_beacons %s: nil config", act.Verb)
		}
		el.beacons[act.Name] = act.Config
	case "delete":
		delete(el.beacons, act.Name)
	case "enable":
		if b, ok := el.beacons[act.Name]; ok {
			b.Enabled = true
		}
	case "disable":
		if b, ok := el.beacons[act.Name]; ok {
			b.Enabled = false
		}
	default:
		return fmt.Errorf("manage_beacons: unknown verb %q", act.Verb)
	}
	return nil
}

func (el *EventLoop) handleEnvironSetenv(_ context.Context, ev Event) error {
	kv, ok := ev.Payload.([2]string)
	if !ok {
		return fmt.Errorf("environ_setenv: payload is %T, want [2]string{key, value}", ev.Payload)
	}
	if el.setenvFn == nil {
		return nil
	}
	return el.setenvFn(kv[0], kv[1])
}

func (el *EventLoop) handleMinionMine(ctx context.Context, ev Event) error {
	if el.conn == nil {
		return nil
	}
	name, _ := ev.Payload.(string)
	return el.conn.SendReturn(ctx, domain.JobResult{
		JobID:    "_minion_mine",
		Function: name,
		Success:  true,
		Metadata: map[string]any{"event": "_minion_mine"},
	})
}

func (el *EventLoop) handleFireMaster(ctx context.Context, ev Event) error {
	if el.conn == nil {
		return nil
	}
	return el.conn.SendReturn(ctx, domain.JobResult{
		JobID:    "fire_master",
		Return:   ev.Payload,
		Success:  true,
		Metadata: map[string]any{"event": "fire_master"},
	})
}

func (el *EventLoop) handleMasterDisconnected(ctx context.Context, _ Event) error {
	if el.conn == nil {
		return nil
	}
	return el.conn.OnMasterDisconnected(ctx)
}

func (el *EventLoop) handleMasterConnected(ctx context.Context, _ Event) error {
	if el.conn == nil {
		return nil
	}
	return el.conn.OnMasterConnected(ctx)
}

func (el *EventLoop) handleSaltError(ctx context.Context, ev Event) error {
	if el.conn == nil {
		return nil
	}
	msg, _ := ev.Payload.(string)
	return el.conn.SendReturn(ctx, domain.JobResult{
		JobID:        "_salt_error",
		Success:      false,
		ErrTraceback: msg,
		Metadata:     map[string]any{"event": "_salt_error"},
	})
}

func (el *EventLoop) handleAuthCreds(_ context.Context, ev Event) error {
	kv, ok := ev.Payload.(map[string]string)
	if !ok {
		return fmt.Errorf("salt/auth/creds: payload is %T, want map[string]string", ev.Payload)
	}
	el.authMu.Lock()
	defer el.authMu.Unlock()
	for k, v := range kv {
		el.authCache[k] = v
	}
	return nil
}

// AuthCreds returns a copy of the shared authentication-credential cache.
func (el *EventLoop) AuthCreds() map[string]string {
	el.authMu.Lock()
	defer el.authMu.Unlock()
	cp := make(map[string]string, len(el.authCache))
	for k, v := range el.authCache {
		cp[k] = v
	}
	return cp
}
