package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/netresearch/fleetagent/cli/config"
	"github.com/netresearch/fleetagent/core"
	"github.com/netresearch/fleetagent/core/adapters/registry"
	"github.com/netresearch/fleetagent/core/adapters/tcpchannel"
	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
	"github.com/netresearch/fleetagent/modules"
	"github.com/netresearch/fleetagent/returners"
)

// DaemonCommand runs the agent: it loads a config.LoadedConfig, wires the
// Connection Manager(s), Job Dispatcher, Scheduler, Event Multiplexer, and
// Relay Aggregator together, and blocks until the Supervisor's graceful
// shutdown completes.
type DaemonCommand struct {
	ConfigFile string `long:"config" description:"Path to configuration file" default:"/etc/fleetagent/agent.ini"`
	LogLevel   string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level"`
	Logger     *slog.Logger
	LevelVar   *slog.LevelVar

	supervisor *core.Supervisor
}

func (c *DaemonCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Warn("failed to apply log level, using default", "error", err)
	}

	lc, err := config.Load(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("daemon: load config: %w", err)
	}
	if c.LogLevel == "" {
		if err := ApplyLogLevel(lc.LogLevel, c.LevelVar); err != nil {
			c.Logger.Warn("daemon: failed to apply config log level, using default", "error", err)
		}
	}

	logger := &core.SlogAdapter{Logger: c.Logger}
	bootTime := time.Now()

	reg := registry.New()
	reg.Swap(modules.Builtins(bootTime))

	attrStore := core.NewAttrStore(lc.Agent.ID, nil)
	matcher := core.NewMatcher(logger, nil, nil)

	transportFactory := func(_ int, _, _ int) ports.ControllerTransport {
		ch := tcpchannel.New()
		ch.PSKHash = lc.PSKHash
		return ch
	}

	scheduler := core.NewScheduler(c.Logger)
	if lc.Agent.CacheDir != "" {
		scheduler.SetJobRecordDir(lc.Agent.CacheDir + "/proc")
	}

	supervisor := core.NewSupervisor(lc.Agent, nil, nil, transportFactory, scheduler, nil, logger)
	c.supervisor = supervisor

	conns := supervisor.Connections()
	primary := conns[0]

	dispatcher := core.NewDispatcher(reg, primary, matcher, attrStore.Get, logger, lc.Agent.ID)
	if lc.Agent.CacheDir != "" {
		dispatcher.SetJobRecordDir(lc.Agent.CacheDir + "/proc")
	}
	dispatcher.SetReloadFunc(func() { reg.Swap(modules.Builtins(bootTime)) })
	for _, sink := range buildReturnSinks(lc.Returners) {
		dispatcher.RegisterSink(sink)
	}
	scheduler.SetDispatcher(dispatcher)

	scheduleManager := config.NewScheduleManager(scheduler, logger)
	if err := scheduleManager.Sync(lc.Schedules); err != nil {
		c.Logger.Warn("daemon: initial schedule sync had errors", "error", err)
	}

	eventLoop := core.NewEventLoop(logger, attrStore, scheduler, primary)
	eventLoop.SetReloadFunc(func() { reg.Swap(modules.Builtins(bootTime)) })
	eventLoop.SetPersistFunc(func([]domain.ScheduleEntry) error { return nil })
	supervisor.SetEventLoop(eventLoop)

	for _, cm := range conns {
		cm.SetHooks(
			func() { eventLoop.Emit(core.Event{Tag: "__master_disconnected"}) },
			func() { eventLoop.Emit(core.Event{Tag: "__master_connected"}) },
		)
	}

	var relay *core.Relay
	if lc.Relay.Enabled {
		relay = core.NewRelay(core.RelayMode(lc.Relay.Mode), lc.Relay.ForwardInterval,
			lc.Relay.EventQueueHWM, lc.Agent.ID, primary, nil, logger)
		supervisor.SetRelay(relay)
		dispatcher.RegisterSink(&relaySink{relay: relay})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := supervisor.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start: %w", err)
	}

	for i, cm := range conns {
		envelopes, err := cm.Subscribe(ctx)
		if err != nil {
			c.Logger.Error("daemon: binding failed to subscribe", "index", i, "error", err)
			continue
		}
		go c.pump(ctx, envelopes, eventLoop, dispatcher)
	}

	<-supervisor.Done()
	return nil
}

// pump drains one binding's envelope channel, routing internal-event
// prefixed envelopes (spec.md §4.E) to the EventLoop and everything else
// to the Job Dispatcher.
func (c *DaemonCommand) pump(ctx context.Context, envelopes <-chan domain.CommandEnvelope, el *core.EventLoop, d *core.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			if ev, isEvent := eventFromEnvelope(env); isEvent {
				el.Emit(ev)
				continue
			}
			if err := d.Dispatch(ctx, env); err != nil {
				c.Logger.Error("daemon: dispatch failed", "job_id", env.JobID, "error", err)
			}
		}
	}
}

// internalEventTags is the set of CommandEnvelope.Fun[0] values that name
// an Event Multiplexer control message rather than an ordinary function
// call (spec.md §4.E's prefix table).
var internalEventTags = map[string]bool{
	"module_refresh": true, "pillar_refresh": true, "grains_refresh": true,
	"manage_schedule": true, "manage_beacons": true, "environ_setenv": true,
	"_minion_mine": true, "fire_master": true, "__master_disconnected": true,
	"__master_connected": true, "_salt_error": true, "salt/auth/creds": true,
}

// eventFromEnvelope decodes a CommandEnvelope whose Fun[0] names an
// internal event tag into a core.Event, using Kwarg as the generic payload
// source for the richer verb/entry-shaped events.
func eventFromEnvelope(env domain.CommandEnvelope) (core.Event, bool) {
	if len(env.Fun) == 0 || !internalEventTags[env.Fun[0]] {
		return core.Event{}, false
	}
	tag := env.Fun[0]

	switch tag {
	case "manage_schedule":
		var act core.ScheduleAction
		if err := mapstructure.Decode(env.Kwarg, &act); err != nil {
			return core.Event{Tag: tag, Payload: env.Kwarg}, true
		}
		return core.Event{Tag: tag, Payload: act}, true
	case "manage_beacons":
		var act core.BeaconAction
		if err := mapstructure.Decode(env.Kwarg, &act); err != nil {
			return core.Event{Tag: tag, Payload: env.Kwarg}, true
		}
		return core.Event{Tag: tag, Payload: act}, true
	case "environ_setenv":
		if key, ok := env.Kwarg["key"].(string); ok {
			if val, ok := env.Kwarg["value"].(string); ok {
				return core.Event{Tag: tag, Payload: [2]string{key, val}}, true
			}
		}
		return core.Event{Tag: tag}, true
	case "_minion_mine":
		fun, _ := env.Kwarg["function"].(string)
		return core.Event{Tag: tag, Payload: fun}, true
	case "salt/auth/creds":
		creds := make(map[string]string, len(env.Kwarg))
		for k, v := range env.Kwarg {
			if s, ok := v.(string); ok {
				creds[k] = s
			}
		}
		return core.Event{Tag: tag, Payload: creds}, true
	default:
		return core.Event{Tag: tag, Payload: env.Kwarg}, true
	}
}

// buildReturnSinks constructs one returners.* sink per decoded
// [returner:<name>] section, switching on its Type.
func buildReturnSinks(cfgs []config.ReturnerConfig) []ports.ReturnSink {
	sinks := make([]ports.ReturnSink, 0, len(cfgs))
	for _, rc := range cfgs {
		switch rc.Type {
		case "webhook":
			sinks = append(sinks, returners.NewWebhook(returners.WebhookConfig{
				Name: rc.Name, URL: rc.URL, Timeout: rc.Timeout,
				OnlyOnError: rc.OnlyOnError, RetryCount: rc.RetryCount, RetryDelay: rc.RetryDelay,
			}))
		case "mail":
			sinks = append(sinks, returners.NewMail(returners.MailConfig{
				Name: rc.Name, SMTPHost: rc.SMTPHost, SMTPPort: rc.SMTPPort,
				SMTPUser: rc.SMTPUser, SMTPPassword: rc.SMTPPassword, TLSSkipVerify: rc.TLSSkipVerify,
				EmailTo: rc.EmailTo, EmailFrom: rc.EmailFrom, EmailSubject: rc.EmailSubject,
				OnlyOnError: rc.OnlyOnError,
			}))
		case "slack":
			sinks = append(sinks, returners.NewSlack(returners.SlackConfig{
				Name: rc.Name, WebhookURL: rc.WebhookURL, OnlyOnError: rc.OnlyOnError,
			}))
		case "save":
			sinks = append(sinks, returners.NewSave(returners.SaveConfig{
				Name: rc.Name, Folder: rc.Folder, OnlyOnError: rc.OnlyOnError,
			}))
		}
		if rc.DedupCooldown > 0 && len(sinks) > 0 {
			sinks[len(sinks)-1] = returners.NewDedup(sinks[len(sinks)-1], rc.DedupCooldown)
		}
	}
	return sinks
}

// relaySink adapts a *core.Relay to ports.ReturnSink, so a syndic's own
// dispatcher feeds the same aggregation path a lower-tier agent's returns
// would (spec.md §4.F).
type relaySink struct {
	relay *core.Relay
}

func (r *relaySink) Name() string { return "relay" }
func (r *relaySink) Send(ctx context.Context, result domain.JobResult) error {
	return r.relay.HandleReturn(ctx, result)
}
