package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// TransportFactory builds one controller transport for binding index i
// (0 for single-controller mode). Supplied by the caller so core stays
// decoupled from any concrete adapter (core/adapters/tcpchannel, etc.).
type TransportFactory func(i int, publishPort, pullPort int) ports.ControllerTransport

// Supervisor owns the event loop, the OS signal handling, and one
// ConnectionManager per upstream controller binding (spec.md §4.G).
// Multi-controller mode requires either explicit per-binding port lists
// or derives them from a base port, since every binding would otherwise
// collide on the same listen address.
type Supervisor struct {
	cfg       domain.AgentConfig
	conns     []*ConnectionManager
	eventLoop *EventLoop
	scheduler *Scheduler
	relay     *Relay
	shutdown  *ShutdownManager
	logger    Logger

	running int32
}

// NewSupervisor builds the N connection managers this config calls for and
// wires them to a fresh EventLoop. basePublishPort/basePullPort seed the
// `base_port + 2*index` derivation when explicitPublishPorts/
// explicitPullPorts are shorter than len(cfg.Controllers).
func NewSupervisor(
	cfg domain.AgentConfig,
	explicitPublishPorts, explicitPullPorts []int,
	transport TransportFactory,
	scheduler *Scheduler,
	eventLoop *EventLoop,
	logger Logger,
) *Supervisor {
	n := len(cfg.Controllers)
	if n == 0 {
		n = 1
	}

	conns := make([]*ConnectionManager, 0, n)
	for i := 0; i < n; i++ {
		pub := derivePort(cfg.PublishPort, i, explicitPublishPorts)
		pull := derivePort(cfg.PullPort, i, explicitPullPorts)

		bindingCfg := cfg
		if i < len(cfg.Controllers) {
			bindingCfg.Controllers = []string{cfg.Controllers[i]}
		}
		bindingCfg.PublishPort = pub
		bindingCfg.PullPort = pull

		cm := NewConnectionManager(bindingCfg, transport(i, pub, pull), logger)
		conns = append(conns, cm)
	}

	return &Supervisor{
		cfg:       cfg,
		conns:     conns,
		eventLoop: eventLoop,
		scheduler: scheduler,
		logger:    logger,
		shutdown:  NewShutdownManager(logger, DefaultStopTimeout),
	}
}

// derivePort returns explicit[i] when present, otherwise base + 2*i: each
// binding needs a publish and a pull port, so consecutive even offsets
// keep same-index bindings' two ports from colliding with the next
// binding's pair.
func derivePort(base, i int, explicit []int) int {
	if i < len(explicit) {
		return explicit[i]
	}
	return base + 2*i
}

// SetRelay installs the relay this supervisor runs alongside the event
// loop, when the agent is configured as a syndic.
func (s *Supervisor) SetRelay(r *Relay) { s.relay = r }

// SetEventLoop installs the event loop Start runs, for callers that must
// build the EventLoop after the bindings it needs a *ConnectionManager
// from (NewEventLoop takes one of the managers NewSupervisor itself
// constructs, so the two can't be built in one pass). Has no effect once
// Start has already launched the loop.
func (s *Supervisor) SetEventLoop(el *EventLoop) { s.eventLoop = el }

// Connections returns the managed bindings, in configuration order.
func (s *Supervisor) Connections() []*ConnectionManager { return s.conns }

// Start connects every binding, starts the scheduler, and begins running
// the event loop and (if configured) the relay. It installs a SIGTERM/
// SIGINT/SIGQUIT handler that flips the running flag and begins graceful
// shutdown; it returns once every binding has attempted its initial
// connect (failures are logged, not fatal — a binding keeps retrying via
// its own reconnect hooks).
func (s *Supervisor) Start(ctx context.Context) error {
	atomic.StoreInt32(&s.running, 1)

	s.shutdown.RegisterHook(ShutdownHook{
		Name:     "connections",
		Priority: 20,
		Hook:     s.closeConnections,
	})
	s.shutdown.ListenForShutdown()

	go func() {
		<-s.shutdown.ShutdownChan()
		atomic.StoreInt32(&s.running, 0)
	}()

	for i, cm := range s.conns {
		if err := cm.Connect(ctx); err != nil {
			s.logger.Warningf("supervisor: binding %d failed initial connect: %v", i, err)
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return fmt.Errorf("supervisor: scheduler start: %w", err)
		}
	}

	if s.eventLoop != nil {
		go func() {
			if err := s.eventLoop.Run(ctx); err != nil {
				s.logger.Errorf("supervisor: event loop exited: %v", err)
			}
		}()
	}

	if s.relay != nil {
		go func() {
			if err := s.relay.Run(ctx); err != nil {
				s.logger.Errorf("supervisor: relay exited: %v", err)
			}
		}()
	}

	go s.pingLoop(ctx, s.cfg.PingInterval)

	return nil
}

// IsRunning reports whether SIGTERM/SIGINT/SIGQUIT has flipped the running
// flag off.
func (s *Supervisor) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Done returns the shutdown manager's completion channel, closed once
// graceful shutdown starts.
func (s *Supervisor) Done() <-chan struct{} {
	return s.shutdown.ShutdownChan()
}

func (s *Supervisor) closeConnections(_ context.Context) error {
	var lastErr error
	for i, cm := range s.conns {
		if err := cm.Close(); err != nil {
			s.logger.Warningf("supervisor: binding %d close failed: %v", i, err)
			lastErr = err
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.StopWithTimeout(DefaultStopTimeout); err != nil {
			s.logger.Warningf("supervisor: scheduler stop: %v", err)
			lastErr = err
		}
	}
	return lastErr
}

// WithMemoryGuard raises RLIMIT_AS by cfg.MaxMemoryBytes for the duration
// of fn (spec.md §5 "Memory pressure": registry loads run under a raised
// address-space ceiling, restored afterward), then restores the prior
// limit. A non-positive MaxMemoryBytes, or a platform where Getrlimit
// fails, runs fn unguarded.
func (s *Supervisor) WithMemoryGuard(fn func() error) error {
	if s.cfg.MaxMemoryBytes <= 0 {
		return fn()
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &rlim); err != nil {
		s.logger.Warningf("supervisor: RLIMIT_AS unavailable, running unguarded: %v", err)
		return fn()
	}

	raised := rlim
	if raised.Cur != unix.RLIM_INFINITY {
		raised.Cur += uint64(s.cfg.MaxMemoryBytes)
	}
	if raised.Max != unix.RLIM_INFINITY && raised.Cur > raised.Max {
		raised.Cur = raised.Max
	}

	if err := unix.Setrlimit(unix.RLIMIT_AS, &raised); err != nil {
		s.logger.Warningf("supervisor: failed to raise RLIMIT_AS, running unguarded: %v", err)
		return fn()
	}
	defer func() {
		if err := unix.Setrlimit(unix.RLIMIT_AS, &rlim); err != nil {
			s.logger.Warningf("supervisor: failed to restore RLIMIT_AS: %v", err)
		}
	}()

	return fn()
}

// pingLoop periodically checks every binding's connection state and logs a
// warning for each binding that is not connected. It sends no probe to the
// controller, and no __master_alive job is scheduled anywhere in the agent.
func (s *Supervisor) pingLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, cm := range s.conns {
				if !cm.IsConnected() {
					s.logger.Warningf("supervisor: binding %d not connected at ping interval", i)
				}
			}
		}
	}
}
