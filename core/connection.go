package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// ResolverFunc calls a named external function to obtain a controller
// address, standing in for the resolver-module selection mode's "call a
// named function, use its return as the controller address".
type ResolverFunc func(ctx context.Context, name string) (string, error)

// ConnectionManager maintains one healthy publish subscription to a
// controller and hands completed job results back over the same
// transport. It owns DNS/handshake retry and the failover-list walk; the
// transport itself is opaque (ports.ControllerTransport).
type ConnectionManager struct {
	cfg       domain.AgentConfig
	transport ports.ControllerTransport
	logger    Logger
	clock     Clock
	retry     *RetryExecutor
	resolver  ResolverFunc

	mu      sync.RWMutex
	binding domain.ControllerBinding

	// onDisconnect/onReconnect mirror the __master_disconnected and
	// __master_connected internal events; the Event Multiplexer wires
	// these to its own handling of the liveness probe.
	onDisconnect func()
	onReconnect  func()
}

// NewConnectionManager builds a manager using the real wall clock.
func NewConnectionManager(cfg domain.AgentConfig, transport ports.ControllerTransport, logger Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		clock:     GetDefaultClock(),
		retry:     NewRetryExecutor(logger),
		binding:   domain.ControllerBinding{State: domain.StateDisconnected},
	}
}

// SetClock overrides the wall clock, for deterministic tests.
func (cm *ConnectionManager) SetClock(c Clock) {
	cm.clock = c
	cm.retry = NewRetryExecutorWithClock(cm.logger, c)
}

// SetResolverFunc installs the function used by resolver-module selection.
func (cm *ConnectionManager) SetResolverFunc(fn ResolverFunc) {
	cm.resolver = fn
}

// SetHooks installs the disconnect/reconnect callbacks.
func (cm *ConnectionManager) SetHooks(onDisconnect, onReconnect func()) {
	cm.onDisconnect = onDisconnect
	cm.onReconnect = onReconnect
}

// State returns a snapshot of the current binding.
func (cm *ConnectionManager) State() domain.ControllerBinding {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.binding
}

// IsConnected reports whether the binding is currently connected.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.binding.State == domain.StateConnected
}

// Connect resolves an address per the configured selection mode, dials,
// authenticates, and marks the binding connected. It returns
// ErrNoController if every candidate address is exhausted.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.setState(domain.StateConnecting)

	switch cm.cfg.SelectionMode {
	case domain.SelectionFailover:
		return cm.connectFailover(ctx)
	case domain.SelectionResolverModule:
		return cm.connectSingle(ctx, cm.cfg.ResolverFunc)
	default:
		return cm.connectSingle(ctx, addrOrFirst(cm.cfg.Controllers))
	}
}

func addrOrFirst(controllers []string) string {
	if len(controllers) == 0 {
		return ""
	}
	return controllers[0]
}

// connectSingle resolves one controller (possibly via the resolver
// function) and dials it, falling back to 127.0.0.1 when DNS resolution
// fails and retry_dns is disabled.
func (cm *ConnectionManager) connectSingle(ctx context.Context, target string) error {
	addr, err := cm.resolveAddr(ctx, target)
	if err != nil {
		return WrapNoControllerError([]string{target}, err)
	}
	return cm.dialAndAuth(ctx, addr)
}

// connectFailover walks the controller list (optionally shuffled) and
// attempts each in order until one accepts the subscription. Failover
// replaces DNS retry: retry_dns is forced to zero for this mode.
func (cm *ConnectionManager) connectFailover(ctx context.Context) error {
	candidates := append([]string(nil), cm.cfg.Controllers...)
	if cm.cfg.MasterShuffle {
		shuffle(candidates)
	}

	var lastErr error
	for _, host := range candidates {
		addr := hostPort(host, cm.cfg.PublishPort)
		if err := cm.dialAndAuth(ctx, addr); err == nil {
			return nil
		} else {
			lastErr = err
			cm.logger.Warningf("failover candidate %s unreachable: %v", addr, err)
		}
	}

	cm.setState(domain.StateFailed)
	return WrapNoControllerError(candidates, lastErr)
}

func (cm *ConnectionManager) resolveAddr(ctx context.Context, target string) (string, error) {
	if cm.cfg.SelectionMode == domain.SelectionResolverModule {
		if cm.resolver == nil {
			return "", fmt.Errorf("resolver-module selection configured but no resolver function installed")
		}
		addr, err := cm.resolver(ctx, target)
		if err != nil {
			return "", err
		}
		return addr, nil
	}

	host, port := target, cm.cfg.PublishPort
	if cm.cfg.Retry.RetryDNS <= 0 {
		ips, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			cm.logger.Warningf("DNS resolution for %s failed and retry_dns is disabled, falling back to 127.0.0.1: %v", host, err)
			return hostPort("127.0.0.1", port), nil
		}
		return hostPort(ips[0], port), nil
	}

	var resolved string
	cfg := BackoffConfig{MaxRetries: -1, BaseDelay: cm.cfg.Retry.RetryDNS}
	err := cm.retryIndefinitely(ctx, "dns-resolve", cfg, func(ctx context.Context) error {
		ips, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			if err == nil {
				err = fmt.Errorf("no addresses for %s", host)
			}
			return err
		}
		resolved = ips[0]
		return nil
	})
	if err != nil {
		return "", err
	}
	return hostPort(resolved, port), nil
}

// retryIndefinitely retries op at a fixed cadence until it succeeds or ctx
// is cancelled. RetryExecutor.Do requires a bounded MaxRetries, so an
// unbounded DNS retry loop is driven directly here instead.
func (cm *ConnectionManager) retryIndefinitely(ctx context.Context, name string, cfg BackoffConfig, op func(context.Context) error) error {
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		cm.logger.Warningf("%s failed, retrying in %v: %v", name, cfg.BaseDelay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cm.clock.After(cfg.BaseDelay):
		}
	}
}

func (cm *ConnectionManager) dialAndAuth(ctx context.Context, addr string) error {
	if err := cm.transport.Dial(ctx, addr); err != nil {
		return err
	}

	authCfg := BackoffConfig{
		MaxRetries:  cm.cfg.Retry.AuthTries,
		BaseDelay:   cm.cfg.Retry.AcceptWait,
		MaxDelay:    cm.cfg.Retry.AcceptWaitMax,
		Exponential: true,
	}

	var token string
	err := cm.retry.Do(ctx, "handshake", authCfg, func(ctx context.Context) error {
		t, err := cm.transport.Authenticate(ctx, ports.Credentials{AgentID: cm.cfg.ID})
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.binding = domain.ControllerBinding{
		Address:   addr,
		AuthToken: token,
		State:     domain.StateConnected,
	}
	cm.mu.Unlock()

	return nil
}

// Subscribe opens the envelope stream on the connected transport. Only the
// Dispatcher should drain it; this method forwards verbatim.
func (cm *ConnectionManager) Subscribe(ctx context.Context) (<-chan domain.CommandEnvelope, error) {
	if !cm.IsConnected() {
		return nil, ErrNoController
	}
	return cm.transport.Subscribe(ctx)
}

// SendReturn delivers a job result, retrying per ReturnRetryMin/Max before
// giving up (spec's "return_retry_timer"/"return_retry_timer_max").
func (cm *ConnectionManager) SendReturn(ctx context.Context, result domain.JobResult) error {
	cfg := BackoffConfig{
		MaxRetries:  3,
		BaseDelay:   cm.cfg.ReturnRetryMin,
		MaxDelay:    cm.cfg.ReturnRetryMax,
		Exponential: true,
	}
	if cfg.BaseDelay <= 0 {
		return cm.transport.SendReturn(ctx, result)
	}
	return cm.retry.Do(ctx, "send-return", cfg, func(ctx context.Context) error {
		return cm.transport.SendReturn(ctx, result)
	})
}

// OnMasterDisconnected handles the internal __master_disconnected event:
// marks the binding disconnected and, in failover mode, attempts the next
// controller. On exhaustion the caller (Supervisor) should restart.
func (cm *ConnectionManager) OnMasterDisconnected(ctx context.Context) error {
	cm.setState(domain.StateDisconnected)
	if cm.onDisconnect != nil {
		cm.onDisconnect()
	}

	if cm.cfg.SelectionMode != domain.SelectionFailover {
		return nil
	}

	if err := cm.connectFailover(ctx); err != nil {
		return fmt.Errorf("failover exhausted: %w", err)
	}
	return cm.OnMasterConnected(ctx)
}

// OnMasterConnected handles the internal __master_connected event: marks
// the binding connected and runs the reconnect hook (which re-registers
// the subscription handler and emits minion_start upstream).
func (cm *ConnectionManager) OnMasterConnected(ctx context.Context) error {
	cm.setState(domain.StateConnected)
	if cm.onReconnect != nil {
		cm.onReconnect()
	}
	return nil
}

// Close releases the underlying transport.
func (cm *ConnectionManager) Close() error {
	cm.setState(domain.StateDisconnected)
	return cm.transport.Close()
}

func (cm *ConnectionManager) setState(s domain.ConnectionState) {
	cm.mu.Lock()
	cm.binding.State = s
	cm.mu.Unlock()
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func shuffle(s []string) {
	for i := len(s) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return
		}
		j := int(n.Int64())
		s[i], s[j] = s[j], s[i]
	}
}

// ErrMasterUnreachable is returned by the supervisor when failover is
// exhausted and no controller is reachable after every candidate has
// failed.
var ErrMasterUnreachable = errors.New("no controller reachable after exhausting failover list")
