// Package mock provides an in-memory fake of ports.ControllerTransport for
// deterministic Connection Manager and Job Dispatcher tests.
package mock

import (
	"context"
	"sync"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// Transport is a mock ports.ControllerTransport. Tests drive it by pushing
// envelopes onto Inbox and reading completed results off Returns; Dial and
// Authenticate behavior is overridable via the On* callbacks.
type Transport struct {
	mu sync.RWMutex

	OnDial         func(ctx context.Context, addr string) error
	OnAuthenticate func(ctx context.Context, creds ports.Credentials) (string, error)

	dialed  bool
	dialAddr string
	closed  bool
	token   string

	inbox   chan domain.CommandEnvelope
	returns []domain.JobResult

	DialCalls       []string
	AuthenticateCalls []ports.Credentials
	SendReturnCalls []domain.JobResult
}

// NewTransport creates a mock Transport with a buffered inbox.
func NewTransport() *Transport {
	return &Transport{
		inbox: make(chan domain.CommandEnvelope, 64),
	}
}

// Push enqueues an envelope for the next Subscribe consumer to receive.
func (t *Transport) Push(env domain.CommandEnvelope) {
	t.inbox <- env
}

// Returns reports every JobResult handed to SendReturn so far.
func (t *Transport) Returns() []domain.JobResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.JobResult, len(t.returns))
	copy(out, t.returns)
	return out
}

func (t *Transport) Dial(ctx context.Context, addr string) error {
	t.mu.Lock()
	t.DialCalls = append(t.DialCalls, addr)
	t.dialed = true
	t.dialAddr = addr
	t.mu.Unlock()

	if t.OnDial != nil {
		return t.OnDial(ctx, addr)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context) (<-chan domain.CommandEnvelope, error) {
	out := make(chan domain.CommandEnvelope)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-t.inbox:
				if !ok {
					return
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (t *Transport) SendReturn(ctx context.Context, result domain.JobResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.returns = append(t.returns, result)
	t.SendReturnCalls = append(t.SendReturnCalls, result)
	return nil
}

func (t *Transport) Authenticate(ctx context.Context, creds ports.Credentials) (string, error) {
	t.mu.Lock()
	t.AuthenticateCalls = append(t.AuthenticateCalls, creds)
	t.mu.Unlock()

	if t.OnAuthenticate != nil {
		return t.OnAuthenticate(ctx, creds)
	}
	t.mu.Lock()
	t.token = "mock-token"
	t.mu.Unlock()
	return "mock-token", nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// IsDialed reports whether Dial has been called at least once, whether or
// not OnDial returned an error.
func (t *Transport) IsDialed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dialed
}

var _ ports.ControllerTransport = (*Transport)(nil)
