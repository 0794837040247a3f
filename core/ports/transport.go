// Package ports holds the narrow, per-concern interfaces the core package
// depends on but does not implement itself — wire transport and the
// function registry. Concrete implementations live under core/adapters.
package ports

import (
	"context"

	"github.com/netresearch/fleetagent/core/domain"
)

// ControllerTransport is the minimal surface the Connection Manager needs
// from a wire transport. The on-the-wire framing, encryption, and
// authentication scheme are left to the adapter; the Connection Manager only
// ever sees Dial/Subscribe/SendReturn/Authenticate/Close.
type ControllerTransport interface {
	// Dial opens the publish-subscribe connection to addr. Implementations
	// should not retry internally; the Connection Manager owns backoff.
	Dial(ctx context.Context, addr string) error

	// Subscribe returns a channel of decoded envelopes. It is closed when
	// ctx is cancelled or the underlying connection drops.
	Subscribe(ctx context.Context) (<-chan domain.CommandEnvelope, error)

	// SendReturn delivers a completed job result back to the controller.
	SendReturn(ctx context.Context, result domain.JobResult) error

	// Authenticate performs the pre-shared-key handshake and returns an
	// opaque token to be reattached to every outbound envelope.
	Authenticate(ctx context.Context, creds Credentials) (token string, err error)

	// Close releases any resources held by the transport. Idempotent.
	Close() error
}

// Credentials carries whatever the handshake needs to prove identity to a
// controller. AgentID and PSKHash are the only fields the tcpchannel
// adapter reads; other adapters may ignore them.
type Credentials struct {
	AgentID string
	PSKHash string
}
