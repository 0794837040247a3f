// Package tcpchannel is a concrete ports.ControllerTransport: length-prefixed
// JSON frames over a plain TCP socket. It stands in for the encrypted
// publish/request channel the agent treats as opaque elsewhere — real
// deployments would swap this adapter for one speaking the controller's
// actual wire protocol.
package tcpchannel

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

const maxFrameSize = 16 << 20 // 16MiB, generous for a job result payload

// frameKind tags a wire frame so one TCP stream can carry both envelopes
// (controller -> agent) and returns (agent -> controller).
type frameKind uint8

const (
	frameEnvelope frameKind = iota
	frameReturn
	frameAuth
	frameAuthAck
)

type frame struct {
	Kind  frameKind       `json:"kind"`
	Token string          `json:"token,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Channel is a length-prefixed JSON-frame transport over net.TCPConn.
type Channel struct {
	mu    sync.Mutex
	conn  net.Conn
	w     *bufio.Writer
	token string

	// PSKHash is the bcrypt hash the Authenticate handshake compares the
	// caller's pre-shared key against. Set before Dial.
	PSKHash string
}

// New creates an unconnected Channel. Dial must be called before use.
func New() *Channel {
	return &Channel{}
}

func (c *Channel) Dial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcpchannel: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.w = bufio.NewWriter(conn)
	c.mu.Unlock()

	return nil
}

func (c *Channel) Authenticate(ctx context.Context, creds ports.Credentials) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(c.PSKHash), []byte(creds.PSKHash)); err != nil {
		return "", fmt.Errorf("tcpchannel: handshake rejected for %s: %w", creds.AgentID, err)
	}

	body, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("tcpchannel: marshal credentials: %w", err)
	}
	if err := c.writeFrame(frame{Kind: frameAuth, Body: body}); err != nil {
		return "", err
	}

	ack, err := c.readFrame()
	if err != nil {
		return "", fmt.Errorf("tcpchannel: awaiting auth ack: %w", err)
	}
	if ack.Kind != frameAuthAck {
		return "", fmt.Errorf("tcpchannel: unexpected frame kind %d during handshake", ack.Kind)
	}

	c.mu.Lock()
	c.token = ack.Token
	c.mu.Unlock()

	return ack.Token, nil
}

func (c *Channel) Subscribe(ctx context.Context) (<-chan domain.CommandEnvelope, error) {
	out := make(chan domain.CommandEnvelope)

	go func() {
		defer close(out)
		for {
			fr, err := c.readFrame()
			if err != nil {
				return
			}
			if fr.Kind != frameEnvelope {
				continue
			}

			var env domain.CommandEnvelope
			if err := json.Unmarshal(fr.Body, &env); err != nil {
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *Channel) SendReturn(ctx context.Context, result domain.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("tcpchannel: marshal job result: %w", err)
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	return c.writeFrame(frame{Kind: frameReturn, Token: token, Body: body})
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Channel) writeFrame(fr frame) error {
	payload, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("tcpchannel: marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("tcpchannel: frame of %d bytes exceeds %d byte limit", len(payload), maxFrameSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.w == nil {
		return fmt.Errorf("tcpchannel: write before dial")
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("tcpchannel: write frame length: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("tcpchannel: write frame body: %w", err)
	}
	return c.w.Flush()
}

func (c *Channel) readFrame() (frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return frame{}, fmt.Errorf("tcpchannel: read before dial")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return frame{}, fmt.Errorf("tcpchannel: incoming frame of %d bytes exceeds %d byte limit", n, maxFrameSize)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return frame{}, err
	}

	var fr frame
	if err := json.Unmarshal(buf, &fr); err != nil {
		return frame{}, fmt.Errorf("tcpchannel: unmarshal frame: %w", err)
	}
	return fr, nil
}

var _ ports.ControllerTransport = (*Channel)(nil)
