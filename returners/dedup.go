package returners

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

// Dedup wraps another ports.ReturnSink and suppresses repeated identical
// failures within a cooldown window, generalized from
// middlewares/dedup.go's NotificationDedup. It applies only to sink
// delivery for flapping scheduled jobs — it never affects execution: a
// command is still executed at most once per envelope regardless of
// whether its result gets deduplicated away here.
type Dedup struct {
	name     string
	sink     ports.ReturnSink
	cooldown time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewDedup wraps sink with a cooldown-bounded suppression window. A
// cooldown of 0 disables deduplication entirely.
func NewDedup(sink ports.ReturnSink, cooldown time.Duration) *Dedup {
	return &Dedup{
		name:     sink.Name(),
		sink:     sink,
		cooldown: cooldown,
		entries:  make(map[string]time.Time),
	}
}

func (d *Dedup) Name() string { return d.name }

func (d *Dedup) Send(ctx context.Context, result domain.JobResult) error {
	if d.cooldown == 0 || result.Success || d.shouldNotify(result) {
		return d.sink.Send(ctx, result)
	}
	return nil
}

func (d *Dedup) shouldNotify(result domain.JobResult) bool {
	key := d.key(result)

	d.mu.Lock()
	defer d.mu.Unlock()

	last, exists := d.entries[key]
	now := time.Now()
	if !exists || now.Sub(last) >= d.cooldown {
		d.entries[key] = now
		return true
	}
	return false
}

func (d *Dedup) key(result domain.JobResult) string {
	h := sha256.New()
	h.Write([]byte(result.Function))
	h.Write([]byte(result.ErrTraceback))
	return hex.EncodeToString(h.Sum(nil))
}

// Cleanup removes expired cooldown entries, preventing unbounded growth
// for functions that stop failing.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, last := range d.entries {
		if now.Sub(last) >= d.cooldown {
			delete(d.entries, key)
		}
	}
}

var _ ports.ReturnSink = (*Dedup)(nil)
