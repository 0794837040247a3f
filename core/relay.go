package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/netresearch/fleetagent/core/domain"
)

// RelayMode selects how the Relay Aggregator treats events from its
// lower-tier bus (spec.md §4.F).
type RelayMode string

const (
	RelaySync    RelayMode = "sync"
	RelayCluster RelayMode = "cluster"
)

// JobBucket accumulates one job id's returns from the lower tier: the
// original job "load" (fetched once, from the upstream job-cache returner)
// plus one return value per reporting agent.
type JobBucket struct {
	Load    map[string]any
	Returns map[string]any // agent id -> return value
}

// Relay subscribes to a lower-tier event bus (when this agent runs as a
// syndic/relay) and periodically forwards aggregated results upstream
// through the same ConnectionManager used for this agent's own jobs.
type Relay struct {
	mode            RelayMode
	forwardInterval time.Duration
	hwm             int
	ownMasterID     string
	jobCacheFetch   func(ctx context.Context, jobID string) (map[string]any, error)
	conn            *ConnectionManager
	logger          Logger
	limiter         *rate.Limiter

	mu       sync.Mutex
	buckets  map[string]*JobBucket
	order    []string // job ids with a bucket; eviction sorts it
	generic  []domain.JobResult
}

// NewRelay builds a Relay. jobCacheFetch resolves a job id to its original
// load the first time a return for that job arrives; it may be nil if this
// relay never needs to backfill load (every return already carries enough
// context).
func NewRelay(
	mode RelayMode, forwardInterval time.Duration, hwm int, ownMasterID string,
	conn *ConnectionManager, jobCacheFetch func(context.Context, string) (map[string]any, error),
	logger Logger,
) *Relay {
	if hwm <= 0 {
		hwm = 1024
	}
	return &Relay{
		mode:            mode,
		forwardInterval: forwardInterval,
		hwm:             hwm,
		ownMasterID:     ownMasterID,
		jobCacheFetch:   jobCacheFetch,
		conn:            conn,
		logger:          logger,
		limiter:         rate.NewLimiter(rate.Every(forwardInterval), 1),
		buckets:         make(map[string]*JobBucket),
	}
}

// HandleReturn ingests one return (`_return`) or generic event from the
// lower tier. In cluster mode, a return whose MasterID equals our own is
// dropped for loop prevention (spec.md §4.F, testable property P7); sync
// mode forwards everything.
func (r *Relay) HandleReturn(ctx context.Context, result domain.JobResult) error {
	if r.mode == RelayCluster && result.MasterID != "" && result.MasterID == r.ownMasterID {
		r.logger.Debugf("relay: dropping self-originated return for job %s (loop prevention)", result.JobID)
		return nil
	}

	agentID, _ := result.Metadata["fleetagent.agent.id"].(string)
	if agentID == "" {
		agentID = "unknown"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[result.JobID]
	if !ok {
		r.evictIfFullLocked()
		load, err := r.fetchLoad(ctx, result.JobID)
		if err != nil {
			r.logger.Warningf("relay: job-cache fetch failed for %s: %v", result.JobID, err)
		}
		bucket = &JobBucket{Load: load, Returns: make(map[string]any)}
		r.buckets[result.JobID] = bucket
		r.order = append(r.order, result.JobID)
	}
	bucket.Returns[agentID] = result.Return
	return nil
}

func (r *Relay) fetchLoad(ctx context.Context, jobID string) (map[string]any, error) {
	if r.jobCacheFetch == nil {
		return nil, nil
	}
	return r.jobCacheFetch(ctx, jobID)
}

// evictIfFullLocked drops the lexicographically-smallest job id once the
// bucket map is at capacity (hwm). Caller holds r.mu.
func (r *Relay) evictIfFullLocked() {
	if len(r.buckets) < r.hwm {
		return
	}
	sort.Strings(r.order)
	oldest := r.order[0]
	r.order = r.order[1:]
	delete(r.buckets, oldest)
}

// HandleEvent queues a generic (non-return) event for batched forwarding.
// Cluster mode drops generic events entirely (only returns and publishes
// cross the tier boundary in cluster mode).
func (r *Relay) HandleEvent(result domain.JobResult) {
	if r.mode == RelayCluster {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generic = append(r.generic, result)
}

// Run drains the aggregation buckets and the generic event queue every
// forwardInterval, sending one _fire_master per cycle (if any generic
// events are pending) and one _syndic_return per job with accumulated
// returns. Delivery is best effort: SendReturn failures are logged, not
// retried from here, since a reconnect picks up the next cycle's forward.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.forwardInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.forward(ctx)
		}
	}
}

func (r *Relay) forward(ctx context.Context) {
	r.mu.Lock()
	buckets := r.buckets
	order := r.order
	generic := r.generic
	r.buckets = make(map[string]*JobBucket)
	r.order = nil
	r.generic = nil
	r.mu.Unlock()

	if len(generic) > 0 {
		if err := r.limiter.Wait(ctx); err == nil {
			if err := r.conn.SendReturn(ctx, domain.JobResult{
				JobID:    "fire_master",
				Return:   generic,
				Success:  true,
				Metadata: map[string]any{"event": "_fire_master"},
			}); err != nil {
				r.logger.Warningf("relay: _fire_master forward failed: %v", err)
			}
		}
	}

	for _, jobID := range order {
		bucket := buckets[jobID]
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		result := domain.JobResult{
			JobID:   jobID,
			Return:  map[string]any{"load": bucket.Load, "return": bucket.Returns},
			Success: true,
			Metadata: map[string]any{
				"event": "_syndic_return",
			},
		}
		if err := r.conn.SendReturn(ctx, result); err != nil {
			r.logger.Warningf("relay: _syndic_return forward failed for job %s: %v", jobID, err)
		}
	}
}

// PendingJobs reports how many job ids are currently aggregating returns,
// for tests and diagnostics.
func (r *Relay) PendingJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

var errRelayModeInvalid = fmt.Errorf("relay: mode must be %q or %q", RelaySync, RelayCluster)

// ValidateMode rejects any configured syndic_mode outside sync/cluster.
func ValidateMode(m RelayMode) error {
	if m != RelaySync && m != RelayCluster {
		return errRelayModeInvalid
	}
	return nil
}
