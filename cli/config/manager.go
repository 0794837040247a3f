package config

import (
	"fmt"
	"sync"

	"github.com/netresearch/fleetagent/core"
	"github.com/netresearch/fleetagent/core/domain"
)

// ScheduleManager keeps a live *core.Scheduler's installed jobs in sync
// with a source of domain.ScheduleEntry values (an on-disk INI file on
// reload, or the Event Multiplexer's manage_schedule handler), generalized
// from the teacher's UnifiedConfigManager.SyncJobs hash-diff loop.
type ScheduleManager struct {
	scheduler *core.Scheduler
	logger    core.Logger

	mu     sync.RWMutex
	jobs   map[string]*core.BareJob
	hashes map[string]string
}

// NewScheduleManager builds a manager bound to scheduler.
func NewScheduleManager(scheduler *core.Scheduler, logger core.Logger) *ScheduleManager {
	return &ScheduleManager{
		scheduler: scheduler,
		logger:    logger,
		jobs:      make(map[string]*core.BareJob),
		hashes:    make(map[string]string),
	}
}

// Sync installs, updates, and removes jobs so the scheduler's live set
// matches entries exactly. Entries with Enabled=false are installed
// disabled rather than skipped, so a later manage_schedule "enable" finds
// them already registered.
func (m *ScheduleManager) Sync(entries []domain.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Name] = true
		if err := m.upsertLocked(e); err != nil {
			m.logger.Errorf("config: failed to sync schedule %q: %v", e.Name, err)
		}
	}

	for name, job := range m.jobs {
		if seen[name] {
			continue
		}
		if err := m.scheduler.RemoveJob(job); err != nil {
			m.logger.Warningf("config: failed to remove stale schedule %q: %v", name, err)
		}
		delete(m.jobs, name)
		delete(m.hashes, name)
	}

	return nil
}

// Upsert installs or updates a single entry, used by manage_schedule's
// add/modify actions.
func (m *ScheduleManager) Upsert(e domain.ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(e)
}

func (m *ScheduleManager) upsertLocked(e domain.ScheduleEntry) error {
	job := core.BuildBareJob(e)
	hash, err := job.Hash()
	if err != nil {
		return fmt.Errorf("hash schedule %q: %w", e.Name, err)
	}

	if existing, ok := m.jobs[e.Name]; ok {
		if m.hashes[e.Name] == hash {
			return nil
		}
		if err := m.scheduler.RemoveJob(existing); err != nil {
			m.logger.Warningf("config: failed to remove prior version of %q: %v", e.Name, err)
		}
	}

	if err := m.scheduler.AddJob(job); err != nil {
		return fmt.Errorf("add schedule %q: %w", e.Name, err)
	}
	if !e.Enabled {
		if err := m.scheduler.DisableJob(e.Name); err != nil {
			m.logger.Warningf("config: failed to disable %q: %v", e.Name, err)
		}
	}

	m.jobs[e.Name] = job
	m.hashes[e.Name] = hash
	return nil
}

// Remove uninstalls a single entry by name, used by manage_schedule's
// delete action.
func (m *ScheduleManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	if err := m.scheduler.RemoveJob(job); err != nil {
		return err
	}
	delete(m.jobs, name)
	delete(m.hashes, name)
	return nil
}

// Count returns the number of schedules currently installed.
func (m *ScheduleManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
