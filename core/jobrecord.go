package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
)

// jobRecordSuffix is appended to the job id to form the on-disk file name
// under <cachedir>/proc/, mirroring the flat ledger layout the agent uses
// to track in-flight executions across restarts.
const jobRecordSuffix = ".json"

// WriteJobRecord persists rec to dir/<jid>.json. Used by the dispatcher to
// register a job as "live" the moment a worker is spawned, and removed once
// the worker exits.
func WriteJobRecord(dir string, rec domain.JobRecord) error {
	if rec.JobID == "" {
		return errors.New("job record requires a non-empty job id")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create job record dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	path := filepath.Join(dir, rec.JobID+jobRecordSuffix)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// RemoveJobRecord deletes the ledger entry for jid, if present.
func RemoveJobRecord(dir, jid string) error {
	path := filepath.Join(dir, jid+jobRecordSuffix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove job record: %w", err)
	}
	return nil
}

// ReadJobRecords loads every well-formed record under dir. Malformed entries
// are skipped rather than aborting the scan, since a half-written record from
// a crashed worker should not block accounting for the rest of the ledger.
func ReadJobRecords(dir string) ([]domain.JobRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job record dir: %w", err)
	}

	records := make([]domain.JobRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), jobRecordSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec domain.JobRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountLiveJobRecords returns how many ledger entries for scheduleName still
// have a live pid, pruning stale entries (pid not alive and older than
// staleAfter) as it goes. This backs the max_running concurrency cap from
// the schedule entry spec: a new run is refused once this count reaches the
// entry's configured limit.
func CountLiveJobRecords(dir, scheduleName string) (int, error) {
	records, err := ReadJobRecords(dir)
	if err != nil {
		return 0, err
	}

	const staleAfter = 24 * time.Hour
	live := 0
	for _, rec := range records {
		if rec.Schedule != scheduleName {
			continue
		}
		if processAlive(rec.Pid) {
			live++
			continue
		}
		if time.Since(rec.StartedAt) > staleAfter {
			_ = RemoveJobRecord(dir, rec.JobID)
		}
	}
	return live, nil
}

// processAlive reports whether pid identifies a running process. It uses
// signal 0, which performs the permission/existence check without actually
// delivering a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
