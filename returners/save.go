package returners

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
	"github.com/netresearch/fleetagent/core/ports"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SaveConfig configures on-disk JobResult persistence, generalized from
// middlewares/save.go + middlewares/restore.go. Used by crash-recovery and
// the `fleetagent doctor` subcommand to reconstruct recent job history.
type SaveConfig struct {
	Name        string
	Folder      string
	OnlyOnError bool
}

// Save writes one JSON file per JobResult under Config.Folder.
type Save struct {
	Config SaveConfig
}

func NewSave(cfg SaveConfig) *Save {
	return &Save{Config: cfg}
}

func (s *Save) Name() string { return s.Config.Name }

func (s *Save) Send(ctx context.Context, result domain.JobResult) error {
	if s.Config.OnlyOnError && result.Success {
		return nil
	}

	if err := os.MkdirAll(s.Config.Folder, 0o750); err != nil {
		return fmt.Errorf("save %q: mkdir %q: %w", s.Config.Name, s.Config.Folder, err)
	}

	safeFunc := sanitizeName(result.Function)
	path := filepath.Join(s.Config.Folder, fmt.Sprintf("%s_%s_%s.json",
		time.Now().Format("20060102_150405"), sanitizeName(result.JobID), safeFunc))

	js, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("save %q: marshal job result: %w", s.Config.Name, err)
	}

	if err := os.WriteFile(path, js, 0o600); err != nil {
		return fmt.Errorf("save %q: write %q: %w", s.Config.Name, path, err)
	}
	return nil
}

// Restore reads back every saved JobResult newer than maxAge, for startup
// history restoration (middlewares/restore.go's RestoreHistoryEnabled
// behavior, generalized to JobResult).
func (s *Save) Restore(maxAge time.Duration) ([]domain.JobResult, error) {
	entries, err := os.ReadDir(s.Config.Folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("save %q: read %q: %w", s.Config.Name, s.Config.Folder, err)
	}

	cutoff := time.Now().Add(-maxAge)
	var results []domain.JobResult
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil || (maxAge > 0 && info.ModTime().Before(cutoff)) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.Config.Folder, entry.Name()))
		if err != nil {
			continue
		}
		var result domain.JobResult
		if err := json.Unmarshal(data, &result); err != nil {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func sanitizeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return unsafeNameChars.ReplaceAllString(name, "_")
}

var _ ports.ReturnSink = (*Save)(nil)
