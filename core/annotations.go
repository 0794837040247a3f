package core

import (
	"os"
	"strings"
	"time"
)

// parsePubFields extracts the __pub_-prefixed entries from a command
// envelope's passthrough map, trimming the prefix so they can be merged
// into an invocable's kwargs or a job result's metadata. Keys without the
// prefix are skipped.
func parsePubFields(raw map[string]any) map[string]string {
	result := make(map[string]string)
	for k, v := range raw {
		if !strings.HasPrefix(k, "__pub_") {
			continue
		}
		name := strings.TrimPrefix(k, "__pub_")
		if name == "" {
			continue
		}
		if s, ok := v.(string); ok {
			result[name] = s
		}
	}
	return result
}

// Version is the fleetagent build version, set via ldflags during build.
// Defaults to "dev" if not set.
var Version = "dev"

// defaultResultTags returns the tags fleetagent automatically attaches to a
// JobResult's Metadata. Envelope-provided metadata takes precedence over
// these defaults.
func defaultResultTags(agentID, function string) map[string]string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	version := Version
	if version == "" {
		version = "dev"
	}

	return map[string]string{
		"fleetagent.agent.id":  agentID,
		"fleetagent.function":  function,
		"fleetagent.exec.time": time.Now().UTC().Format(time.RFC3339),
		"fleetagent.host":      hostname,
		"fleetagent.version":   version,
	}
}

// mergeResultTags combines envelope-provided string metadata with the
// default result tags. Envelope values take precedence over defaults.
func mergeResultTags(envelopeMeta map[string]any, defaults map[string]string) map[string]any {
	result := make(map[string]any, len(defaults)+len(envelopeMeta))
	for k, v := range defaults {
		result[k] = v
	}
	for k, v := range envelopeMeta {
		result[k] = v
	}
	return result
}
