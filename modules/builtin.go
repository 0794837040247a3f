// Package modules supplies the handful of built-in functions every agent
// registers before its first sys.reload_modules: enough for
// core.Dispatcher/core.Scheduler to have something real to invoke end to
// end (spec.md treats the module loader itself as opaque, §1 "out of
// scope", but the registry it feeds needs concrete entries to exercise).
package modules

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/netresearch/fleetagent/core/adapters/registry"
	"github.com/netresearch/fleetagent/core/ports"
)

// Builtins returns the default function table: test.ping/test.sleep for
// liveness and dispatcher smoke-testing, test.echo, grains.items for the
// attribute tree, and status.uptime for the kind of health data
// manage_schedule's callers expect back.
func Builtins(bootTime time.Time) map[string]ports.Invocable {
	return map[string]ports.Invocable{
		"test.ping":    registry.Func{Fn: testPing},
		"test.sleep":   registry.Func{Fn: testSleep},
		"test.echo":    registry.Func{Fn: testEcho, Kwargs: true},
		"grains.items": registry.Func{Fn: grainsItems(bootTime)},
		"status.uptime": registry.Func{Fn: func([]string, map[string]any) (any, error) {
			return time.Since(bootTime).String(), nil
		}},
	}
}

func testPing([]string, map[string]any) (any, error) {
	return true, nil
}

func testSleep(args []string, _ map[string]any) (any, error) {
	d := time.Second
	if len(args) > 0 {
		if secs, err := strconv.ParseFloat(args[0], 64); err == nil {
			d = time.Duration(secs * float64(time.Second))
		}
	}
	time.Sleep(d)
	return true, nil
}

func testEcho(args []string, kwargs map[string]any) (any, error) {
	parts := make([]string, 0, len(args)+len(kwargs))
	parts = append(parts, args...)
	for k, v := range kwargs {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " "), nil
}

func grainsItems(bootTime time.Time) func([]string, map[string]any) (any, error) {
	return func([]string, map[string]any) (any, error) {
		hostname, _ := os.Hostname()
		return map[string]any{
			"kernel":    runtime.GOOS,
			"cpuarch":   runtime.GOARCH,
			"num_cpus":  runtime.NumCPU(),
			"fqdn":      hostname,
			"localhost": hostname,
			"boot_time": bootTime.Unix(),
		}, nil
	}
}
