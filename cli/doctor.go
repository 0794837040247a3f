package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/netresearch/fleetagent/cli/config"
	"github.com/netresearch/fleetagent/core"
)

// DoctorCommand runs health checks against an agent's configuration and
// its reachability to configured controllers, without starting the daemon.
type DoctorCommand struct {
	ConfigFile string `long:"config" description:"Path to configuration file"`
	LogLevel   string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level"`
	JSON       bool   `long:"json" description:"Output results as JSON"`
	Logger     *slog.Logger
	LevelVar   *slog.LevelVar

	configAutoDetected bool
}

var commonConfigPaths = []string{
	"./agent.ini",
	"./fleetagent.ini",
	"/etc/fleetagent/agent.ini",
}

func findConfigFile() string {
	for _, path := range commonConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

const (
	statusPass = "pass"
	statusFail = "fail"
	statusSkip = "skip"
)

// CheckResult is one diagnostic outcome.
type CheckResult struct {
	Category string   `json:"category"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Hints    []string `json:"hints,omitempty"`
}

// DoctorReport is the full set of diagnostic outcomes for one run.
type DoctorReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
}

func (c *DoctorCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Warn("failed to apply log level, using default", "error", err)
	}

	if c.ConfigFile == "" {
		c.configAutoDetected = true
		if found := findConfigFile(); found != "" {
			c.ConfigFile = found
		} else {
			c.ConfigFile = "/etc/fleetagent/agent.ini"
		}
	}

	report := &DoctorReport{Healthy: true}

	var progress *ProgressReporter
	if !c.JSON {
		c.Logger.Info("running fleetagent health diagnostics")
		progress = NewProgressReporter(&core.SlogAdapter{Logger: c.Logger}, 3)
	}

	if progress != nil {
		progress.Step(1, "Checking configuration...")
	}
	lc := c.checkConfiguration(report)

	if progress != nil {
		progress.Step(2, "Checking controller reachability...")
	}
	if lc != nil {
		c.checkControllers(report, lc)
	} else {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Controllers", Name: "Reachability", Status: statusSkip,
			Message: "skipped, configuration failed to load",
		})
	}

	if progress != nil {
		progress.Step(3, "Validating schedules and returners...")
	}
	if lc != nil {
		c.checkSchedules(report, lc)
		c.checkReturners(report, lc)
	}

	if progress != nil {
		progress.Complete("health check complete")
	}

	if c.JSON {
		return c.outputJSON(report)
	}
	return c.outputHuman(report)
}

func (c *DoctorCommand) checkConfiguration(report *DoctorReport) *config.LoadedConfig {
	if _, err := os.Stat(c.ConfigFile); err != nil {
		hints := []string{fmt.Sprintf("create one with: fleetagent init --output=%s", c.ConfigFile)}
		if c.configAutoDetected {
			hints = append(hints, fmt.Sprintf("searched: %v", commonConfigPaths))
		}
		report.Healthy = false
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "File exists", Status: statusFail,
			Message: err.Error(), Hints: hints,
		})
		return nil
	}
	report.Checks = append(report.Checks, CheckResult{
		Category: "Configuration", Name: "File exists", Status: statusPass, Message: c.ConfigFile,
	})

	lc, err := config.Load(c.ConfigFile)
	if err != nil {
		report.Healthy = false
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "Decodes", Status: statusFail, Message: err.Error(),
		})
		return nil
	}
	report.Checks = append(report.Checks, CheckResult{
		Category: "Configuration", Name: "Decodes", Status: statusPass,
	})

	if lc.Agent.ID == "" {
		report.Healthy = false
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "Agent ID", Status: statusFail,
			Message: "[main] id is empty", Hints: []string{"set id in [main]"},
		})
	} else {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "Agent ID", Status: statusPass, Message: lc.Agent.ID,
		})
	}

	if lc.PSKHash == "" {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "psk_hash", Status: statusSkip,
			Message: "no psk_hash set, authentication will always fail",
			Hints:   []string{"generate one with: fleetagent hash-password"},
		})
	} else {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Configuration", Name: "psk_hash", Status: statusPass,
		})
	}

	return lc
}

func (c *DoctorCommand) checkControllers(report *DoctorReport, lc *config.LoadedConfig) {
	if len(lc.Agent.Controllers) == 0 {
		report.Healthy = false
		report.Checks = append(report.Checks, CheckResult{
			Category: "Controllers", Name: "Configured", Status: statusFail,
			Message: "[connection] master is empty",
		})
		return
	}

	for _, host := range lc.Agent.Controllers {
		addr := fmt.Sprintf("%s:%d", host, lc.Agent.PublishPort)
		conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
		if err != nil {
			report.Healthy = false
			report.Checks = append(report.Checks, CheckResult{
				Category: "Controllers", Name: addr, Status: statusFail, Message: err.Error(),
				Hints: []string{"check firewall rules and that the controller is listening"},
			})
			continue
		}
		_ = conn.Close()
		report.Checks = append(report.Checks, CheckResult{
			Category: "Controllers", Name: addr, Status: statusPass,
		})
	}
}

func (c *DoctorCommand) checkSchedules(report *DoctorReport, lc *config.LoadedConfig) {
	if len(lc.Schedules) == 0 {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Schedules", Name: "Entries", Status: statusSkip,
			Message: "no [schedule:*] sections configured",
		})
		return
	}

	for _, e := range lc.Schedules {
		job := core.BuildBareJob(e)
		if _, err := job.Hash(); err != nil {
			report.Healthy = false
			report.Checks = append(report.Checks, CheckResult{
				Category: "Schedules", Name: e.Name, Status: statusFail, Message: err.Error(),
			})
			continue
		}
		if e.Function == "" {
			report.Healthy = false
			report.Checks = append(report.Checks, CheckResult{
				Category: "Schedules", Name: e.Name, Status: statusFail, Message: "function is empty",
			})
			continue
		}
		report.Checks = append(report.Checks, CheckResult{
			Category: "Schedules", Name: e.Name, Status: statusPass, Message: job.Schedule,
		})
	}
}

func (c *DoctorCommand) checkReturners(report *DoctorReport, lc *config.LoadedConfig) {
	if len(lc.Returners) == 0 {
		report.Checks = append(report.Checks, CheckResult{
			Category: "Returners", Name: "Entries", Status: statusSkip,
			Message: "no [returner:*] sections configured",
		})
		return
	}

	known := map[string]bool{"webhook": true, "mail": true, "slack": true, "save": true}
	for _, rc := range lc.Returners {
		if !known[rc.Type] {
			report.Healthy = false
			report.Checks = append(report.Checks, CheckResult{
				Category: "Returners", Name: rc.Name, Status: statusFail,
				Message: fmt.Sprintf("unknown type %q", rc.Type),
			})
			continue
		}
		report.Checks = append(report.Checks, CheckResult{
			Category: "Returners", Name: rc.Name, Status: statusPass, Message: rc.Type,
		})
	}
}

func (c *DoctorCommand) outputJSON(report *DoctorReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	if !report.Healthy {
		return fmt.Errorf("health check failed")
	}
	return nil
}

func (c *DoctorCommand) outputHuman(report *DoctorReport) error {
	c.Logger.Info("fleetagent health check")

	categories := make(map[string][]CheckResult)
	var order []string
	for _, check := range report.Checks {
		if _, seen := categories[check.Category]; !seen {
			order = append(order, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, category := range order {
		c.Logger.Info(category)
		for _, check := range categories[category] {
			c.Logger.Info(fmt.Sprintf("  [%s] %s: %s", check.Status, check.Name, check.Message))
			for _, hint := range check.Hints {
				c.Logger.Info(fmt.Sprintf("    -> %s", hint))
			}
		}
	}

	failCount := 0
	for _, check := range report.Checks {
		if check.Status == statusFail {
			failCount++
		}
	}

	if report.Healthy {
		c.Logger.Info("summary: all checks passed")
		return nil
	}
	c.Logger.Info(fmt.Sprintf("summary: %d issue(s) found", failCount))
	return fmt.Errorf("health check failed")
}
