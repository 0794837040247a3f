package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/netresearch/go-cron"
	"gopkg.in/ini.v1"
)

// InitCommand is an interactive wizard that writes a starter agent.ini:
// identity, one controller, and (optionally) a first schedule entry.
type InitCommand struct {
	Output   string `long:"output" short:"o" description:"Output file path" default:"./agent.ini"`
	LogLevel string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level"`
	Logger   *slog.Logger
	LevelVar *slog.LevelVar
}

func (c *InitCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Warn("failed to apply log level, using default", "error", err)
	}

	c.Logger.Info("Welcome to fleetagent configuration setup")
	c.Logger.Info("This wizard writes a starter agent.ini")

	if _, err := os.Stat(c.Output); err == nil {
		if !c.confirmOverwrite() {
			c.Logger.Info("setup canceled")
			return nil
		}
	}

	wiz := &wizardConfig{Schedules: []wizardSchedule{}}
	if err := c.promptIdentity(wiz); err != nil {
		return fmt.Errorf("failed to gather identity settings: %w", err)
	}
	if err := c.promptSchedules(wiz); err != nil {
		return fmt.Errorf("failed to gather schedule entries: %w", err)
	}
	if err := c.save(wiz); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.Logger.Info("configuration saved", "path", c.Output)
	c.printNextSteps()
	return nil
}

type wizardConfig struct {
	AgentID    string
	Controller string
	LogLevel   string
	Schedules  []wizardSchedule
}

type wizardSchedule struct {
	Name     string
	Function string
	Cron     string
}

func (c *InitCommand) confirmOverwrite() bool {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("File %s already exists. Overwrite", c.Output),
		IsConfirm: true,
		Default:   "n",
	}
	_, err := prompt.Run()
	return err == nil
}

func (c *InitCommand) promptIdentity(wiz *wizardConfig) error {
	c.Logger.Info("=== Agent identity ===")

	idPrompt := promptui.Prompt{
		Label: "Agent ID",
		Validate: func(input string) error {
			if input == "" {
				return fmt.Errorf("agent ID cannot be empty")
			}
			return nil
		},
	}
	id, err := idPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}
	wiz.AgentID = id

	controllerPrompt := promptui.Prompt{
		Label:   "Controller address (host:port)",
		Default: "controller.example.com:4505",
	}
	wiz.Controller, err = controllerPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	logLevelPrompt := promptui.Select{
		Label:     "Log level",
		Items:     []string{"debug", "info", "warning", "error"},
		CursorPos: 1,
	}
	_, wiz.LogLevel, err = logLevelPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return nil
}

func (c *InitCommand) promptSchedules(wiz *wizardConfig) error {
	c.Logger.Info("=== Schedule entries ===")
	c.Logger.Info("Let's create your first scheduled function call.")

	for {
		addPrompt := promptui.Prompt{
			Label:     "Add a schedule entry",
			IsConfirm: true,
			Default:   "y",
		}
		if _, err := addPrompt.Run(); err != nil {
			if len(wiz.Schedules) == 0 {
				c.Logger.Warn("no schedule entries configured, agent will idle until manage_schedule adds one")
			}
			break
		}

		entry, err := c.promptSchedule()
		if err != nil {
			return err
		}
		wiz.Schedules = append(wiz.Schedules, entry)
		c.Logger.Info("added schedule entry", "name", entry.Name)
	}

	return nil
}

func (c *InitCommand) promptSchedule() (wizardSchedule, error) {
	var s wizardSchedule

	namePrompt := promptui.Prompt{
		Label: "Schedule name (alphanumeric, hyphens, underscores)",
		Validate: func(input string) error {
			if !regexp.MustCompile(`^[a-zA-Z0-9_-]+$`).MatchString(input) {
				return fmt.Errorf("name must be alphanumeric with hyphens or underscores only")
			}
			return nil
		},
	}
	name, err := namePrompt.Run()
	if err != nil {
		return s, err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}
	s.Name = name

	funcPrompt := promptui.Prompt{
		Label:   "Function to call (module.function)",
		Default: "test.ping",
		Validate: func(input string) error {
			if !strings.Contains(input, ".") {
				return fmt.Errorf("function must be in module.function form")
			}
			return nil
		},
	}
	s.Function, err = funcPrompt.Run()
	if err != nil {
		return s, err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	cronPrompt := promptui.Prompt{
		Label:    "Cron expression",
		Default:  "@hourly",
		Validate: validateSchedule,
	}
	s.Cron, err = cronPrompt.Run()
	if err != nil {
		return s, err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return s, nil
}

// validateSchedule validates a cron expression or @every/@daily/@hourly shortcut.
func validateSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}

	descriptors := []string{"@yearly", "@annually", "@monthly", "@weekly", "@daily", "@midnight", "@hourly"}
	for _, desc := range descriptors {
		if schedule == desc {
			return nil
		}
	}

	if strings.HasPrefix(schedule, "@every ") {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w\n  Examples: @daily, @every 1h, 0 2 * * *, */15 * * * *", err)
	}

	return nil
}

func (c *InitCommand) save(wiz *wizardConfig) error {
	dir := filepath.Dir(c.Output)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	cfg := ini.Empty()

	main := cfg.Section("main")
	main.Key("id").SetValue(wiz.AgentID)
	main.Key("log_level").SetValue(wiz.LogLevel)

	conn := cfg.Section("connection")
	conn.Key("master").SetValue(wiz.Controller)

	for _, s := range wiz.Schedules {
		section := cfg.Section("schedule:" + s.Name)
		section.Key("function").SetValue(s.Function)
		section.Key("trigger").SetValue("cron")
		section.Key("cron").SetValue(s.Cron)
	}

	if err := cfg.SaveTo(c.Output); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func (c *InitCommand) printNextSteps() {
	c.Logger.Info("setup complete, next steps:")
	c.Logger.Info(fmt.Sprintf("  review configuration: cat %s", c.Output))
	c.Logger.Info(fmt.Sprintf("  show effective config: fleetagent config --config=%s", c.Output))
	c.Logger.Info(fmt.Sprintf("  start daemon: fleetagent daemon --config=%s", c.Output))
}
