package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/netresearch/fleetagent/cli/config"
)

// ValidateCommand loads the config file and reports whether it decodes
// cleanly, printing the effective LoadedConfig on success.
type ValidateCommand struct {
	ConfigFile string `long:"config" env:"OFELIA_CONFIG" description:"configuration file" default:"/etc/fleetagent/agent.ini"`
	LogLevel   string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level (overrides config)"`
	Logger     *slog.Logger
	LevelVar   *slog.LevelVar
}

func (c *ValidateCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Error("failed to apply log level", "error", err)
		return fmt.Errorf("invalid log level configuration: %w", err)
	}

	c.Logger.Debug("validating config", "path", c.ConfigFile)
	lc, err := config.Load(c.ConfigFile)
	if err != nil {
		c.Logger.Error("ERROR")
		return err
	}
	if c.LogLevel == "" {
		if err := ApplyLogLevel(lc.LogLevel, c.LevelVar); err != nil {
			c.Logger.Warn("failed to apply config log level, using default", "error", err)
		}
	}

	out, err := json.MarshalIndent(lc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, _ = fmt.Fprintln(os.Stdout, string(out))

	c.Logger.Debug("OK")
	return nil
}
