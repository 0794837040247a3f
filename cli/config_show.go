package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/netresearch/fleetagent/cli/config"
)

// ConfigShowCommand loads the config file and prints the fully-decoded,
// defaults-applied LoadedConfig as JSON — the "what will the agent
// actually run with" view `fleetagent config` gives an operator without
// starting the daemon.
type ConfigShowCommand struct {
	ConfigFile string `long:"config" env:"OFELIA_CONFIG" description:"configuration file" default:"/etc/fleetagent/agent.ini"`
	LogLevel   string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level"`
	Logger     *slog.Logger
	LevelVar   *slog.LevelVar
}

func (c *ConfigShowCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Warn("failed to apply log level, using default", "error", err)
	}

	lc, err := config.Load(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("config: load %q: %w", c.ConfigFile, err)
	}

	shown := *lc
	if shown.PSKHash != "" {
		shown.PSKHash = "<redacted>"
	}
	out, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	_, _ = fmt.Fprintln(os.Stdout, string(out))
	return nil
}
