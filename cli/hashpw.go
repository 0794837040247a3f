package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/crypto/bcrypt"
)

// HashPasswordCommand generates the bcrypt hash a [connection] section's
// psk_hash key stores, so the plaintext pre-shared key itself never has to
// live in the config file (core/adapters/tcpchannel.Channel.Authenticate
// compares against this hash, never the raw key).
type HashPasswordCommand struct {
	Cost     int    `long:"cost" default:"12" description:"bcrypt cost factor (10-14 recommended)"`
	LogLevel string `long:"log-level" env:"OFELIA_LOG_LEVEL" description:"Set log level"`
	Logger   *slog.Logger
	LevelVar *slog.LevelVar
}

func (c *HashPasswordCommand) Execute(_ []string) error {
	if err := ApplyLogLevel(c.LogLevel, c.LevelVar); err != nil {
		c.Logger.Warn("failed to apply log level, using default", "error", err)
	}

	if c.Cost < bcrypt.MinCost || c.Cost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	prompt := promptui.Prompt{
		Label: "Pre-shared key",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < 8 {
				return fmt.Errorf("pre-shared key must be at least 8 characters")
			}
			return nil
		},
	}

	key, err := prompt.Run()
	if err != nil {
		return fmt.Errorf("key prompt failed: %w", err)
	}

	confirmPrompt := promptui.Prompt{
		Label: "Confirm pre-shared key",
		Mask:  '*',
	}

	confirm, err := confirmPrompt.Run()
	if err != nil {
		return fmt.Errorf("confirmation prompt failed: %w", err)
	}

	if key != confirm {
		return fmt.Errorf("keys do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), c.Cost)
	if err != nil {
		return fmt.Errorf("failed to generate hash: %w", err)
	}

	hashStr := string(hash)

	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Generated psk_hash:")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
	fmt.Fprintln(os.Stdout, hashStr)
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 70))
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage in config.ini:")
	fmt.Fprintln(os.Stdout, "  [connection]")
	fmt.Fprintf(os.Stdout, "  psk_hash = %s\n", hashStr)

	return nil
}
