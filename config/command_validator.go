package config

import (
	"fmt"
	"regexp"
	"strings"
)

// CommandValidator provides security validation for a schedule entry's
// tokenized Command (function name plus positional arguments).
type CommandValidator struct {
	// Patterns that could indicate command injection attempts
	dangerousPatterns []*regexp.Regexp
}

// NewCommandValidator creates a new command validator with security rules
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{
		// Patterns that could indicate command injection attempts
		dangerousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`\$\(`),       // Command substitution $(...)
			regexp.MustCompile("`"),          // Backtick command substitution
			regexp.MustCompile(`\|`),         // Pipe to command
			regexp.MustCompile(`;`),          // Command separator
			regexp.MustCompile(`&{1,2}`),     // Background or AND operator
			regexp.MustCompile(`>`),          // Redirect output
			regexp.MustCompile(`<`),          // Redirect input
			regexp.MustCompile(`\.\./\.\./`), // Directory traversal attempts
			regexp.MustCompile(`\x00`),       // Null byte injection
		},
	}
}

// ValidateCommandArgs validates command arguments for safety
func (v *CommandValidator) ValidateCommandArgs(args []string) error {
	for i, arg := range args {
		if len(arg) > 4096 {
			return fmt.Errorf("argument %d too long (max 4096 characters)", i)
		}

		for _, pattern := range v.dangerousPatterns {
			if pattern.MatchString(arg) {
				return fmt.Errorf("argument %d contains dangerous pattern: %s", i, arg)
			}
		}

		// Check for null bytes
		if strings.Contains(arg, "\x00") {
			return fmt.Errorf("argument %d contains null byte", i)
		}
	}

	return nil
}

// SanitizeCommand removes potentially dangerous characters from a command string
func (v *CommandValidator) SanitizeCommand(cmd string) string {
	// Remove null bytes
	cmd = strings.ReplaceAll(cmd, "\x00", "")

	// Limit length
	if len(cmd) > 4096 {
		cmd = cmd[:4096]
	}

	return cmd
}
