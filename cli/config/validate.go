package config

import (
	"fmt"

	validation "github.com/netresearch/fleetagent/config"
)

// Validate runs the security/sanity checks from the config package against
// a decoded LoadedConfig: required fields, cron syntax, URLs, email lists,
// and schedule command tokens. Load calls this after Decode so a bad config
// file fails fast instead of surfacing as a runtime dispatch error.
func (lc *LoadedConfig) Validate() error {
	v := validation.NewValidator()
	sanitizer := validation.NewSanitizer()
	cmdValidator := validation.NewCommandValidator()

	v.ValidateRequired("main.id", lc.Agent.ID)
	if lc.LogLevel != "" {
		v.ValidateEnum("main.log_level", lc.LogLevel, []string{
			"debug", "info", "notice", "warning", "error", "critical",
		})
	}
	if len(lc.Agent.Controllers) == 0 {
		v.AddError("connection.master", "", "at least one controller is required")
	}
	for _, host := range lc.Agent.Controllers {
		v.ValidateRequired("connection.master", host)
	}

	for _, e := range lc.Schedules {
		field := fmt.Sprintf("schedule:%s", e.Name)
		if err := sanitizer.ValidateJobName(e.Name); err != nil {
			v.AddError(field+".name", e.Name, err.Error())
		}
		v.ValidateRequired(field+".function", e.Function)
		if e.Cron != "" {
			if err := sanitizer.ValidateCronExpression(e.Cron); err != nil {
				v.AddError(field+".cron", e.Cron, err.Error())
			}
		}
		if err := cmdValidator.ValidateCommandArgs(e.Arg); err != nil {
			v.AddError(field+".arg", e.Arg, err.Error())
		}
	}

	for _, rc := range lc.Returners {
		field := fmt.Sprintf("returner:%s", rc.Name)
		switch rc.Type {
		case "webhook":
			if err := sanitizer.ValidateURL(rc.URL); err != nil {
				v.AddError(field+".url", rc.URL, err.Error())
			}
		case "slack":
			if err := sanitizer.ValidateURL(rc.WebhookURL); err != nil {
				v.AddError(field+".webhook_url", rc.WebhookURL, err.Error())
			}
		case "mail":
			if err := sanitizer.ValidateEmailList(rc.EmailTo); err != nil {
				v.AddError(field+".email_to", rc.EmailTo, err.Error())
			}
		case "save":
			v.ValidateRequired(field+".folder", rc.Folder)
		default:
			v.AddError(field+".type", rc.Type, "unknown returner type")
		}
	}

	if v.HasErrors() {
		return fmt.Errorf("config: %w", v.Errors())
	}
	return nil
}
