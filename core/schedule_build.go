package core

import (
	"fmt"
	"time"

	"github.com/netresearch/fleetagent/core/domain"
)

// ScheduleString renders a ScheduleEntry's trigger as the schedule string
// go-cron's parser accepts. Interval triggers collapse days/hours/minutes/
// seconds into a single "@every" duration; cron triggers pass their
// expression through unchanged. When/once entries have no cron-expressible
// periodicity, so they register as triggered-only and rely on
// manage_schedule's "run" action (or RunOnStart) to fire them.
func ScheduleString(e domain.ScheduleEntry) string {
	switch e.Trigger {
	case domain.TriggerCron:
		return e.Cron
	case domain.TriggerInterval:
		d := time.Duration(e.Days)*24*time.Hour +
			time.Duration(e.Hours)*time.Hour +
			time.Duration(e.Minutes)*time.Minute +
			time.Duration(e.Seconds)*time.Second
		if d <= 0 {
			return TriggeredSchedule
		}
		return "@every " + d.String()
	default: // TriggerWhen, TriggerOnce, or unset
		return TriggeredSchedule
	}
}

// BuildBareJob converts a ScheduleEntry into the concrete Job the scheduler
// runs, rendering Function+Arg+Kwarg back into the "fun arg1 key=val..."
// command string BareJob.Run tokenizes. Used both at initial config load
// and by the Event Multiplexer's manage_schedule "add"/"modify" actions.
func BuildBareJob(e domain.ScheduleEntry) *BareJob {
	return &BareJob{
		Schedule:     ScheduleString(e),
		Name:         e.Name,
		Command:      renderCommand(e),
		HistoryLimit: 10,
		Trigger:      e.Trigger,
		Once:         e.Once,
		OnceFmt:      e.OnceFmt,
		When:         e.When,
		RunOnStart:   e.RunOnStart,
		After:        e.After,
		Until:        e.Until,
		Range:        e.Range,
		SplayStart:   e.SplayStart,
		SplayEnd:     e.SplayEnd,
		MaxRunning:   e.MaxRunning,
		Jobless:      e.Jobless,
		Persist:      e.Persist,
		ReturnSinks:  e.ReturnSinks,
		Metadata:     e.Metadata,
	}
}

func renderCommand(e domain.ScheduleEntry) string {
	cmd := e.Function
	for _, a := range e.Arg {
		cmd += " " + a
	}
	for k, v := range e.Kwarg {
		cmd += fmt.Sprintf(" %s=%v", k, v)
	}
	return cmd
}
