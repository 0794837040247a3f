package config

import (
	"fmt"
	"strings"

	defaults "github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	ini "gopkg.in/ini.v1"

	"github.com/netresearch/fleetagent/core/domain"
)

const scheduleSectionPrefix = "schedule:"
const returnerSectionPrefix = "returner:"

// Load reads path and decodes it into a LoadedConfig. Every [schedule:*]
// and [returner:*] section becomes one ScheduleEntry/ReturnerConfig; every
// other recognized section ([main], [connection], [scheduler], [relay])
// feeds AgentConfig/RelayConfig directly.
func Load(path string) (*LoadedConfig, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	lc, err := Decode(cfg)
	if err != nil {
		return nil, err
	}
	if err := lc.Validate(); err != nil {
		return nil, err
	}
	return lc, nil
}

// Decode turns an already-loaded ini.File into a LoadedConfig, split out
// from Load so tests can build an *ini.File from an in-memory string.
func Decode(cfg *ini.File) (*LoadedConfig, error) {
	var main mainSection
	if err := decodeSection(cfg, "main", &main); err != nil {
		return nil, err
	}
	if err := validateStruct("main", &main); err != nil {
		return nil, err
	}
	var conn connectionSection
	if err := decodeSection(cfg, "connection", &conn); err != nil {
		return nil, err
	}
	if err := validateStruct("connection", &conn); err != nil {
		return nil, err
	}
	var sched schedulerSection
	if err := decodeSection(cfg, "scheduler", &sched); err != nil {
		return nil, err
	}
	var relay relaySection
	if err := decodeSection(cfg, "relay", &relay); err != nil {
		return nil, err
	}

	out := &LoadedConfig{
		PSKHash:  conn.PSKHash,
		LogLevel: main.LogLevel,
		LogFile:  main.LogFile,
		PidFile:  main.PidFile,
		Agent: domain.AgentConfig{
			ID:             main.ID,
			Controllers:    conn.Controllers,
			SelectionMode:  conn.selectionMode(),
			ResolverFunc:   conn.ResolverFunc,
			MasterShuffle:  conn.MasterShuffle,
			PublishPort:    conn.PublishPort,
			PullPort:       conn.PullPort,
			URIFormat:      conn.URIFormat,
			WorkerMode:     sched.workerMode(),
			ReturnRetryMin: conn.ReturnRetryMin,
			ReturnRetryMax: conn.ReturnRetryMax,
			CacheDir:       main.CacheDir,
			LoopInterval:   sched.LoopInterval,
			PingInterval:   sched.PingInterval,
			MaxMemoryBytes: main.MaxMemoryBytes,
			IPv6:           conn.IPv6,
			Retry: domain.RetryPolicy{
				RetryDNS:      conn.RetryDNS,
				AcceptWait:    conn.AcceptWait,
				AcceptWaitMax: conn.AcceptWaitMax,
				AuthTimeout:   conn.AuthTimeout,
				AuthTries:     conn.AuthTries,
			},
		},
		Relay: RelayConfig{
			Enabled:         relay.Enabled,
			Mode:            relay.Mode,
			ForwardInterval: relay.ForwardInterval,
			EventQueueHWM:   relay.EventQueueHWM,
		},
	}

	for _, section := range cfg.Sections() {
		name := strings.TrimSpace(section.Name())
		switch {
		case strings.HasPrefix(name, scheduleSectionPrefix):
			entry, err := decodeScheduleSection(section, strings.TrimPrefix(name, scheduleSectionPrefix))
			if err != nil {
				return nil, err
			}
			out.Schedules = append(out.Schedules, entry)
		case strings.HasPrefix(name, returnerSectionPrefix):
			rc, err := decodeReturnerSection(section, strings.TrimPrefix(name, returnerSectionPrefix))
			if err != nil {
				return nil, err
			}
			out.Returners = append(out.Returners, rc)
		}
	}

	return out, nil
}

func decodeSection(cfg *ini.File, name string, out any) error {
	if err := defaults.Set(out); err != nil {
		return fmt.Errorf("config: apply defaults for [%s]: %w", name, err)
	}
	if !cfg.HasSection(name) {
		return nil
	}
	section, err := cfg.GetSection(name)
	if err != nil {
		return fmt.Errorf("config: read [%s]: %w", name, err)
	}
	if err := mapstructure.WeakDecode(sectionToMap(section), out); err != nil {
		return fmt.Errorf("config: decode [%s]: %w", name, err)
	}
	return nil
}

func decodeScheduleSection(section *ini.Section, name string) (domain.ScheduleEntry, error) {
	var s scheduleSection
	if err := defaults.Set(&s); err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("config: apply defaults for schedule %q: %w", name, err)
	}
	if err := mapstructure.WeakDecode(sectionToMap(section), &s); err != nil {
		return domain.ScheduleEntry{}, fmt.Errorf("config: decode schedule %q: %w", name, err)
	}
	if err := validateStruct(fmt.Sprintf("schedule:%s", name), &s); err != nil {
		return domain.ScheduleEntry{}, err
	}

	return domain.ScheduleEntry{
		Name:        name,
		Function:    s.Function,
		Arg:         s.Arg,
		Trigger:     s.trigger(),
		Seconds:     s.Seconds,
		Minutes:     s.Minutes,
		Hours:       s.Hours,
		Days:        s.Days,
		Cron:        s.Cron,
		When:        s.When,
		RunOnStart:  s.RunOnStart,
		SplayStart:  s.SplayStart,
		SplayEnd:    s.SplayEnd,
		MaxRunning:  s.MaxRunning,
		Jobless:     s.Jobless,
		Persist:     s.Persist,
		ReturnSinks: s.ReturnTo,
		Enabled:     s.Enabled,
	}, nil
}

func decodeReturnerSection(section *ini.Section, name string) (ReturnerConfig, error) {
	var rs returnSection
	if err := defaults.Set(&rs); err != nil {
		return ReturnerConfig{}, fmt.Errorf("config: apply defaults for returner %q: %w", name, err)
	}
	if err := mapstructure.WeakDecode(sectionToMap(section), &rs); err != nil {
		return ReturnerConfig{}, fmt.Errorf("config: decode returner %q: %w", name, err)
	}
	if err := validateStruct(fmt.Sprintf("returner:%s", name), &rs); err != nil {
		return ReturnerConfig{}, err
	}
	return ReturnerConfig{Name: name, returnSection: rs}, nil
}

func sectionToMap(section *ini.Section) map[string]any {
	m := make(map[string]any, len(section.Keys()))
	for _, key := range section.Keys() {
		vals := key.ValueWithShadows()
		switch {
		case len(vals) > 1:
			cp := make([]string, len(vals))
			copy(cp, vals)
			m[key.Name()] = cp
		case len(vals) == 1:
			m[key.Name()] = vals[0]
		default:
			m[key.Name()] = ""
		}
	}
	return m
}
