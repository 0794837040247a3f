// Package config loads an agent's on-disk INI configuration into the
// domain types core.Supervisor and core.Scheduler run against, and keeps a
// running agent's schedule in sync with that file across a pillar_refresh
// or a SIGHUP-style reload.
package config

import (
	"time"

	"github.com/netresearch/fleetagent/core/domain"
)

// mainSection mirrors the [main] section: identity and process-wide knobs
// that have no natural home in connection/scheduler/relay.
type mainSection struct {
	ID             string `mapstructure:"id"`
	CacheDir       string `mapstructure:"cachedir"`
	LogLevel       string `mapstructure:"log_level" validate:"omitempty,oneof=debug info notice warning error critical"`
	LogFile        string `mapstructure:"log_file"`
	PidFile        string `mapstructure:"pidfile"`
	MaxMemoryBytes int64  `mapstructure:"modules_max_memory" validate:"gte=0"`
}

// connectionSection mirrors the [connection] section: everything
// core.ConnectionManager and core.Supervisor need to reach and authenticate
// against one or more controllers.
type connectionSection struct {
	Controllers    []string      `mapstructure:"master"`
	SelectionMode  string        `mapstructure:"master_type" default:"single"`
	ResolverFunc   string        `mapstructure:"master_resolver"`
	MasterShuffle  bool          `mapstructure:"master_shuffle"`
	PublishPort    int           `mapstructure:"master_port" default:"4505" validate:"gte=1,lte=65535"`
	PullPort       int           `mapstructure:"master_pull_port" default:"4506" validate:"gte=1,lte=65535"`
	URIFormat      string        `mapstructure:"transport" default:"tcp"`
	PSKHash        string        `mapstructure:"psk_hash"`
	RetryDNS       time.Duration `mapstructure:"retry_dns"`
	AcceptWait     time.Duration `mapstructure:"acceptance_wait_time" default:"10s"`
	AcceptWaitMax  time.Duration `mapstructure:"acceptance_wait_time_max"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout" default:"60s"`
	AuthTries      int           `mapstructure:"auth_tries" default:"7"`
	ReturnRetryMin time.Duration `mapstructure:"return_retry_timer" default:"5s"`
	ReturnRetryMax time.Duration `mapstructure:"return_retry_timer_max"`
	IPv6           bool          `mapstructure:"ipv6"`
}

// schedulerSection mirrors the [scheduler] section: agent-loop timing
// independent of any one schedule entry.
type schedulerSection struct {
	LoopInterval time.Duration `mapstructure:"loop_interval" default:"1s"`
	PingInterval time.Duration `mapstructure:"ping_interval" default:"60s"`
	WorkerMode   string        `mapstructure:"multiprocessing" default:"subprocess"`
}

// relaySection mirrors the optional [relay] section, present only when
// this agent runs as a syndic.
type relaySection struct {
	Enabled         bool          `mapstructure:"syndic"`
	Mode            string        `mapstructure:"syndic_mode" default:"sync"`
	ForwardInterval time.Duration `mapstructure:"syndic_forward_interval" default:"1s"`
	EventQueueHWM   int           `mapstructure:"syndic_event_queue_hwm" default:"1024"`
}

// returnSection mirrors one `[returner:<name>]` section: the INI-decodable
// shape common to every returners.ReturnSink constructor before the daemon
// switches on Type to build the concrete webhook/mail/slack/save sink.
type returnSection struct {
	Type        string `mapstructure:"type"`
	OnlyOnError bool   `mapstructure:"only_on_error"`

	URL        string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" default:"5s" validate:"duration_gte=0"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay" default:"1s"`

	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port" default:"25"`
	SMTPUser      string `mapstructure:"smtp_user"`
	SMTPPassword  string `mapstructure:"smtp_password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	EmailTo       string `mapstructure:"email_to"`
	EmailFrom     string `mapstructure:"email_from"`
	EmailSubject  string `mapstructure:"email_subject"`

	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`

	Folder string `mapstructure:"folder"`

	DedupCooldown time.Duration `mapstructure:"dedup_cooldown"`
}

// scheduleSection mirrors one `[schedule:<name>]` section: the Go analogue
// of a scheduled job entry, decoded directly into domain.ScheduleEntry
// shape before core.BuildBareJob renders it into a runnable core.BareJob.
type scheduleSection struct {
	Function   string        `mapstructure:"function"`
	Arg        []string      `mapstructure:"arg"`
	Trigger    string        `mapstructure:"trigger" default:"interval"`
	Seconds    int           `mapstructure:"seconds"`
	Minutes    int           `mapstructure:"minutes"`
	Hours      int           `mapstructure:"hours"`
	Days       int           `mapstructure:"days"`
	Cron       string        `mapstructure:"cron" validate:"omitempty,cron"`
	When       []string      `mapstructure:"when"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	SplayStart time.Duration `mapstructure:"splay_start"`
	SplayEnd   time.Duration `mapstructure:"splay_end"`
	MaxRunning int           `mapstructure:"max_running" default:"1"`
	Jobless    bool          `mapstructure:"jobless"`
	Persist    bool          `mapstructure:"persist" default:"true"`
	ReturnTo   []string      `mapstructure:"returner"`
	Enabled    bool          `mapstructure:"enabled" default:"true"`
}

func (s scheduleSection) trigger() domain.TriggerKind {
	switch domain.TriggerKind(s.Trigger) {
	case domain.TriggerCron, domain.TriggerWhen, domain.TriggerOnce:
		return domain.TriggerKind(s.Trigger)
	default:
		return domain.TriggerInterval
	}
}

func (s connectionSection) selectionMode() domain.SelectionMode {
	switch domain.SelectionMode(s.SelectionMode) {
	case domain.SelectionFailover, domain.SelectionResolverModule:
		return domain.SelectionMode(s.SelectionMode)
	default:
		return domain.SelectionSingle
	}
}

func (s schedulerSection) workerMode() domain.WorkerMode {
	if domain.WorkerMode(s.WorkerMode) == domain.WorkerThread {
		return domain.WorkerThread
	}
	return domain.WorkerSubprocess
}

// LoadedConfig is the fully-decoded result of reading one INI file: the
// agent's runtime config, its initial schedule, its relay settings (if
// configured as a syndic), and its configured return sinks.
type LoadedConfig struct {
	Agent     domain.AgentConfig
	PSKHash   string
	LogLevel  string
	LogFile   string
	PidFile   string
	Relay     RelayConfig
	Schedules []domain.ScheduleEntry
	Returners []ReturnerConfig
}

// RelayConfig is the decoded [relay] section.
type RelayConfig struct {
	Enabled         bool
	Mode            string
	ForwardInterval time.Duration
	EventQueueHWM   int
}

// ReturnerConfig is one decoded `[returner:<name>]` section, still tagged
// with its Type so the daemon's wiring code can switch on it when building
// the concrete returners.* sink.
type ReturnerConfig struct {
	Name string
	returnSection
}
