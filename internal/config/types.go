package config

// Config is the on-disk configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON and decoded strictly
// (unknown fields are rejected). All durations are Go duration strings
// (e.g. "500ms", "10s", "3h").
type Config struct {
	IRC       IRCConfig        `json:"irc"`
	Queue     QueueConfig      `json:"queue"`
	Velocity  VelocityConfig   `json:"velocity,omitempty"`
	Recovery  RecoveryConfig   `json:"recovery,omitempty"`
	Alerts    AlertsConfig     `json:"alerts,omitempty"`
	Notify    NotifyConfig     `json:"notify,omitempty"`
	Speedtest SpeedtestConfig  `json:"speedtest,omitempty"`
	Analytics *AnalyticsConfig `json:"analytics,omitempty"`
	Logging   LoggingConfig    `json:"logging,omitempty"`
}

// IRCConfig describes the chat transport connection.
type IRCConfig struct {
	// Server is "host:port". Empty uses the library default endpoint.
	Server  string `json:"server,omitempty"`
	TLS     bool   `json:"tls,omitempty"`
	Nick    string `json:"nick"`
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel"`
}

// QueueConfig identifies the queue bot and the re-queue command.
type QueueConfig struct {
	// BotName is the nick of the bot that runs the interview queue.
	BotName string `json:"bot_name"`
	// JoinCommand is the command prefix used to (re)enter the queue.
	// The freshest speedtest result link is appended when available.
	JoinCommand string `json:"join_command,omitempty"` // default "!queue"
}

// VelocityConfig controls the advance-rate estimation window.
//
// The effective window is the greater of the last MaxSamples advances and
// the trailing Window duration.
type VelocityConfig struct {
	Window     string `json:"window,omitempty"`      // default "3h"
	MaxSamples int    `json:"max_samples,omitempty"` // default 20
	MinElapsed string `json:"min_elapsed,omitempty"` // default "1m"
}

// RecoveryConfig controls reconnect backoff after involuntary disconnects.
type RecoveryConfig struct {
	BackoffBase string `json:"backoff_base,omitempty"` // default "5s"
	BackoffMax  string `json:"backoff_max,omitempty"`  // default "5m"
	MaxRetries  int    `json:"max_retries,omitempty"`  // default 10
	// StaleAfter is the outage duration beyond which velocity history is
	// discarded on reconnect. Defaults to the velocity window.
	StaleAfter string `json:"stale_after,omitempty"`
}

// AlertsConfig controls which transitions raise alerts and how often.
//
// Priority values follow the ntfy scale: min, low, default, high, urgent.
type AlertsConfig struct {
	TopBand int `json:"top_band,omitempty"` // default 5

	TopBandCooldown  string `json:"top_band_cooldown,omitempty"`  // default "5m"
	MovementCooldown string `json:"movement_cooldown,omitempty"`  // default "3m"
	MentionCooldown  string `json:"mention_cooldown,omitempty"`   // default "1m"
	NetsplitCooldown string `json:"netsplit_cooldown,omitempty"`  // default "5m"

	// Priorities maps alert kind (top5, movement, mention, netsplit_risk,
	// recovery_failed) to a delivery priority.
	Priorities map[string]string `json:"priorities,omitempty"`

	// Mass-kick heuristic: this many kick lines inside the window is treated
	// as a netsplit risk.
	MassKickThreshold int    `json:"mass_kick_threshold,omitempty"` // default 3
	MassKickWindow    string `json:"mass_kick_window,omitempty"`    // default "5s"
}

// NotifyConfig controls the outbound push pipeline.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`

	Ntfy     *NtfyConfig     `json:"ntfy,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// NtfyConfig configures the ntfy.sh push sink.
type NtfyConfig struct {
	Server string `json:"server,omitempty"` // default "https://ntfy.sh"
	Topic  string `json:"topic"`
	Token  string `json:"token,omitempty"`
}

// TelegramConfig configures the optional Telegram push sink.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// SpeedtestConfig controls the speed-measurement collaborator.
type SpeedtestConfig struct {
	// Runner selects the implementation: "cli" (Ookla CLI, produces a
	// shareable result id) or "library" (in-process, no result id).
	Runner  string `json:"runner,omitempty"` // default "cli"
	CLIPath string `json:"cli_path,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "2m"
	// RefreshSchedule keeps a fresh result link ready for post-netsplit
	// re-queueing. Cron spec or "@every 30m". Empty disables refresh.
	RefreshSchedule string `json:"refresh_schedule,omitempty"`
}

// AnalyticsConfig controls the append-only event store.
type AnalyticsConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "10s"
	Retention   string `json:"retention,omitempty"`    // default "720h"
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}
