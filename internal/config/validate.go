package config

import (
	"fmt"
	"strings"
)

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

var validAlertKinds = map[string]bool{
	"top5": true, "movement": true, "mention": true,
	"netsplit_risk": true, "recovery_failed": true,
}

// Validate rejects configurations that cannot work at all. Defaults are not
// applied here; empty optional fields pass.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.IRC.Nick) == "" {
		return fmt.Errorf("irc.nick is required")
	}
	if strings.TrimSpace(c.IRC.Channel) == "" {
		return fmt.Errorf("irc.channel is required")
	}
	if strings.TrimSpace(c.Queue.BotName) == "" {
		return fmt.Errorf("queue.bot_name is required")
	}

	durations := []struct{ path, raw string }{
		{"velocity.window", c.Velocity.Window},
		{"velocity.min_elapsed", c.Velocity.MinElapsed},
		{"recovery.backoff_base", c.Recovery.BackoffBase},
		{"recovery.backoff_max", c.Recovery.BackoffMax},
		{"recovery.stale_after", c.Recovery.StaleAfter},
		{"alerts.top_band_cooldown", c.Alerts.TopBandCooldown},
		{"alerts.movement_cooldown", c.Alerts.MovementCooldown},
		{"alerts.mention_cooldown", c.Alerts.MentionCooldown},
		{"alerts.netsplit_cooldown", c.Alerts.NetsplitCooldown},
		{"alerts.mass_kick_window", c.Alerts.MassKickWindow},
		{"notify.retry_base", c.Notify.RetryBase},
		{"speedtest.timeout", c.Speedtest.Timeout},
	}
	if c.Analytics != nil {
		durations = append(durations,
			struct{ path, raw string }{"analytics.busy_timeout", c.Analytics.BusyTimeout},
			struct{ path, raw string }{"analytics.retention", c.Analytics.Retention},
		)
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch c.Speedtest.Runner {
	case "", "cli", "library":
	default:
		return fmt.Errorf("speedtest.runner must be \"cli\" or \"library\", got %q", c.Speedtest.Runner)
	}

	for kind, prio := range c.Alerts.Priorities {
		if !validAlertKinds[kind] {
			return fmt.Errorf("alerts.priorities: unknown kind %q", kind)
		}
		if !validPriorities[prio] {
			return fmt.Errorf("alerts.priorities.%s: unknown priority %q", kind, prio)
		}
	}

	if c.Notify.Enabled {
		if c.Notify.Ntfy == nil && c.Notify.Telegram == nil {
			return fmt.Errorf("notify.enabled requires at least one of notify.ntfy or notify.telegram")
		}
		if c.Notify.Ntfy != nil && strings.TrimSpace(c.Notify.Ntfy.Topic) == "" {
			return fmt.Errorf("notify.ntfy.topic is required")
		}
		if c.Notify.Telegram != nil {
			if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
				return fmt.Errorf("notify.telegram.token is required")
			}
			if c.Notify.Telegram.ChatID == 0 {
				return fmt.Errorf("notify.telegram.chat_id is required")
			}
		}
	}

	if c.Analytics != nil && strings.TrimSpace(c.Analytics.Path) == "" {
		return fmt.Errorf("analytics.path is required when analytics is configured")
	}
	return nil
}
