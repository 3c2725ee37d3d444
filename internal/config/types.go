package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Datasets DatasetsConfig `json:"datasets"`
	Delivery DeliveryConfig `json:"delivery"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat that receives warning/error log lines and pass
	// failure notices (decimal chat id as a string).
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec caps outbound messages per second.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}
type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; empty means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DatasetsConfig struct {
	// CacheDir holds the downloaded dataset files, one subdirectory per source.
	CacheDir string `json:"cache_dir"`
	// FetchTimeout bounds a single remote download (Go duration string).
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// DeliveryConfig controls the report delivery scheduler.
//
// All durations are Go duration strings. Poll also accepts a cron spec
// ("*/30 * * * *") or an "interval:"/"cron:" prefixed form.
type DeliveryConfig struct {
	Enabled bool `json:"enabled"`
	// Poll is the trigger spec for delivery passes (default "30m").
	Poll string `json:"poll,omitempty"`
	// MinPassGap is the minimum idle time between two passes, preventing
	// busy-looping when a pass finishes quickly (default "10s").
	MinPassGap string `json:"min_pass_gap,omitempty"`
	// SubscriberDelay is the pause between dispatches to consecutive
	// subscribers within one pass.
	SubscriberDelay string `json:"subscriber_delay,omitempty"`
	// Timezone is the IANA zone used for quiet hours and period bucketing
	// (default "Europe/Rome", the datasets' home zone).
	Timezone string `json:"timezone,omitempty"`
	// QuietStart/QuietEnd delimit the do-not-disturb window as "HH:MM".
	// The window may wrap past midnight (start > end).
	QuietStart string `json:"quiet_start,omitempty"`
	QuietEnd   string `json:"quiet_end,omitempty"`
	// Strict makes report generation fail on missing declared variables
	// instead of omitting them.
	Strict bool `json:"strict,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in hand-edited configs are
// caught during load/reload instead of silently ignored.
func (c *Config) UnmarshalJSON(b []byte) error {
	type alias Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t alias
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = Config(t)
	return nil
}

// Validate checks the fields whose failure should reject a load or a hot
// reload before anything is applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"datasets.fetch_timeout", c.Datasets.FetchTimeout},
		{"delivery.min_pass_gap", c.Delivery.MinPassGap},
		{"delivery.subscriber_delay", c.Delivery.SubscriberDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Delivery.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("delivery.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
