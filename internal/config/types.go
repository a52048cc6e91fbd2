package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"chanpost/internal/schedule"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Schedule ScheduleConfig `json:"schedule"`
	Dispatch DispatchConfig `json:"dispatch"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChannelID is the broadcast channel (e.g. -1001234567890).
	ChannelID int64 `json:"channel_id"`
	// MainAdminID is the owner: always authorized, receives failure notices,
	// and is the only user allowed to manage the admin list.
	MainAdminID int64 `json:"main_admin_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ScheduleConfig describes the posting calendar.
//
// WindowOpen/WindowClose are local "HH:MM" values; a close before the open
// means the window crosses midnight (the stock 06:00–01:00 window does).
type ScheduleConfig struct {
	Timezone    string `json:"timezone,omitempty"` // IANA TZ, e.g. "Europe/Moscow"
	WindowOpen  string `json:"window_open,omitempty"`
	WindowClose string `json:"window_close,omitempty"`
	// Slot is the spacing between consecutive publication slots
	// (Go duration string; default "30m").
	Slot string `json:"slot,omitempty"`
	// ClockTolerance before a backwards `now` is logged as a regression.
	ClockTolerance string `json:"clock_tolerance,omitempty"`
}

type DispatchConfig struct {
	// Tick is the dispatcher wake interval (Go duration string; default "30s").
	Tick string `json:"tick,omitempty"`
	// RatePerMin caps channel sends per minute.
	RatePerMin int `json:"rate_per_min,omitempty"`
	// FailNoticeAfter consecutive publish failures trigger an operator notice.
	FailNoticeAfter int `json:"fail_notice_after,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks the parts that must be right before startup (or before a
// reload is committed).
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChannelID == 0 {
		return errors.New("telegram.channel_id is required")
	}
	if c.Telegram.MainAdminID == 0 {
		return errors.New("telegram.main_admin_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("dispatch.tick", c.Dispatch.Tick); err != nil {
		return err
	}
	if _, err := ParseDurationField("schedule.clock_tolerance", c.Schedule.ClockTolerance); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	slot, err := ParseDurationOrDefault("schedule.slot", c.Schedule.Slot, schedule.DefaultSlot)
	if err != nil {
		return err
	}
	tick, err := ParseDurationOrDefault("dispatch.tick", c.Dispatch.Tick, 30*time.Second)
	if err != nil {
		return err
	}
	if tick > slot {
		return fmt.Errorf("dispatch.tick (%s) must not exceed schedule.slot (%s)", tick, slot)
	}
	return nil
}

// Window builds the schedule window from config, applying defaults.
func (c *Config) Window() (schedule.Window, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return schedule.Window{}, fmt.Errorf("schedule.timezone: %w", err)
		}
		loc = l
	}
	w := schedule.DefaultWindow(loc)

	if s := strings.TrimSpace(c.Schedule.WindowOpen); s != "" {
		m, err := schedule.ParseClock(s)
		if err != nil {
			return schedule.Window{}, fmt.Errorf("schedule.window_open: %w", err)
		}
		w.OpenMin = m
	}
	if s := strings.TrimSpace(c.Schedule.WindowClose); s != "" {
		m, err := schedule.ParseClock(s)
		if err != nil {
			return schedule.Window{}, fmt.Errorf("schedule.window_close: %w", err)
		}
		w.CloseMin = m
	}
	slot, err := ParseDurationOrDefault("schedule.slot", c.Schedule.Slot, schedule.DefaultSlot)
	if err != nil {
		return schedule.Window{}, err
	}
	w.Slot = slot
	return w, nil
}
