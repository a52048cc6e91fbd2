package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSlot is the spacing between consecutive publication slots.
const DefaultSlot = 30 * time.Minute

// Window describes the daily active posting window in a fixed timezone.
//
// OpenMin/CloseMin are minutes from local midnight. CloseMin < OpenMin means
// the window crosses midnight: [OpenMin, 24:00) ∪ [00:00, CloseMin).
// The close bound is exclusive; a timestamp at exactly CloseMin is outside.
type Window struct {
	OpenMin  int
	CloseMin int
	Slot     time.Duration
	Loc      *time.Location
}

// DefaultWindow is the stock 06:00–01:00 (next day) window.
func DefaultWindow(loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	return Window{OpenMin: 6 * 60, CloseMin: 1 * 60, Slot: DefaultSlot, Loc: loc}
}

// Contains reports whether t falls inside the active window.
func (w Window) Contains(t time.Time) bool {
	t = t.In(w.Loc)
	// Seconds resolution: 00:59:59 is inside, 01:00:00 is not.
	sod := t.Hour()*3600 + t.Minute()*60 + t.Second()
	openSec := w.OpenMin * 60
	closeSec := w.CloseMin * 60
	if closeSec <= openSec {
		// crosses midnight
		return sod >= openSec || sod < closeSec
	}
	return sod >= openSec && sod < closeSec
}

// NextSlot returns the publication slot for a target time t: t itself when
// it lies inside the active window, otherwise the window open time that
// follows t. Targets advancing in Slot steps therefore stay exactly one
// Slot apart until a dead-window correction jumps to the open time.
func (w Window) NextSlot(t time.Time) time.Time {
	t = t.In(w.Loc)
	if w.Contains(t) {
		return t
	}
	// Open time of t's calendar day, or of the next day when that open
	// time is already behind t.
	y, m, d := t.Date()
	open := time.Date(y, m, d, 0, w.OpenMin, 0, 0, w.Loc)
	if open.Before(t) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// ParseClock parses a "HH:MM" wall-clock value into minutes from midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
