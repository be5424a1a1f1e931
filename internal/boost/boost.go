// Package boost resolves promotional point multipliers from admin-configured
// boost windows. Percentages are absolute: 100 means base points, 200 means
// double. When several windows overlap, the highest wins.
package boost

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/komunitas/loyalty-server/internal/model"
)

// BasePercent is the multiplier when no boost window is active.
const BasePercent = 100

// DefaultBoostPercent applies when a flag-configured window's setting name
// has no specific default of its own.
const DefaultBoostPercent = 200

// flagDefaults holds the percentage used when a well-known window is enabled
// as a bare activation flag instead of a numeric value.
var flagDefaults = map[string]float64{
	"main_event_boost": 300,
	"weekend_boost":    200,
	"special_boost":    500,
}

// FlagDefault returns the default percentage for a flag-configured window
// with the given setting name.
func FlagDefault(settingName string) float64 {
	if pct, ok := flagDefaults[strings.ToLower(strings.TrimSpace(settingName))]; ok {
		return pct
	}
	return DefaultBoostPercent
}

// Value is a parsed boost window setting: either an explicit percentage or
// an activation flag carrying the window's default percentage.
type Value struct {
	Percent float64
	Valid   bool
}

// ParseValue interprets a window's raw setting value. A positive number
// (fractions allowed) is a percentage; "true" or "active" (any case) enables
// the default boost for that setting name. Anything else is invalid and the
// window contributes nothing.
func ParseValue(settingName, raw string) Value {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if f > 0 && !math.IsInf(f, 1) {
			return Value{Percent: f, Valid: true}
		}
		return Value{}
	}
	switch strings.ToLower(raw) {
	case "true", "active":
		return Value{Percent: FlagDefault(settingName), Valid: true}
	}
	return Value{}
}

// Status classifies a window relative to now.
type Status string

const (
	StatusActive   Status = "active"
	StatusUpcoming Status = "upcoming"
	StatusExpired  Status = "expired"
)

// Classify reports whether a window is active, upcoming or expired at now.
// A window is active on its boundary instants.
func Classify(now time.Time, w model.BoostWindow) Status {
	if now.Before(w.StartDate) {
		return StatusUpcoming
	}
	if now.After(w.EndDate) {
		return StatusExpired
	}
	return StatusActive
}

// Resolve returns the effective boost percentage at now: the maximum over
// all active, validly-configured windows, or BasePercent when none apply.
func Resolve(now time.Time, windows []model.BoostWindow) float64 {
	pct := float64(BasePercent)
	for _, w := range windows {
		if Classify(now, w) != StatusActive {
			continue
		}
		v := ParseValue(w.SettingName, w.SettingValue)
		if v.Valid && v.Percent > pct {
			pct = v.Percent
		}
	}
	return pct
}

// Active returns the active windows at now whose settings parse, for display.
func Active(now time.Time, windows []model.BoostWindow) []model.BoostWindow {
	var active []model.BoostWindow
	for _, w := range windows {
		if Classify(now, w) == StatusActive && ParseValue(w.SettingName, w.SettingValue).Valid {
			active = append(active, w)
		}
	}
	return active
}

// BonusPoints applies a percentage to a base award, flooring the result.
func BonusPoints(base int64, percent float64) int64 {
	return int64(math.Floor(float64(base) * percent / 100))
}
