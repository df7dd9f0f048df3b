// Package countdown runs the one-second countdown against the remaining-time
// budget and fires badge, sound and notification alerts from the user's
// rules.
package countdown

import (
	"fmt"
	"math"
	"strconv"

	"github.com/clockguard/clockguard/internal/model"
)

// Default badge colors used when no badge rule matches.
const (
	ColorNeutral = "#f0a500" // no budget assigned
	ColorOK      = "#2e7d32"
	ColorOver    = "#c62828"

	infinityGlyph = "∞"
)

// BadgeText formats remaining seconds for the badge. Hours are truncated to
// one decimal, minutes rounded up, and non-positive values render "over".
func BadgeText(remaining *int64) string {
	if remaining == nil {
		return infinityGlyph
	}
	s := *remaining
	switch {
	case s >= 3600:
		return formatHours(s) + "h"
	case s >= 60:
		return strconv.FormatInt((s+59)/60, 10) + "m"
	case s > 0:
		return strconv.FormatInt(s, 10) + "s"
	default:
		return "over"
	}
}

func formatHours(s int64) string {
	h := math.Trunc(float64(s)/3600*10) / 10
	return strconv.FormatFloat(h, 'f', 1, 64)
}

// BadgeColor selects the badge color: among badge rules scoped to jobcodeID,
// the one with the smallest threshold at or above the remaining value wins;
// otherwise the positive/non-positive default applies, and a nil budget is
// always neutral.
func BadgeColor(remaining *int64, rules []model.AlertRule, jobcodeID int64) string {
	if remaining == nil {
		return ColorNeutral
	}
	var best *model.AlertRule
	for i := range rules {
		r := &rules[i]
		if r.Type != model.AlertBadge || !r.AppliesTo(jobcodeID) {
			continue
		}
		if r.TimeInSeconds < *remaining {
			continue
		}
		if best == nil || r.TimeInSeconds < best.TimeInSeconds {
			best = r
		}
	}
	if best != nil {
		return best.Asset
	}
	if *remaining > 0 {
		return ColorOK
	}
	return ColorOver
}

// NotificationMessage builds the human-readable alert text for a remaining
// value, using the same threshold bands as the badge text.
func NotificationMessage(remaining int64) string {
	switch {
	case remaining <= 0:
		return "reached overtime"
	case remaining >= 3600:
		h := formatHours(remaining)
		if h == "1.0" {
			return "1.0 hour remaining"
		}
		return h + " hours remaining"
	case remaining >= 60:
		return pluralRemaining((remaining+59)/60, "minute")
	default:
		return pluralRemaining(remaining, "second")
	}
}

func pluralRemaining(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s remaining", unit)
	}
	return fmt.Sprintf("%d %ss remaining", n, unit)
}
