// Package mode names the user contexts that tune labeling and ranking, and
// detects the current one from the clock.
package mode

import (
	"slices"
	"time"

	"github.com/pbaille/triage/internal/config"
)

const (
	Work     = "work"
	Personal = "personal"
	Weekend  = "weekend"
	Evening  = "evening"
	Auto     = "auto"
)

// Valid reports whether m is a known mode name.
func Valid(m string) bool {
	switch m {
	case Work, Personal, Weekend, Evening, Auto:
		return true
	}
	return false
}

// Detect picks a mode for the given time: weekend days first, then weekday
// work hours, then evening hours, else personal.
func Detect(now time.Time, tb config.TimeBasedModes) string {
	work := hourRange(tb.WeekdayWorkHours, 9, 17)
	evening := hourRange(tb.EveningHours, 18, 22)
	weekend := tb.WeekendDays
	if !tb.Enabled || len(weekend) == 0 {
		weekend = []int{int(time.Sunday), int(time.Saturday)}
	}
	if !tb.Enabled {
		work, evening = [2]int{9, 17}, [2]int{18, 22}
	}

	if slices.Contains(weekend, int(now.Weekday())) {
		return Weekend
	}
	h := now.Hour()
	switch {
	case work[0] <= h && h <= work[1]:
		return Work
	case evening[0] <= h && h <= evening[1]:
		return Evening
	}
	return Personal
}

// Resolve returns the concrete mode: empty falls back to def, auto is
// detected from now.
func Resolve(m, def string, now time.Time, tb config.TimeBasedModes) string {
	if m == "" {
		m = def
	}
	if m == "" {
		m = Personal
	}
	if m == Auto {
		return Detect(now, tb)
	}
	return m
}

func hourRange(r []int, lo, hi int) [2]int {
	if len(r) != 2 {
		return [2]int{lo, hi}
	}
	return [2]int{r[0], r[1]}
}
