package util

import (
	"strconv"
	"strings"
	"time"
)

const (
	secsPerYear  = 31_557_600
	secsPerMonth = 2_630_016
	secsPerDay   = 86_400
)

// FormatDuration renders d as space separated units, largest first, e.g.
// "7days", "1month 2days 3h". Months are 30.44 days and years 365.25 days.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := int64(d / time.Second)
	nanos := int64(d % time.Second)

	years := secs / secsPerYear
	rem := secs % secsPerYear
	months := rem / secsPerMonth
	rem %= secsPerMonth
	days := rem / secsPerDay
	rem %= secsPerDay

	parts := make([]string, 0, 9)
	parts = appendPlural(parts, years, "year")
	parts = appendPlural(parts, months, "month")
	parts = appendPlural(parts, days, "day")
	parts = appendUnit(parts, rem/3600, "h")
	parts = appendUnit(parts, rem%3600/60, "m")
	parts = appendUnit(parts, rem%60, "s")
	parts = appendUnit(parts, nanos/1_000_000, "ms")
	parts = appendUnit(parts, nanos/1_000%1_000, "us")
	parts = appendUnit(parts, nanos%1_000, "ns")
	return strings.Join(parts, " ")
}
func appendPlural(parts []string, v int64, unit string) []string {
	if v == 0 {
		return parts
	}
	if v > 1 {
		unit += "s"
	}
	return append(parts, strconv.FormatInt(v, 10)+unit)
}
func appendUnit(parts []string, v int64, unit string) []string {
	if v == 0 {
		return parts
	}
	return append(parts, strconv.FormatInt(v, 10)+unit)
}
