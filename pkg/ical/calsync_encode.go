// Package ical converts between the structured recurrence model and the
// iCalendar property lines providers exchange (RRULE, RDATE, EXDATE,
// DTSTART), expands recurrences into occurrence instants, and renders
// full ICS documents for export.
package ical

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

const (
	basicDateLayout    = "20060102"
	basicUTCLayout     = "20060102T150405Z"
	basicWallLayout    = "20060102T150405"
)

// Encode renders a recurrence as iCalendar property lines in a fixed
// order: DTSTART (when present), RRULE, then one RDATE line per added
// date and one EXDATE line per excluded date. The fixed ordering keeps
// encoded output byte-stable so provider payloads can be diffed.
func Encode(r *domain.Recurrence) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	lines := make([]string, 0, 2+len(r.RDate)+len(r.ExDate))

	if r.DTStart != nil {
		lines = append(lines, datetimeProperty("DTSTART", *r.DTStart))
	}

	rule, err := encodeRule(r)
	if err != nil {
		return nil, err
	}
	lines = append(lines, "RRULE:"+rule)

	for _, v := range r.RDate {
		lines = append(lines, datetimeProperty("RDATE", v))
	}
	for _, v := range r.ExDate {
		lines = append(lines, datetimeProperty("EXDATE", v))
	}
	return lines, nil
}

// encodeRule builds the RRULE value. Parts appear in a fixed order so
// equivalent rules always encode identically.
func encodeRule(r *domain.Recurrence) (string, error) {
	parts := make([]string, 0, 8)

	if r.RScale != "" {
		parts = append(parts, "RSCALE="+strings.ToUpper(r.RScale))
		if r.Skip != "" {
			parts = append(parts, "SKIP="+strings.ToUpper(r.Skip))
		}
	}

	parts = append(parts, "FREQ="+string(r.Freq))

	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		until, err := encodeUntil(*r.Until)
		if err != nil {
			return "", err
		}
		parts = append(parts, "UNTIL="+until)
	}

	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			if d.Ordinal != 0 {
				days[i] = strconv.Itoa(d.Ordinal) + string(d.Weekday)
			} else {
				days[i] = string(d.Weekday)
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	parts = appendIntList(parts, "BYMONTH", r.ByMonth)
	parts = appendIntList(parts, "BYMONTHDAY", r.ByMonthDay)
	parts = appendIntList(parts, "BYYEARDAY", r.ByYearDay)
	parts = appendIntList(parts, "BYWEEKNO", r.ByWeekNo)
	parts = appendIntList(parts, "BYHOUR", r.ByHour)
	parts = appendIntList(parts, "BYMINUTE", r.ByMinute)
	parts = appendIntList(parts, "BYSECOND", r.BySecond)
	parts = appendIntList(parts, "BYSETPOS", r.BySetPos)

	if r.WeekStart != "" {
		parts = append(parts, "WKST="+string(r.WeekStart))
	}

	return strings.Join(parts, ";"), nil
}

// encodeUntil normalizes the UNTIL boundary. A date-only boundary stays
// a date; anything carrying a time is projected to UTC, so zone-local
// boundaries shift by their offset.
func encodeUntil(v temporal.Value) (string, error) {
	if v.Kind() == temporal.KindPlainDate {
		return v.Time().Format(basicDateLayout), nil
	}
	instant, err := v.ToInstant("UTC")
	if err != nil {
		return "", err
	}
	return instant.Format(basicUTCLayout), nil
}

// datetimeProperty renders a single dated property in the parameter
// form matching the value's variant.
func datetimeProperty(name string, v temporal.Value) string {
	switch v.Kind() {
	case temporal.KindPlainDate:
		return fmt.Sprintf("%s;VALUE=DATE:%s", name, v.Time().Format(basicDateLayout))
	case temporal.KindZoned:
		return fmt.Sprintf("%s;TZID=%s:%s", name, v.Zone(), v.Time().Format(basicWallLayout))
	default:
		return fmt.Sprintf("%s:%s", name, v.Time().UTC().Format(basicUTCLayout))
	}
}

func appendIntList(parts []string, key string, values []int) []string {
	if len(values) == 0 {
		return parts
	}
	strs := make([]string, len(values))
	for i, n := range values {
		strs[i] = strconv.Itoa(n)
	}
	return append(parts, key+"="+strings.Join(strs, ","))
}

// parseBasicUTC reads the compact UTC form used by UNTIL and instant
// RDATE/EXDATE values.
func parseBasicUTC(s string) (time.Time, error) {
	t, err := time.Parse(basicUTCLayout, s)
	if err != nil {
		return time.Time{}, apperr.ParseError(s, "not a UTC date-time")
	}
	return t, nil
}
