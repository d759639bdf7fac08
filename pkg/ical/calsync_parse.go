package ical

import (
	"strconv"
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

// Parse reads iCalendar property lines (DTSTART, RRULE, RDATE, EXDATE)
// back into the structured recurrence. It is the inverse of Encode and
// tolerates any line order; unknown property names fail loudly rather
// than being skipped, since a dropped EXDATE silently resurrects
// cancelled occurrences.
func Parse(lines []string) (*domain.Recurrence, error) {
	r := &domain.Recurrence{}
	sawRule := false

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, params, value, err := splitProperty(line)
		if err != nil {
			return nil, err
		}

		switch name {
		case "RRULE":
			if err := parseRule(r, value); err != nil {
				return nil, err
			}
			sawRule = true
		case "DTSTART":
			v, err := parseDatetimeValue(params, value)
			if err != nil {
				return nil, err
			}
			r.DTStart = &v
		case "RDATE":
			v, err := parseDatetimeValue(params, value)
			if err != nil {
				return nil, err
			}
			r.RDate = append(r.RDate, v)
		case "EXDATE":
			v, err := parseDatetimeValue(params, value)
			if err != nil {
				return nil, err
			}
			r.ExDate = append(r.ExDate, v)
		default:
			return nil, apperr.ParseError(line, "unsupported recurrence property")
		}
	}

	if !sawRule {
		return nil, apperr.InvalidRecurrence("missing RRULE")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// splitProperty separates "NAME;P1=V1;P2=V2:value" into its pieces.
func splitProperty(line string) (name string, params map[string]string, value string, err error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", nil, "", apperr.ParseError(line, "missing property value")
	}
	head, value := line[:colon], line[colon+1:]

	segments := strings.Split(head, ";")
	name = strings.ToUpper(segments[0])
	if len(segments) > 1 {
		params = make(map[string]string, len(segments)-1)
		for _, seg := range segments[1:] {
			eq := strings.IndexByte(seg, '=')
			if eq < 0 {
				return "", nil, "", apperr.ParseError(line, "malformed property parameter")
			}
			params[strings.ToUpper(seg[:eq])] = seg[eq+1:]
		}
	}
	return name, params, value, nil
}

// parseDatetimeValue picks the temporal variant from the property
// parameters: VALUE=DATE is a plain date, TZID a zoned wall time and a
// trailing Z an instant.
func parseDatetimeValue(params map[string]string, value string) (temporal.Value, error) {
	if strings.EqualFold(params["VALUE"], "DATE") {
		t, err := time.Parse(basicDateLayout, value)
		if err != nil {
			return temporal.Value{}, apperr.ParseError(value, "not a date")
		}
		return temporal.NewPlainDate(t.Year(), t.Month(), t.Day())
	}
	if tzid, ok := params["TZID"]; ok {
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			return temporal.Value{}, apperr.ParseError(tzid, "unknown time zone")
		}
		t, err := time.ParseInLocation(basicWallLayout, value, loc)
		if err != nil {
			return temporal.Value{}, apperr.ParseError(value, "not a zoned date-time")
		}
		return temporal.NewZoned(t, tzid)
	}
	t, err := parseBasicUTC(value)
	if err != nil {
		return temporal.Value{}, err
	}
	return temporal.NewInstant(t), nil
}

func parseRule(r *domain.Recurrence, value string) error {
	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return apperr.ParseError(part, "malformed RRULE part")
		}
		key, val := strings.ToUpper(part[:eq]), part[eq+1:]

		var err error
		switch key {
		case "FREQ":
			r.Freq = domain.Frequency(strings.ToUpper(val))
		case "INTERVAL":
			r.Interval, err = strconv.Atoi(val)
		case "COUNT":
			r.Count, err = strconv.Atoi(val)
		case "UNTIL":
			err = parseUntil(r, val)
		case "BYDAY":
			err = parseByDay(r, val)
		case "BYMONTH":
			r.ByMonth, err = parseIntList(val)
		case "BYMONTHDAY":
			r.ByMonthDay, err = parseIntList(val)
		case "BYYEARDAY":
			r.ByYearDay, err = parseIntList(val)
		case "BYWEEKNO":
			r.ByWeekNo, err = parseIntList(val)
		case "BYHOUR":
			r.ByHour, err = parseIntList(val)
		case "BYMINUTE":
			r.ByMinute, err = parseIntList(val)
		case "BYSECOND":
			r.BySecond, err = parseIntList(val)
		case "BYSETPOS":
			r.BySetPos, err = parseIntList(val)
		case "WKST":
			r.WeekStart = domain.Weekday(strings.ToUpper(val))
		case "RSCALE":
			r.RScale = strings.ToUpper(val)
		case "SKIP":
			r.Skip = strings.ToUpper(val)
		default:
			return apperr.ParseError(part, "unknown RRULE part")
		}
		if err != nil {
			return apperr.ParseError(part, "invalid RRULE part").WithError(err)
		}
	}
	return nil
}

func parseUntil(r *domain.Recurrence, val string) error {
	if len(val) == len(basicDateLayout) {
		t, err := time.Parse(basicDateLayout, val)
		if err != nil {
			return apperr.ParseError(val, "not a date")
		}
		v, err := temporal.NewPlainDate(t.Year(), t.Month(), t.Day())
		if err != nil {
			return err
		}
		r.Until = &v
		return nil
	}
	t, err := parseBasicUTC(val)
	if err != nil {
		return err
	}
	v := temporal.NewInstant(t)
	r.Until = &v
	return nil
}

func parseByDay(r *domain.Recurrence, val string) error {
	for _, entry := range strings.Split(val, ",") {
		if len(entry) < 2 {
			return apperr.ParseError(entry, "malformed BYDAY entry")
		}
		day := entry[len(entry)-2:]
		switch domain.Weekday(day) {
		case domain.WeekdayMonday, domain.WeekdayTuesday, domain.WeekdayWednesday,
			domain.WeekdayThursday, domain.WeekdayFriday, domain.WeekdaySaturday,
			domain.WeekdaySunday:
		default:
			return apperr.ParseError(entry, "unknown weekday")
		}

		rule := domain.ByDayRule{Weekday: domain.Weekday(day)}
		if prefix := entry[:len(entry)-2]; prefix != "" {
			n, err := strconv.Atoi(prefix)
			if err != nil {
				return apperr.ParseError(entry, "malformed BYDAY ordinal")
			}
			rule.Ordinal = n
		}
		r.ByDay = append(r.ByDay, rule)
	}
	return nil
}

func parseIntList(val string) ([]int, error) {
	parts := strings.Split(val, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
