package ical

import (
	"time"

	"github.com/teambition/rrule-go"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
)

var rruleFreq = map[domain.Frequency]rrule.Frequency{
	domain.FreqSecondly: rrule.SECONDLY,
	domain.FreqMinutely: rrule.MINUTELY,
	domain.FreqHourly:   rrule.HOURLY,
	domain.FreqDaily:    rrule.DAILY,
	domain.FreqWeekly:   rrule.WEEKLY,
	domain.FreqMonthly:  rrule.MONTHLY,
	domain.FreqYearly:   rrule.YEARLY,
}

var rruleWeekday = map[domain.Weekday]rrule.Weekday{
	domain.WeekdayMonday:    rrule.MO,
	domain.WeekdayTuesday:   rrule.TU,
	domain.WeekdayWednesday: rrule.WE,
	domain.WeekdayThursday:  rrule.TH,
	domain.WeekdayFriday:    rrule.FR,
	domain.WeekdaySaturday:  rrule.SA,
	domain.WeekdaySunday:    rrule.SU,
}

// Expand generates the occurrence start instants of a series within
// [from, to], inclusive. RDate values are added and ExDate values
// removed after rule expansion. The recurrence must carry a DTStart.
func Expand(r *domain.Recurrence, timeZone string, from, to time.Time) ([]time.Time, error) {
	set, err := buildSet(r, timeZone)
	if err != nil {
		return nil, err
	}
	return set.Between(from, to, true), nil
}

// NextOccurrence returns the first occurrence at or after the given
// instant; ok is false when the series is exhausted.
func NextOccurrence(r *domain.Recurrence, timeZone string, after time.Time) (time.Time, bool, error) {
	set, err := buildSet(r, timeZone)
	if err != nil {
		return time.Time{}, false, err
	}
	next := set.After(after, true)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

func buildSet(r *domain.Recurrence, timeZone string) (*rrule.Set, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.DTStart == nil {
		return nil, apperr.InvalidRecurrence("dtstart is required for expansion")
	}

	freq, ok := rruleFreq[r.Freq]
	if !ok {
		return nil, apperr.InvalidRecurrence("unsupported frequency " + string(r.Freq))
	}

	dtstart, err := r.DTStart.ToInstant(timeZone)
	if err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Freq:       freq,
		Interval:   r.EffectiveInterval(),
		Count:      r.Count,
		Dtstart:    dtstart,
		Bymonth:    r.ByMonth,
		Bymonthday: r.ByMonthDay,
		Byyearday:  r.ByYearDay,
		Byweekno:   r.ByWeekNo,
		Byhour:     r.ByHour,
		Byminute:   r.ByMinute,
		Bysecond:   r.BySecond,
		Bysetpos:   r.BySetPos,
	}

	if r.Until != nil {
		until, err := r.Until.ToInstant(timeZone)
		if err != nil {
			return nil, err
		}
		opt.Until = until
	}

	for _, d := range r.ByDay {
		wd, ok := rruleWeekday[d.Weekday]
		if !ok {
			return nil, apperr.InvalidRecurrence("unknown weekday " + string(d.Weekday))
		}
		if d.Ordinal != 0 {
			wd = wd.Nth(d.Ordinal)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}

	if r.WeekStart != "" {
		wd, ok := rruleWeekday[r.WeekStart]
		if !ok {
			return nil, apperr.InvalidRecurrence("unknown week start " + string(r.WeekStart))
		}
		opt.Wkst = wd
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, apperr.InvalidRecurrence(err.Error())
	}

	set := &rrule.Set{}
	set.DTStart(dtstart)
	set.RRule(rule)

	for _, v := range r.RDate {
		t, err := v.ToInstant(timeZone)
		if err != nil {
			return nil, err
		}
		set.RDate(t)
	}
	for _, v := range r.ExDate {
		t, err := v.ToInstant(timeZone)
		if err != nil {
			return nil, err
		}
		set.ExDate(t)
	}
	return set, nil
}
