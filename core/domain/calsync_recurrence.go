package domain

import (
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

type Frequency string

const (
	FreqSecondly Frequency = "SECONDLY"
	FreqMinutely Frequency = "MINUTELY"
	FreqHourly   Frequency = "HOURLY"
	FreqDaily    Frequency = "DAILY"
	FreqWeekly   Frequency = "WEEKLY"
	FreqMonthly  Frequency = "MONTHLY"
	FreqYearly   Frequency = "YEARLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqSecondly, FreqMinutely, FreqHourly, FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

type Weekday string

const (
	WeekdayMonday    Weekday = "MO"
	WeekdayTuesday   Weekday = "TU"
	WeekdayWednesday Weekday = "WE"
	WeekdayThursday  Weekday = "TH"
	WeekdayFriday    Weekday = "FR"
	WeekdaySaturday  Weekday = "SA"
	WeekdaySunday    Weekday = "SU"
)

// ByDayRule is one BYDAY entry: a weekday with an optional ordinal
// (e.g. 2TU is the second Tuesday, -1FR the last Friday). Ordinal zero
// means no ordinal.
type ByDayRule struct {
	Ordinal int     `json:"ordinal,omitempty"`
	Weekday Weekday `json:"weekday"`
}

// Recurrence is the canonical structured recurrence for a series master.
// Count and Until are mutually exclusive. RDate adds occurrences beyond
// the rule; ExDate removes generated ones.
type Recurrence struct {
	Freq       Frequency        `json:"freq"`
	Interval   int              `json:"interval,omitempty"`
	Count      int              `json:"count,omitempty"`
	Until      *temporal.Value  `json:"until,omitempty"`
	ByDay      []ByDayRule      `json:"by_day,omitempty"`
	ByMonth    []int            `json:"by_month,omitempty"`
	ByMonthDay []int            `json:"by_month_day,omitempty"`
	ByYearDay  []int            `json:"by_year_day,omitempty"`
	ByWeekNo   []int            `json:"by_week_no,omitempty"`
	ByHour     []int            `json:"by_hour,omitempty"`
	ByMinute   []int            `json:"by_minute,omitempty"`
	BySecond   []int            `json:"by_second,omitempty"`
	BySetPos   []int            `json:"by_set_pos,omitempty"`
	WeekStart  Weekday          `json:"week_start,omitempty"`
	RScale     string           `json:"rscale,omitempty"`
	Skip       string           `json:"skip,omitempty"`
	RDate      []temporal.Value `json:"r_date,omitempty"`
	ExDate     []temporal.Value `json:"ex_date,omitempty"`
	DTStart    *temporal.Value  `json:"dt_start,omitempty"`
}

// Validate checks the structural invariants a provider payload or user
// input must satisfy before the recurrence can be encoded or expanded.
func (r *Recurrence) Validate() error {
	if !r.Freq.Valid() {
		return apperr.InvalidRecurrence("freq is required")
	}
	if r.Count > 0 && r.Until != nil {
		return apperr.InvalidRecurrence("count and until are mutually exclusive")
	}
	if r.Count < 0 {
		return apperr.InvalidRecurrence("count must be positive")
	}
	if r.Interval < 0 {
		return apperr.InvalidRecurrence("interval must be positive")
	}
	return nil
}

// EffectiveInterval returns the rule interval, defaulting to 1.
func (r *Recurrence) EffectiveInterval() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}

// IsBounded reports whether the series has a finite number of
// occurrences.
func (r *Recurrence) IsBounded() bool {
	return r.Count > 0 || r.Until != nil
}
