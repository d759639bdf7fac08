package ical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

func mustParse(t *testing.T, s string) temporal.Value {
	t.Helper()
	v, err := temporal.Parse(s)
	require.NoError(t, err)
	return v
}

func TestEncode_FieldOrder(t *testing.T) {
	until := mustParse(t, "2025-06-30")
	r := &domain.Recurrence{
		Freq:      domain.FreqWeekly,
		Interval:  2,
		Until:     &until,
		ByDay:     []domain.ByDayRule{{Weekday: domain.WeekdayMonday}, {Weekday: domain.WeekdayWednesday}},
		WeekStart: domain.WeekdaySunday,
	}

	lines, err := Encode(r)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;INTERVAL=2;UNTIL=20250630;BYDAY=MO,WE;WKST=SU", lines[0])
}

func TestEncode_UntilNormalizedToUTC(t *testing.T) {
	until := mustParse(t, "2025-03-01T00:00:00-05:00[America/New_York]")
	r := &domain.Recurrence{Freq: domain.FreqWeekly, Until: &until}

	lines, err := Encode(r)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;UNTIL=20250301T050000Z", lines[0],
		"zoned until boundary shifts to UTC")
}

func TestEncode_CountAndUntilExclusive(t *testing.T) {
	until := mustParse(t, "2025-06-30")
	r := &domain.Recurrence{Freq: domain.FreqDaily, Count: 5, Until: &until}

	_, err := Encode(r)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRecurrence))
}

func TestEncode_DatePropertiesPerVariant(t *testing.T) {
	dtstart := mustParse(t, "2025-01-06T09:00:00-05:00[America/New_York]")
	r := &domain.Recurrence{
		Freq:    domain.FreqDaily,
		DTStart: &dtstart,
		RDate: []temporal.Value{
			mustParse(t, "2025-01-10"),
			mustParse(t, "2025-01-11T09:00:00-05:00[America/New_York]"),
			mustParse(t, "2025-01-12T14:00:00Z"),
		},
		ExDate: []temporal.Value{
			mustParse(t, "2025-01-13T09:00:00-05:00[America/New_York]"),
		},
	}

	lines, err := Encode(r)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DTSTART;TZID=America/New_York:20250106T090000",
		"RRULE:FREQ=DAILY",
		"RDATE;VALUE=DATE:20250110",
		"RDATE;TZID=America/New_York:20250111T090000",
		"RDATE:20250112T140000Z",
		"EXDATE;TZID=America/New_York:20250113T090000",
	}, lines)
}

func TestEncode_RScaleLeadsRule(t *testing.T) {
	r := &domain.Recurrence{Freq: domain.FreqMonthly, RScale: "gregorian", Skip: "omit"}

	lines, err := Encode(r)
	require.NoError(t, err)
	assert.Equal(t, "RRULE:RSCALE=GREGORIAN;SKIP=OMIT;FREQ=MONTHLY", lines[0])
}

func TestRoundTrip(t *testing.T) {
	dtstart := mustParse(t, "2025-01-06T09:00:00-05:00[America/New_York]")
	until := mustParse(t, "2025-12-31T23:59:59Z")
	tests := []struct {
		name string
		rec  *domain.Recurrence
	}{
		{
			"weekly with byday",
			&domain.Recurrence{
				Freq:     domain.FreqWeekly,
				Interval: 2,
				ByDay:    []domain.ByDayRule{{Weekday: domain.WeekdayTuesday}},
				DTStart:  &dtstart,
			},
		},
		{
			"monthly second tuesday",
			&domain.Recurrence{
				Freq:  domain.FreqMonthly,
				ByDay: []domain.ByDayRule{{Ordinal: 2, Weekday: domain.WeekdayTuesday}},
				Count: 10,
			},
		},
		{
			"yearly bounded with exdate",
			&domain.Recurrence{
				Freq:    domain.FreqYearly,
				ByMonth: []int{3, 9},
				Until:   &until,
				ExDate:  []temporal.Value{mustParse(t, "2025-03-06T14:00:00Z")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := Encode(tt.rec)
			require.NoError(t, err)

			back, err := Parse(lines)
			require.NoError(t, err)

			again, err := Encode(back)
			require.NoError(t, err)
			assert.Equal(t, lines, again, "encode is stable across a decode cycle")
		})
	}
}

func TestParse_UnknownPropertyFails(t *testing.T) {
	_, err := Parse([]string{"RRULE:FREQ=DAILY", "X-CUSTOM:value"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeParseError))
}

func TestParse_MissingRule(t *testing.T) {
	_, err := Parse([]string{"RDATE;VALUE=DATE:20250110"})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRecurrence))
}

func TestExpand_WeeklyWithExDate(t *testing.T) {
	dtstart := mustParse(t, "2025-01-06T09:00:00-05:00[America/New_York]")
	r := &domain.Recurrence{
		Freq:    domain.FreqWeekly,
		Count:   4,
		DTStart: &dtstart,
		ExDate:  []temporal.Value{mustParse(t, "2025-01-13T09:00:00-05:00[America/New_York]")},
	}

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	got, err := Expand(r, "America/New_York", from, to)
	require.NoError(t, err)

	require.Len(t, got, 3, "one of four occurrences is excluded")
	assert.Equal(t, "2025-01-06T14:00:00Z", got[0].UTC().Format(time.RFC3339))
	assert.Equal(t, "2025-01-20T14:00:00Z", got[1].UTC().Format(time.RFC3339))
}

func TestExpand_RequiresDTStart(t *testing.T) {
	r := &domain.Recurrence{Freq: domain.FreqDaily}
	_, err := Expand(r, "UTC", time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRecurrence))
}

func TestNextOccurrence_Exhausted(t *testing.T) {
	dtstart := mustParse(t, "2025-01-06T09:00:00Z")
	r := &domain.Recurrence{Freq: domain.FreqDaily, Count: 2, DTStart: &dtstart}

	_, ok, err := NextOccurrence(r, "UTC", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}
