package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"calsync_server/core/domain"
	"calsync_server/pkg/temporal"
)

func TestFromGoogleTime(t *testing.T) {
	v, err := fromGoogleTime(&calendar.EventDateTime{Date: "2025-01-06"})
	require.NoError(t, err)
	assert.Equal(t, temporal.KindPlainDate, v.Kind())

	v, err = fromGoogleTime(&calendar.EventDateTime{
		DateTime: "2025-01-06T09:00:00-05:00",
		TimeZone: "America/New_York",
	})
	require.NoError(t, err)
	assert.Equal(t, temporal.KindZoned, v.Kind())
	assert.Equal(t, "America/New_York", v.Zone())

	v, err = fromGoogleTime(&calendar.EventDateTime{DateTime: "2025-01-06T14:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, temporal.KindInstant, v.Kind())
}

func TestFromGoogleEvent_SelfResponse(t *testing.T) {
	item := &calendar.Event{
		Id:      "evt1",
		Summary: "standup",
		Start:   &calendar.EventDateTime{DateTime: "2025-01-06T14:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2025-01-06T14:30:00Z"},
		Attendees: []*calendar.EventAttendee{
			{Email: "organizer@example.com", Organizer: true, ResponseStatus: "accepted"},
			{Email: "me@example.com", Self: true, ResponseStatus: "tentative"},
		},
	}

	event, err := fromGoogleEvent(item, "acct1", "cal1")
	require.NoError(t, err)
	require.NotNil(t, event.Response)
	assert.Equal(t, domain.AttendeeTentative, event.Response.Status)
	assert.Len(t, event.Attendees, 2)
	assert.True(t, event.Attendees[0].Organizer)
}

func TestToGoogleEvent_RecurrenceOmitsDTStart(t *testing.T) {
	start, err := temporal.Parse("2025-01-06T09:00:00-05:00[America/New_York]")
	require.NoError(t, err)

	event := &domain.CalendarEvent{
		ID:    "evt1",
		Start: start,
		Recurrence: &domain.Recurrence{
			Freq:    domain.FreqWeekly,
			DTStart: &start,
		},
	}

	item, err := toGoogleEvent(event)
	require.NoError(t, err)
	require.Len(t, item.Recurrence, 1)
	assert.Equal(t, "RRULE:FREQ=WEEKLY", item.Recurrence[0])
}

func TestFromGraphCalendar_InvertsCanEdit(t *testing.T) {
	cal := fromGraphCalendar(&graphCalendar{
		ID:                "cal1",
		Name:              "Team",
		HexColor:          "#0078d4",
		IsDefaultCalendar: true,
		CanEdit:           false,
	}, "acct1")

	assert.True(t, cal.Primary)
	assert.True(t, cal.ReadOnly)
	assert.Equal(t, "#0078d4", cal.Color)
	assert.Equal(t, domain.ProviderMicrosoft, cal.ProviderID)
}

func TestFromGraphTime_TrimsFractionalSeconds(t *testing.T) {
	v, err := fromGraphTime(&graphDateTime{
		DateTime: "2025-01-06T09:00:00.0000000",
		TimeZone: "UTC",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, temporal.KindInstant, v.Kind())
	assert.Equal(t, "2025-01-06T09:00:00Z", v.String())
}

func TestFromGraphTime_AllDay(t *testing.T) {
	v, err := fromGraphTime(&graphDateTime{
		DateTime: "2025-01-06T00:00:00.0000000",
		TimeZone: "UTC",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, temporal.KindPlainDate, v.Kind())
	assert.Equal(t, "2025-01-06", v.String())
}

func TestGraphRecurrence_RelativeMonthly(t *testing.T) {
	g := &graphRecurrence{}
	g.Pattern.Type = "relativeMonthly"
	g.Pattern.Interval = 1
	g.Pattern.DaysOfWeek = []string{"tuesday"}
	g.Pattern.Index = "second"
	g.Range.Type = "numbered"
	g.Range.NumberOfOccurrences = 10

	start, _ := temporal.Parse("2025-01-14T10:00:00Z")
	r, err := fromGraphRecurrence(g, start)
	require.NoError(t, err)

	assert.Equal(t, domain.FreqMonthly, r.Freq)
	require.Len(t, r.ByDay, 1)
	assert.Equal(t, 2, r.ByDay[0].Ordinal)
	assert.Equal(t, domain.WeekdayTuesday, r.ByDay[0].Weekday)
	assert.Equal(t, 10, r.Count)

	back, err := toGraphRecurrence(r, start, "UTC")
	require.NoError(t, err)
	assert.Equal(t, "relativeMonthly", back.Pattern.Type)
	assert.Equal(t, "second", back.Pattern.Index)
	assert.Equal(t, []string{"tuesday"}, back.Pattern.DaysOfWeek)
	assert.Equal(t, "numbered", back.Range.Type)
}

func TestGraphRecurrence_EndDateBecomesUntil(t *testing.T) {
	g := &graphRecurrence{}
	g.Pattern.Type = "weekly"
	g.Pattern.Interval = 2
	g.Pattern.DaysOfWeek = []string{"monday", "friday"}
	g.Range.Type = "endDate"
	g.Range.EndDate = "2025-06-30"

	r, err := fromGraphRecurrence(g, temporal.Value{})
	require.NoError(t, err)
	require.NotNil(t, r.Until)
	assert.Equal(t, temporal.KindPlainDate, r.Until.Kind())
	assert.Equal(t, "2025-06-30", r.Until.String())
	assert.Equal(t, 2, r.Interval)
}

func TestToGraphRecurrence_RejectsBySetPos(t *testing.T) {
	r := &domain.Recurrence{Freq: domain.FreqMonthly, BySetPos: []int{-1}}
	_, err := toGraphRecurrence(r, temporal.Value{}, "UTC")
	require.Error(t, err)
}

func TestFromGraphEvent_OccurrenceLinksSeries(t *testing.T) {
	e := &graphEvent{
		ID:             "inst1",
		Subject:        "weekly sync",
		Type:           "occurrence",
		SeriesMasterID: "master1",
		Start:          &graphDateTime{DateTime: "2025-01-06T09:00:00.0000000", TimeZone: "UTC"},
		End:            &graphDateTime{DateTime: "2025-01-06T09:30:00.0000000", TimeZone: "UTC"},
		ShowAs:         "free",
	}

	event, err := fromGraphEvent(e, "acct1", "cal1")
	require.NoError(t, err)
	assert.Equal(t, "master1", event.RecurringEventID)
	assert.True(t, event.IsRecurringInstance())
	assert.Equal(t, domain.AvailabilityFree, event.Availability)
}
