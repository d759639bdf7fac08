package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

func event(accountID, calendarID string) *domain.CalendarEvent {
	return &domain.CalendarEvent{
		ID:         "evt1",
		AccountID:  accountID,
		CalendarID: calendarID,
		ProviderID: domain.ProviderGoogle,
	}
}

func TestIsMovedBetweenCalendars(t *testing.T) {
	prev := event("acct1", "cal1")

	assert.False(t, IsMovedBetweenCalendars(event("acct1", "cal1"), prev))
	assert.True(t, IsMovedBetweenCalendars(event("acct1", "cal2"), prev))
	assert.True(t, IsMovedBetweenCalendars(event("acct2", "cal1"), prev))
}

func TestRequiresAttendeeConfirmation(t *testing.T) {
	e := event("acct1", "cal1")
	assert.False(t, RequiresAttendeeConfirmation(e), "no attendees")

	e.Attendees = []domain.Attendee{{Email: "me@example.com", Organizer: true}}
	assert.False(t, RequiresAttendeeConfirmation(e), "organizer alone is user-only")

	e.Attendees = append(e.Attendees, domain.Attendee{Email: "peer@example.com"})
	assert.True(t, RequiresAttendeeConfirmation(e))
}

func TestBuildUpdateEvent_PinsCalendarAndEmitsMove(t *testing.T) {
	prev := event("acct1", "cal1")
	edited := event("acct2", "cal2")

	update := BuildUpdateEvent(edited, prev, false)

	assert.Equal(t, "acct1", update.Event.AccountID, "payload stays on the source account")
	assert.Equal(t, "cal1", update.Event.CalendarID, "payload stays on the source calendar")
	require.NotNil(t, update.Move)
	assert.Equal(t, domain.CalendarTarget{AccountID: "acct1", CalendarID: "cal1"}, update.Move.Source)
	assert.Equal(t, domain.CalendarTarget{AccountID: "acct2", CalendarID: "cal2"}, update.Move.Destination)
	assert.Nil(t, update.Response)
}

func TestBuildUpdateEvent_NoMoveWhenUnmoved(t *testing.T) {
	prev := event("acct1", "cal1")
	update := BuildUpdateEvent(event("acct1", "cal1"), prev, false)
	assert.Nil(t, update.Move)
}

func TestBuildUpdateEvent_SendUpdateEnvelope(t *testing.T) {
	prev := event("acct1", "cal1")

	edited := event("acct1", "cal1")
	update := BuildUpdateEvent(edited, prev, true)
	require.NotNil(t, update.Response)
	assert.Equal(t, domain.AttendeeUnknown, update.Response.Status,
		"missing recorded response falls back to unknown")
	assert.True(t, update.Response.SendUpdate)

	edited.Response = &domain.EventResponse{Status: domain.AttendeeAccepted}
	update = BuildUpdateEvent(edited, prev, true)
	assert.Equal(t, domain.AttendeeAccepted, update.Response.Status)
}

func TestBuildUpdateSeries(t *testing.T) {
	instance := event("acct1", "cal1")
	instance.RecurringEventID = "master1"

	series, err := BuildUpdateSeries(instance)
	require.NoError(t, err)
	assert.Equal(t, "master1", series.ID)
	assert.Empty(t, series.RecurringEventID)

	_, err = BuildUpdateSeries(event("acct1", "cal1"))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotARecurringInstance))
}

func TestCanMoveBetweenCalendars(t *testing.T) {
	e := event("acct1", "cal1")
	source := &domain.Calendar{ID: "cal1", AccountID: "acct1"}
	target := &domain.Calendar{ID: "cal2", AccountID: "acct1"}

	assert.True(t, CanMoveBetweenCalendars(e, source, target))

	same := &domain.Calendar{ID: "cal1", AccountID: "acct1"}
	assert.False(t, CanMoveBetweenCalendars(e, source, same), "same calendar is a no-op")

	readonly := &domain.Calendar{ID: "cal2", AccountID: "acct1", ReadOnly: true}
	assert.False(t, CanMoveBetweenCalendars(e, source, readonly))

	recurring := event("acct1", "cal1")
	recurring.Recurrence = &domain.Recurrence{Freq: domain.FreqDaily}
	assert.False(t, CanMoveBetweenCalendars(recurring, source, target))

	instance := event("acct1", "cal1")
	instance.RecurringEventID = "master1"
	assert.False(t, CanMoveBetweenCalendars(instance, source, target))
}

func TestIsFirstInstance(t *testing.T) {
	zonedStart, err := temporal.Parse("2025-01-06T09:00:00-05:00[America/New_York]")
	require.NoError(t, err)
	instantStart, err := temporal.Parse("2025-01-06T14:00:00Z")
	require.NoError(t, err)

	master := event("acct1", "cal1")
	master.ID = "master1"
	master.Start = zonedStart

	instance := event("acct1", "cal1")
	instance.RecurringEventID = "master1"
	instance.Start = zonedStart
	assert.True(t, IsFirstInstance(instance, master))

	// Same absolute moment but different temporal variant.
	crossVariant := event("acct1", "cal1")
	crossVariant.RecurringEventID = "master1"
	crossVariant.Start = instantStart
	assert.False(t, IsFirstInstance(crossVariant, master))

	other := event("acct1", "cal1")
	other.RecurringEventID = "other-master"
	other.Start = zonedStart
	assert.False(t, IsFirstInstance(other, master))

	later := event("acct1", "cal1")
	later.RecurringEventID = "master1"
	later.Start = zonedStart.AddDays(7)
	assert.False(t, IsFirstInstance(later, master))
}
