package calendar

import (
	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
)

// Recurring-edit reconciliation. An edited event arrives together with
// the stored state it was edited from; these functions decide which
// confirmations the edit needs and shape the provider write so that a
// calendar change is always expressed as an explicit move directive.

// IsMovedBetweenCalendars reports whether the edit relocates the event
// to a different calendar or account.
func IsMovedBetweenCalendars(event, previous *domain.CalendarEvent) bool {
	return event.AccountID != previous.AccountID ||
		event.CalendarID != previous.CalendarID
}

// RequiresAttendeeConfirmation reports whether the edit touches other
// people: there are attendees beyond the user alone, so the caller must
// ask whether to notify them before writing.
func RequiresAttendeeConfirmation(event *domain.CalendarEvent) bool {
	return len(event.Attendees) > 0 && !domain.IsUserOnly(event.Attendees)
}

// RequiresRecurrenceConfirmation reports whether the edit targets an
// instance of a recurring series, so the caller must ask whether the
// change applies to this occurrence or the whole series.
func RequiresRecurrenceConfirmation(event *domain.CalendarEvent) bool {
	return event.IsRecurringInstance()
}

// BuildUpdateEvent prepares the provider write for an edited event. The
// payload's calendar coordinates are pinned back to the previous state
// so the write targets the calendar that currently holds the event; a
// relocation becomes a separate move directive. When sendUpdate is set
// the write carries an RSVP envelope so attendees are notified, with
// status falling back to unknown when the event has no recorded
// response.
func BuildUpdateEvent(event, previous *domain.CalendarEvent, sendUpdate bool) *domain.EventUpdate {
	payload := *event
	payload.AccountID = previous.AccountID
	payload.CalendarID = previous.CalendarID
	payload.ProviderID = previous.ProviderID

	update := &domain.EventUpdate{Event: &payload}

	if IsMovedBetweenCalendars(event, previous) {
		update.Move = &domain.MoveDirective{
			Source: domain.CalendarTarget{
				AccountID:  previous.AccountID,
				CalendarID: previous.CalendarID,
			},
			Destination: domain.CalendarTarget{
				AccountID:  event.AccountID,
				CalendarID: event.CalendarID,
			},
		}
	}

	if sendUpdate {
		status := domain.AttendeeUnknown
		if event.Response != nil && event.Response.Status != "" {
			status = event.Response.Status
		}
		update.Response = &domain.EventResponse{
			Status:     status,
			SendUpdate: true,
		}
	}
	return update
}

// BuildUpdateSeries retargets an instance edit at the series master: the
// event id becomes the master's id and the instance linkage is cleared.
// Editing a non-instance as a series is a flow bug and fails loudly.
func BuildUpdateSeries(event *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	if !event.IsRecurringInstance() {
		return nil, apperr.NotARecurringInstance(event.ID)
	}
	series := *event
	series.ID = event.RecurringEventID
	series.RecurringEventID = ""
	return &series, nil
}

// CanMoveBetweenCalendars reports whether the event may be relocated to
// the target calendar. Moves into the same calendar are no-ops, moves
// touching a read-only calendar cannot be written, and recurring events
// do not survive a move on any provider.
func CanMoveBetweenCalendars(event *domain.CalendarEvent, source, target *domain.Calendar) bool {
	if target.AccountID == event.AccountID && target.ID == event.CalendarID {
		return false
	}
	if source.ReadOnly || target.ReadOnly {
		return false
	}
	if event.Recurrence != nil || event.IsRecurringInstance() {
		return false
	}
	return true
}

// IsFirstInstance reports whether the instance is the first occurrence
// of the given series master: it must belong to the master's series and
// share its start under strict same-variant equality. A zoned master
// never matches an instant instance even at the same moment.
func IsFirstInstance(instance, master *domain.CalendarEvent) bool {
	if instance.RecurringEventID != master.ID {
		return false
	}
	return instance.Start.Equal(master.Start)
}
