package ical

import (
	"time"

	ics "github.com/arran4/golang-ical"

	"calsync_server/core/domain"
	"calsync_server/pkg/temporal"
)

// ExportCalendar renders events as a VCALENDAR document for download or
// subscription feeds. Recurring series masters carry their RRULE, RDATE
// and EXDATE properties; generated instances are not exported since a
// consuming client re-expands the series itself.
func ExportCalendar(name string, events []*domain.CalendarEvent) (string, error) {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//calsync//calendar export//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, event := range events {
		if event.IsRecurringInstance() {
			continue
		}
		if err := addEvent(cal, event); err != nil {
			return "", err
		}
	}
	return cal.Serialize(), nil
}

func addEvent(cal *ics.Calendar, event *domain.CalendarEvent) error {
	ve := cal.AddEvent(event.ID)
	ve.SetDtStampTime(time.Now().UTC())

	if !event.CreatedAt.IsZero() {
		ve.SetCreatedTime(event.CreatedAt)
	}
	if !event.UpdatedAt.IsZero() {
		ve.SetModifiedAt(event.UpdatedAt)
	}

	setTimes(ve, event)

	if event.Title != "" {
		ve.SetSummary(event.Title)
	}
	if event.Description != "" {
		ve.SetDescription(event.Description)
	}
	if event.Location != "" {
		ve.SetLocation(event.Location)
	}
	if event.URL != "" {
		ve.SetURL(event.URL)
	}
	if event.Conference != nil && event.Conference.JoinURL != "" && event.URL == "" {
		ve.SetURL(event.Conference.JoinURL)
	}

	for _, att := range event.Attendees {
		if att.Organizer {
			if att.Name != "" {
				ve.SetOrganizer(att.Email, ics.WithCN(att.Name))
			} else {
				ve.SetOrganizer(att.Email)
			}
			continue
		}
		params := []ics.PropertyParameter{participationStatus(att.Status)}
		if att.Name != "" {
			params = append(params, ics.WithCN(att.Name))
		}
		ve.AddAttendee(att.Email, params...)
	}

	if event.Recurrence != nil {
		if err := addRecurrenceProperties(ve, event.Recurrence); err != nil {
			return err
		}
	}
	return nil
}

// setTimes writes DTSTART/DTEND in the form matching the temporal
// variant. All-day events use date values, zoned events keep their TZID
// and instants are written in UTC.
func setTimes(ve *ics.VEvent, event *domain.CalendarEvent) {
	start, end := event.Start, event.End
	switch start.Kind() {
	case temporal.KindPlainDate:
		ve.SetAllDayStartAt(start.Time())
		if !end.IsZero() {
			ve.SetAllDayEndAt(end.Time())
		}
	default:
		if start.Zone() != "" {
			ve.SetProperty(ics.ComponentPropertyDtStart,
				start.Time().Format(basicWallLayout),
				&ics.KeyValues{Key: "TZID", Value: []string{start.Zone()}})
		} else {
			ve.SetStartAt(start.Time().UTC())
		}
		if end.IsZero() {
			return
		}
		if end.Zone() != "" {
			ve.SetProperty(ics.ComponentPropertyDtEnd,
				end.Time().Format(basicWallLayout),
				&ics.KeyValues{Key: "TZID", Value: []string{end.Zone()}})
		} else {
			ve.SetEndAt(end.Time().UTC())
		}
	}
}

// addRecurrenceProperties re-emits the encoded recurrence lines as
// structured properties. DTSTART lines are skipped since the event
// already carries its own start.
func addRecurrenceProperties(ve *ics.VEvent, r *domain.Recurrence) error {
	lines, err := Encode(r)
	if err != nil {
		return err
	}
	for _, line := range lines {
		name, params, value, err := splitProperty(line)
		if err != nil {
			return err
		}
		if name == "DTSTART" {
			continue
		}
		icsParams := make([]ics.PropertyParameter, 0, len(params))
		for k, v := range params {
			icsParams = append(icsParams, &ics.KeyValues{Key: k, Value: []string{v}})
		}
		ve.AddProperty(ics.ComponentProperty(name), value, icsParams...)
	}
	return nil
}

func participationStatus(s domain.AttendeeStatus) ics.PropertyParameter {
	switch s {
	case domain.AttendeeAccepted:
		return ics.ParticipationStatusAccepted
	case domain.AttendeeTentative:
		return ics.ParticipationStatusTentative
	case domain.AttendeeDeclined:
		return ics.ParticipationStatusDeclined
	default:
		return ics.ParticipationStatusNeedsAction
	}
}
