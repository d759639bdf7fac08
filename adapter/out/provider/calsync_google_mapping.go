package provider

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/ical"
	"calsync_server/pkg/temporal"
)

func asGoogleError(err error, target **googleapi.Error) bool {
	return errors.As(err, target)
}

func fromGoogleCalendar(item *calendar.CalendarListEntry, accountID string) *domain.Calendar {
	return &domain.Calendar{
		ID:          item.Id,
		ProviderID:  domain.ProviderGoogle,
		Name:        item.Summary,
		Description: item.Description,
		TimeZone:    item.TimeZone,
		Primary:     item.Primary,
		AccountID:   accountID,
		Color:       item.BackgroundColor,
		ReadOnly:    item.AccessRole == "reader" || item.AccessRole == "freeBusyReader",
	}
}

// fromGoogleTime picks the temporal variant from the wire shape: a date
// value is a plain date, a date-time with a named zone is zoned, and a
// bare date-time is an instant.
func fromGoogleTime(edt *calendar.EventDateTime) (temporal.Value, error) {
	if edt == nil {
		return temporal.Value{}, nil
	}
	if edt.Date != "" {
		return temporal.Parse(edt.Date)
	}
	t, err := time.Parse(time.RFC3339, edt.DateTime)
	if err != nil {
		return temporal.Value{}, apperr.ParseError(edt.DateTime, "not an RFC 3339 timestamp")
	}
	if edt.TimeZone != "" {
		return temporal.NewZoned(t, edt.TimeZone)
	}
	return temporal.NewInstant(t), nil
}

func toGoogleTime(v temporal.Value) *calendar.EventDateTime {
	if v.IsZero() {
		return nil
	}
	switch v.Kind() {
	case temporal.KindPlainDate:
		return &calendar.EventDateTime{Date: v.String()}
	case temporal.KindZoned:
		return &calendar.EventDateTime{
			DateTime: v.Time().Format(time.RFC3339),
			TimeZone: v.Zone(),
		}
	default:
		return &calendar.EventDateTime{DateTime: v.Time().UTC().Format(time.RFC3339)}
	}
}

var googleAttendeeStatus = map[string]domain.AttendeeStatus{
	"accepted":    domain.AttendeeAccepted,
	"tentative":   domain.AttendeeTentative,
	"declined":    domain.AttendeeDeclined,
	"needsAction": domain.AttendeeUnknown,
}

func toGoogleAttendeeStatus(s domain.AttendeeStatus) string {
	switch s {
	case domain.AttendeeAccepted:
		return "accepted"
	case domain.AttendeeTentative:
		return "tentative"
	case domain.AttendeeDeclined:
		return "declined"
	default:
		return "needsAction"
	}
}

func fromGoogleEvent(item *calendar.Event, accountID, calendarID string) (*domain.CalendarEvent, error) {
	start, err := fromGoogleTime(item.Start)
	if err != nil {
		return nil, err
	}
	end, err := fromGoogleTime(item.End)
	if err != nil {
		return nil, err
	}

	event := &domain.CalendarEvent{
		ID:               item.Id,
		Title:            item.Summary,
		Description:      item.Description,
		Start:            start,
		End:              end,
		AllDay:           start.Kind() == temporal.KindPlainDate,
		Location:         item.Location,
		Status:           item.Status,
		Availability:     domain.AvailabilityBusy,
		URL:              item.HtmlLink,
		ETag:             item.Etag,
		Color:            item.ColorId,
		Visibility:       item.Visibility,
		ReadOnly:         item.Locked,
		ProviderID:       domain.ProviderGoogle,
		AccountID:        accountID,
		CalendarID:       calendarID,
		RecurringEventID: item.RecurringEventId,
	}
	if item.Transparency == "transparent" {
		event.Availability = domain.AvailabilityFree
	}

	for _, att := range item.Attendees {
		status, ok := googleAttendeeStatus[att.ResponseStatus]
		if !ok {
			status = domain.AttendeeUnknown
		}
		attendeeType := domain.AttendeeRequired
		if att.Optional {
			attendeeType = domain.AttendeeOptional
		}
		if att.Resource {
			attendeeType = domain.AttendeeResource
		}
		event.Attendees = append(event.Attendees, domain.Attendee{
			Email:     att.Email,
			Name:      att.DisplayName,
			Status:    status,
			Type:      attendeeType,
			Comment:   att.Comment,
			Organizer: att.Organizer,
		})
		if att.Self {
			event.Response = &domain.EventResponse{Status: status, Comment: att.Comment}
		}
	}

	if len(item.Recurrence) > 0 {
		rec, err := ical.Parse(item.Recurrence)
		if err != nil {
			return nil, err
		}
		if rec.DTStart == nil && !start.IsZero() {
			dtstart := start
			rec.DTStart = &dtstart
		}
		event.Recurrence = rec
	}

	if item.ConferenceData != nil {
		event.Conference = fromGoogleConference(item.ConferenceData)
	}
	if item.Created != "" {
		if t, err := time.Parse(time.RFC3339, item.Created); err == nil {
			event.CreatedAt = t
		}
	}
	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			event.UpdatedAt = t
		}
	}
	return event, nil
}

func fromGoogleConference(data *calendar.ConferenceData) *domain.Conference {
	conf := &domain.Conference{ConferenceID: data.ConferenceId, Notes: data.Notes}
	if data.ConferenceSolution != nil {
		conf.ProviderName = data.ConferenceSolution.Name
	}
	for _, ep := range data.EntryPoints {
		if ep.EntryPointType == "video" {
			conf.JoinURL = ep.Uri
			conf.MeetingCode = ep.MeetingCode
			break
		}
	}
	return conf
}

func toGoogleEvent(event *domain.CalendarEvent) (*calendar.Event, error) {
	item := &calendar.Event{
		Id:          event.ID,
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       toGoogleTime(event.Start),
		End:         toGoogleTime(event.End),
		Visibility:  event.Visibility,
		ColorId:     event.Color,
	}
	if event.Availability == domain.AvailabilityFree {
		item.Transparency = "transparent"
	}

	for _, att := range event.Attendees {
		item.Attendees = append(item.Attendees, &calendar.EventAttendee{
			Email:          att.Email,
			DisplayName:    att.Name,
			ResponseStatus: toGoogleAttendeeStatus(att.Status),
			Optional:       att.Type == domain.AttendeeOptional,
			Resource:       att.Type == domain.AttendeeResource,
			Organizer:      att.Organizer,
			Comment:        att.Comment,
		})
	}

	if event.Recurrence != nil {
		// Google carries DTSTART in the event itself, not in the
		// recurrence property list.
		rec := *event.Recurrence
		rec.DTStart = nil
		lines, err := ical.Encode(&rec)
		if err != nil {
			return nil, err
		}
		item.Recurrence = lines
	}
	return item, nil
}

// applyGoogleResponse writes the user's RSVP into the payload's attendee
// list. The current remote attendee list is fetched first so the write
// cannot drop attendees the payload did not carry.
func applyGoogleResponse(ctx context.Context, svc *calendar.Service, calendarID, eventID string, payload *calendar.Event, response *domain.EventResponse) error {
	current, err := svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return err
	}

	attendees := payload.Attendees
	if len(attendees) == 0 {
		attendees = current.Attendees
	}
	for _, remote := range current.Attendees {
		if !remote.Self {
			continue
		}
		found := false
		for _, att := range attendees {
			if att.Email == remote.Email {
				att.ResponseStatus = toGoogleAttendeeStatus(response.Status)
				att.Comment = response.Comment
				found = true
				break
			}
		}
		if !found {
			self := *remote
			self.ResponseStatus = toGoogleAttendeeStatus(response.Status)
			self.Comment = response.Comment
			attendees = append(attendees, &self)
		}
		break
	}
	payload.Attendees = attendees
	return nil
}

func googleSendUpdates(response *domain.EventResponse) string {
	if response != nil && response.SendUpdate {
		return "all"
	}
	return "none"
}
