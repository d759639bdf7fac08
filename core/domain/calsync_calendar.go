package domain

import (
	"time"

	"calsync_server/pkg/temporal"
)

type ProviderID string

const (
	ProviderGoogle    ProviderID = "google"
	ProviderMicrosoft ProviderID = "microsoft"
)

// Calendar is the canonical calendar record, provider-agnostic.
// SyncToken is the opaque provider-issued cursor; empty before the first
// sync. It is persisted atomically with every applied sync batch.
type Calendar struct {
	ID          string     `json:"id"`
	ProviderID  ProviderID `json:"provider_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TimeZone    string     `json:"time_zone,omitempty"`
	Primary     bool       `json:"primary"`
	AccountID   string     `json:"account_id"`
	Color       string     `json:"color,omitempty"`
	ReadOnly    bool       `json:"read_only"`
	SyncToken   string     `json:"sync_token,omitempty"`
}

type AttendeeStatus string

const (
	AttendeeAccepted  AttendeeStatus = "accepted"
	AttendeeTentative AttendeeStatus = "tentative"
	AttendeeDeclined  AttendeeStatus = "declined"
	AttendeeUnknown   AttendeeStatus = "unknown"
)

type AttendeeType string

const (
	AttendeeRequired AttendeeType = "required"
	AttendeeOptional AttendeeType = "optional"
	AttendeeResource AttendeeType = "resource"
)

type Attendee struct {
	Email     string         `json:"email"`
	Name      string         `json:"name,omitempty"`
	Status    AttendeeStatus `json:"status"`
	Type      AttendeeType   `json:"type"`
	Comment   string         `json:"comment,omitempty"`
	Organizer bool           `json:"organizer,omitempty"`
}

// IsUserOnly reports whether the attendee list describes an event that
// involves nobody but the user: either no attendees at all, or a single
// attendee who is the organizer.
func IsUserOnly(attendees []Attendee) bool {
	if len(attendees) == 0 {
		return true
	}
	return len(attendees) == 1 && attendees[0].Organizer
}

// EventResponse is the user's RSVP on an event. SendUpdate controls
// whether attendees are notified when the response is written.
type EventResponse struct {
	Status     AttendeeStatus `json:"status"`
	Comment    string         `json:"comment,omitempty"`
	SendUpdate bool           `json:"send_update,omitempty"`
}

// Conference describes a meeting link attached to an event.
type Conference struct {
	ProviderName string `json:"provider_name,omitempty"`
	ConferenceID string `json:"conference_id,omitempty"`
	JoinURL      string `json:"join_url,omitempty"`
	MeetingCode  string `json:"meeting_code,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type Availability string

const (
	AvailabilityBusy Availability = "busy"
	AvailabilityFree Availability = "free"
)

// CalendarEvent is the canonical event model. Start and End must hold the
// same temporal variant. A series master carries Recurrence and no
// RecurringEventID; a generated instance carries RecurringEventID (the
// master's ID) and no Recurrence.
type CalendarEvent struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Start       temporal.Value `json:"start"`
	End         temporal.Value `json:"end"`
	AllDay      bool           `json:"all_day,omitempty"`
	Location    string         `json:"location,omitempty"`
	Status      string         `json:"status,omitempty"`
	Availability Availability  `json:"availability,omitempty"`
	Attendees   []Attendee     `json:"attendees,omitempty"`
	URL         string         `json:"url,omitempty"`
	ETag        string         `json:"etag,omitempty"`
	Color       string         `json:"color,omitempty"`
	Visibility  string         `json:"visibility,omitempty"`
	ReadOnly    bool           `json:"read_only"`
	ProviderID  ProviderID     `json:"provider_id"`
	AccountID   string         `json:"account_id"`
	CalendarID  string         `json:"calendar_id"`
	Response    *EventResponse `json:"response,omitempty"`
	Conference  *Conference    `json:"conference,omitempty"`
	Recurrence  *Recurrence    `json:"recurrence,omitempty"`
	RecurringEventID string    `json:"recurring_event_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
}

// IsRecurringInstance reports whether the event is a generated occurrence
// of a recurring series.
func (e *CalendarEvent) IsRecurringInstance() bool {
	return e.RecurringEventID != ""
}

// IsSeriesMaster reports whether the event holds the recurrence rule for
// a series.
func (e *CalendarEvent) IsSeriesMaster() bool {
	return e.Recurrence != nil && e.RecurringEventID == ""
}

// Ref returns the storage key reference for the event.
func (e *CalendarEvent) Ref() EventRef {
	return EventRef{
		ID:         e.ID,
		AccountID:  e.AccountID,
		CalendarID: e.CalendarID,
		ProviderID: e.ProviderID,
	}
}

// EventRef identifies an event without carrying its payload; used for
// deletions, where providers only report the id of the removed item.
type EventRef struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	CalendarID string     `json:"calendar_id"`
	ProviderID ProviderID `json:"provider_id"`
}

type SyncItemStatus string

const (
	SyncItemUpdated SyncItemStatus = "updated"
	SyncItemDeleted SyncItemStatus = "deleted"
)

// SyncItem is one remote change: either an updated event payload or a
// reference to a deleted one. Exactly one of Event/Ref is set, matching
// Status.
type SyncItem struct {
	Status SyncItemStatus `json:"status"`
	Event  *CalendarEvent `json:"event,omitempty"`
	Ref    *EventRef      `json:"ref,omitempty"`
}

// UpdatedItem builds an upsert change.
func UpdatedItem(event *CalendarEvent) SyncItem {
	return SyncItem{Status: SyncItemUpdated, Event: event}
}

// DeletedItem builds a removal change.
func DeletedItem(ref EventRef) SyncItem {
	return SyncItem{Status: SyncItemDeleted, Ref: &ref}
}

type SyncStatus string

const (
	SyncIncremental SyncStatus = "incremental"
	SyncFull        SyncStatus = "full"
)

// SyncResult is the outcome of one provider sync cycle. Ephemeral: it is
// consumed by the merge step and never persisted itself.
type SyncResult struct {
	Changes   []SyncItem `json:"changes"`
	SyncToken string     `json:"sync_token,omitempty"`
	Status    SyncStatus `json:"status"`
}
