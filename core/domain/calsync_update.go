package domain

// CalendarTarget addresses a calendar within a connected account.
type CalendarTarget struct {
	AccountID  string `json:"account_id"`
	CalendarID string `json:"calendar_id"`
}

// MoveDirective asks a provider to relocate an event between calendars.
// Moves are never expressed by mutating the event's own calendar fields;
// those stay pinned to the source so the provider write targets the
// calendar that actually holds the event.
type MoveDirective struct {
	Source      CalendarTarget `json:"source"`
	Destination CalendarTarget `json:"destination"`
}

// EventUpdate is a fully prepared provider write: the event payload with
// its calendar coordinates pinned to where it currently lives, an
// optional move directive, and an optional RSVP write.
type EventUpdate struct {
	Event    *CalendarEvent `json:"event"`
	Move     *MoveDirective `json:"move,omitempty"`
	Response *EventResponse `json:"response,omitempty"`
}
