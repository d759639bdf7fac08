package in

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// CalendarService is the inbound port for the calendar aggregation
// application: provider-facing event operations, sync orchestration and
// the recurring-edit reconciliation used by update flows.
type CalendarService interface {
	// Calendar operations
	ListCalendars(ctx context.Context, accountID string, provider domain.ProviderID) ([]*domain.Calendar, error)

	// Event operations
	GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error)
	ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]*domain.CalendarEvent, error)
	CreateEvent(ctx context.Context, event *domain.CalendarEvent) (*domain.CalendarEvent, error)
	UpdateEvent(ctx context.Context, update *domain.EventUpdate) (*domain.CalendarEvent, error)
	DeleteEvent(ctx context.Context, ref domain.EventRef) error
	RespondToEvent(ctx context.Context, ref domain.EventRef, response *domain.EventResponse) (*domain.CalendarEvent, error)

	// Update preparation (recurring-edit reconciliation)
	PrepareUpdate(ctx context.Context, req *UpdateEventRequest) (*UpdatePlan, error)

	// Sync
	SyncCalendar(ctx context.Context, provider domain.ProviderID, accountID, calendarID string) (*domain.SyncResult, error)
	SyncAccount(ctx context.Context, provider domain.ProviderID, accountID string) error

	// Watch channels
	StartWatch(ctx context.Context, provider domain.ProviderID, accountID, calendarID string) error
	HandleWatchNotification(ctx context.Context, channelID string) error

	// Free/busy and export
	FreeBusy(ctx context.Context, provider domain.ProviderID, accountID string, calendarIDs []string, from, to time.Time) (map[string][]FreeBusyWindow, error)
	ExportICS(ctx context.Context, accountID, calendarID string, from, to time.Time) (string, error)
}

// UpdateEventRequest carries an edited event alongside the stored state
// it was edited from, plus the user's choices where the edit needs
// confirmation.
type UpdateEventRequest struct {
	Event      *domain.CalendarEvent `json:"event"`
	Previous   *domain.CalendarEvent `json:"previous"`
	ApplyTo    UpdateScope           `json:"apply_to,omitempty"`
	SendUpdate bool                  `json:"send_update,omitempty"`
}

// UpdateScope selects how far a recurring edit reaches.
type UpdateScope string

const (
	ScopeInstance UpdateScope = "instance"
	ScopeSeries   UpdateScope = "series"
)

// UpdatePlan is the reconciler's verdict on an edit: the prepared
// provider write plus the confirmations the caller must collect before
// executing it.
type UpdatePlan struct {
	Update                      *domain.EventUpdate `json:"update"`
	NeedsAttendeeConfirmation   bool                `json:"needs_attendee_confirmation"`
	NeedsRecurrenceConfirmation bool                `json:"needs_recurrence_confirmation"`
	IsMove                      bool                `json:"is_move"`
}

// FreeBusyWindow mirrors the provider port's busy interval for inbound
// consumers.
type FreeBusyWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
