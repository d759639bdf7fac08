// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// =============================================================================
// Calendar Provider Port (Google Calendar, Outlook Calendar)
// =============================================================================

// SyncOptions bounds a sync or listing window.
type SyncOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int
	TimeZone   string
}

// WatchChannel identifies a provider push notification channel.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// FreeBusyWindow is one busy interval returned by a free/busy query.
type FreeBusyWindow struct {
	Start time.Time
	End   time.Time
}

// CalendarProvider is the outbound port to one external calendar
// backend. Implementations resolve credentials through a TokenSource by
// account id and translate between the provider wire model and the
// canonical one.
//
// Sync contract: a non-empty syncToken requests an incremental delta.
// When the provider invalidates the token, implementations fall back to
// a full listing internally and return Status full; token invalidation
// never surfaces to the caller. The returned SyncToken is only valid
// once every change in the result has been applied.
type CalendarProvider interface {
	ID() domain.ProviderID

	ListCalendars(ctx context.Context, accountID string) ([]*domain.Calendar, error)

	ListEvents(ctx context.Context, accountID, calendarID string, opts SyncOptions) ([]*domain.CalendarEvent, error)
	GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error)
	CreateEvent(ctx context.Context, event *domain.CalendarEvent) (*domain.CalendarEvent, error)
	UpdateEvent(ctx context.Context, update *domain.EventUpdate) (*domain.CalendarEvent, error)
	DeleteEvent(ctx context.Context, ref domain.EventRef) error

	Sync(ctx context.Context, accountID, calendarID, syncToken string, opts SyncOptions) (*domain.SyncResult, error)

	Watch(ctx context.Context, accountID, calendarID, callbackURL string) (*WatchChannel, error)
	StopWatch(ctx context.Context, accountID string, channel *WatchChannel) error

	FreeBusy(ctx context.Context, accountID string, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]FreeBusyWindow, error)
}

// ProviderRegistry resolves the adapter for a provider id.
type ProviderRegistry interface {
	Provider(id domain.ProviderID) (CalendarProvider, error)
	Providers() []CalendarProvider
}
