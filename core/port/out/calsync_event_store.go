package out

import (
	"context"
	"time"

	"calsync_server/core/domain"
)

// =============================================================================
// Event Store Port (canonical persistence)
// =============================================================================

// EventBatch is the unit of atomic sync application: the change items of
// one provider sync cycle together with the token that becomes valid
// once they are stored. FullResync marks a replace cycle; the store then
// reconciles everything inside [WindowMin, WindowMax) against Items and
// leaves events outside the window untouched.
type EventBatch struct {
	AccountID  string
	CalendarID string
	Items      []domain.SyncItem
	SyncToken  string
	FullResync bool
	WindowMin  time.Time
	WindowMax  time.Time
}

// EventStore persists the canonical event model and the per-calendar
// sync cursor. ApplyBatch is transactional: either every item and the
// new sync token land together, or the stored state is unchanged.
type EventStore interface {
	UpsertEvent(ctx context.Context, event *domain.CalendarEvent) error
	DeleteEvent(ctx context.Context, ref domain.EventRef) error
	GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error)
	ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]*domain.CalendarEvent, error)

	ApplyBatch(ctx context.Context, batch *EventBatch) error

	GetSyncToken(ctx context.Context, accountID, calendarID string) (string, error)

	UpsertCalendar(ctx context.Context, calendar *domain.Calendar) error
	ListCalendars(ctx context.Context, accountID string) ([]*domain.Calendar, error)
}

// EventArchive keeps raw provider payloads for debugging sync disputes.
// Writes are best-effort; archive failures never fail a sync.
type EventArchive interface {
	Archive(ctx context.Context, provider domain.ProviderID, accountID, calendarID, eventID string, payload []byte) error
}

// =============================================================================
// Watch State
// =============================================================================

// WatchState records an active push notification channel so it can be
// renewed before expiry and routed back to its calendar on delivery.
type WatchState struct {
	ChannelID  string    `json:"channel_id"`
	ResourceID string    `json:"resource_id"`
	AccountID  string    `json:"account_id"`
	CalendarID string    `json:"calendar_id"`
	Provider   string    `json:"provider"`
	Expiration time.Time `json:"expiration"`
}

// WatchStore persists active watch channels.
type WatchStore interface {
	SaveWatch(ctx context.Context, state *WatchState) error
	GetWatch(ctx context.Context, channelID string) (*WatchState, error)
	DeleteWatch(ctx context.Context, channelID string) error
	ListExpiring(ctx context.Context, before time.Time) ([]*WatchState, error)
}
