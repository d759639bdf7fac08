// Package calendar implements the calendar aggregation core: provider
// dispatch, event operations, sync orchestration and recurring-edit
// reconciliation.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/ical"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/resilience"
)

// Config tunes the service.
type Config struct {
	// DefaultTimeZone is the fallback zone for plain-date conversions.
	DefaultTimeZone string
	// SyncWindowPast/Future bound full-resync reconciliation.
	SyncWindowPast   time.Duration
	SyncWindowFuture time.Duration
	// SyncTimeout bounds one sync cycle end to end.
	SyncTimeout time.Duration
	// WatchCallbackURL receives provider push notifications.
	WatchCallbackURL string
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeZone:  "UTC",
		SyncWindowPast:   30 * 24 * time.Hour,
		SyncWindowFuture: 365 * 24 * time.Hour,
		SyncTimeout:      2 * time.Minute,
	}
}

type Service struct {
	registry out.ProviderRegistry
	store    out.EventStore
	tokens   out.TokenSource
	watches  out.WatchStore
	cfg      Config
	log      zerolog.Logger

	breakers map[domain.ProviderID]*gobreaker.CircuitBreaker

	// one mutex per calendar serializes its sync cycles
	mu        sync.Mutex
	syncLocks map[string]*sync.Mutex
}

var _ in.CalendarService = (*Service)(nil)

func NewService(
	registry out.ProviderRegistry,
	store out.EventStore,
	tokens out.TokenSource,
	watches out.WatchStore,
	cfg Config,
) *Service {
	if cfg.DefaultTimeZone == "" {
		cfg.DefaultTimeZone = "UTC"
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultConfig().SyncTimeout
	}

	breakers := make(map[domain.ProviderID]*gobreaker.CircuitBreaker)
	for _, p := range registry.Providers() {
		breakers[p.ID()] = resilience.NewBreaker(
			resilience.DefaultBreakerConfig("provider:" + string(p.ID())))
	}

	return &Service{
		registry:  registry,
		store:     store,
		tokens:    tokens,
		watches:   watches,
		cfg:       cfg,
		log:       logger.For("calendar"),
		breakers:  breakers,
		syncLocks: make(map[string]*sync.Mutex),
	}
}

// call runs a provider operation behind the provider's circuit breaker,
// retrying exactly once after a token refresh when the provider reports
// expired credentials.
func call[T any](ctx context.Context, s *Service, provider domain.ProviderID, accountID string, fn func() (T, error)) (T, error) {
	cb := s.breakers[provider]
	run := fn
	if cb != nil {
		run = func() (T, error) { return resilience.Execute(cb, fn) }
	}

	result, err := run()
	if err == nil || !apperr.IsAuthExpired(err) {
		return result, err
	}

	s.log.Info().Str("account", accountID).Msg("access token expired, refreshing")
	if _, refreshErr := s.tokens.Refresh(ctx, accountID); refreshErr != nil {
		var zero T
		return zero, apperr.AuthExpired(accountID).WithError(refreshErr)
	}
	return run()
}

func (s *Service) provider(id domain.ProviderID) (out.CalendarProvider, error) {
	return s.registry.Provider(id)
}

// ListCalendars fetches the account's calendars from the provider and
// refreshes the stored copies.
func (s *Service) ListCalendars(ctx context.Context, accountID string, providerID domain.ProviderID) ([]*domain.Calendar, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return nil, err
	}
	calendars, err := call(ctx, s, providerID, accountID, func() ([]*domain.Calendar, error) {
		return p.ListCalendars(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range calendars {
		if storeErr := s.store.UpsertCalendar(ctx, c); storeErr != nil {
			s.log.Warn().Err(storeErr).Str("calendar", c.ID).Msg("calendar upsert failed")
		}
	}
	return calendars, nil
}

func (s *Service) GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error) {
	p, err := s.provider(ref.ProviderID)
	if err != nil {
		return nil, err
	}
	return call(ctx, s, ref.ProviderID, ref.AccountID, func() (*domain.CalendarEvent, error) {
		return p.GetEvent(ctx, ref)
	})
}

// ListEvents serves from the canonical store.
func (s *Service) ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]*domain.CalendarEvent, error) {
	return s.store.ListEvents(ctx, accountID, calendarID, from, to)
}

func (s *Service) CreateEvent(ctx context.Context, event *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	if event.Recurrence != nil {
		if err := event.Recurrence.Validate(); err != nil {
			return nil, err
		}
	}
	p, err := s.provider(event.ProviderID)
	if err != nil {
		return nil, err
	}
	created, err := call(ctx, s, event.ProviderID, event.AccountID, func() (*domain.CalendarEvent, error) {
		return p.CreateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if storeErr := s.store.UpsertEvent(ctx, created); storeErr != nil {
		s.log.Warn().Err(storeErr).Str("event", created.ID).Msg("event upsert failed after create")
	}
	return created, nil
}

// UpdateEvent executes a prepared provider write. A move directive may
// change the event's identity on providers that cannot relocate in
// place; the returned event is authoritative.
func (s *Service) UpdateEvent(ctx context.Context, update *domain.EventUpdate) (*domain.CalendarEvent, error) {
	event := update.Event
	if event.Recurrence != nil {
		if err := event.Recurrence.Validate(); err != nil {
			return nil, err
		}
	}
	p, err := s.provider(event.ProviderID)
	if err != nil {
		return nil, err
	}
	updated, err := call(ctx, s, event.ProviderID, event.AccountID, func() (*domain.CalendarEvent, error) {
		return p.UpdateEvent(ctx, update)
	})
	if err != nil {
		return nil, err
	}

	if update.Move != nil && updated.ID != event.ID {
		// Relocation minted a new id; drop the stored original.
		if delErr := s.store.DeleteEvent(ctx, event.Ref()); delErr != nil {
			s.log.Warn().Err(delErr).Str("event", event.ID).Msg("stale event cleanup failed after move")
		}
	}
	if storeErr := s.store.UpsertEvent(ctx, updated); storeErr != nil {
		s.log.Warn().Err(storeErr).Str("event", updated.ID).Msg("event upsert failed after update")
	}
	return updated, nil
}

func (s *Service) DeleteEvent(ctx context.Context, ref domain.EventRef) error {
	p, err := s.provider(ref.ProviderID)
	if err != nil {
		return err
	}
	_, err = call(ctx, s, ref.ProviderID, ref.AccountID, func() (struct{}, error) {
		return struct{}{}, p.DeleteEvent(ctx, ref)
	})
	if err != nil {
		return err
	}
	return s.store.DeleteEvent(ctx, ref)
}

// RespondToEvent writes the user's RSVP without touching the rest of the
// event.
func (s *Service) RespondToEvent(ctx context.Context, ref domain.EventRef, response *domain.EventResponse) (*domain.CalendarEvent, error) {
	p, err := s.provider(ref.ProviderID)
	if err != nil {
		return nil, err
	}
	event, err := call(ctx, s, ref.ProviderID, ref.AccountID, func() (*domain.CalendarEvent, error) {
		return p.GetEvent(ctx, ref)
	})
	if err != nil {
		return nil, err
	}

	update := &domain.EventUpdate{Event: event, Response: response}
	updated, err := call(ctx, s, ref.ProviderID, ref.AccountID, func() (*domain.CalendarEvent, error) {
		return p.UpdateEvent(ctx, update)
	})
	if err != nil {
		return nil, err
	}
	if storeErr := s.store.UpsertEvent(ctx, updated); storeErr != nil {
		s.log.Warn().Err(storeErr).Str("event", updated.ID).Msg("event upsert failed after response")
	}
	return updated, nil
}

// PrepareUpdate runs the recurring-edit reconciliation for an edited
// event and returns the provider write plus the confirmations the
// caller still has to collect.
func (s *Service) PrepareUpdate(ctx context.Context, req *in.UpdateEventRequest) (*in.UpdatePlan, error) {
	if req.Event == nil || req.Previous == nil {
		return nil, apperr.MissingField("event")
	}

	event := req.Event
	if req.ApplyTo == in.ScopeSeries {
		series, err := BuildUpdateSeries(event)
		if err != nil {
			return nil, err
		}
		event = series
	}

	update := BuildUpdateEvent(event, req.Previous, req.SendUpdate)
	return &in.UpdatePlan{
		Update:                      update,
		NeedsAttendeeConfirmation:   RequiresAttendeeConfirmation(req.Event),
		NeedsRecurrenceConfirmation: req.ApplyTo == "" && RequiresRecurrenceConfirmation(req.Event),
		IsMove:                      update.Move != nil,
	}, nil
}

// FreeBusy queries busy intervals across calendars of one account.
func (s *Service) FreeBusy(ctx context.Context, providerID domain.ProviderID, accountID string, calendarIDs []string, from, to time.Time) (map[string][]in.FreeBusyWindow, error) {
	p, err := s.provider(providerID)
	if err != nil {
		return nil, err
	}
	busy, err := call(ctx, s, providerID, accountID, func() (map[string][]out.FreeBusyWindow, error) {
		return p.FreeBusy(ctx, accountID, calendarIDs, from, to)
	})
	if err != nil {
		return nil, err
	}

	result := make(map[string][]in.FreeBusyWindow, len(busy))
	for id, windows := range busy {
		converted := make([]in.FreeBusyWindow, len(windows))
		for i, w := range windows {
			converted[i] = in.FreeBusyWindow{Start: w.Start, End: w.End}
		}
		result[id] = converted
	}
	return result, nil
}

// ExportICS renders the stored events of a calendar as a VCALENDAR
// document.
func (s *Service) ExportICS(ctx context.Context, accountID, calendarID string, from, to time.Time) (string, error) {
	events, err := s.store.ListEvents(ctx, accountID, calendarID, from, to)
	if err != nil {
		return "", err
	}
	return ical.ExportCalendar(calendarID, events)
}
