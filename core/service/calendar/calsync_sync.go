package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
)

// lockFor returns the mutex serializing sync cycles of one calendar.
func (s *Service) lockFor(providerID domain.ProviderID, accountID, calendarID string) *sync.Mutex {
	key := string(providerID) + "/" + accountID + "/" + calendarID

	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.syncLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.syncLocks[key] = l
	}
	return l
}

// SyncCalendar runs one sync cycle for a calendar: load the stored
// cursor, fetch the provider delta, and apply changes plus the new
// cursor in a single transaction. Concurrent cycles for the same
// calendar are serialized; a failed cycle leaves the stored cursor
// untouched so the next attempt replays the same delta.
func (s *Service) SyncCalendar(ctx context.Context, providerID domain.ProviderID, accountID, calendarID string) (*domain.SyncResult, error) {
	lock := s.lockFor(providerID, accountID, calendarID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	p, err := s.provider(providerID)
	if err != nil {
		return nil, err
	}

	token, err := s.store.GetSyncToken(ctx, accountID, calendarID)
	if err != nil {
		return nil, apperr.SyncFailed("loading sync token", err)
	}

	now := time.Now()
	opts := out.SyncOptions{
		TimeMin:  now.Add(-s.cfg.SyncWindowPast),
		TimeMax:  now.Add(s.cfg.SyncWindowFuture),
		TimeZone: s.cfg.DefaultTimeZone,
	}

	result, err := call(ctx, s, providerID, accountID, func() (*domain.SyncResult, error) {
		return p.Sync(ctx, accountID, calendarID, token, opts)
	})
	if err != nil {
		// A timeout is a failed cycle, never an excuse for a full
		// resync on the next one.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.SyncFailed("timeout", err)
		}
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, apperr.SyncFailed("provider sync", err)
	}

	// Cancellation between fetch and merge must not apply a partial
	// view of the delta.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperr.SyncFailed("cancelled before merge", ctxErr)
	}

	batch := &out.EventBatch{
		AccountID:  accountID,
		CalendarID: calendarID,
		Items:      result.Changes,
		SyncToken:  result.SyncToken,
		FullResync: result.Status == domain.SyncFull,
		WindowMin:  opts.TimeMin,
		WindowMax:  opts.TimeMax,
	}
	if err := s.store.ApplyBatch(ctx, batch); err != nil {
		return nil, apperr.SyncFailed("applying sync batch", err)
	}

	s.log.Info().
		Str("provider", string(providerID)).
		Str("calendar", calendarID).
		Str("status", string(result.Status)).
		Int("changes", len(result.Changes)).
		Msg("sync cycle applied")
	return result, nil
}

// SyncAccount syncs every stored calendar of an account. Independent
// calendars fan out concurrently; individual failures do not stop the
// remaining ones.
func (s *Service) SyncAccount(ctx context.Context, providerID domain.ProviderID, accountID string) error {
	calendars, err := s.store.ListCalendars(ctx, accountID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	for _, c := range calendars {
		if c.ProviderID != providerID {
			continue
		}
		wg.Add(1)
		go func(calendarID string) {
			defer wg.Done()
			if _, err := s.SyncCalendar(ctx, providerID, accountID, calendarID); err != nil {
				s.log.Error().Err(err).Str("calendar", calendarID).Msg("calendar sync failed")
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(c.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// StartWatch opens a push notification channel for a calendar and
// records it for renewal.
func (s *Service) StartWatch(ctx context.Context, providerID domain.ProviderID, accountID, calendarID string) error {
	if s.cfg.WatchCallbackURL == "" {
		return apperr.ConfigError("watch callback URL not configured")
	}
	p, err := s.provider(providerID)
	if err != nil {
		return err
	}
	channel, err := call(ctx, s, providerID, accountID, func() (*out.WatchChannel, error) {
		return p.Watch(ctx, accountID, calendarID, s.cfg.WatchCallbackURL)
	})
	if err != nil {
		return err
	}
	return s.watches.SaveWatch(ctx, &out.WatchState{
		ChannelID:  channel.ChannelID,
		ResourceID: channel.ResourceID,
		AccountID:  accountID,
		CalendarID: calendarID,
		Provider:   string(providerID),
		Expiration: channel.Expiration,
	})
}

// HandleWatchNotification routes a provider push back to its calendar
// and runs an incremental sync.
func (s *Service) HandleWatchNotification(ctx context.Context, channelID string) error {
	state, err := s.watches.GetWatch(ctx, channelID)
	if err != nil {
		return err
	}
	if state == nil {
		return apperr.NotFound("watch channel " + channelID)
	}
	_, err = s.SyncCalendar(ctx, domain.ProviderID(state.Provider), state.AccountID, state.CalendarID)
	return err
}

// RenewExpiringWatches re-opens channels expiring within the horizon.
func (s *Service) RenewExpiringWatches(ctx context.Context, horizon time.Duration) error {
	expiring, err := s.watches.ListExpiring(ctx, time.Now().Add(horizon))
	if err != nil {
		return err
	}

	var errs []error
	for _, state := range expiring {
		providerID := domain.ProviderID(state.Provider)
		p, err := s.provider(providerID)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		old := &out.WatchChannel{ChannelID: state.ChannelID, ResourceID: state.ResourceID}
		if _, err := call(ctx, s, providerID, state.AccountID, func() (struct{}, error) {
			return struct{}{}, p.StopWatch(ctx, state.AccountID, old)
		}); err != nil {
			s.log.Warn().Err(err).Str("channel", state.ChannelID).Msg("stopping expiring watch failed")
		}
		if err := s.watches.DeleteWatch(ctx, state.ChannelID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.StartWatch(ctx, providerID, state.AccountID, state.CalendarID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
