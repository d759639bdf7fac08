package calendar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

// ---------------------------------------------------------------------------
// test doubles
// ---------------------------------------------------------------------------

type stubProvider struct {
	id     domain.ProviderID
	syncFn func(ctx context.Context, accountID, calendarID, syncToken string, opts out.SyncOptions) (*domain.SyncResult, error)
}

func (p *stubProvider) ID() domain.ProviderID { return p.id }
func (p *stubProvider) ListCalendars(context.Context, string) ([]*domain.Calendar, error) {
	return nil, nil
}
func (p *stubProvider) ListEvents(context.Context, string, string, out.SyncOptions) ([]*domain.CalendarEvent, error) {
	return nil, nil
}
func (p *stubProvider) GetEvent(context.Context, domain.EventRef) (*domain.CalendarEvent, error) {
	return nil, nil
}
func (p *stubProvider) CreateEvent(_ context.Context, e *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	return e, nil
}
func (p *stubProvider) UpdateEvent(_ context.Context, u *domain.EventUpdate) (*domain.CalendarEvent, error) {
	return u.Event, nil
}
func (p *stubProvider) DeleteEvent(context.Context, domain.EventRef) error { return nil }
func (p *stubProvider) Sync(ctx context.Context, accountID, calendarID, syncToken string, opts out.SyncOptions) (*domain.SyncResult, error) {
	return p.syncFn(ctx, accountID, calendarID, syncToken, opts)
}
func (p *stubProvider) Watch(context.Context, string, string, string) (*out.WatchChannel, error) {
	return &out.WatchChannel{ChannelID: "ch1"}, nil
}
func (p *stubProvider) StopWatch(context.Context, string, *out.WatchChannel) error { return nil }
func (p *stubProvider) FreeBusy(context.Context, string, []string, time.Time, time.Time) (map[string][]out.FreeBusyWindow, error) {
	return nil, nil
}

type stubRegistry struct{ p out.CalendarProvider }

func (r *stubRegistry) Provider(id domain.ProviderID) (out.CalendarProvider, error) {
	if r.p.ID() != id {
		return nil, apperr.NotFound("provider " + string(id))
	}
	return r.p, nil
}
func (r *stubRegistry) Providers() []out.CalendarProvider { return []out.CalendarProvider{r.p} }

// memStore replicates the atomic ApplyBatch contract in memory. The
// mutex matters because SyncAccount fans calendars out concurrently.
type memStore struct {
	mu        sync.Mutex
	events    map[string]*domain.CalendarEvent
	tokens    map[string]string
	calendars map[string]*domain.Calendar
	failApply bool
	applied   []*out.EventBatch
}

func newMemStore() *memStore {
	return &memStore{
		events:    make(map[string]*domain.CalendarEvent),
		tokens:    make(map[string]string),
		calendars: make(map[string]*domain.Calendar),
	}
}

func (s *memStore) key(accountID, calendarID, eventID string) string {
	return accountID + "/" + calendarID + "/" + eventID
}

func (s *memStore) UpsertEvent(_ context.Context, e *domain.CalendarEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.key(e.AccountID, e.CalendarID, e.ID)] = e
	return nil
}

func (s *memStore) DeleteEvent(_ context.Context, ref domain.EventRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, s.key(ref.AccountID, ref.CalendarID, ref.ID))
	return nil
}

func (s *memStore) GetEvent(_ context.Context, ref domain.EventRef) (*domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[s.key(ref.AccountID, ref.CalendarID, ref.ID)]
	if !ok {
		return nil, apperr.NotFound("event")
	}
	return e, nil
}

func (s *memStore) ListEvents(_ context.Context, accountID, calendarID string, _, _ time.Time) ([]*domain.CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []*domain.CalendarEvent
	for _, e := range s.events {
		if e.AccountID == accountID && e.CalendarID == calendarID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *memStore) ApplyBatch(_ context.Context, batch *out.EventBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApply {
		return apperr.DatabaseError("apply batch", nil)
	}
	if batch.FullResync {
		seen := make(map[string]bool, len(batch.Items))
		for _, item := range batch.Items {
			if item.Event != nil {
				seen[s.key(item.Event.AccountID, item.Event.CalendarID, item.Event.ID)] = true
			}
		}
		for key, e := range s.events {
			if e.AccountID != batch.AccountID || e.CalendarID != batch.CalendarID || seen[key] {
				continue
			}
			start, err := e.Start.ToInstant("UTC")
			if err != nil {
				continue
			}
			if !start.Before(batch.WindowMin) && start.Before(batch.WindowMax) {
				delete(s.events, key)
			}
		}
	}
	for _, item := range batch.Items {
		switch item.Status {
		case domain.SyncItemUpdated:
			s.events[s.key(item.Event.AccountID, item.Event.CalendarID, item.Event.ID)] = item.Event
		case domain.SyncItemDeleted:
			delete(s.events, s.key(item.Ref.AccountID, item.Ref.CalendarID, item.Ref.ID))
		}
	}
	s.tokens[batch.AccountID+"/"+batch.CalendarID] = batch.SyncToken
	s.applied = append(s.applied, batch)
	return nil
}

func (s *memStore) GetSyncToken(_ context.Context, accountID, calendarID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[accountID+"/"+calendarID], nil
}

func (s *memStore) UpsertCalendar(_ context.Context, c *domain.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars[c.AccountID+"/"+c.ID] = c
	return nil
}

func (s *memStore) ListCalendars(_ context.Context, accountID string) ([]*domain.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var calendars []*domain.Calendar
	for _, c := range s.calendars {
		if c.AccountID == accountID {
			calendars = append(calendars, c)
		}
	}
	return calendars, nil
}

type stubTokens struct{ refreshed int }

func (t *stubTokens) AccessToken(context.Context, string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "token"}, nil
}
func (t *stubTokens) Refresh(context.Context, string) (*oauth2.Token, error) {
	t.refreshed++
	return &oauth2.Token{AccessToken: "fresh"}, nil
}

type stubWatches struct{ saved []*out.WatchState }

func (w *stubWatches) SaveWatch(_ context.Context, s *out.WatchState) error {
	w.saved = append(w.saved, s)
	return nil
}
func (w *stubWatches) GetWatch(_ context.Context, channelID string) (*out.WatchState, error) {
	for _, s := range w.saved {
		if s.ChannelID == channelID {
			return s, nil
		}
	}
	return nil, apperr.NotFound("watch channel")
}
func (w *stubWatches) DeleteWatch(context.Context, string) error { return nil }
func (w *stubWatches) ListExpiring(context.Context, time.Time) ([]*out.WatchState, error) {
	return nil, nil
}

func newTestService(p *stubProvider, store *memStore, tokens *stubTokens) *Service {
	return NewService(&stubRegistry{p: p}, store, tokens, &stubWatches{}, DefaultConfig())
}

func instantEvent(id, accountID, calendarID, start string) *domain.CalendarEvent {
	v, err := temporal.Parse(start)
	if err != nil {
		panic(err)
	}
	return &domain.CalendarEvent{
		ID:         id,
		Start:      v,
		End:        v.AddDays(0),
		ProviderID: domain.ProviderGoogle,
		AccountID:  accountID,
		CalendarID: calendarID,
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestSyncCalendar_AppliesChangesAndToken(t *testing.T) {
	store := newMemStore()
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(_ context.Context, _, _, syncToken string, _ out.SyncOptions) (*domain.SyncResult, error) {
			assert.Empty(t, syncToken, "first cycle starts without a cursor")
			return &domain.SyncResult{
				Changes: []domain.SyncItem{
					domain.UpdatedItem(instantEvent("e1", "acct1", "cal1", "2025-01-06T14:00:00Z")),
				},
				SyncToken: "tok-1",
				Status:    domain.SyncFull,
			}, nil
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	result, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFull, result.Status)
	assert.Equal(t, "tok-1", store.tokens["acct1/cal1"])
	assert.Len(t, store.events, 1)
	require.Len(t, store.applied, 1)
	assert.True(t, store.applied[0].FullResync)
}

func TestSyncCalendar_ReplaysSameDeltaIdempotently(t *testing.T) {
	store := newMemStore()
	delta := &domain.SyncResult{
		Changes: []domain.SyncItem{
			domain.UpdatedItem(instantEvent("e1", "acct1", "cal1", "2025-01-06T14:00:00Z")),
			domain.DeletedItem(domain.EventRef{ID: "e2", AccountID: "acct1", CalendarID: "cal1", ProviderID: domain.ProviderGoogle}),
		},
		SyncToken: "tok-2",
		Status:    domain.SyncIncremental,
	}
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(context.Context, string, string, string, out.SyncOptions) (*domain.SyncResult, error) {
			return delta, nil
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.NoError(t, err)
	first := len(store.events)

	_, err = svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.NoError(t, err)
	assert.Equal(t, first, len(store.events), "replaying the same delta changes nothing")
	assert.Equal(t, "tok-2", store.tokens["acct1/cal1"])
}

func TestSyncCalendar_FailureLeavesTokenUntouched(t *testing.T) {
	store := newMemStore()
	store.tokens["acct1/cal1"] = "tok-old"
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(context.Context, string, string, string, out.SyncOptions) (*domain.SyncResult, error) {
			return nil, apperr.ProviderError("google", "delta sync", nil)
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.Error(t, err)
	assert.Equal(t, "tok-old", store.tokens["acct1/cal1"])
	assert.Empty(t, store.applied)
}

func TestSyncCalendar_ApplyFailureLeavesTokenUntouched(t *testing.T) {
	store := newMemStore()
	store.tokens["acct1/cal1"] = "tok-old"
	store.failApply = true
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(context.Context, string, string, string, out.SyncOptions) (*domain.SyncResult, error) {
			return &domain.SyncResult{SyncToken: "tok-new", Status: domain.SyncIncremental}, nil
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSyncFailed))
	assert.Equal(t, "tok-old", store.tokens["acct1/cal1"])
}

func TestSyncCalendar_TimeoutIsFailureNotFullResync(t *testing.T) {
	store := newMemStore()
	store.tokens["acct1/cal1"] = "tok-old"
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(ctx context.Context, _, _, _ string, _ out.SyncOptions) (*domain.SyncResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	svc := newTestService(p, store, &stubTokens{})
	svc.cfg.SyncTimeout = 20 * time.Millisecond

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSyncFailed))
	assert.Equal(t, "tok-old", store.tokens["acct1/cal1"], "timeout never clears the cursor")
	assert.Empty(t, store.applied)
}

func TestSyncCalendar_FullResyncReplacesOnlyWindow(t *testing.T) {
	store := newMemStore()
	// In the window, but missing from the full listing below.
	stale := instantEvent("stale", "acct1", "cal1",
		time.Now().Add(24*time.Hour).UTC().Format(time.RFC3339))
	require.NoError(t, store.UpsertEvent(context.Background(), stale))
	// Far outside any window.
	ancient := instantEvent("ancient", "acct1", "cal1", "1990-01-01T00:00:00Z")
	require.NoError(t, store.UpsertEvent(context.Background(), ancient))

	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(context.Context, string, string, string, out.SyncOptions) (*domain.SyncResult, error) {
			return &domain.SyncResult{SyncToken: "tok-full", Status: domain.SyncFull}, nil
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.NoError(t, err)

	_, staleErr := store.GetEvent(context.Background(), stale.Ref())
	assert.Error(t, staleErr, "in-window event missing from the listing is removed")
	_, ancientErr := store.GetEvent(context.Background(), ancient.Ref())
	assert.NoError(t, ancientErr, "events outside the window survive a full resync")
}

func TestSyncCalendar_AuthExpiredRetriesOnceAfterRefresh(t *testing.T) {
	store := newMemStore()
	tokens := &stubTokens{}
	calls := 0
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(context.Context, string, string, string, out.SyncOptions) (*domain.SyncResult, error) {
			calls++
			if calls == 1 {
				return nil, apperr.AuthExpired("acct1")
			}
			return &domain.SyncResult{SyncToken: "tok-3", Status: domain.SyncIncremental}, nil
		},
	}
	svc := newTestService(p, store, tokens)

	_, err := svc.SyncCalendar(context.Background(), domain.ProviderGoogle, "acct1", "cal1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, tokens.refreshed)
	assert.Equal(t, "tok-3", store.tokens["acct1/cal1"])
}

func TestSyncAccount_ContinuesPastFailures(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.UpsertCalendar(context.Background(), &domain.Calendar{
		ID: "cal1", AccountID: "acct1", ProviderID: domain.ProviderGoogle,
	}))
	require.NoError(t, store.UpsertCalendar(context.Background(), &domain.Calendar{
		ID: "cal2", AccountID: "acct1", ProviderID: domain.ProviderGoogle,
	}))

	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(_ context.Context, _, calendarID, _ string, _ out.SyncOptions) (*domain.SyncResult, error) {
			if calendarID == "cal1" {
				return nil, apperr.ProviderError("google", "delta sync", nil)
			}
			return &domain.SyncResult{SyncToken: "tok-" + calendarID, Status: domain.SyncIncremental}, nil
		},
	}
	svc := newTestService(p, store, &stubTokens{})

	err := svc.SyncAccount(context.Background(), domain.ProviderGoogle, "acct1")
	require.Error(t, err, "aggregate error reports the failed calendar")
	assert.Equal(t, "tok-cal2", store.tokens["acct1/cal2"], "healthy calendar still synced")
}

func TestHandleWatchNotification_RoutesToCalendar(t *testing.T) {
	store := newMemStore()
	synced := ""
	p := &stubProvider{
		id: domain.ProviderGoogle,
		syncFn: func(_ context.Context, _, calendarID, _ string, _ out.SyncOptions) (*domain.SyncResult, error) {
			synced = calendarID
			return &domain.SyncResult{SyncToken: "tok", Status: domain.SyncIncremental}, nil
		},
	}
	watches := &stubWatches{saved: []*out.WatchState{{
		ChannelID:  "ch1",
		AccountID:  "acct1",
		CalendarID: "cal9",
		Provider:   string(domain.ProviderGoogle),
	}}}
	svc := NewService(&stubRegistry{p: p}, store, &stubTokens{}, watches, DefaultConfig())

	require.NoError(t, svc.HandleWatchNotification(context.Background(), "ch1"))
	assert.Equal(t, "cal9", synced)
}
