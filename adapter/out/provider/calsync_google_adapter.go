// Package provider implements the outbound calendar provider adapters.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/httputil"
	"calsync_server/pkg/logger"
)

const googleProviderName = "google"

// GoogleAdapter implements the CalendarProvider port on the Google
// Calendar API.
type GoogleAdapter struct {
	oauthConfig *oauth2.Config
	tokens      out.TokenSource
	archive     out.EventArchive
	log         zerolog.Logger
}

func NewGoogleAdapter(oauthConfig *oauth2.Config, tokens out.TokenSource, archive out.EventArchive) *GoogleAdapter {
	return &GoogleAdapter{
		oauthConfig: oauthConfig,
		tokens:      tokens,
		archive:     archive,
		log:         logger.For("provider.google"),
	}
}

func (a *GoogleAdapter) ID() domain.ProviderID { return domain.ProviderGoogle }

func (a *GoogleAdapter) service(ctx context.Context, accountID string) (*calendar.Service, error) {
	token, err := a.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	client := a.oauthConfig.Client(ctx, token)
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, apperr.ProviderError(googleProviderName, "client setup", err)
	}
	return svc, nil
}

// googleError translates an API failure into the application taxonomy.
func googleError(accountID, operation string, err error) error {
	var apiErr *googleapi.Error
	if !asGoogleError(err, &apiErr) {
		return apperr.ProviderError(googleProviderName, operation, err)
	}
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return apperr.AuthExpired(accountID)
	case http.StatusTooManyRequests:
		return apperr.RateLimited(googleProviderName)
	case http.StatusForbidden:
		for _, e := range apiErr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return apperr.RateLimited(googleProviderName)
			}
		}
		return apperr.ProviderError(googleProviderName, operation, err)
	case http.StatusNotFound:
		return apperr.NotFound("event")
	case http.StatusConflict:
		return apperr.Conflict("event already exists").WithError(err)
	default:
		return apperr.ProviderError(googleProviderName, operation, err)
	}
}

func isGoogleStatus(err error, status int) bool {
	var apiErr *googleapi.Error
	return asGoogleError(err, &apiErr) && apiErr.Code == status
}

// =============================================================================
// Calendar Operations
// =============================================================================

func (a *GoogleAdapter) ListCalendars(ctx context.Context, accountID string) ([]*domain.Calendar, error) {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	calendars := make([]*domain.Calendar, 0)
	pageToken := ""
	for {
		req := svc.CalendarList.List().Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		list, err := req.Do()
		if err != nil {
			return nil, googleError(accountID, "list calendars", err)
		}
		for _, item := range list.Items {
			calendars = append(calendars, fromGoogleCalendar(item, accountID))
		}
		if list.NextPageToken == "" {
			return calendars, nil
		}
		pageToken = list.NextPageToken
	}
}

// =============================================================================
// Event Operations
// =============================================================================

func (a *GoogleAdapter) ListEvents(ctx context.Context, accountID, calendarID string, opts out.SyncOptions) ([]*domain.CalendarEvent, error) {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	events := make([]*domain.CalendarEvent, 0)
	pageToken := ""
	for {
		req := svc.Events.List(calendarID).Context(ctx)
		if !opts.TimeMin.IsZero() {
			req = req.TimeMin(opts.TimeMin.Format(time.RFC3339))
		}
		if !opts.TimeMax.IsZero() {
			req = req.TimeMax(opts.TimeMax.Format(time.RFC3339))
		}
		if opts.MaxResults > 0 {
			req = req.MaxResults(int64(opts.MaxResults))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, googleError(accountID, "list events", err)
		}
		for _, item := range resp.Items {
			if item.Status == "cancelled" {
				continue
			}
			event, convErr := fromGoogleEvent(item, accountID, calendarID)
			if convErr != nil {
				a.log.Warn().Err(convErr).Str("event", item.Id).Msg("skipping unconvertible event")
				continue
			}
			events = append(events, event)
		}
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}

func (a *GoogleAdapter) GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error) {
	svc, err := a.service(ctx, ref.AccountID)
	if err != nil {
		return nil, err
	}
	item, err := svc.Events.Get(ref.CalendarID, ref.ID).Context(ctx).Do()
	if err != nil {
		return nil, googleError(ref.AccountID, "get event", err)
	}
	return fromGoogleEvent(item, ref.AccountID, ref.CalendarID)
}

// CreateEvent inserts the event. Inserting an id the calendar already
// holds (a cancelled copy left by an earlier delete, typically) answers
// 409; the create then degrades to an update of that id.
func (a *GoogleAdapter) CreateEvent(ctx context.Context, event *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	svc, err := a.service(ctx, event.AccountID)
	if err != nil {
		return nil, err
	}
	payload, err := toGoogleEvent(event)
	if err != nil {
		return nil, err
	}

	created, err := svc.Events.Insert(event.CalendarID, payload).
		SendUpdates(googleSendUpdates(event.Response)).
		Context(ctx).Do()
	if err != nil {
		if !isGoogleStatus(err, http.StatusConflict) || event.ID == "" {
			return nil, googleError(event.AccountID, "create event", err)
		}
		created, err = svc.Events.Update(event.CalendarID, event.ID, payload).
			SendUpdates(googleSendUpdates(event.Response)).
			Context(ctx).Do()
		if err != nil {
			return nil, googleError(event.AccountID, "create event", err)
		}
	}
	return fromGoogleEvent(created, event.AccountID, event.CalendarID)
}

// UpdateEvent writes the payload to the calendar that currently holds
// the event, applies an RSVP through the self attendee when present,
// and relocates through the atomic move endpoint last.
func (a *GoogleAdapter) UpdateEvent(ctx context.Context, update *domain.EventUpdate) (*domain.CalendarEvent, error) {
	event := update.Event
	svc, err := a.service(ctx, event.AccountID)
	if err != nil {
		return nil, err
	}
	payload, err := toGoogleEvent(event)
	if err != nil {
		return nil, err
	}

	if update.Response != nil {
		if err := applyGoogleResponse(ctx, svc, event.CalendarID, event.ID, payload, update.Response); err != nil {
			return nil, googleError(event.AccountID, "apply response", err)
		}
	}

	updated, err := svc.Events.Update(event.CalendarID, event.ID, payload).
		SendUpdates(googleSendUpdates(update.Response)).
		Context(ctx).Do()
	if err != nil {
		return nil, googleError(event.AccountID, "update event", err)
	}

	calendarID := event.CalendarID
	if update.Move != nil {
		moved, err := svc.Events.Move(update.Move.Source.CalendarID, event.ID, update.Move.Destination.CalendarID).
			Context(ctx).Do()
		if err != nil {
			return nil, googleError(event.AccountID, "move event", err)
		}
		updated = moved
		calendarID = update.Move.Destination.CalendarID
	}
	return fromGoogleEvent(updated, event.AccountID, calendarID)
}

func (a *GoogleAdapter) DeleteEvent(ctx context.Context, ref domain.EventRef) error {
	svc, err := a.service(ctx, ref.AccountID)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(ref.CalendarID, ref.ID).Context(ctx).Do(); err != nil {
		return googleError(ref.AccountID, "delete event", err)
	}
	return nil
}

// =============================================================================
// Sync
// =============================================================================

// Sync fetches the delta behind a sync token, or the full window when no
// token exists yet. A 410 means the token was invalidated; the fallback
// full listing stays internal. Some read-only calendars (holiday feeds)
// answer 410 on every delta yet hand back the same token from the full
// listing; that cycle is reported as an empty incremental so the caller
// does not replace its stored events for nothing.
func (a *GoogleAdapter) Sync(ctx context.Context, accountID, calendarID, syncToken string, opts out.SyncOptions) (*domain.SyncResult, error) {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if syncToken == "" {
		return a.fullSync(ctx, svc, accountID, calendarID, opts)
	}

	result, err := a.deltaSync(ctx, svc, accountID, calendarID, syncToken)
	if err == nil {
		return result, nil
	}
	if !isGoogleStatus(err, http.StatusGone) && !apperr.IsSyncRequired(err) {
		return nil, err
	}

	a.log.Info().Str("calendar", calendarID).Msg("sync token invalidated, running full listing")
	full, err := a.fullSync(ctx, svc, accountID, calendarID, opts)
	if err != nil {
		return nil, err
	}
	if full.SyncToken == syncToken {
		return &domain.SyncResult{Status: domain.SyncIncremental, SyncToken: syncToken}, nil
	}
	return full, nil
}

func (a *GoogleAdapter) fullSync(ctx context.Context, svc *calendar.Service, accountID, calendarID string, opts out.SyncOptions) (*domain.SyncResult, error) {
	changes := make([]domain.SyncItem, 0)
	pageToken := ""
	syncToken := ""
	for {
		req := svc.Events.List(calendarID).Context(ctx)
		if !opts.TimeMin.IsZero() {
			req = req.TimeMin(opts.TimeMin.Format(time.RFC3339))
		}
		if !opts.TimeMax.IsZero() {
			req = req.TimeMax(opts.TimeMax.Format(time.RFC3339))
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, googleError(accountID, "full sync", err)
		}
		changes = a.appendChanges(changes, resp.Items, accountID, calendarID)
		if resp.NextPageToken == "" {
			syncToken = resp.NextSyncToken
			break
		}
		pageToken = resp.NextPageToken
	}
	return &domain.SyncResult{Changes: changes, SyncToken: syncToken, Status: domain.SyncFull}, nil
}

func (a *GoogleAdapter) deltaSync(ctx context.Context, svc *calendar.Service, accountID, calendarID, syncToken string) (*domain.SyncResult, error) {
	changes := make([]domain.SyncItem, 0)
	pageToken := ""
	newToken := ""
	for {
		req := svc.Events.List(calendarID).SyncToken(syncToken).Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			if isGoogleStatus(err, http.StatusGone) {
				return nil, apperr.SyncRequired(calendarID).WithError(err)
			}
			return nil, googleError(accountID, "delta sync", err)
		}
		changes = a.appendChanges(changes, resp.Items, accountID, calendarID)
		if resp.NextPageToken == "" {
			newToken = resp.NextSyncToken
			break
		}
		pageToken = resp.NextPageToken
	}
	return &domain.SyncResult{Changes: changes, SyncToken: newToken, Status: domain.SyncIncremental}, nil
}

func (a *GoogleAdapter) appendChanges(changes []domain.SyncItem, items []*calendar.Event, accountID, calendarID string) []domain.SyncItem {
	for _, item := range items {
		if item.Status == "cancelled" {
			changes = append(changes, domain.DeletedItem(domain.EventRef{
				ID:         item.Id,
				AccountID:  accountID,
				CalendarID: calendarID,
				ProviderID: domain.ProviderGoogle,
			}))
			continue
		}
		event, err := fromGoogleEvent(item, accountID, calendarID)
		if err != nil {
			a.log.Warn().Err(err).Str("event", item.Id).Msg("skipping unconvertible event")
			continue
		}
		a.archiveRaw(item, accountID, calendarID)
		changes = append(changes, domain.UpdatedItem(event))
	}
	return changes
}

func (a *GoogleAdapter) archiveRaw(item *calendar.Event, accountID, calendarID string) {
	if a.archive == nil {
		return
	}
	payload, err := item.MarshalJSON()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.archive.Archive(ctx, domain.ProviderGoogle, accountID, calendarID, item.Id, payload); err != nil {
		a.log.Debug().Err(err).Str("event", item.Id).Msg("payload archive failed")
	}
}

// =============================================================================
// Watch
// =============================================================================

func (a *GoogleAdapter) Watch(ctx context.Context, accountID, calendarID, callbackURL string) (*out.WatchChannel, error) {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	channel := &calendar.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    callbackURL,
		Expiration: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}
	resp, err := svc.Events.Watch(calendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, googleError(accountID, "watch", err)
	}
	return &out.WatchChannel{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration),
	}, nil
}

func (a *GoogleAdapter) StopWatch(ctx context.Context, accountID string, channel *out.WatchChannel) error {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return err
	}
	stop := &calendar.Channel{Id: channel.ChannelID, ResourceId: channel.ResourceID}
	if err := svc.Channels.Stop(stop).Context(ctx).Do(); err != nil {
		return googleError(accountID, "stop watch", err)
	}
	return nil
}

// =============================================================================
// Free/Busy
// =============================================================================

func (a *GoogleAdapter) FreeBusy(ctx context.Context, accountID string, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]out.FreeBusyWindow, error) {
	svc, err := a.service(ctx, accountID)
	if err != nil {
		return nil, err
	}

	items := make([]*calendar.FreeBusyRequestItem, len(calendarIDs))
	for i, id := range calendarIDs {
		items[i] = &calendar.FreeBusyRequestItem{Id: id}
	}
	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, googleError(accountID, "free/busy", err)
	}

	result := make(map[string][]out.FreeBusyWindow, len(resp.Calendars))
	for id, cal := range resp.Calendars {
		windows := make([]out.FreeBusyWindow, 0, len(cal.Busy))
		for _, period := range cal.Busy {
			start, startErr := time.Parse(time.RFC3339, period.Start)
			end, endErr := time.Parse(time.RFC3339, period.End)
			if startErr != nil || endErr != nil {
				continue
			}
			windows = append(windows, out.FreeBusyWindow{Start: start, End: end})
		}
		result[id] = windows
	}
	return result, nil
}
