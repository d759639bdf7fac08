package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/httputil"
	"calsync_server/pkg/logger"
)

const (
	graphBaseURL          = "https://graph.microsoft.com/v1.0"
	graphTimeFormat       = "2006-01-02T15:04:05"
	microsoftProviderName = "microsoft"
)

// MicrosoftAdapter implements the CalendarProvider port on the
// Microsoft Graph calendar API.
type MicrosoftAdapter struct {
	oauthConfig *oauth2.Config
	tokens      out.TokenSource
	archive     out.EventArchive
	log         zerolog.Logger
}

func NewMicrosoftAdapter(oauthConfig *oauth2.Config, tokens out.TokenSource, archive out.EventArchive) *MicrosoftAdapter {
	return &MicrosoftAdapter{
		oauthConfig: oauthConfig,
		tokens:      tokens,
		archive:     archive,
		log:         logger.For("provider.microsoft"),
	}
}

func (a *MicrosoftAdapter) ID() domain.ProviderID { return domain.ProviderMicrosoft }

func (a *MicrosoftAdapter) client(ctx context.Context, accountID string) (*http.Client, error) {
	token, err := a.tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GraphClient())
	return a.oauthConfig.Client(ctx, token), nil
}

// doJSON performs one Graph request. All event reads ask for UTC times
// so the wire shape stays uniform; non-2xx statuses map onto the
// application error taxonomy.
func (a *MicrosoftAdapter) doJSON(ctx context.Context, client *http.Client, accountID, method, endpoint string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperr.ProviderError(microsoftProviderName, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperr.ProviderError(microsoftProviderName, "build request", err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return apperr.ProviderError(microsoftProviderName, method+" "+endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.ProviderError(microsoftProviderName, "read response", err)
	}

	if resp.StatusCode >= 400 {
		return graphError(accountID, resp.StatusCode, data)
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return apperr.ProviderError(microsoftProviderName, "decode response", err)
	}
	return nil
}

func graphError(accountID string, status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return apperr.AuthExpired(accountID)
	case http.StatusTooManyRequests:
		return apperr.RateLimited(microsoftProviderName)
	case http.StatusNotFound:
		return apperr.NotFound("event")
	case http.StatusGone:
		return apperr.SyncRequired("")
	default:
		return apperr.ProviderError(microsoftProviderName,
			fmt.Sprintf("graph status %d", status), fmt.Errorf("%s", body))
	}
}

// =============================================================================
// Calendar Operations
// =============================================================================

func (a *MicrosoftAdapter) ListCalendars(ctx context.Context, accountID string) ([]*domain.Calendar, error) {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	calendars := make([]*domain.Calendar, 0)
	endpoint := graphBaseURL + "/me/calendars"
	for endpoint != "" {
		var page struct {
			Value    []graphCalendar `json:"value"`
			NextLink string          `json:"@odata.nextLink"`
		}
		if err := a.doJSON(ctx, client, accountID, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			calendars = append(calendars, fromGraphCalendar(&page.Value[i], accountID))
		}
		endpoint = page.NextLink
	}
	return calendars, nil
}

// =============================================================================
// Event Operations
// =============================================================================

func (a *MicrosoftAdapter) eventsURL(calendarID string) string {
	if calendarID == "" {
		return graphBaseURL + "/me/events"
	}
	return graphBaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/events"
}

func (a *MicrosoftAdapter) ListEvents(ctx context.Context, accountID, calendarID string, opts out.SyncOptions) ([]*domain.CalendarEvent, error) {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	base := graphBaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/calendarView"
	query := url.Values{}
	query.Set("startDateTime", opts.TimeMin.UTC().Format(time.RFC3339))
	query.Set("endDateTime", opts.TimeMax.UTC().Format(time.RFC3339))
	if opts.MaxResults > 0 {
		query.Set("$top", fmt.Sprint(opts.MaxResults))
	}

	events := make([]*domain.CalendarEvent, 0)
	endpoint := base + "?" + query.Encode()
	for endpoint != "" {
		var page struct {
			Value    []graphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := a.doJSON(ctx, client, accountID, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			event, convErr := fromGraphEvent(&page.Value[i], accountID, calendarID)
			if convErr != nil {
				a.log.Warn().Err(convErr).Str("event", page.Value[i].ID).Msg("skipping unconvertible event")
				continue
			}
			events = append(events, event)
		}
		endpoint = page.NextLink
	}
	return events, nil
}

func (a *MicrosoftAdapter) GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error) {
	client, err := a.client(ctx, ref.AccountID)
	if err != nil {
		return nil, err
	}
	var item graphEvent
	endpoint := graphBaseURL + "/me/events/" + url.PathEscape(ref.ID)
	if err := a.doJSON(ctx, client, ref.AccountID, http.MethodGet, endpoint, nil, &item); err != nil {
		return nil, err
	}
	return fromGraphEvent(&item, ref.AccountID, ref.CalendarID)
}

func (a *MicrosoftAdapter) CreateEvent(ctx context.Context, event *domain.CalendarEvent) (*domain.CalendarEvent, error) {
	client, err := a.client(ctx, event.AccountID)
	if err != nil {
		return nil, err
	}
	payload, err := toGraphEvent(event)
	if err != nil {
		return nil, err
	}

	var created graphEvent
	if err := a.doJSON(ctx, client, event.AccountID, http.MethodPost, a.eventsURL(event.CalendarID), payload, &created); err != nil {
		return nil, err
	}
	return fromGraphEvent(&created, event.AccountID, event.CalendarID)
}

// UpdateEvent patches the event in its current calendar, writes an RSVP
// through the dedicated response action, and performs a relocation as
// create-in-destination plus delete, since Graph has no atomic move.
// A move therefore mints a new event id.
func (a *MicrosoftAdapter) UpdateEvent(ctx context.Context, update *domain.EventUpdate) (*domain.CalendarEvent, error) {
	event := update.Event
	client, err := a.client(ctx, event.AccountID)
	if err != nil {
		return nil, err
	}

	if update.Response != nil && update.Response.Status != domain.AttendeeUnknown {
		if err := a.respond(ctx, client, event.AccountID, event.ID, update.Response); err != nil {
			return nil, err
		}
	}

	payload, err := toGraphEvent(event)
	if err != nil {
		return nil, err
	}

	var updated graphEvent
	endpoint := graphBaseURL + "/me/events/" + url.PathEscape(event.ID)
	if err := a.doJSON(ctx, client, event.AccountID, http.MethodPatch, endpoint, payload, &updated); err != nil {
		return nil, err
	}

	if update.Move == nil {
		return fromGraphEvent(&updated, event.AccountID, event.CalendarID)
	}

	var moved graphEvent
	if err := a.doJSON(ctx, client, event.AccountID, http.MethodPost,
		a.eventsURL(update.Move.Destination.CalendarID), payload, &moved); err != nil {
		return nil, err
	}
	if err := a.doJSON(ctx, client, event.AccountID, http.MethodDelete, endpoint, nil, nil); err != nil {
		// The copy exists in the destination; surface the failed
		// cleanup instead of deleting the copy again.
		return nil, apperr.SyncFailed("deleting source event after move", err)
	}
	return fromGraphEvent(&moved, event.AccountID, update.Move.Destination.CalendarID)
}

func (a *MicrosoftAdapter) DeleteEvent(ctx context.Context, ref domain.EventRef) error {
	client, err := a.client(ctx, ref.AccountID)
	if err != nil {
		return err
	}
	endpoint := graphBaseURL + "/me/events/" + url.PathEscape(ref.ID)
	return a.doJSON(ctx, client, ref.AccountID, http.MethodDelete, endpoint, nil, nil)
}

// respond posts to the accept/tentativelyAccept/decline action matching
// the RSVP status.
func (a *MicrosoftAdapter) respond(ctx context.Context, client *http.Client, accountID, eventID string, response *domain.EventResponse) error {
	var action string
	switch response.Status {
	case domain.AttendeeAccepted:
		action = "accept"
	case domain.AttendeeTentative:
		action = "tentativelyAccept"
	case domain.AttendeeDeclined:
		action = "decline"
	default:
		return apperr.InvalidInput("response.status", "no Graph action for status "+string(response.Status))
	}

	endpoint := graphBaseURL + "/me/events/" + url.PathEscape(eventID) + "/" + action
	body := map[string]any{
		"comment":      response.Comment,
		"sendResponse": response.SendUpdate,
	}
	return a.doJSON(ctx, client, accountID, http.MethodPost, endpoint, body, nil)
}

// =============================================================================
// Sync
// =============================================================================

// Sync walks the calendarView delta. The stored cursor is a full
// deltaLink URL; when Graph answers 410 Gone the walk restarts without a
// cursor and the cycle is reported as full so the caller replaces its
// window.
func (a *MicrosoftAdapter) Sync(ctx context.Context, accountID, calendarID, syncToken string, opts out.SyncOptions) (*domain.SyncResult, error) {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := domain.SyncIncremental
	endpoint := syncToken
	if endpoint == "" {
		status = domain.SyncFull
		endpoint = a.deltaStartURL(calendarID, opts)
	}

	changes := make([]domain.SyncItem, 0)
	deltaLink := ""
	for endpoint != "" {
		var page struct {
			Value     []graphEvent `json:"value"`
			NextLink  string       `json:"@odata.nextLink"`
			DeltaLink string       `json:"@odata.deltaLink"`
		}
		if err := a.doJSON(ctx, client, accountID, http.MethodGet, endpoint, nil, &page); err != nil {
			if apperr.IsSyncRequired(err) && status == domain.SyncIncremental {
				a.log.Info().Str("calendar", calendarID).Msg("delta link invalidated, restarting from scratch")
				return a.Sync(ctx, accountID, calendarID, "", opts)
			}
			return nil, err
		}

		for i := range page.Value {
			item := &page.Value[i]
			if item.Removed != nil {
				changes = append(changes, domain.DeletedItem(domain.EventRef{
					ID:         item.ID,
					AccountID:  accountID,
					CalendarID: calendarID,
					ProviderID: domain.ProviderMicrosoft,
				}))
				continue
			}
			event, convErr := fromGraphEvent(item, accountID, calendarID)
			if convErr != nil {
				a.log.Warn().Err(convErr).Str("event", item.ID).Msg("skipping unconvertible event")
				continue
			}
			a.archiveRaw(item, accountID, calendarID)
			changes = append(changes, domain.UpdatedItem(event))
		}

		if page.NextLink != "" {
			endpoint = page.NextLink
			continue
		}
		deltaLink = page.DeltaLink
		endpoint = ""
	}
	return &domain.SyncResult{Changes: changes, SyncToken: deltaLink, Status: status}, nil
}

func (a *MicrosoftAdapter) deltaStartURL(calendarID string, opts out.SyncOptions) string {
	base := graphBaseURL + "/me/calendarView/delta"
	if calendarID != "" {
		base = graphBaseURL + "/me/calendars/" + url.PathEscape(calendarID) + "/calendarView/delta"
	}
	query := url.Values{}
	query.Set("startDateTime", opts.TimeMin.UTC().Format(time.RFC3339))
	query.Set("endDateTime", opts.TimeMax.UTC().Format(time.RFC3339))
	return base + "?" + query.Encode()
}

func (a *MicrosoftAdapter) archiveRaw(item *graphEvent, accountID, calendarID string) {
	if a.archive == nil {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.archive.Archive(ctx, domain.ProviderMicrosoft, accountID, calendarID, item.ID, payload); err != nil {
		a.log.Debug().Err(err).Str("event", item.ID).Msg("payload archive failed")
	}
}

// =============================================================================
// Watch (Graph subscriptions)
// =============================================================================

func (a *MicrosoftAdapter) Watch(ctx context.Context, accountID, calendarID, callbackURL string) (*out.WatchChannel, error) {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resource := "/me/events"
	if calendarID != "" {
		resource = "/me/calendars/" + calendarID + "/events"
	}
	body := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    callbackURL,
		"resource":           resource,
		"expirationDateTime": time.Now().Add(3 * 24 * time.Hour).UTC().Format(time.RFC3339),
	}

	var sub struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := a.doJSON(ctx, client, accountID, http.MethodPost, graphBaseURL+"/subscriptions", body, &sub); err != nil {
		return nil, err
	}

	expiry, _ := time.Parse(time.RFC3339, sub.ExpirationDateTime)
	return &out.WatchChannel{ChannelID: sub.ID, ResourceID: sub.Resource, Expiration: expiry}, nil
}

func (a *MicrosoftAdapter) StopWatch(ctx context.Context, accountID string, channel *out.WatchChannel) error {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return err
	}
	endpoint := graphBaseURL + "/subscriptions/" + url.PathEscape(channel.ChannelID)
	return a.doJSON(ctx, client, accountID, http.MethodDelete, endpoint, nil, nil)
}

// =============================================================================
// Free/Busy
// =============================================================================

func (a *MicrosoftAdapter) FreeBusy(ctx context.Context, accountID string, calendarIDs []string, timeMin, timeMax time.Time) (map[string][]out.FreeBusyWindow, error) {
	client, err := a.client(ctx, accountID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"schedules": calendarIDs,
		"startTime": map[string]string{
			"dateTime": timeMin.UTC().Format(graphTimeFormat),
			"timeZone": "UTC",
		},
		"endTime": map[string]string{
			"dateTime": timeMax.UTC().Format(graphTimeFormat),
			"timeZone": "UTC",
		},
	}

	var resp struct {
		Value []struct {
			ScheduleID    string `json:"scheduleId"`
			ScheduleItems []struct {
				Status string `json:"status"`
				Start  struct {
					DateTime string `json:"dateTime"`
				} `json:"start"`
				End struct {
					DateTime string `json:"dateTime"`
				} `json:"end"`
			} `json:"scheduleItems"`
		} `json:"value"`
	}
	if err := a.doJSON(ctx, client, accountID, http.MethodPost, graphBaseURL+"/me/calendar/getSchedule", body, &resp); err != nil {
		return nil, err
	}

	result := make(map[string][]out.FreeBusyWindow, len(resp.Value))
	for _, schedule := range resp.Value {
		windows := make([]out.FreeBusyWindow, 0, len(schedule.ScheduleItems))
		for _, item := range schedule.ScheduleItems {
			if item.Status == "free" {
				continue
			}
			start, startErr := time.Parse(graphTimeFormat, item.Start.DateTime)
			end, endErr := time.Parse(graphTimeFormat, item.End.DateTime)
			if startErr != nil || endErr != nil {
				continue
			}
			windows = append(windows, out.FreeBusyWindow{Start: start.UTC(), End: end.UTC()})
		}
		result[schedule.ScheduleID] = windows
	}
	return result, nil
}

var _ out.CalendarProvider = (*MicrosoftAdapter)(nil)
var _ out.CalendarProvider = (*GoogleAdapter)(nil)
