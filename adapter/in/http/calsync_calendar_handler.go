package http

import (
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/in"
	"calsync_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

type CalendarHandler struct {
	calendarService in.CalendarService
}

func NewCalendarHandler(calendarService in.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendarService: calendarService}
}

func (h *CalendarHandler) Register(app fiber.Router) {
	cal := app.Group("/calendar")
	cal.Get("/", h.ListCalendars)
	cal.Get("/events", h.ListEvents)
	cal.Get("/events/:id", h.GetEvent)
	cal.Post("/events", h.CreateEvent)
	cal.Put("/events/:id", h.UpdateEvent)
	cal.Delete("/events/:id", h.DeleteEvent)
	cal.Post("/events/:id/respond", h.RespondToEvent)
	cal.Post("/events/prepare-update", h.PrepareUpdate)

	cal.Post("/sync", h.Sync)
	cal.Post("/watch", h.StartWatch)
	cal.Post("/freebusy", h.FreeBusy)
	cal.Get("/:id/export.ics", h.ExportICS)
}

// RegisterWebhooks mounts the provider push endpoints. These are called
// by Google and Microsoft, not by authenticated clients, so they live
// outside the auth middleware.
func (h *CalendarHandler) RegisterWebhooks(app fiber.Router) {
	app.Post("/webhooks/calendar", h.WatchNotification)
}

func (h *CalendarHandler) ListCalendars(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	provider := domain.ProviderID(c.Query("provider"))
	if provider == "" {
		return BadRequestResponse(c, "provider required")
	}

	calendars, err := h.calendarService.ListCalendars(c.Context(), accountID, provider)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{
		"calendars": calendars,
	})
}

func (h *CalendarHandler) ListEvents(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	calendarID := c.Query("calendar_id")
	if calendarID == "" {
		return BadRequestResponse(c, "calendar_id required")
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return ErrorResponse(c, err)
	}

	events, err := h.calendarService.ListEvents(c.Context(), accountID, calendarID, from, to)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{
		"events": events,
		"total":  len(events),
	})
}

func (h *CalendarHandler) GetEvent(c *fiber.Ctx) error {
	ref, err := eventRefFromRequest(c)
	if err != nil {
		return ErrorResponse(c, err)
	}

	event, err := h.calendarService.GetEvent(c.Context(), ref)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, event)
}

func (h *CalendarHandler) CreateEvent(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var event domain.CalendarEvent
	if err := c.BodyParser(&event); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	event.AccountID = accountID

	created, err := h.calendarService.CreateEvent(c.Context(), &event)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success:   true,
		Data:      created,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// UpdateEvent prepares and executes an edit in one round trip. When the
// edit touches a recurring instance and the client has not chosen a
// scope yet, the plan comes back with 409 so the client can confirm and
// retry with apply_to set.
func (h *CalendarHandler) UpdateEvent(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var req in.UpdateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if req.Event == nil || req.Previous == nil {
		return BadRequestResponse(c, "event and previous required")
	}
	req.Event.AccountID = accountID

	plan, err := h.calendarService.PrepareUpdate(c.Context(), &req)
	if err != nil {
		return ErrorResponse(c, err)
	}

	if plan.NeedsRecurrenceConfirmation && req.ApplyTo == "" {
		return c.Status(fiber.StatusConflict).JSON(APIResponse{
			Success: false,
			Data:    plan,
			Error: &APIError{
				Code:    "CONFIRMATION_REQUIRED",
				Message: "edit targets a recurring instance; set apply_to and retry",
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	updated, err := h.calendarService.UpdateEvent(c.Context(), plan.Update)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, updated)
}

func (h *CalendarHandler) PrepareUpdate(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var req in.UpdateEventRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if req.Event == nil || req.Previous == nil {
		return BadRequestResponse(c, "event and previous required")
	}
	req.Event.AccountID = accountID

	plan, err := h.calendarService.PrepareUpdate(c.Context(), &req)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, plan)
}

func (h *CalendarHandler) DeleteEvent(c *fiber.Ctx) error {
	ref, err := eventRefFromRequest(c)
	if err != nil {
		return ErrorResponse(c, err)
	}

	if err := h.calendarService.DeleteEvent(c.Context(), ref); err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{"status": "deleted"})
}

func (h *CalendarHandler) RespondToEvent(c *fiber.Ctx) error {
	ref, err := eventRefFromRequest(c)
	if err != nil {
		return ErrorResponse(c, err)
	}

	var response domain.EventResponse
	if err := c.BodyParser(&response); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if response.Status == "" {
		return ErrorResponse(c, apperr.MissingField("status"))
	}

	event, err := h.calendarService.RespondToEvent(c.Context(), ref, &response)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, event)
}

func (h *CalendarHandler) Sync(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var req struct {
		Provider   domain.ProviderID `json:"provider"`
		CalendarID string            `json:"calendar_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if req.Provider == "" {
		return ErrorResponse(c, apperr.MissingField("provider"))
	}

	if req.CalendarID == "" {
		if err := h.calendarService.SyncAccount(c.Context(), req.Provider, accountID); err != nil {
			return ErrorResponse(c, err)
		}
		return SuccessResponse(c, fiber.Map{"status": "synced"})
	}

	result, err := h.calendarService.SyncCalendar(c.Context(), req.Provider, accountID, req.CalendarID)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, result)
}

func (h *CalendarHandler) StartWatch(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var req struct {
		Provider   domain.ProviderID `json:"provider"`
		CalendarID string            `json:"calendar_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if req.Provider == "" {
		return ErrorResponse(c, apperr.MissingField("provider"))
	}
	if req.CalendarID == "" {
		return ErrorResponse(c, apperr.MissingField("calendar_id"))
	}

	if err := h.calendarService.StartWatch(c.Context(), req.Provider, accountID, req.CalendarID); err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{"status": "watching"})
}

// WatchNotification handles provider push callbacks. Microsoft Graph
// first probes the endpoint with a validationToken query parameter and
// expects it echoed back in plain text; Google identifies the channel
// via the X-Goog-Channel-ID header, Graph via the subscription id in
// the body.
func (h *CalendarHandler) WatchNotification(c *fiber.Ctx) error {
	if token := c.Query("validationToken"); token != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(token)
	}

	channelID := c.Get("X-Goog-Channel-ID")
	if channelID == "" {
		var body struct {
			Value []struct {
				SubscriptionID string `json:"subscriptionId"`
			} `json:"value"`
		}
		if err := c.BodyParser(&body); err == nil && len(body.Value) > 0 {
			channelID = body.Value[0].SubscriptionID
		}
	}
	if channelID == "" {
		return BadRequestResponse(c, "unrecognized notification")
	}

	if err := h.calendarService.HandleWatchNotification(c.Context(), channelID); err != nil {
		// Providers retry on non-2xx; an unknown channel is not worth a
		// retry storm.
		if apperr.IsNotFound(err) {
			return c.SendStatus(fiber.StatusOK)
		}
		return ErrorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *CalendarHandler) FreeBusy(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	var req struct {
		Provider    domain.ProviderID `json:"provider"`
		CalendarIDs []string          `json:"calendar_ids"`
		Start       time.Time         `json:"start"`
		End         time.Time         `json:"end"`
	}
	if err := c.BodyParser(&req); err != nil {
		return BadRequestResponse(c, "invalid request body")
	}
	if req.Provider == "" {
		return ErrorResponse(c, apperr.MissingField("provider"))
	}
	if len(req.CalendarIDs) == 0 {
		return ErrorResponse(c, apperr.MissingField("calendar_ids"))
	}
	if !req.Start.Before(req.End) {
		return BadRequestResponse(c, "start must be before end")
	}

	windows, err := h.calendarService.FreeBusy(c.Context(), req.Provider, accountID, req.CalendarIDs, req.Start, req.End)
	if err != nil {
		return ErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{"busy": windows})
}

func (h *CalendarHandler) ExportICS(c *fiber.Ctx) error {
	accountID, err := GetAccountID(c)
	if err != nil {
		return ErrorResponse(c, apperr.Unauthorized(""))
	}

	calendarID := c.Params("id")
	from, to, err := parseTimeRange(c)
	if err != nil {
		return ErrorResponse(c, err)
	}

	ics, err := h.calendarService.ExportICS(c.Context(), accountID, calendarID, from, to)
	if err != nil {
		return ErrorResponse(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="calendar.ics"`)
	return c.SendString(ics)
}

// eventRefFromRequest builds the event coordinates from the route and
// the provider/calendar_id query parameters.
func eventRefFromRequest(c *fiber.Ctx) (domain.EventRef, error) {
	accountID, err := GetAccountID(c)
	if err != nil {
		return domain.EventRef{}, apperr.Unauthorized("")
	}

	provider := domain.ProviderID(c.Query("provider"))
	if provider == "" {
		return domain.EventRef{}, apperr.MissingField("provider")
	}
	calendarID := c.Query("calendar_id")
	if calendarID == "" {
		return domain.EventRef{}, apperr.MissingField("calendar_id")
	}

	return domain.EventRef{
		ID:         c.Params("id"),
		AccountID:  accountID,
		CalendarID: calendarID,
		ProviderID: provider,
	}, nil
}

// parseTimeRange reads the start/end query parameters, defaulting to
// the next 30 days when absent.
func parseTimeRange(c *fiber.Ctx) (time.Time, time.Time, error) {
	from := time.Now().UTC()
	to := from.AddDate(0, 0, 30)

	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.InvalidInput("start", "expected RFC 3339 timestamp")
		}
		from = t
	}
	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.InvalidInput("end", "expected RFC 3339 timestamp")
		}
		to = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, apperr.BadRequest("start must be before end")
	}
	return from, to, nil
}
