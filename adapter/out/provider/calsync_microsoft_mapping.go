package provider

import (
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/temporal"
)

// =============================================================================
// Graph Wire Types
// =============================================================================

type graphCalendar struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	HexColor          string `json:"hexColor"`
	IsDefaultCalendar bool   `json:"isDefaultCalendar"`
	CanEdit           bool   `json:"canEdit"`
	Owner             struct {
		Address string `json:"address"`
	} `json:"owner"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphAttendee struct {
	Type   string `json:"type"`
	Status struct {
		Response string `json:"response"`
	} `json:"status"`
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphRecurrence struct {
	Pattern struct {
		Type           string   `json:"type"`
		Interval       int      `json:"interval"`
		Month          int      `json:"month"`
		DayOfMonth     int      `json:"dayOfMonth"`
		DaysOfWeek     []string `json:"daysOfWeek"`
		FirstDayOfWeek string   `json:"firstDayOfWeek"`
		Index          string   `json:"index"`
	} `json:"pattern"`
	Range struct {
		Type                string `json:"type"`
		StartDate           string `json:"startDate"`
		EndDate             string `json:"endDate"`
		NumberOfOccurrences int    `json:"numberOfOccurrences"`
		RecurrenceTimeZone  string `json:"recurrenceTimeZone"`
	} `json:"range"`
}

type graphEvent struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Start    *graphDateTime `json:"start"`
	End      *graphDateTime `json:"end"`
	IsAllDay bool           `json:"isAllDay"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer *struct {
		EmailAddress graphEmailAddress `json:"emailAddress"`
	} `json:"organizer"`
	Attendees       []graphAttendee  `json:"attendees"`
	Recurrence      *graphRecurrence `json:"recurrence"`
	SeriesMasterID  string           `json:"seriesMasterId"`
	Type            string           `json:"type"`
	ShowAs          string           `json:"showAs"`
	Sensitivity     string           `json:"sensitivity"`
	ResponseStatus  *struct {
		Response string `json:"response"`
	} `json:"responseStatus"`
	WebLink       string `json:"webLink"`
	ChangeKey     string `json:"changeKey"`
	OnlineMeeting *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
	OnlineMeetingProvider string `json:"onlineMeetingProvider"`
	CreatedDateTime       string `json:"createdDateTime"`
	LastModifiedDateTime  string `json:"lastModifiedDateTime"`
	Removed               *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

// =============================================================================
// Calendar Mapping
// =============================================================================

func fromGraphCalendar(c *graphCalendar, accountID string) *domain.Calendar {
	return &domain.Calendar{
		ID:         c.ID,
		ProviderID: domain.ProviderMicrosoft,
		Name:       c.Name,
		Primary:    c.IsDefaultCalendar,
		AccountID:  accountID,
		Color:      c.HexColor,
		ReadOnly:   !c.CanEdit,
	}
}

// =============================================================================
// Time Mapping
// =============================================================================

// fromGraphTime reads a Graph dateTimeTimeZone. Graph appends
// fractional seconds the layout does not carry, so the fraction is
// trimmed first. All-day values become plain dates; UTC values become
// instants; anything else keeps its zone when it is a loadable IANA id.
func fromGraphTime(gdt *graphDateTime, allDay bool) (temporal.Value, error) {
	if gdt == nil || gdt.DateTime == "" {
		return temporal.Value{}, nil
	}
	raw := gdt.DateTime
	if dot := strings.IndexByte(raw, '.'); dot >= 0 {
		raw = raw[:dot]
	}
	t, err := time.Parse(graphTimeFormat, raw)
	if err != nil {
		return temporal.Value{}, apperr.ParseError(gdt.DateTime, "not a Graph date-time")
	}

	if allDay {
		return temporal.NewPlainDate(t.Year(), t.Month(), t.Day())
	}
	zone := gdt.TimeZone
	if zone == "" || strings.EqualFold(zone, "UTC") {
		return temporal.NewInstant(t), nil
	}
	if _, loadErr := time.LoadLocation(zone); loadErr != nil {
		// Windows zone names are not loadable; with the UTC Prefer
		// header this path only covers unexpected payloads.
		return temporal.NewInstant(t), nil
	}
	return temporal.NewZonedWall(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), zone)
}

func toGraphTime(v temporal.Value) *graphDateTime {
	if v.IsZero() {
		return nil
	}
	switch v.Kind() {
	case temporal.KindPlainDate:
		return &graphDateTime{DateTime: v.Time().Format(graphTimeFormat), TimeZone: "UTC"}
	case temporal.KindZoned:
		return &graphDateTime{DateTime: v.Time().Format(graphTimeFormat), TimeZone: v.Zone()}
	default:
		return &graphDateTime{DateTime: v.Time().UTC().Format(graphTimeFormat), TimeZone: "UTC"}
	}
}

// =============================================================================
// Attendee Mapping
// =============================================================================

var graphResponseStatus = map[string]domain.AttendeeStatus{
	"accepted":           domain.AttendeeAccepted,
	"organizer":          domain.AttendeeAccepted,
	"tentativelyAccepted": domain.AttendeeTentative,
	"declined":           domain.AttendeeDeclined,
	"notResponded":       domain.AttendeeUnknown,
	"none":               domain.AttendeeUnknown,
}

func fromGraphAttendees(e *graphEvent) []domain.Attendee {
	attendees := make([]domain.Attendee, 0, len(e.Attendees)+1)
	if e.Organizer != nil && e.Organizer.EmailAddress.Address != "" {
		attendees = append(attendees, domain.Attendee{
			Email:     e.Organizer.EmailAddress.Address,
			Name:      e.Organizer.EmailAddress.Name,
			Status:    domain.AttendeeAccepted,
			Type:      domain.AttendeeRequired,
			Organizer: true,
		})
	}
	for _, att := range e.Attendees {
		if e.Organizer != nil && att.EmailAddress.Address == e.Organizer.EmailAddress.Address {
			continue
		}
		status, ok := graphResponseStatus[att.Status.Response]
		if !ok {
			status = domain.AttendeeUnknown
		}
		attendeeType := domain.AttendeeRequired
		switch att.Type {
		case "optional":
			attendeeType = domain.AttendeeOptional
		case "resource":
			attendeeType = domain.AttendeeResource
		}
		attendees = append(attendees, domain.Attendee{
			Email:  att.EmailAddress.Address,
			Name:   att.EmailAddress.Name,
			Status: status,
			Type:   attendeeType,
		})
	}
	return attendees
}

// =============================================================================
// Recurrence Mapping
// =============================================================================

var graphWeekday = map[string]domain.Weekday{
	"monday":    domain.WeekdayMonday,
	"tuesday":   domain.WeekdayTuesday,
	"wednesday": domain.WeekdayWednesday,
	"thursday":  domain.WeekdayThursday,
	"friday":    domain.WeekdayFriday,
	"saturday":  domain.WeekdaySaturday,
	"sunday":    domain.WeekdaySunday,
}

var graphWeekdayName = map[domain.Weekday]string{
	domain.WeekdayMonday:    "monday",
	domain.WeekdayTuesday:   "tuesday",
	domain.WeekdayWednesday: "wednesday",
	domain.WeekdayThursday:  "thursday",
	domain.WeekdayFriday:    "friday",
	domain.WeekdaySaturday:  "saturday",
	domain.WeekdaySunday:    "sunday",
}

var graphIndexOrdinal = map[string]int{
	"first":  1,
	"second": 2,
	"third":  3,
	"fourth": 4,
	"last":   -1,
}

// fromGraphRecurrence converts the structured Graph recurrence into the
// canonical rule. Relative patterns (second Tuesday) become ordinal
// BYDAY entries; an endDate range becomes a plain-date UNTIL.
func fromGraphRecurrence(g *graphRecurrence, start temporal.Value) (*domain.Recurrence, error) {
	r := &domain.Recurrence{Interval: g.Pattern.Interval}

	ordinal := graphIndexOrdinal[g.Pattern.Index]
	switch g.Pattern.Type {
	case "daily":
		r.Freq = domain.FreqDaily
	case "weekly":
		r.Freq = domain.FreqWeekly
	case "absoluteMonthly":
		r.Freq = domain.FreqMonthly
		if g.Pattern.DayOfMonth > 0 {
			r.ByMonthDay = []int{g.Pattern.DayOfMonth}
		}
	case "relativeMonthly":
		r.Freq = domain.FreqMonthly
	case "absoluteYearly":
		r.Freq = domain.FreqYearly
		if g.Pattern.Month > 0 {
			r.ByMonth = []int{g.Pattern.Month}
		}
		if g.Pattern.DayOfMonth > 0 {
			r.ByMonthDay = []int{g.Pattern.DayOfMonth}
		}
	case "relativeYearly":
		r.Freq = domain.FreqYearly
		if g.Pattern.Month > 0 {
			r.ByMonth = []int{g.Pattern.Month}
		}
	default:
		return nil, apperr.InvalidRecurrence("unsupported Graph pattern " + g.Pattern.Type)
	}

	relative := g.Pattern.Type == "relativeMonthly" || g.Pattern.Type == "relativeYearly"
	for _, day := range g.Pattern.DaysOfWeek {
		wd, ok := graphWeekday[strings.ToLower(day)]
		if !ok {
			return nil, apperr.InvalidRecurrence("unknown Graph weekday " + day)
		}
		rule := domain.ByDayRule{Weekday: wd}
		if relative {
			rule.Ordinal = ordinal
		}
		r.ByDay = append(r.ByDay, rule)
	}

	if wd, ok := graphWeekday[strings.ToLower(g.Pattern.FirstDayOfWeek)]; ok {
		r.WeekStart = wd
	}

	switch g.Range.Type {
	case "endDate":
		t, err := time.Parse("2006-01-02", g.Range.EndDate)
		if err != nil {
			return nil, apperr.ParseError(g.Range.EndDate, "not a Graph range end date")
		}
		until, err := temporal.NewPlainDate(t.Year(), t.Month(), t.Day())
		if err != nil {
			return nil, err
		}
		r.Until = &until
	case "numbered":
		r.Count = g.Range.NumberOfOccurrences
	}

	if !start.IsZero() {
		dtstart := start
		r.DTStart = &dtstart
	}
	return r, nil
}

// toGraphRecurrence converts the canonical rule back into the Graph
// structure. Rules Graph cannot express (multiple ordinals, BYSETPOS)
// fail rather than writing a silently different series.
func toGraphRecurrence(r *domain.Recurrence, start temporal.Value, timeZone string) (*graphRecurrence, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if len(r.BySetPos) > 0 {
		return nil, apperr.InvalidRecurrence("Graph cannot express BYSETPOS")
	}

	g := &graphRecurrence{}
	g.Pattern.Interval = r.EffectiveInterval()

	ordinal := 0
	for _, d := range r.ByDay {
		name, ok := graphWeekdayName[d.Weekday]
		if !ok {
			return nil, apperr.InvalidRecurrence("unknown weekday " + string(d.Weekday))
		}
		g.Pattern.DaysOfWeek = append(g.Pattern.DaysOfWeek, name)
		if d.Ordinal != 0 {
			if ordinal != 0 && ordinal != d.Ordinal {
				return nil, apperr.InvalidRecurrence("Graph supports a single BYDAY ordinal")
			}
			ordinal = d.Ordinal
		}
	}

	switch r.Freq {
	case domain.FreqDaily:
		g.Pattern.Type = "daily"
	case domain.FreqWeekly:
		g.Pattern.Type = "weekly"
	case domain.FreqMonthly:
		if ordinal != 0 {
			g.Pattern.Type = "relativeMonthly"
		} else {
			g.Pattern.Type = "absoluteMonthly"
			if len(r.ByMonthDay) > 0 {
				g.Pattern.DayOfMonth = r.ByMonthDay[0]
			}
		}
	case domain.FreqYearly:
		if ordinal != 0 {
			g.Pattern.Type = "relativeYearly"
		} else {
			g.Pattern.Type = "absoluteYearly"
			if len(r.ByMonthDay) > 0 {
				g.Pattern.DayOfMonth = r.ByMonthDay[0]
			}
		}
		if len(r.ByMonth) > 0 {
			g.Pattern.Month = r.ByMonth[0]
		}
	default:
		return nil, apperr.InvalidRecurrence("Graph cannot express frequency " + string(r.Freq))
	}

	if ordinal != 0 {
		for name, n := range graphIndexOrdinal {
			if n == ordinal {
				g.Pattern.Index = name
				break
			}
		}
		if g.Pattern.Index == "" {
			return nil, apperr.InvalidRecurrence("Graph cannot express BYDAY ordinal beyond fourth/last")
		}
	}

	if r.WeekStart != "" {
		g.Pattern.FirstDayOfWeek = graphWeekdayName[r.WeekStart]
	}

	switch {
	case r.Count > 0:
		g.Range.Type = "numbered"
		g.Range.NumberOfOccurrences = r.Count
	case r.Until != nil:
		g.Range.Type = "endDate"
		instant, err := r.Until.ToInstant(timeZone)
		if err != nil {
			return nil, err
		}
		g.Range.EndDate = instant.Format("2006-01-02")
	default:
		g.Range.Type = "noEnd"
	}

	if !start.IsZero() {
		instant, err := start.ToInstant(timeZone)
		if err != nil {
			return nil, err
		}
		g.Range.StartDate = instant.Format("2006-01-02")
	}
	g.Range.RecurrenceTimeZone = timeZone
	return g, nil
}

// =============================================================================
// Event Mapping
// =============================================================================

func fromGraphEvent(e *graphEvent, accountID, calendarID string) (*domain.CalendarEvent, error) {
	start, err := fromGraphTime(e.Start, e.IsAllDay)
	if err != nil {
		return nil, err
	}
	end, err := fromGraphTime(e.End, e.IsAllDay)
	if err != nil {
		return nil, err
	}

	event := &domain.CalendarEvent{
		ID:           e.ID,
		Title:        e.Subject,
		Description:  e.Body.Content,
		Start:        start,
		End:          end,
		AllDay:       e.IsAllDay,
		Location:     e.Location.DisplayName,
		Status:       e.ShowAs,
		Availability: domain.AvailabilityBusy,
		Attendees:    fromGraphAttendees(e),
		URL:          e.WebLink,
		ETag:         e.ChangeKey,
		Visibility:   e.Sensitivity,
		ProviderID:   domain.ProviderMicrosoft,
		AccountID:    accountID,
		CalendarID:   calendarID,
	}
	if e.ShowAs == "free" {
		event.Availability = domain.AvailabilityFree
	}
	if e.Type == "occurrence" || e.Type == "exception" {
		event.RecurringEventID = e.SeriesMasterID
	}

	if e.ResponseStatus != nil {
		if status, ok := graphResponseStatus[e.ResponseStatus.Response]; ok && status != domain.AttendeeUnknown {
			event.Response = &domain.EventResponse{Status: status}
		}
	}

	if e.Recurrence != nil {
		rec, err := fromGraphRecurrence(e.Recurrence, start)
		if err != nil {
			return nil, err
		}
		event.Recurrence = rec
	}

	if e.OnlineMeeting != nil {
		event.Conference = &domain.Conference{
			ProviderName: e.OnlineMeetingProvider,
			JoinURL:      e.OnlineMeeting.JoinURL,
		}
	}
	if t, err := time.Parse(time.RFC3339, e.CreatedDateTime); err == nil {
		event.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, e.LastModifiedDateTime); err == nil {
		event.UpdatedAt = t
	}
	return event, nil
}

func toGraphEvent(event *domain.CalendarEvent) (map[string]any, error) {
	payload := map[string]any{
		"subject": event.Title,
		"body": map[string]string{
			"contentType": "HTML",
			"content":     event.Description,
		},
		"isAllDay": event.AllDay || event.Start.Kind() == temporal.KindPlainDate,
	}
	if start := toGraphTime(event.Start); start != nil {
		payload["start"] = start
	}
	if end := toGraphTime(event.End); end != nil {
		payload["end"] = end
	}
	if event.Location != "" {
		payload["location"] = map[string]string{"displayName": event.Location}
	}
	if event.Availability != "" {
		showAs := "busy"
		if event.Availability == domain.AvailabilityFree {
			showAs = "free"
		}
		payload["showAs"] = showAs
	}
	if event.Visibility != "" {
		payload["sensitivity"] = event.Visibility
	}

	attendees := make([]map[string]any, 0, len(event.Attendees))
	for _, att := range event.Attendees {
		if att.Organizer {
			continue
		}
		attType := "required"
		switch att.Type {
		case domain.AttendeeOptional:
			attType = "optional"
		case domain.AttendeeResource:
			attType = "resource"
		}
		attendees = append(attendees, map[string]any{
			"type": attType,
			"emailAddress": map[string]string{
				"address": att.Email,
				"name":    att.Name,
			},
		})
	}
	if len(attendees) > 0 {
		payload["attendees"] = attendees
	}

	if event.Recurrence != nil {
		timeZone := event.Start.Zone()
		if timeZone == "" {
			timeZone = "UTC"
		}
		rec, err := toGraphRecurrence(event.Recurrence, event.Start, timeZone)
		if err != nil {
			return nil, err
		}
		payload["recurrence"] = rec
	}
	return payload, nil
}
