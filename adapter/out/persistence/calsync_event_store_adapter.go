package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
)

// EventStoreAdapter implements out.EventStore on PostgreSQL. The
// canonical event is stored as a JSON payload next to indexed window
// columns, so temporal variants survive storage byte-for-byte.
type EventStoreAdapter struct {
	db *sqlx.DB
}

func NewEventStoreAdapter(db *sqlx.DB) *EventStoreAdapter {
	return &EventStoreAdapter{db: db}
}

type eventRow struct {
	AccountID  string    `db:"account_id"`
	CalendarID string    `db:"calendar_id"`
	EventID    string    `db:"event_id"`
	Provider   string    `db:"provider"`
	StartAt    time.Time `db:"start_at"`
	Payload    []byte    `db:"payload"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *eventRow) toEntity() (*domain.CalendarEvent, error) {
	var event domain.CalendarEvent
	if err := json.Unmarshal(r.Payload, &event); err != nil {
		return nil, apperr.DatabaseError("decode event payload", err)
	}
	return &event, nil
}

func eventToRow(event *domain.CalendarEvent) (*eventRow, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, apperr.DatabaseError("encode event payload", err)
	}
	start, err := event.Start.ToInstant("UTC")
	if err != nil {
		return nil, err
	}
	return &eventRow{
		AccountID:  event.AccountID,
		CalendarID: event.CalendarID,
		EventID:    event.ID,
		Provider:   string(event.ProviderID),
		StartAt:    start,
		Payload:    payload,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

const upsertEventQuery = `
	INSERT INTO calendar_events (account_id, calendar_id, event_id, provider, start_at, payload, updated_at)
	VALUES (:account_id, :calendar_id, :event_id, :provider, :start_at, :payload, :updated_at)
	ON CONFLICT (account_id, calendar_id, event_id)
	DO UPDATE SET provider = EXCLUDED.provider,
	              start_at = EXCLUDED.start_at,
	              payload = EXCLUDED.payload,
	              updated_at = EXCLUDED.updated_at`

func (a *EventStoreAdapter) UpsertEvent(ctx context.Context, event *domain.CalendarEvent) error {
	row, err := eventToRow(event)
	if err != nil {
		return err
	}
	if _, err := a.db.NamedExecContext(ctx, upsertEventQuery, row); err != nil {
		return apperr.DatabaseError("upsert event", err)
	}
	return nil
}

func (a *EventStoreAdapter) DeleteEvent(ctx context.Context, ref domain.EventRef) error {
	query := `DELETE FROM calendar_events WHERE account_id = $1 AND calendar_id = $2 AND event_id = $3`
	if _, err := a.db.ExecContext(ctx, query, ref.AccountID, ref.CalendarID, ref.ID); err != nil {
		return apperr.DatabaseError("delete event", err)
	}
	return nil
}

func (a *EventStoreAdapter) GetEvent(ctx context.Context, ref domain.EventRef) (*domain.CalendarEvent, error) {
	query := `SELECT * FROM calendar_events WHERE account_id = $1 AND calendar_id = $2 AND event_id = $3`

	var row eventRow
	err := a.db.QueryRowxContext(ctx, query, ref.AccountID, ref.CalendarID, ref.ID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("event " + ref.ID)
		}
		return nil, apperr.DatabaseError("get event", err)
	}
	return row.toEntity()
}

func (a *EventStoreAdapter) ListEvents(ctx context.Context, accountID, calendarID string, from, to time.Time) ([]*domain.CalendarEvent, error) {
	query := `SELECT * FROM calendar_events
	          WHERE account_id = $1 AND calendar_id = $2 AND start_at >= $3 AND start_at < $4
	          ORDER BY start_at`

	var rows []eventRow
	if err := a.db.SelectContext(ctx, &rows, query, accountID, calendarID, from, to); err != nil {
		return nil, apperr.DatabaseError("list events", err)
	}

	events := make([]*domain.CalendarEvent, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// ApplyBatch applies one sync cycle in a single transaction. A full
// resync first removes the calendar's events inside the window that the
// listing no longer returned; the new sync token commits together with
// the items or not at all.
func (a *EventStoreAdapter) ApplyBatch(ctx context.Context, batch *out.EventBatch) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin batch", err)
	}
	defer tx.Rollback()

	if batch.FullResync {
		if err := a.pruneWindow(ctx, tx, batch); err != nil {
			return err
		}
	}

	for _, item := range batch.Items {
		switch item.Status {
		case domain.SyncItemUpdated:
			row, err := eventToRow(item.Event)
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, upsertEventQuery, row); err != nil {
				return apperr.DatabaseError("batch upsert", err)
			}
		case domain.SyncItemDeleted:
			query := `DELETE FROM calendar_events WHERE account_id = $1 AND calendar_id = $2 AND event_id = $3`
			if _, err := tx.ExecContext(ctx, query, item.Ref.AccountID, item.Ref.CalendarID, item.Ref.ID); err != nil {
				return apperr.DatabaseError("batch delete", err)
			}
		}
	}

	tokenQuery := `UPDATE calendars SET sync_token = $1, updated_at = $2
	               WHERE account_id = $3 AND calendar_id = $4`
	if _, err := tx.ExecContext(ctx, tokenQuery, batch.SyncToken, time.Now().UTC(), batch.AccountID, batch.CalendarID); err != nil {
		return apperr.DatabaseError("store sync token", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit batch", err)
	}
	return nil
}

// pruneWindow deletes in-window events the full listing did not return.
// Events outside the window are untouched; the provider never reported
// on them.
func (a *EventStoreAdapter) pruneWindow(ctx context.Context, tx *sqlx.Tx, batch *out.EventBatch) error {
	kept := make([]string, 0, len(batch.Items))
	for _, item := range batch.Items {
		if item.Event != nil {
			kept = append(kept, item.Event.ID)
		}
	}

	query := `DELETE FROM calendar_events
	          WHERE account_id = ? AND calendar_id = ? AND start_at >= ? AND start_at < ?`
	args := []any{batch.AccountID, batch.CalendarID, batch.WindowMin, batch.WindowMax}
	if len(kept) > 0 {
		inQuery, inArgs, err := sqlx.In(query+` AND event_id NOT IN (?)`, args[0], args[1], args[2], args[3], kept)
		if err != nil {
			return apperr.DatabaseError("build prune query", err)
		}
		query, args = inQuery, inArgs
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return apperr.DatabaseError("prune resync window", err)
	}
	return nil
}

func (a *EventStoreAdapter) GetSyncToken(ctx context.Context, accountID, calendarID string) (string, error) {
	query := `SELECT sync_token FROM calendars WHERE account_id = $1 AND calendar_id = $2`

	var token sql.NullString
	err := a.db.QueryRowxContext(ctx, query, accountID, calendarID).Scan(&token)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", apperr.DatabaseError("get sync token", err)
	}
	return token.String, nil
}

type calendarRow struct {
	AccountID   string         `db:"account_id"`
	CalendarID  string         `db:"calendar_id"`
	Provider    string         `db:"provider"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	TimeZone    sql.NullString `db:"time_zone"`
	IsPrimary   bool           `db:"is_primary"`
	Color       sql.NullString `db:"color"`
	ReadOnly    bool           `db:"read_only"`
	SyncToken   sql.NullString `db:"sync_token"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *calendarRow) toEntity() *domain.Calendar {
	return &domain.Calendar{
		ID:          r.CalendarID,
		ProviderID:  domain.ProviderID(r.Provider),
		Name:        r.Name,
		Description: r.Description.String,
		TimeZone:    r.TimeZone.String,
		Primary:     r.IsPrimary,
		AccountID:   r.AccountID,
		Color:       r.Color.String,
		ReadOnly:    r.ReadOnly,
		SyncToken:   r.SyncToken.String,
	}
}

// UpsertCalendar refreshes calendar metadata without clobbering the
// stored sync token.
func (a *EventStoreAdapter) UpsertCalendar(ctx context.Context, calendar *domain.Calendar) error {
	query := `
		INSERT INTO calendars (account_id, calendar_id, provider, name, description, time_zone, is_primary, color, read_only, sync_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10)
		ON CONFLICT (account_id, calendar_id)
		DO UPDATE SET provider = EXCLUDED.provider,
		              name = EXCLUDED.name,
		              description = EXCLUDED.description,
		              time_zone = EXCLUDED.time_zone,
		              is_primary = EXCLUDED.is_primary,
		              color = EXCLUDED.color,
		              read_only = EXCLUDED.read_only,
		              updated_at = EXCLUDED.updated_at`
	_, err := a.db.ExecContext(ctx, query,
		calendar.AccountID, calendar.ID, string(calendar.ProviderID), calendar.Name,
		calendar.Description, calendar.TimeZone, calendar.Primary, calendar.Color,
		calendar.ReadOnly, time.Now().UTC())
	if err != nil {
		return apperr.DatabaseError("upsert calendar", err)
	}
	return nil
}

func (a *EventStoreAdapter) ListCalendars(ctx context.Context, accountID string) ([]*domain.Calendar, error) {
	query := `SELECT * FROM calendars WHERE account_id = $1 ORDER BY calendar_id`

	var rows []calendarRow
	if err := a.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, apperr.DatabaseError("list calendars", err)
	}

	calendars := make([]*domain.Calendar, len(rows))
	for i := range rows {
		calendars[i] = rows[i].toEntity()
	}
	return calendars, nil
}

// SyncAccount is one account/provider pair with stored calendars.
type SyncAccount struct {
	AccountID string `db:"account_id"`
	Provider  string `db:"provider"`
}

// ListSyncAccounts enumerates the accounts with at least one stored
// calendar, for scheduled background syncs.
func (a *EventStoreAdapter) ListSyncAccounts(ctx context.Context) ([]SyncAccount, error) {
	query := `SELECT DISTINCT account_id, provider FROM calendars ORDER BY account_id, provider`

	var accounts []SyncAccount
	if err := a.db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, apperr.DatabaseError("list sync accounts", err)
	}
	return accounts, nil
}

var _ out.EventStore = (*EventStoreAdapter)(nil)
