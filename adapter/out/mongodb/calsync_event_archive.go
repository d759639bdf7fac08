// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
)

// EventArchiveAdapter keeps the raw provider payload of every synced
// event, one document per provider event, newest write wins. The
// archive exists to settle sync disputes; it is never read on the hot
// path.
type EventArchiveAdapter struct {
	collection *mongo.Collection
}

func NewEventArchiveAdapter(client *mongo.Client, database string) *EventArchiveAdapter {
	return &EventArchiveAdapter{
		collection: client.Database(database).Collection("event_payloads"),
	}
}

func (a *EventArchiveAdapter) Archive(ctx context.Context, provider domain.ProviderID, accountID, calendarID, eventID string, payload []byte) error {
	filter := bson.M{
		"provider":    string(provider),
		"account_id":  accountID,
		"calendar_id": calendarID,
		"event_id":    eventID,
	}
	update := bson.M{
		"$set": bson.M{
			"payload":     payload,
			"archived_at": time.Now().UTC(),
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := a.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return apperr.DatabaseError("archive event payload", err)
	}
	return nil
}

var _ out.EventArchive = (*EventArchiveAdapter)(nil)
