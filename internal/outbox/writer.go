package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/shego/internal/booking/domain"
)

// Writer records booking events in the outbox table; the Worker relays them.
type Writer struct {
	db    *sql.DB
	topic string
}

func NewWriter(db *sql.DB, topic string) *Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Writer{db: db, topic: topic}
}

// DefaultTopic is the NATS subject booking events are relayed to.
const DefaultTopic = "booking.events"

// Publish satisfies domain.EventPublisher.
func (w *Writer) Publish(ctx context.Context, event domain.BookingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	query, args, err := psql.Insert(tableName).
		Columns("topic", "event_type", "booking_id", "payload").
		Values(w.topic, string(event.Type), event.BookingID, payload).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: Publish - %v", ErrBuildQuery, err)
	}
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: Publish - insert: %v", ErrExecQuery, err)
	}
	return nil
}
