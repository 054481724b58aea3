package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const tableName = "booking_outbox"

var (
	ErrBuildQuery = errors.New("outbox: failed to build query")
	ErrExecQuery  = errors.New("outbox: failed to execute query")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var schemaDDL = []string{`CREATE TABLE IF NOT EXISTS ` + tableName + ` (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	event_type TEXT NOT NULL,
	booking_id TEXT NOT NULL,
	payload BYTEA NOT NULL,
	published BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS booking_outbox_unpublished_idx ON ` + tableName + ` (id) WHERE published = FALSE`,
}

// EnsureSchema creates the outbox table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: EnsureSchema - %v", ErrExecQuery, err)
		}
	}
	return nil
}
