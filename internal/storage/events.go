package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

// ResolutionEvent is an alias for the domain type.
type ResolutionEvent = domain.ResolutionEvent

// PollResolutionEvents returns unconsumed resolution events in append order.
// Downstream consumers poll this and acknowledge with MarkEventConsumed.
func (db *DB) PollResolutionEvents(ctx context.Context, limit int) ([]ResolutionEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, source_item_id, candidate_id, created_at
		FROM resolution_events
		WHERE consumed_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("poll resolution events: %w", err)
	}
	defer rows.Close()

	events := []ResolutionEvent{}

	for rows.Next() {
		var (
			event       ResolutionEvent
			itemID      pgtype.UUID
			candidateID pgtype.UUID
			createdAt   pgtype.Timestamptz
		)

		if err := rows.Scan(&event.ID, &itemID, &candidateID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan resolution event: %w", err)
		}

		event.SourceItemID = fromUUID(itemID)
		event.AcceptedCandidateID = fromUUID(candidateID)
		event.CreatedAt = fromTimestamptz(createdAt)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolution events rows: %w", err)
	}

	return events, nil
}

// MarkEventConsumed acknowledges one delivered event.
func (db *DB) MarkEventConsumed(ctx context.Context, id int64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE resolution_events SET consumed_at = NOW() WHERE id = $1 AND consumed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark event consumed: %w", err)
	}

	return nil
}
