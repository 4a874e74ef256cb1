package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

// SourceItem is an alias for the domain type.
type SourceItem = domain.SourceItem

// ErrItemNotFound is returned when a source item does not exist.
var ErrItemNotFound = errors.New("source item not found")

// SaveSourceItem inserts a source item; the id is generated when empty.
func (db *DB) SaveSourceItem(ctx context.Context, item *SourceItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO source_items (id, title, description, url, published_at, searched, resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, toUUID(item.ID), sanitizeUTF8(item.Title), toText(item.Description), toText(item.URL),
		toTimestamptz(item.PublishedAt), item.Searched, item.Resolved)
	if err != nil {
		return fmt.Errorf("save source item: %w", err)
	}

	return nil
}

// GetSourceItem loads one source item by id.
func (db *DB) GetSourceItem(ctx context.Context, id string) (*SourceItem, error) {
	item, err := scanSourceItem(db.Pool.QueryRow(ctx, `
		SELECT id, title, description, url, published_at, searched, resolved, created_at
		FROM source_items
		WHERE id = $1
	`, toUUID(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}

		return nil, fmt.Errorf("get source item: %w", err)
	}

	return item, nil
}

// ClaimUnsearchedItems returns source items that have no candidate pool yet.
func (db *DB) ClaimUnsearchedItems(ctx context.Context, limit int) ([]SourceItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, title, description, url, published_at, searched, resolved, created_at
		FROM source_items
		WHERE NOT searched AND NOT resolved
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim unsearched items: %w", err)
	}
	defer rows.Close()

	items := []SourceItem{}

	for rows.Next() {
		item, err := scanSourceItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source item: %w", err)
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim unsearched items rows: %w", err)
	}

	return items, nil
}

// MarkItemSearched records that the candidate pool for the item was built.
// Set even when the search returned nothing, so empty queries are not re-run
// every poll.
func (db *DB) MarkItemSearched(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE source_items SET searched = TRUE WHERE id = $1
	`, toUUID(id))
	if err != nil {
		return fmt.Errorf("mark item searched: %w", err)
	}

	return nil
}

// ClaimUnresolvedItems returns searched, unresolved source items that still
// have at least one open (non-terminal) candidate, including candidates a
// previous run left in success or flag_low. Items whose pool is exhausted are
// not re-claimed until new candidates arrive.
func (db *DB) ClaimUnresolvedItems(ctx context.Context, limit int) ([]SourceItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT si.id, si.title, si.description, si.url, si.published_at, si.searched, si.resolved, si.created_at
		FROM source_items si
		WHERE si.searched AND NOT si.resolved
		  AND EXISTS (
			SELECT 1 FROM candidates c
			WHERE c.source_item_id = si.id AND c.status = ANY($1)
		  )
		ORDER BY si.created_at
		LIMIT $2
	`, openStatuses, limit)
	if err != nil {
		return nil, fmt.Errorf("claim unresolved items: %w", err)
	}
	defer rows.Close()

	items := []SourceItem{}

	for rows.Next() {
		item, err := scanSourceItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source item: %w", err)
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim unresolved items rows: %w", err)
	}

	return items, nil
}

// CountUnresolvedItems reports the resolver backlog for metrics.
func (db *DB) CountUnresolvedItems(ctx context.Context) (int64, error) {
	var count int64

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM source_items si
		WHERE si.searched AND NOT si.resolved
		  AND EXISTS (
			SELECT 1 FROM candidates c
			WHERE c.source_item_id = si.id AND c.status = ANY($1)
		  )
	`, openStatuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved items: %w", err)
	}

	return count, nil
}

// SaveItemEmbedding caches the embedding of the item's title+description so
// the similarity gate does not recompute it per candidate.
func (db *DB) SaveItemEmbedding(ctx context.Context, itemID string, embedding []float32) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO item_embeddings (item_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (item_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, toUUID(itemID), pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("save item embedding: %w", err)
	}

	return nil
}

// GetItemEmbedding returns the cached embedding, or nil when absent.
func (db *DB) GetItemEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	var vec pgvector.Vector

	err := db.Pool.QueryRow(ctx, `
		SELECT embedding FROM item_embeddings WHERE item_id = $1
	`, toUUID(itemID)).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("get item embedding: %w", err)
	}

	return vec.Slice(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSourceItem(row rowScanner) (*SourceItem, error) {
	var (
		item        SourceItem
		id          = toUUID("")
		description = toText("")
		url         = toText("")
		publishedAt = toTimestamptz(item.PublishedAt)
		createdAt   = toTimestamptz(item.CreatedAt)
	)

	if err := row.Scan(&id, &item.Title, &description, &url, &publishedAt, &item.Searched, &item.Resolved, &createdAt); err != nil {
		return nil, err
	}

	item.ID = fromUUID(id)
	item.Description = fromText(description)
	item.URL = fromText(url)
	item.PublishedAt = fromTimestamptz(publishedAt)
	item.CreatedAt = fromTimestamptz(createdAt)

	return &item, nil
}
