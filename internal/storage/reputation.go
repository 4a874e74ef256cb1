package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

// DomainReputation is an alias for the domain type.
type DomainReputation = domain.DomainReputation

// RecordDomainOutcome applies one candidate outcome to the domain's ledger
// row with additive increments, creating the row on first observation. The
// write is idempotent: the outcome is keyed by candidate id in
// domain_outcomes, and a duplicate key leaves the counters untouched.
func (db *DB) RecordDomainOutcome(ctx context.Context, outcomeID, name string, success bool, reason domain.FailureReason, at time.Time) (*DomainReputation, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin record outcome: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO domain_outcomes (candidate_id, domain, success, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (candidate_id) DO NOTHING
	`, toUUID(outcomeID), name, success, toText(string(reason)), at)
	if err != nil {
		return nil, fmt.Errorf("insert domain outcome: %w", err)
	}

	if tag.RowsAffected() > 0 {
		if err := applyOutcome(ctx, tx, name, success, reason, at); err != nil {
			return nil, err
		}
	}

	rep, err := getDomainReputation(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit record outcome: %w", err)
	}

	return rep, nil
}

func applyOutcome(ctx context.Context, tx pgx.Tx, name string, success bool, reason domain.FailureReason, at time.Time) error {
	if success {
		_, err := tx.Exec(ctx, `
			INSERT INTO domain_reputation (domain, success_count, last_success_at)
			VALUES ($1, 1, $2)
			ON CONFLICT (domain) DO UPDATE SET
				success_count = domain_reputation.success_count + 1,
				last_success_at = EXCLUDED.last_success_at
		`, name, at)
		if err != nil {
			return fmt.Errorf("increment success count: %w", err)
		}

		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO domain_reputation (domain, fail_count, fail_by_reason, last_failure_at)
		VALUES ($1, 1, jsonb_build_object($2::text, 1), $3)
		ON CONFLICT (domain) DO UPDATE SET
			fail_count = domain_reputation.fail_count + 1,
			fail_by_reason = jsonb_set(
				domain_reputation.fail_by_reason,
				ARRAY[$2::text],
				(COALESCE(domain_reputation.fail_by_reason->>$2, '0')::int + 1)::text::jsonb
			),
			last_failure_at = EXCLUDED.last_failure_at
	`, name, string(reason), at)
	if err != nil {
		return fmt.Errorf("increment failure count: %w", err)
	}

	return nil
}

// GetDomainReputation loads one ledger row, or nil when the domain has not
// been observed yet.
func (db *DB) GetDomainReputation(ctx context.Context, name string) (*DomainReputation, error) {
	return getDomainReputation(ctx, db.Pool, name)
}

// UpdateDomainScore persists the recomputed Wilson-bound score.
func (db *DB) UpdateDomainScore(ctx context.Context, name string, score float64) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE domain_reputation SET score = $2 WHERE domain = $1
	`, name, score)
	if err != nil {
		return fmt.Errorf("update domain score: %w", err)
	}

	return nil
}

// SetDomainBlock sets or clears the block state, creating the row when the
// domain was never crawled (operators may pre-block domains).
func (db *DB) SetDomainBlock(ctx context.Context, name string, blocked bool, reason string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO domain_reputation (domain, blocked, block_reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain) DO UPDATE SET
			blocked = EXCLUDED.blocked,
			block_reason = EXCLUDED.block_reason
	`, name, blocked, toText(reason))
	if err != nil {
		return fmt.Errorf("set domain block: %w", err)
	}

	return nil
}

// ListDomainReputations returns ledger rows for reporting and the periodic
// auto-block sweep.
func (db *DB) ListDomainReputations(ctx context.Context, minAttempts int, blockedOnly bool) ([]DomainReputation, error) {
	q := psql.
		Select("domain", "success_count", "fail_count", "fail_by_reason", "score",
			"blocked", "block_reason", "last_success_at", "last_failure_at").
		From("domain_reputation").
		OrderBy("domain")

	if minAttempts > 0 {
		q = q.Where(sq.Expr("success_count + fail_count >= ?", minAttempts))
	}

	if blockedOnly {
		q = q.Where(sq.Eq{"blocked": true})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reputation query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query domain reputations: %w", err)
	}
	defer rows.Close()

	reps := []DomainReputation{}

	for rows.Next() {
		rep, err := scanDomainReputation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain reputation: %w", err)
		}

		reps = append(reps, *rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("domain reputation rows: %w", err)
	}

	return reps, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDomainReputation(ctx context.Context, q queryRower, name string) (*DomainReputation, error) {
	rep, err := scanDomainReputation(q.QueryRow(ctx, `
		SELECT domain, success_count, fail_count, fail_by_reason, score,
		       blocked, block_reason, last_success_at, last_failure_at
		FROM domain_reputation
		WHERE domain = $1
	`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("get domain reputation: %w", err)
	}

	return rep, nil
}

func scanDomainReputation(row rowScanner) (*DomainReputation, error) {
	var (
		rep         DomainReputation
		reasonsRaw  []byte
		blockReason pgtype.Text
		lastSuccess pgtype.Timestamptz
		lastFailure pgtype.Timestamptz
	)

	if err := row.Scan(&rep.Domain, &rep.SuccessCount, &rep.FailCount, &reasonsRaw,
		&rep.Score, &rep.Blocked, &blockReason, &lastSuccess, &lastFailure); err != nil {
		return nil, err
	}

	rep.BlockReason = fromText(blockReason)
	rep.LastSuccessAt = fromTimestamptz(lastSuccess)
	rep.LastFailureAt = fromTimestamptz(lastFailure)
	rep.FailByReason = map[domain.FailureReason]int{}

	if len(reasonsRaw) > 0 {
		counts := map[string]int{}
		if err := json.Unmarshal(reasonsRaw, &counts); err != nil {
			return nil, fmt.Errorf("decode fail_by_reason: %w", err)
		}

		for reason, count := range counts {
			rep.FailByReason[domain.FailureReason(reason)] = count
		}
	}

	return &rep, nil
}
