package db

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/openbrief/article-resolver/internal/core/domain"
)

// Candidate is an alias for the domain type.
type Candidate = domain.Candidate

var (
	// ErrCandidateNotFound is returned when a candidate does not exist or is
	// not in the expected state for the requested transition.
	ErrCandidateNotFound = errors.New("candidate not found or not in expected state")

	// ErrAlreadyResolved is returned when an accept races a sibling that
	// already reached the accepted state.
	ErrAlreadyResolved = errors.New("source item already has an accepted candidate")
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// SaveCandidates inserts a batch of candidates for one source item,
// preserving arrival order in position. Existing ids are left untouched so
// a re-run of the search step cannot reset candidate state.
func (db *DB) SaveCandidates(ctx context.Context, candidates []Candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save candidates: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for i := range candidates {
		c := &candidates[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}

		if c.Status == "" {
			c.Status = domain.CandidateStatusPending
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO candidates (id, source_item_id, url, title, domain, similarity_score, status, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, toUUID(c.ID), toUUID(c.SourceItemID), sanitizeUTF8(c.URL), toText(c.Title),
			sanitizeUTF8(c.Domain), c.SimilarityScore, string(c.Status), c.Position)
		if err != nil {
			return fmt.Errorf("save candidate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save candidates: %w", err)
	}

	return nil
}

// openStatuses are the non-terminal states a crashed or aborted run can leave
// behind. Candidates in any of them are still eligible for processing: a
// success re-enters at the verify step, a flag_low at the terminal write.
var openStatuses = []string{
	string(domain.CandidateStatusPending),
	string(domain.CandidateStatusSuccess),
	string(domain.CandidateStatusFlagLow),
}

// OpenCandidates returns the non-terminal candidates of one source item in
// arrival order.
func (db *DB) OpenCandidates(ctx context.Context, sourceItemID string) ([]Candidate, error) {
	return db.queryCandidates(ctx, psql.
		Select(candidateColumns...).
		From("candidates").
		Where(sq.Eq{"source_item_id": sourceItemID, "status": openStatuses}).
		OrderBy("position"))
}

// CandidatesByItem returns all candidates of a source item for reporting.
func (db *DB) CandidatesByItem(ctx context.Context, sourceItemID string) ([]Candidate, error) {
	return db.queryCandidates(ctx, psql.
		Select(candidateColumns...).
		From("candidates").
		Where(sq.Eq{"source_item_id": sourceItemID}).
		OrderBy("position"))
}

// CandidateListFilter narrows ListCandidates for reporting queries.
type CandidateListFilter struct {
	Domain   string
	Status   domain.CandidateStatus
	Reason   domain.FailureReason
	MinScore float32
	Limit    uint64
}

// ListCandidates is the reporting read API over candidate records.
func (db *DB) ListCandidates(ctx context.Context, filter CandidateListFilter) ([]Candidate, error) {
	q := psql.Select(candidateColumns...).From("candidates").OrderBy("created_at DESC")

	if filter.Domain != "" {
		q = q.Where(sq.Eq{"domain": filter.Domain})
	}

	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}

	if filter.Reason != "" {
		q = q.Where(sq.Eq{"failure_reason": string(filter.Reason)})
	}

	if filter.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"similarity_score": filter.MinScore})
	}

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	return db.queryCandidates(ctx, q)
}

// MarkCandidateFetched moves a pending candidate to success and stores the
// extracted content.
func (db *DB) MarkCandidateFetched(ctx context.Context, id, content, heroImageURL string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE candidates
		SET content = $2, hero_image_url = $3, status = $4
		WHERE id = $1 AND status = $5
	`, toUUID(id), toText(content), toText(heroImageURL),
		string(domain.CandidateStatusSuccess), string(domain.CandidateStatusPending))
	if err != nil {
		return fmt.Errorf("mark candidate fetched: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}

	return nil
}

// MarkCandidateFlag records the verifier decision on a fetched candidate.
func (db *DB) MarkCandidateFlag(ctx context.Context, id string, status domain.CandidateStatus, relevance float32, sameEvent bool, judgeScore int) error {
	if status != domain.CandidateStatusFlagOK && status != domain.CandidateStatusFlagLow {
		return fmt.Errorf("mark candidate flag: unexpected status %s", status)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE candidates
		SET status = $2, relevance_score = $3, same_event = $4, judge_score = $5
		WHERE id = $1 AND status = $6
	`, toUUID(id), string(status), relevance, sameEvent, judgeScore, string(domain.CandidateStatusSuccess))
	if err != nil {
		return fmt.Errorf("mark candidate flag: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}

	return nil
}

// FinishCandidate writes a terminal failure status with its reason. The
// guard on the current status makes a retried write a no-op.
func (db *DB) FinishCandidate(ctx context.Context, id string, status domain.CandidateStatus, reason domain.FailureReason) error {
	if !status.Terminal() {
		return fmt.Errorf("finish candidate: %s is not terminal", status)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE candidates
		SET status = $2, failure_reason = $3
		WHERE id = $1 AND status NOT IN ($4, $5, $6, $7, $8)
	`, toUUID(id), string(status), toText(string(reason)),
		string(domain.CandidateStatusFailed), string(domain.CandidateStatusGarbage),
		string(domain.CandidateStatusAccepted), string(domain.CandidateStatusRejected),
		string(domain.CandidateStatusSkipped))
	if err != nil {
		return fmt.Errorf("finish candidate: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}

	return nil
}

// AcceptCandidate atomically accepts one flag_ok candidate, skips its
// non-terminal siblings, marks the source item resolved, and appends the
// resolution event. This is the enforcement point of the at-most-one-accepted
// invariant; a partial unique index on (source_item_id) WHERE status =
// 'accepted' backs it at the schema level.
func (db *DB) AcceptCandidate(ctx context.Context, sourceItemID, candidateID string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin accept candidate: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE candidates
		SET status = $3
		WHERE id = $1 AND source_item_id = $2 AND status = $4
		  AND NOT EXISTS (
			SELECT 1 FROM candidates
			WHERE source_item_id = $2 AND status = $3
		  )
	`, toUUID(candidateID), toUUID(sourceItemID),
		string(domain.CandidateStatusAccepted), string(domain.CandidateStatusFlagOK))
	if err != nil {
		return fmt.Errorf("accept candidate: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if accepted, checkErr := db.hasAccepted(ctx, tx, sourceItemID); checkErr == nil && accepted {
			return ErrAlreadyResolved
		}

		return ErrCandidateNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE candidates
		SET status = $3
		WHERE source_item_id = $1 AND id <> $2 AND status IN ($4, $5, $6)
	`, toUUID(sourceItemID), toUUID(candidateID), string(domain.CandidateStatusSkipped),
		string(domain.CandidateStatusPending), string(domain.CandidateStatusSuccess),
		string(domain.CandidateStatusFlagOK))
	if err != nil {
		return fmt.Errorf("skip sibling candidates: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE source_items SET resolved = TRUE WHERE id = $1
	`, toUUID(sourceItemID))
	if err != nil {
		return fmt.Errorf("mark item resolved: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO resolution_events (source_item_id, candidate_id)
		VALUES ($1, $2)
		ON CONFLICT (source_item_id) DO NOTHING
	`, toUUID(sourceItemID), toUUID(candidateID))
	if err != nil {
		return fmt.Errorf("append resolution event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit accept candidate: %w", err)
	}

	return nil
}

func (db *DB) hasAccepted(ctx context.Context, tx pgx.Tx, sourceItemID string) (bool, error) {
	var exists bool

	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM candidates WHERE source_item_id = $1 AND status = $2
		)
	`, toUUID(sourceItemID), string(domain.CandidateStatusAccepted)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check accepted: %w", err)
	}

	return exists, nil
}

var candidateColumns = []string{
	"id", "source_item_id", "url", "title", "domain", "similarity_score",
	"status", "content", "hero_image_url", "failure_reason",
	"relevance_score", "same_event", "judge_score", "position", "created_at",
}

func (db *DB) queryCandidates(ctx context.Context, q sq.SelectBuilder) ([]Candidate, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidates query: %w", err)
	}

	rows, err := db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	candidates := []Candidate{}

	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}

		candidates = append(candidates, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidates rows: %w", err)
	}

	return candidates, nil
}

func scanCandidate(row rowScanner) (*Candidate, error) {
	var (
		c             Candidate
		id            pgtype.UUID
		sourceItemID  pgtype.UUID
		title         pgtype.Text
		content       pgtype.Text
		heroImageURL  pgtype.Text
		failureReason pgtype.Text
		relevance     pgtype.Float4
		sameEvent     pgtype.Bool
		judgeScore    pgtype.Int4
		status        string
		createdAt     pgtype.Timestamptz
	)

	if err := row.Scan(&id, &sourceItemID, &c.URL, &title, &c.Domain, &c.SimilarityScore,
		&status, &content, &heroImageURL, &failureReason, &relevance, &sameEvent,
		&judgeScore, &c.Position, &createdAt); err != nil {
		return nil, err
	}

	c.ID = fromUUID(id)
	c.SourceItemID = fromUUID(sourceItemID)
	c.Title = fromText(title)
	c.Status = domain.CandidateStatus(status)
	c.Content = fromText(content)
	c.HeroImageURL = fromText(heroImageURL)
	c.FailureReason = domain.FailureReason(fromText(failureReason))
	c.CreatedAt = fromTimestamptz(createdAt)

	if relevance.Valid {
		c.RelevanceScore = relevance.Float32
	}

	if sameEvent.Valid {
		c.SameEvent = sameEvent.Bool
	}

	if judgeScore.Valid {
		c.JudgeScore = int(judgeScore.Int32)
	}

	return &c, nil
}
