package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/platform/observability"
	"github.com/openbrief/article-resolver/internal/reputation"
	"github.com/openbrief/article-resolver/internal/verify"
)

// CandidateRepository is the slice of storage the recorder writes through.
type CandidateRepository interface {
	MarkCandidateFetched(ctx context.Context, id, content, heroImageURL string) error
	MarkCandidateFlag(ctx context.Context, id string, status domain.CandidateStatus, relevance float32, sameEvent bool, judgeScore int) error
	FinishCandidate(ctx context.Context, id string, status domain.CandidateStatus, reason domain.FailureReason) error
	AcceptCandidate(ctx context.Context, sourceItemID, candidateID string) error
}

// ReputationRecorder receives one outcome per terminal candidate.
type ReputationRecorder interface {
	RecordOutcome(ctx context.Context, outcome reputation.Outcome) (*domain.DomainReputation, error)
}

// Recorder writes terminal candidate outcomes. The reputation ledger is
// written before the candidate's terminal state: if the process dies between
// the two, the candidate is reprocessed and the ledger write, keyed by
// candidate id, deduplicates itself.
type Recorder struct {
	repo       CandidateRepository
	reputation ReputationRecorder
	logger     *zerolog.Logger
}

func NewRecorder(repo CandidateRepository, rep ReputationRecorder, logger *zerolog.Logger) *Recorder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Recorder{
		repo:       repo,
		reputation: rep,
		logger:     logger,
	}
}

// Fetched moves the candidate to success with its extracted content.
func (r *Recorder) Fetched(ctx context.Context, c domain.Candidate, content, heroImageURL string) error {
	if err := r.repo.MarkCandidateFetched(ctx, c.ID, content, heroImageURL); err != nil {
		return fmt.Errorf("mark candidate fetched: %w", err)
	}

	return nil
}

// Fail records a terminal failure from the crawl stage or the selector's
// pre-filter. Transport and administrative reasons end in failed, quality
// reasons in garbage. Administrative drops never touch the reputation ledger;
// filtering a blocked domain is not a network attempt.
func (r *Recorder) Fail(ctx context.Context, c domain.Candidate, reason domain.FailureReason) error {
	if reason != domain.ReasonDomainBlocked {
		if err := r.recordReputation(ctx, c, false, reason); err != nil {
			return err
		}
	}

	status := failureStatus(reason)

	if err := r.repo.FinishCandidate(ctx, c.ID, status, reason); err != nil {
		return fmt.Errorf("finish candidate: %w", err)
	}

	r.observeTerminal(c, status, reason)

	return nil
}

// RejectVerified records a verifier rejection: the candidate passes through
// flag_low and ends rejected.
func (r *Recorder) RejectVerified(ctx context.Context, c domain.Candidate, decision verify.Decision) error {
	if err := r.repo.MarkCandidateFlag(ctx, c.ID, domain.CandidateStatusFlagLow,
		decision.RelevanceScore, decision.SameEvent, decision.JudgeScore); err != nil {
		return fmt.Errorf("flag candidate low: %w", err)
	}

	if err := r.recordReputation(ctx, c, false, decision.Reason); err != nil {
		return err
	}

	if err := r.repo.FinishCandidate(ctx, c.ID, domain.CandidateStatusRejected, decision.Reason); err != nil {
		return fmt.Errorf("finish rejected candidate: %w", err)
	}

	r.observeTerminal(c, domain.CandidateStatusRejected, decision.Reason)

	return nil
}

// Accept records a verifier acceptance: flag_ok, a success outcome against
// the domain, then the atomic accept/skip/resolve/event write.
func (r *Recorder) Accept(ctx context.Context, c domain.Candidate, decision verify.Decision) error {
	if err := r.repo.MarkCandidateFlag(ctx, c.ID, domain.CandidateStatusFlagOK,
		decision.RelevanceScore, decision.SameEvent, decision.JudgeScore); err != nil {
		return fmt.Errorf("flag candidate ok: %w", err)
	}

	if err := r.recordReputation(ctx, c, true, ""); err != nil {
		return err
	}

	if err := r.repo.AcceptCandidate(ctx, c.SourceItemID, c.ID); err != nil {
		return fmt.Errorf("accept candidate: %w", err)
	}

	r.observeTerminal(c, domain.CandidateStatusAccepted, "")

	return nil
}

// RejectFlagged completes the terminal write for a candidate a previous run
// left in flag_low. The stored verdict tells which gate rejected it: a judge
// verdict means the judgment gate, otherwise the similarity gate. The
// reputation write is keyed by candidate id, so replaying a partially
// recorded rejection cannot double-count.
func (r *Recorder) RejectFlagged(ctx context.Context, c domain.Candidate) error {
	reason := domain.ReasonLowRelevance
	if c.SameEvent || c.JudgeScore > 0 {
		reason = domain.ReasonLLMRejected
	}

	if err := r.recordReputation(ctx, c, false, reason); err != nil {
		return err
	}

	if err := r.repo.FinishCandidate(ctx, c.ID, domain.CandidateStatusRejected, reason); err != nil {
		return fmt.Errorf("finish rejected candidate: %w", err)
	}

	r.observeTerminal(c, domain.CandidateStatusRejected, reason)

	return nil
}

func (r *Recorder) recordReputation(ctx context.Context, c domain.Candidate, success bool, reason domain.FailureReason) error {
	_, err := r.reputation.RecordOutcome(ctx, reputation.Outcome{
		OutcomeID: c.ID,
		Domain:    c.Domain,
		Success:   success,
		Reason:    reason,
		At:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("record reputation outcome: %w", err)
	}

	return nil
}

func (r *Recorder) observeTerminal(c domain.Candidate, status domain.CandidateStatus, reason domain.FailureReason) {
	observability.CandidatesFinished.WithLabelValues(string(status)).Inc()

	if reason != "" {
		observability.CandidateFailures.WithLabelValues(string(reason)).Inc()
	}

	r.logger.Info().
		Str(logKeyCandidateID, c.ID).
		Str(logKeyItemID, c.SourceItemID).
		Str(logKeyDomain, c.Domain).
		Str(logKeyStatus, string(status)).
		Str(logKeyReason, string(reason)).
		Msg("candidate finished")
}

// failureStatus maps a failure reason family onto the terminal state the
// crawl stage writes from pending.
func failureStatus(reason domain.FailureReason) domain.CandidateStatus {
	switch reason {
	case domain.ReasonHTTPError, domain.ReasonNetworkError, domain.ReasonDomainBlocked:
		return domain.CandidateStatusFailed
	default:
		return domain.CandidateStatusGarbage
	}
}
