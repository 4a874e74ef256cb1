// Package reputation maintains the per-domain reputation ledger: outcome
// counters, the Wilson-bound quality score, the Laplace-smoothed selector
// weight, and the auto-blocking rule. The ledger is shared by every resolver
// worker; all count updates are additive increments in storage so concurrent
// workers hitting the same domain never lose updates.
package reputation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	defaultAutoBlockMinAttempts = 5
	defaultAutoBlockThreshold   = 0.15

	logKeyDomain = "domain"
	logKeyScore  = "score"
)

// Outcome is one terminal candidate result attributed to a domain.
// OutcomeID keys the idempotent ledger write (the candidate id), so a
// retried write after a crash cannot double-count.
type Outcome struct {
	OutcomeID string
	Domain    string
	Success   bool
	Reason    domain.FailureReason
	At        time.Time
}

// Repository is the storage contract the store needs.
type Repository interface {
	GetDomainReputation(ctx context.Context, name string) (*domain.DomainReputation, error)
	RecordDomainOutcome(ctx context.Context, outcomeID, name string, success bool, reason domain.FailureReason, at time.Time) (*domain.DomainReputation, error)
	UpdateDomainScore(ctx context.Context, name string, score float64) error
	SetDomainBlock(ctx context.Context, name string, blocked bool, reason string) error
	ListDomainReputations(ctx context.Context, minAttempts int, blockedOnly bool) ([]domain.DomainReputation, error)
}

// Config tunes the auto-blocking rule.
type Config struct {
	// MinAttempts is the sample size below which a domain is never
	// auto-blocked, regardless of score.
	MinAttempts int

	// BlockThreshold is the Wilson-bound score below which a domain with
	// enough attempts is auto-blocked.
	BlockThreshold float64
}

// Store owns the reputation ledger and the blocked-domain read-through
// cache. The cache is invalidated on every write for its domain.
type Store struct {
	repo   Repository
	cfg    Config
	logger *zerolog.Logger

	mu      sync.RWMutex
	blocked map[string]bool
}

// NewStore creates a reputation store with defaults applied.
func NewStore(repo Repository, cfg Config, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = defaultAutoBlockMinAttempts
	}

	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = defaultAutoBlockThreshold
	}

	return &Store{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		blocked: make(map[string]bool),
	}
}

// RecordOutcome updates the domain's counters with one terminal candidate
// outcome, recomputes the Wilson-bound score, and runs the auto-block
// evaluation. Administrative outcomes must not reach this method: filtering
// a candidate on a blocked domain is not a network attempt.
func (s *Store) RecordOutcome(ctx context.Context, outcome Outcome) (*domain.DomainReputation, error) {
	if outcome.Domain == "" {
		return nil, errEmptyDomain
	}

	if outcome.Reason == domain.ReasonDomainBlocked {
		return nil, errAdministrativeOutcome
	}

	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}

	rep, err := s.repo.RecordDomainOutcome(ctx, outcome.OutcomeID, outcome.Domain, outcome.Success, outcome.Reason, outcome.At)
	if err != nil {
		return nil, fmt.Errorf("record domain outcome: %w", err)
	}

	rep.Score = Score(rep.BlockableFailures(), rep.TotalAttempts())
	if err := s.repo.UpdateDomainScore(ctx, outcome.Domain, rep.Score); err != nil {
		return nil, fmt.Errorf("update domain score: %w", err)
	}

	observability.ReputationOutcomes.WithLabelValues(outcomeLabel(outcome)).Inc()

	if err := s.evaluateAutoBlock(ctx, rep); err != nil {
		return nil, err
	}

	s.invalidate(outcome.Domain)

	return rep, nil
}

// IsBlocked reports whether the domain is currently blocked, consulting the
// read-through cache first.
func (s *Store) IsBlocked(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	blocked, ok := s.blocked[name]
	s.mu.RUnlock()

	if ok {
		return blocked, nil
	}

	rep, err := s.repo.GetDomainReputation(ctx, name)
	if err != nil {
		return false, fmt.Errorf("get domain reputation: %w", err)
	}

	blocked = rep != nil && rep.Blocked

	s.mu.Lock()
	s.blocked[name] = blocked
	s.mu.Unlock()

	return blocked, nil
}

// Weight returns the Laplace-smoothed ranking weight for the domain.
// Unseen domains get the neutral 0.5.
func (s *Store) Weight(ctx context.Context, name string) (float64, error) {
	rep, err := s.repo.GetDomainReputation(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("get domain reputation: %w", err)
	}

	if rep == nil {
		return Weight(0, 0), nil
	}

	return Weight(rep.SuccessCount, rep.TotalAttempts()), nil
}

// Block sets a manual block with the operator-supplied reason. Manual
// reasons are sticky: the auto-blocker refuses to touch them afterwards.
func (s *Store) Block(ctx context.Context, name, reason string) error {
	if IsAutoBlockReason(reason) {
		return errReservedReason
	}

	if err := s.repo.SetDomainBlock(ctx, name, true, reason); err != nil {
		return fmt.Errorf("set domain block: %w", err)
	}

	s.invalidate(name)

	return nil
}

// Unblock clears a block. This is an operator action; the auto-blocker
// never unblocks.
func (s *Store) Unblock(ctx context.Context, name string) error {
	if err := s.repo.SetDomainBlock(ctx, name, false, ""); err != nil {
		return fmt.Errorf("clear domain block: %w", err)
	}

	s.invalidate(name)

	return nil
}

// Get returns the ledger row for one domain, or nil when unseen.
func (s *Store) Get(ctx context.Context, name string) (*domain.DomainReputation, error) {
	rep, err := s.repo.GetDomainReputation(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get domain reputation: %w", err)
	}

	return rep, nil
}

func (s *Store) invalidate(name string) {
	s.mu.Lock()
	delete(s.blocked, name)
	s.mu.Unlock()
}

func outcomeLabel(outcome Outcome) string {
	if outcome.Success {
		return "success"
	}

	return string(outcome.Reason)
}
