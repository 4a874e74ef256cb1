package reputation

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/platform/observability"
)

var (
	errEmptyDomain           = errors.New("empty domain")
	errAdministrativeOutcome = errors.New("administrative outcome must not be recorded against a domain")
	errReservedReason        = errors.New("reason matches the auto-block convention, use a descriptive manual reason")
)

// autoBlockReasonPattern matches reasons written by the auto-blocker.
// Anything else in block_reason is a human decision and is immutable here.
var autoBlockReasonPattern = regexp.MustCompile(`^Auto-blocked: \d+ blockable failures, wilson<[0-9.]+$`)

// IsAutoBlockReason reports whether the reason follows the automatic-block
// naming convention.
func IsAutoBlockReason(reason string) bool {
	return autoBlockReasonPattern.MatchString(reason)
}

func autoBlockReason(blockableFailures int, threshold float64) string {
	return fmt.Sprintf("Auto-blocked: %d blockable failures, wilson<%.2f", blockableFailures, threshold)
}

// evaluateAutoBlock applies the auto-blocking rule to one ledger row. It
// runs after every reputation update and during the periodic sweep.
func (s *Store) evaluateAutoBlock(ctx context.Context, rep *domain.DomainReputation) error {
	if rep.TotalAttempts() < s.cfg.MinAttempts {
		// The Wilson bound is too wide to be trustworthy below this
		// sample size.
		return nil
	}

	if rep.Score >= s.cfg.BlockThreshold {
		return nil
	}

	if rep.Blocked {
		return nil
	}

	if rep.BlockReason != "" && !IsAutoBlockReason(rep.BlockReason) {
		// A human set this reason; their decision is sticky.
		return nil
	}

	reason := autoBlockReason(rep.BlockableFailures(), s.cfg.BlockThreshold)
	if err := s.repo.SetDomainBlock(ctx, rep.Domain, true, reason); err != nil {
		return fmt.Errorf("auto-block %s: %w", rep.Domain, err)
	}

	rep.Blocked = true
	rep.BlockReason = reason

	s.invalidate(rep.Domain)
	observability.ReputationAutoBlocks.Inc()

	s.logger.Warn().
		Str(logKeyDomain, rep.Domain).
		Float64(logKeyScore, rep.Score).
		Int("blockable_failures", rep.BlockableFailures()).
		Int("total_attempts", rep.TotalAttempts()).
		Msg("domain auto-blocked")

	return nil
}

// Sweep re-evaluates the auto-block rule across the whole ledger. It picks
// up threshold changes without waiting for new traffic on a domain.
func (s *Store) Sweep(ctx context.Context) error {
	reps, err := s.repo.ListDomainReputations(ctx, s.cfg.MinAttempts, false)
	if err != nil {
		return fmt.Errorf("list domain reputations: %w", err)
	}

	for i := range reps {
		rep := &reps[i]

		rep.Score = Score(rep.BlockableFailures(), rep.TotalAttempts())
		if err := s.repo.UpdateDomainScore(ctx, rep.Domain, rep.Score); err != nil {
			return fmt.Errorf("update domain score: %w", err)
		}

		if err := s.evaluateAutoBlock(ctx, rep); err != nil {
			return err
		}
	}

	return nil
}
