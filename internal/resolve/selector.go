// Package resolve drives the candidate loop for each source item: ordering
// the pool by reputation-weighted priority, crawling and verifying candidates
// one at a time, and recording every terminal outcome.
package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/search"
)

const (
	logKeyCandidateID = "candidate_id"
	logKeyDomain      = "domain"
	logKeyItemID      = "item_id"
	logKeyPriority    = "priority"
	logKeyReason      = "reason"
	logKeyStatus      = "status"
	logKeyURL         = "url"
)

// ReputationReader is the slice of the reputation store the selector needs.
type ReputationReader interface {
	IsBlocked(ctx context.Context, name string) (bool, error)
	Weight(ctx context.Context, name string) (float64, error)
}

// Ranked is a candidate with its selector-assigned priority.
type Ranked struct {
	Candidate domain.Candidate
	Priority  float64
}

// Dropped is a candidate removed from the pool before any network call.
type Dropped struct {
	Candidate domain.Candidate
	Reason    domain.FailureReason
}

// Selector orders a candidate pool by priority = similarity x domain weight
// and drops candidates whose domain must not be fetched at all.
type Selector struct {
	reputation ReputationReader
	filter     *search.DomainFilter
	logger     *zerolog.Logger
}

func NewSelector(reputation ReputationReader, filter *search.DomainFilter, logger *zerolog.Logger) *Selector {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Selector{
		reputation: reputation,
		filter:     filter,
		logger:     logger,
	}
}

// Order splits the pool into prioritized candidates and pre-filter drops.
// Blocked-domain drops carry the administrative reason so the audit trail
// stays complete even though no attempt was made. The drops only apply to
// candidates that still need a fetch: one already holding content is ranked
// regardless, since verifying it touches no domain.
func (s *Selector) Order(ctx context.Context, candidates []domain.Candidate) ([]Ranked, []Dropped, error) {
	ranked := make([]Ranked, 0, len(candidates))
	dropped := []Dropped{}

	for _, c := range candidates {
		if c.Status == domain.CandidateStatusPending {
			if s.filter != nil && s.filter.IsSocialMedia(c.Domain) {
				dropped = append(dropped, Dropped{Candidate: c, Reason: domain.ReasonSocialMedia})

				continue
			}

			blocked, err := s.reputation.IsBlocked(ctx, c.Domain)
			if err != nil {
				return nil, nil, fmt.Errorf("check domain block: %w", err)
			}

			if blocked {
				dropped = append(dropped, Dropped{Candidate: c, Reason: domain.ReasonDomainBlocked})

				continue
			}
		}

		weight, err := s.reputation.Weight(ctx, c.Domain)
		if err != nil {
			return nil, nil, fmt.Errorf("domain weight: %w", err)
		}

		priority := float64(c.SimilarityScore) * weight

		s.logger.Debug().
			Str(logKeyCandidateID, c.ID).
			Str(logKeyDomain, c.Domain).
			Float64(logKeyPriority, priority).
			Msg("candidate ranked")

		ranked = append(ranked, Ranked{Candidate: c, Priority: priority})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority > ranked[j].Priority
		}

		if ranked[i].Candidate.SimilarityScore != ranked[j].Candidate.SimilarityScore {
			return ranked[i].Candidate.SimilarityScore > ranked[j].Candidate.SimilarityScore
		}

		return ranked[i].Candidate.Position < ranked[j].Candidate.Position
	})

	return ranked, dropped, nil
}
