// Package domain holds the core entities of the article resolution pipeline:
// source items awaiting a free substitute, the candidate articles evaluated
// for each of them, and the per-domain reputation ledger that steers
// candidate ordering.
package domain

import "time"

// SourceItem is one upstream article that needs a free substitute.
// Created by ingestion; only the resolver flips Resolved.
type SourceItem struct {
	ID          string
	Title       string
	Description string
	URL         string
	PublishedAt time.Time
	Searched    bool
	Resolved    bool
	CreatedAt   time.Time
}

// SearchText is the text candidates are matched against.
func (s SourceItem) SearchText() string {
	if s.Description == "" {
		return s.Title
	}

	return s.Title + "\n" + s.Description
}

// CandidateStatus is the state of one candidate in the resolution state machine.
type CandidateStatus string

const (
	CandidateStatusPending  CandidateStatus = "pending"
	CandidateStatusSuccess  CandidateStatus = "success"
	CandidateStatusFailed   CandidateStatus = "failed"
	CandidateStatusGarbage  CandidateStatus = "garbage"
	CandidateStatusFlagOK   CandidateStatus = "flag_ok"
	CandidateStatusFlagLow  CandidateStatus = "flag_low"
	CandidateStatusAccepted CandidateStatus = "accepted"
	CandidateStatusRejected CandidateStatus = "rejected"
	CandidateStatusSkipped  CandidateStatus = "skipped"
)

// candidateTransitions is the full transition relation of the state machine.
// Accepted and skipped are written atomically as a pair by the recorder.
var candidateTransitions = map[CandidateStatus][]CandidateStatus{
	CandidateStatusPending: {
		CandidateStatusSuccess,
		CandidateStatusFailed,
		CandidateStatusGarbage,
		CandidateStatusSkipped,
	},
	CandidateStatusSuccess: {
		CandidateStatusFlagOK,
		CandidateStatusFlagLow,
		CandidateStatusSkipped,
	},
	CandidateStatusFlagOK: {
		CandidateStatusAccepted,
		CandidateStatusSkipped,
	},
	CandidateStatusFlagLow: {
		CandidateStatusRejected,
	},
}

// CanTransition reports whether the state machine allows moving to the given status.
func (s CandidateStatus) CanTransition(to CandidateStatus) bool {
	for _, next := range candidateTransitions[s] {
		if next == to {
			return true
		}
	}

	return false
}

// Terminal reports whether no further transition is possible.
func (s CandidateStatus) Terminal() bool {
	return len(candidateTransitions[s]) == 0
}

// Candidate is one alternative-article hypothesis for a SourceItem.
type Candidate struct {
	ID              string
	SourceItemID    string
	URL             string
	Title           string
	Domain          string
	SimilarityScore float32
	Status          CandidateStatus
	Content         string
	HeroImageURL    string
	FailureReason   FailureReason
	RelevanceScore  float32
	SameEvent       bool
	JudgeScore      int
	Position        int
	CreatedAt       time.Time
}

// DomainReputation is one row of the per-domain reputation ledger.
// Score is the 95% Wilson lower bound of the healthy-attempt rate;
// counts are only ever incremented and the row is never deleted.
type DomainReputation struct {
	Domain        string
	SuccessCount  int
	FailCount     int
	FailByReason  map[FailureReason]int
	Score         float64
	Blocked       bool
	BlockReason   string
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// TotalAttempts is the number of recorded outcomes for the domain.
func (r DomainReputation) TotalAttempts() int {
	return r.SuccessCount + r.FailCount
}

// BlockableFailures counts failures attributable to the domain's infrastructure.
func (r DomainReputation) BlockableFailures() int {
	total := 0

	for reason, count := range r.FailByReason {
		if reason.Blockable() {
			total += count
		}
	}

	return total
}

// ResolutionEvent is emitted for downstream consumers when a candidate is
// accepted for a source item.
type ResolutionEvent struct {
	ID                  int64
	SourceItemID        string
	AcceptedCandidateID string
	CreatedAt           time.Time
}
