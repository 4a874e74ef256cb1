// Package verify decides whether a crawled candidate actually covers the same
// story as its source item. Two gates run in sequence: a cheap embedding
// similarity check, then an LLM judgment for the pairs that survive it.
package verify

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/openbrief/article-resolver/internal/core/domain"
	"github.com/openbrief/article-resolver/internal/core/embeddings"
	"github.com/openbrief/article-resolver/internal/core/llm"
	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	defaultSimilarityThreshold = 0.25
	defaultSimilarityMaxChars  = 2000
	defaultJudgeMinScore       = 6

	stageSimilarity = "similarity"
	stageJudgment   = "judgment"

	decisionAccept = "accept"
	decisionReject = "reject"
	decisionError  = "error"

	logKeySimilarity = "similarity"
	logKeySameEvent  = "same_event"
	logKeyJudgeScore = "judge_score"
)

// Config tunes the two gates.
type Config struct {
	SimilarityThreshold float32
	SimilarityMaxChars  int
	JudgeMinScore       int
	JudgeTimeout        time.Duration
}

// Decision is the verifier's verdict for one source/candidate pairing.
// Reason is empty on acceptance.
type Decision struct {
	Accepted       bool
	Reason         domain.FailureReason
	RelevanceScore float32
	SameEvent      bool
	JudgeScore     int
}

// Verifier runs the two-stage relevance check.
type Verifier struct {
	embeddings embeddings.Client
	judge      llm.Judge
	cfg        Config
	logger     *zerolog.Logger
}

func New(embClient embeddings.Client, judge llm.Judge, cfg Config, logger *zerolog.Logger) *Verifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = defaultSimilarityThreshold
	}

	if cfg.SimilarityMaxChars <= 0 {
		cfg.SimilarityMaxChars = defaultSimilarityMaxChars
	}

	if cfg.JudgeMinScore <= 0 {
		cfg.JudgeMinScore = defaultJudgeMinScore
	}

	return &Verifier{
		embeddings: embClient,
		judge:      judge,
		cfg:        cfg,
		logger:     logger,
	}
}

// Verify runs both gates in order. The judgment gate is only reached when the
// similarity gate passes. A returned error means an external capability
// failed, not that the candidate was rejected.
func (v *Verifier) Verify(ctx context.Context, sourceText, candidateText string) (Decision, error) {
	similarity, err := v.similarity(ctx, sourceText, candidateText)
	if err != nil {
		observability.VerifierDecisions.WithLabelValues(stageSimilarity, decisionError).Inc()

		return Decision{}, err
	}

	if similarity < v.cfg.SimilarityThreshold {
		observability.VerifierDecisions.WithLabelValues(stageSimilarity, decisionReject).Inc()
		v.logger.Debug().Float32(logKeySimilarity, similarity).Msg("similarity gate rejected candidate")

		return Decision{
			Reason:         domain.ReasonLowRelevance,
			RelevanceScore: similarity,
		}, nil
	}

	observability.VerifierDecisions.WithLabelValues(stageSimilarity, decisionAccept).Inc()

	judgeCtx := ctx
	if v.cfg.JudgeTimeout > 0 {
		var cancel context.CancelFunc

		judgeCtx, cancel = context.WithTimeout(ctx, v.cfg.JudgeTimeout)
		defer cancel()
	}

	judgment, err := v.judge.Judge(judgeCtx, sourceText, candidateText)
	if err != nil {
		observability.VerifierDecisions.WithLabelValues(stageJudgment, decisionError).Inc()

		return Decision{}, fmt.Errorf("judge candidate: %w", err)
	}

	decision := Decision{
		RelevanceScore: similarity,
		SameEvent:      judgment.SameEvent,
		JudgeScore:     judgment.Score,
	}

	if judgment.SameEvent || judgment.Score >= v.cfg.JudgeMinScore {
		decision.Accepted = true

		observability.VerifierDecisions.WithLabelValues(stageJudgment, decisionAccept).Inc()
	} else {
		decision.Reason = domain.ReasonLLMRejected

		observability.VerifierDecisions.WithLabelValues(stageJudgment, decisionReject).Inc()
	}

	v.logger.Debug().
		Float32(logKeySimilarity, similarity).
		Bool(logKeySameEvent, judgment.SameEvent).
		Int(logKeyJudgeScore, judgment.Score).
		Bool("accepted", decision.Accepted).
		Msg("judgment gate decided")

	return decision, nil
}

// similarity embeds both texts, capped to the configured prefix, and returns
// their cosine similarity.
func (v *Verifier) similarity(ctx context.Context, sourceText, candidateText string) (float32, error) {
	sourceVec, err := v.embeddings.GetEmbedding(ctx, head(sourceText, v.cfg.SimilarityMaxChars))
	if err != nil {
		return 0, fmt.Errorf("embed source text: %w", err)
	}

	candidateVec, err := v.embeddings.GetEmbedding(ctx, head(candidateText, v.cfg.SimilarityMaxChars))
	if err != nil {
		return 0, fmt.Errorf("embed candidate text: %w", err)
	}

	return embeddings.CosineSimilarity(sourceVec, candidateVec), nil
}

// head truncates on a rune boundary so a multi-byte character is never split
// into invalid UTF-8.
func head(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	return string([]rune(s)[:maxRunes])
}
