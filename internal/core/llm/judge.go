// Package llm provides the external judgment capability: given the source
// item text and a candidate article, an LLM decides whether both describe
// the same event and how relevant the candidate is on a 0-10 scale.
package llm

import "context"

// Judgment is the structured verdict of one judgment call.
type Judgment struct {
	SameEvent  bool    `json:"same_event"`
	Score      int     `json:"score"`
	Confidence float32 `json:"confidence"`
}

// Judge is the judgment capability consumed by the verifier.
type Judge interface {
	Judge(ctx context.Context, sourceText, candidateText string) (Judgment, error)
}
