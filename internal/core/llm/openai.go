package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/openbrief/article-resolver/internal/platform/observability"
)

const (
	maxSourceChars    = 2000
	maxCandidateChars = 5000
	minJudgeScore     = 0
	maxJudgeScore     = 10

	fieldResponse = "response"
)

var errInvalidJudgeResponse = errors.New("invalid judgment response format")

const judgePrompt = `You compare a news article snippet with a candidate replacement article.

Decide whether both texts describe the SAME news event (not just the same
topic or the same company). Score the candidate's relevance as a substitute
from 0 (unrelated) to 10 (clearly the same story).

Respond with a JSON object:
{"same_event": true|false, "score": 0-10, "confidence": 0.0-1.0}

Original article:
%s

Candidate article:
%s`

// OpenAIJudge implements Judge against the OpenAI chat completions API.
type OpenAIJudge struct {
	client *openai.Client
	model  string
	logger *zerolog.Logger
}

// NewOpenAIJudge creates a judgment client.
func NewOpenAIJudge(apiKey, model string, logger *zerolog.Logger) *OpenAIJudge {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OpenAIJudge{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// Judge runs one judgment call and parses the structured verdict.
func (j *OpenAIJudge) Judge(ctx context.Context, sourceText, candidateText string) (Judgment, error) {
	start := time.Now()

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(judgePrompt, truncate(sourceText, maxSourceChars), truncate(candidateText, maxCandidateChars)),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})

	observability.JudgeRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		return Judgment{}, fmt.Errorf("openai chat completion error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Judgment{}, errInvalidJudgeResponse
	}

	content := resp.Choices[0].Message.Content
	j.logger.Debug().Str(fieldResponse, content).Msg("judgment response")

	return parseJudgment(content)
}

// parseJudgment decodes the verdict, tolerating preamble or postamble text
// around the JSON object.
func parseJudgment(content string) (Judgment, error) {
	var verdict Judgment
	if err := json.Unmarshal([]byte(extractJSON(content)), &verdict); err != nil {
		return Judgment{}, fmt.Errorf("%w: %s", errInvalidJudgeResponse, err)
	}

	if verdict.Score < minJudgeScore {
		verdict.Score = minJudgeScore
	}

	if verdict.Score > maxJudgeScore {
		verdict.Score = maxJudgeScore
	}

	return verdict, nil
}

// extractJSON tries to extract JSON from a response that might have extra text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")

	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen]
}
