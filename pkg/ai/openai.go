package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// chatClient is the slice of the OpenAI client used here, narrowed for
// substitution in tests.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider calls an OpenAI-compatible chat API. Errors are returned
// to callers, which fall back to the deterministic provider.
type OpenAIProvider struct {
	client chatClient
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from configuration.
func NewOpenAIProvider(cfg config.AIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(cfg.APIKey),
		model:  cfg.Model,
	}
}

// GenerateHint asks the model for one progressive hint.
func (p *OpenAIProvider) GenerateHint(ctx context.Context, req HintRequest) (string, error) {
	prompt := fmt.Sprintf(
		"Challenge: %s\n\nPlayer code (%s):\n%s\n\nGive one hint at level %d of 3. "+
			"Level 1 nudges the approach, level 3 nearly spells out the solution. "+
			"Do not write the full solution. Two sentences maximum.",
		req.Challenge.Description, req.Language, req.Code, req.Level)

	text, err := p.chat(ctx, "You are a competitive-programming coach.", prompt, 0.7)
	if err != nil {
		return "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", fmt.Errorf("provider returned an empty hint")
	}
	return text, nil
}

// analysisPayload is the JSON shape the model is asked to produce.
type analysisPayload struct {
	Complexity  models.ComplexityFinding  `json:"complexity"`
	Readability models.ReadabilityFinding `json:"readability"`
	Approach    models.ApproachFinding    `json:"approach"`
	Suggestions []string                  `json:"suggestions"`
	Bugs        []models.BugFinding       `json:"bugs"`
}

// AnalyzeCode asks the model for a structured post-match review. Responses
// violating the suggestion bounds are rejected so invariants hold whichever
// provider produced the record.
func (p *OpenAIProvider) AnalyzeCode(ctx context.Context, req AnalysisRequest) (*models.Analysis, error) {
	prompt := fmt.Sprintf(
		"Challenge: %s\n\nSubmission (%s), %d/%d tests passed:\n%s\n\n"+
			"Respond with JSON only: {\"complexity\":{\"time\":...,\"space\":...,\"comment\":...},"+
			"\"readability\":{\"score\":0-10,\"comment\":...},"+
			"\"approach\":{\"summary\":...,\"patterns\":[...]},"+
			"\"suggestions\":[3 to 5 strings],\"bugs\":[{\"line\":...,\"description\":...,\"severity\":...}]}",
		req.Challenge.Description, req.Language, req.Passed, req.Total, req.Code)

	text, err := p.chat(ctx, "You are a code review assistant. Respond with strict JSON.", prompt, 0.2)
	if err != nil {
		return nil, err
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}
	if len(payload.Suggestions) < 3 || len(payload.Suggestions) > 5 {
		return nil, fmt.Errorf("provider returned %d suggestions, need 3-5", len(payload.Suggestions))
	}
	for _, s := range payload.Suggestions {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("provider returned an empty suggestion")
		}
	}

	return &models.Analysis{
		Complexity:  payload.Complexity,
		Readability: payload.Readability,
		Approach:    payload.Approach,
		Suggestions: payload.Suggestions,
		Bugs:        payload.Bugs,
	}, nil
}

// ScoreQuality asks the model for the four quality sub-scores.
func (p *OpenAIProvider) ScoreQuality(ctx context.Context, code, language string) (*QualityScores, error) {
	prompt := fmt.Sprintf(
		"Score this %s code from 0 to 10 on structure, naming, robustness and style. "+
			"Respond with JSON only: {\"structure\":n,\"naming\":n,\"robustness\":n,\"style\":n}\n\n%s",
		language, code)

	text, err := p.chat(ctx, "You are a code quality scorer. Respond with strict JSON.", prompt, 0)
	if err != nil {
		return nil, err
	}
	var scores QualityScores
	if err := json.Unmarshal([]byte(extractJSON(text)), &scores); err != nil {
		return nil, fmt.Errorf("decoding quality scores: %w", err)
	}
	clamp := func(v *float64) {
		if *v < 0 {
			*v = 0
		}
		if *v > 10 {
			*v = 10
		}
	}
	clamp(&scores.Structure)
	clamp(&scores.Naming)
	clamp(&scores.Robustness)
	clamp(&scores.Style)
	return &scores, nil
}

func (p *OpenAIProvider) chat(ctx context.Context, system, user string, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens: 1024,
	}
	if temperature != 0 {
		req.Temperature = temperature
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips fences and surrounding prose around a JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
