// Package assist asks a chat completion model to summarize note text.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

var (
	ErrEmptyText   = errors.New("text is required")
	ErrBadResponse = errors.New("unusable model response")
)

// Analysis is the model's reading of a note.
type Analysis struct {
	Summary    string   `json:"summary"`
	KeyPoints  []string `json:"keyPoints"`
	Suggestion string   `json:"suggestion"`
}

// Completer is the part of *openai.Client the assistant uses.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Assistant struct {
	client Completer
	model  string
}

// New wraps a completion client; an empty model selects DefaultModel.
func New(client Completer, model string) *Assistant {
	if model == "" {
		model = DefaultModel
	}
	return &Assistant{client: client, model: model}
}

// NewOpenAI builds an assistant on the OpenAI API. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string) *Assistant {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), model)
}

const instructions = `You help people review their notes. Read the note the user sends and reply with a JSON object with exactly these fields:
"summary": two or three sentences summarizing the note,
"keyPoints": a list of short strings with the most important points,
"suggestion": one concrete suggestion to improve or act on the note.
Reply in the language of the note. Respond ONLY with valid JSON.`

// Analyze sends text to the model. There is no retry.
func (a *Assistant) Analyze(ctx context.Context, text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("assist: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")

	var analysis Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if analysis.KeyPoints == nil {
		analysis.KeyPoints = []string{}
	}
	return &analysis, nil
}
