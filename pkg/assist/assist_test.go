package assist

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content string, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, seen))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "cmpl-1",
			Model: seen.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := completionServer(t, `{"summary":"Groceries.","keyPoints":["milk","eggs"],"suggestion":"Go today."}`, &seen)

	a := NewOpenAI("test-key", srv.URL+"/v1", "")
	got, err := a.Analyze(context.Background(), "buy milk and eggs")
	require.NoError(t, err)

	assert.Equal(t, &Analysis{
		Summary:    "Groceries.",
		KeyPoints:  []string{"milk", "eggs"},
		Suggestion: "Go today.",
	}, got)
	assert.Equal(t, DefaultModel, seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "buy milk and eggs", seen.Messages[1].Content)
	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, seen.ResponseFormat.Type)
}

func TestAnalyzeFencedReply(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := completionServer(t, "```json\n{\"summary\":\"s\"}\n```", &seen)

	got, err := NewOpenAI("test-key", srv.URL+"/v1", "gpt-test").Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Summary)
	assert.Empty(t, got.KeyPoints)
	assert.Equal(t, "gpt-test", seen.Model)
}

func TestAnalyzeBadReply(t *testing.T) {
	var seen openai.ChatCompletionRequest
	srv := completionServer(t, "I cannot help with that", &seen)

	_, err := NewOpenAI("test-key", srv.URL+"/v1", "").Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBadResponse)
}

type stubCompleter struct{ calls int }

func (s *stubCompleter) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	return openai.ChatCompletionResponse{}, nil
}

func TestAnalyzeEmptyText(t *testing.T) {
	stub := &stubCompleter{}
	_, err := New(stub, "").Analyze(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Zero(t, stub.calls)
}

func TestAnalyzeNoChoices(t *testing.T) {
	_, err := New(&stubCompleter{}, "").Analyze(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBadResponse)
}
