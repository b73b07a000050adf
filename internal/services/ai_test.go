package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yukikurage/task-hierarchy-api/internal/cache"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"github.com/yukikurage/task-hierarchy-api/internal/testutil"
)

func TestParseSuggestions(t *testing.T) {
	tests := []struct {
		name    string
		content string
		titles  []string
		wantErr bool
	}{
		{
			name:    "plain array",
			content: `[{"title":"Write tests","priority":"high"}]`,
			titles:  []string{"Write tests"},
		},
		{
			name:    "fenced",
			content: "```json\n[{\"title\":\"Draft outline\"}]\n```",
			titles:  []string{"Draft outline"},
		},
		{
			name:    "blank titles dropped",
			content: `[{"title":"  "},{"title":"Review"}]`,
			titles:  []string{"Review"},
		},
		{
			name:    "empty array",
			content: `[]`,
			titles:  []string{},
		},
		{
			name:    "not json",
			content: "Sure! Here are some ideas",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSuggestions(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			titles := make([]string, len(got))
			for i, s := range got {
				titles[i] = s.Title
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestParseSuggestions_NormalizesFields(t *testing.T) {
	got, err := parseSuggestions(`[{"title":"Plan","priority":"whenever","estimated_hours":-3}]`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.TaskPriorityMedium, got[0].Priority)
	assert.Nil(t, got[0].EstimatedHours)
}

func TestSubtaskPrompt_IncludesContext(t *testing.T) {
	task := models.Task{Title: "Launch site", Description: "Public launch"}
	ancestors := []models.Task{{Title: "Q3 roadmap"}}
	children := []models.Task{{Title: "Buy domain"}}

	prompt := subtaskPrompt(task, ancestors, children, 5, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	assert.Contains(t, prompt, "at most 5 concrete subtasks")
	assert.Contains(t, prompt, "Q3 roadmap")
	assert.Contains(t, prompt, "Task: Launch site")
	assert.Contains(t, prompt, "- Buy domain")
}

// fakeChatServer answers every chat completion with content
func fakeChatServer(t *testing.T, content string, requests *[]openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req openai.ChatCompletionRequest
		require.NoError(t, json.Unmarshal(body, &req))
		*requests = append(*requests, req)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTaskService_SuggestSubtasks(t *testing.T) {
	var requests []openai.ChatCompletionRequest
	srv := fakeChatServer(t, `[{"title":"One"},{"title":"Two"},{"title":"Three"}]`, &requests)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"

	stats, err := cache.New[*Statistics](8, time.Minute)
	require.NoError(t, err)
	defer stats.Close()

	db := testutil.NewDB(t)
	service := NewTaskService(repository.NewStore(db), stats, NewAIServiceWithConfig(cfg), testutil.DiscardLogger())

	ctx := context.Background()
	parent, err := service.CreateTask(ctx, CreateTaskInput{Title: "Release 2.0"})
	require.NoError(t, err)
	_, err = service.CreateTask(ctx, CreateTaskInput{Title: "Changelog", ParentID: &parent.ID})
	require.NoError(t, err)

	suggestions, err := service.SuggestSubtasks(ctx, parent.ID, 2)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, "One", suggestions[0].Title)

	require.Len(t, requests, 1)
	assert.Equal(t, openai.GPT4o, requests[0].Model)
	assert.Contains(t, requests[0].Messages[0].Content, "- Changelog")

	// nothing is persisted
	children, err := service.GetChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, children, 1)
}

func TestTaskService_SuggestSubtasks_UnknownTask(t *testing.T) {
	var requests []openai.ChatCompletionRequest
	srv := fakeChatServer(t, `[]`, &requests)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"

	stats, err := cache.New[*Statistics](8, time.Minute)
	require.NoError(t, err)
	defer stats.Close()

	service := NewTaskService(repository.NewStore(testutil.NewDB(t)), stats, NewAIServiceWithConfig(cfg), testutil.DiscardLogger())

	_, err = service.SuggestSubtasks(context.Background(), "missing", 3)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, requests)
}
