package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

type AIService struct {
	client *openai.Client
	model  string
}

// SuggestedSubtask is a candidate child task proposed by the model. It is
// returned to the caller and never stored.
type SuggestedSubtask struct {
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Priority       models.TaskPriority `json:"priority"`
	EstimatedHours *float64            `json:"estimated_hours"`
	DueDate        *time.Time          `json:"due_date"`
}

func NewAIService(apiKey string) *AIService {
	return NewAIServiceWithConfig(openai.DefaultConfig(apiKey))
}

// NewAIServiceWithConfig creates an AIService from a full client config,
// e.g. to point it at a different base URL
func NewAIServiceWithConfig(cfg openai.ClientConfig) *AIService {
	return &AIService{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4o,
	}
}

// SuggestSubtasks asks the model to break task down into child tasks.
// ancestors and existing children are given as context so suggestions do not
// repeat work that is already planned.
func (s *AIService) SuggestSubtasks(ctx context.Context, task models.Task, ancestors, children []models.Task, max int) ([]SuggestedSubtask, error) {
	if s == nil || s.client == nil {
		return nil, ErrAIServiceNotConfigured
	}
	if max <= 0 || max > constants.MaxAISuggestedSubtasks {
		max = constants.MaxAISuggestedSubtasks
	}

	resp, err := s.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: subtaskPrompt(task, ancestors, children, max, time.Now().UTC()),
				},
			},
			Temperature: 0.3,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	suggestions, err := parseSuggestions(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(suggestions) > max {
		suggestions = suggestions[:max]
	}
	return suggestions, nil
}

func subtaskPrompt(task models.Task, ancestors, children []models.Task, max int, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a project planning assistant. Break the task below into at most %d concrete subtasks.\n\n", max)
	fmt.Fprintf(&b, "Current time: %s\n\n", now.Format(time.RFC3339))

	if len(ancestors) > 0 {
		b.WriteString("The task is part of:\n")
		for _, a := range ancestors {
			fmt.Fprintf(&b, "- %s\n", a.Title)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if task.DueDate != nil {
		fmt.Fprintf(&b, "Due: %s\n", task.DueDate.UTC().Format(time.RFC3339))
	}

	if len(children) > 0 {
		b.WriteString("\nSubtasks that already exist (do not repeat them):\n")
		for _, c := range children {
			fmt.Fprintf(&b, "- %s\n", c.Title)
		}
	}

	b.WriteString(`
Return a JSON array in this format:
[
  {
    "title": "short subtask title",
    "description": "what needs to be done",
    "priority": "low | medium | high | urgent",
    "estimated_hours": 2.5,
    "due_date": "ISO8601 timestamp such as 2025-10-28T23:59:59Z, or null"
  }
]

Rules:
- Return [] if the task cannot be broken down further
- due_date must not be later than the task's due date
- Return only JSON, no explanation`)

	return b.String()
}

// parseSuggestions decodes the model's reply, tolerating a surrounding
// markdown code fence, and drops entries without a title
func parseSuggestions(content string) ([]SuggestedSubtask, error) {
	raw := strings.TrimSpace(content)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}

	var parsed []SuggestedSubtask
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse AI response: %w (response: %s)", err, content)
	}

	result := make([]SuggestedSubtask, 0, len(parsed))
	for _, s := range parsed {
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			continue
		}
		if !s.Priority.IsValid() {
			s.Priority = models.TaskPriorityMedium
		}
		if s.EstimatedHours != nil && *s.EstimatedHours < 0 {
			s.EstimatedHours = nil
		}
		result = append(result, s)
	}

	return result, nil
}
