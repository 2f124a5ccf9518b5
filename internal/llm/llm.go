// Package llm drafts question files with an OpenAI-compatible chat model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/labquiz/internal/llm/prompts"
	"github.com/pavelanni/labquiz/internal/model"
)

const maxPoints = 3

// ErrNoDrafts is returned when the model produced nothing usable.
var ErrNoDrafts = errors.New("model returned no usable questions")

// Draft is one question as the model returns it. Correct is 1-based.
type Draft struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Correct int      `json:"correct"`
	Points  int      `json:"points"`
}

type draftResponse struct {
	Questions []Draft `json:"questions"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping checks that the endpoint answers and serves the configured model.
func (c *Client) Ping(ctx context.Context) error {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range list.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by endpoint", c.model)
}

// DraftQuestions asks the model for n questions on topic. Drafts that would not
// parse back as a question file are dropped with a warning, so fewer than n may return.
func (c *Client) DraftQuestions(ctx context.Context, topic string, n int, difficulty prompts.Difficulty, lang string) ([]model.Question, error) {
	if n < 1 {
		return nil, fmt.Errorf("question count must be positive, got %d", n)
	}
	prompt, err := prompts.BuildDraftPrompt(topic, n, difficulty, lang)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var parsed draftResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	var out []model.Question
	for i, d := range parsed.Questions {
		if len(out) == n {
			break
		}
		q, err := d.Question()
		if err != nil {
			slog.Warn("dropping drafted question", "index", i, "error", err)
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, ErrNoDrafts
	}
	return out, nil
}

// Question converts a draft into a question without id or bank.
func (d Draft) Question() (model.Question, error) {
	// Correct counts over the options as sent, blanks included.
	if d.Correct < 1 || d.Correct > len(d.Options) {
		return model.Question{}, fmt.Errorf("correct option %d out of range 1..%d", d.Correct, len(d.Options))
	}
	if strings.TrimSpace(d.Options[d.Correct-1]) == "" {
		return model.Question{}, fmt.Errorf("correct option %d is blank", d.Correct)
	}

	var opts []string
	correct := 0
	for i, o := range d.Options {
		if o = strings.TrimSpace(o); o == "" {
			continue
		}
		if i == d.Correct-1 {
			correct = len(opts)
		}
		opts = append(opts, o)
	}
	if len(opts) > model.OptionCount {
		return model.Question{}, fmt.Errorf("%d options, at most %d fit", len(opts), model.OptionCount)
	}

	q := model.Question{
		Text:          strings.Join(strings.Fields(d.Text), " "),
		CorrectAnswer: correct,
		Points:        min(max(d.Points, 1), maxPoints),
	}
	for i, o := range opts {
		// The file format is line based.
		q.Options[i] = strings.Join(strings.Fields(o), " ")
	}
	if !q.Usable() {
		return model.Question{}, errors.New("question needs text and at least two options")
	}
	return q, nil
}
