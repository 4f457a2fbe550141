// Package llm is the optional language-model collaborator: it classifies
// questions the router cannot place and drafts taxonomy proposals for
// questions no existing fact answers. The engine runs fully without it.
package llm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

// Client defines the completion operation the engine uses.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAI implements Client against the OpenAI chat API.
type OpenAI struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAI creates a client. Returns nil when apiKey is empty, which
// disables the fallback entirely.
func NewOpenAI(apiKey, model string) *OpenAI {
	if apiKey == "" {
		return nil
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		api:     openai.NewClient(apiKey),
		model:   model,
		limiter: rate.NewLimiter(2, 4),
	}
}

func (c *OpenAI) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "llm: rate limit wait")
	}

	var resp openai.ChatCompletionResponse
	err := withRetry(ctx, "chat completion", func() error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: 0,
		})
		return err
	})
	if err != nil {
		return "", eris.Wrap(err, "llm: chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", eris.New("llm: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown code fences the model wraps around JSON
// output despite instructions.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
