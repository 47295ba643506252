package reviewer

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// LLMSuggester produces code suggestions through the Anthropic API.
// Calls are rate limited so overlapping reviewer cycles stay inside the
// account's request budget.
type LLMSuggester struct {
	api     *anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
}

// NewLLMSuggester creates a suggester with the given API key and model.
func NewLLMSuggester(apiKey, model string) *LLMSuggester {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &LLMSuggester{
		api:     &client,
		model:   anthropic.Model(model),
		limiter: rate.NewLimiter(rate.Limit(0.5), 2), // one request per 2s, burst 2
	}
}

// buildPrompt constructs the system and user prompts for a suggestion.
func buildPrompt(def *Definition, path, content string) (system string, user string) {
	system = fmt.Sprintf(`You are a code reviewer focused on %s.
Given one source file, return the COMPLETE improved file body.

Rules:
- Return ONLY the file content, no markdown fencing, no explanation
- Preserve the file's public interface and behavior
- Make focused improvements; if nothing is worth changing, return the input unchanged
- Never invent imports for libraries the project does not already use`, def.Focus)

	var sb strings.Builder
	sb.WriteString("File: ")
	sb.WriteString(path)
	sb.WriteString("\n\n")
	sb.WriteString(content)
	user = sb.String()
	return
}

// Suggest sends the file to the LLM and returns the transformed body.
func (s *LLMSuggester) Suggest(ctx context.Context, def *Definition, path, content string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	systemPrompt, userPrompt := buildPrompt(def, path, content)

	msg, err := s.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 8192,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	text := stripFence(out.String())
	if text == "" {
		return "", fmt.Errorf("empty suggestion for %s", path)
	}
	return text + "\n", nil
}

// stripFence removes accidental markdown fencing the model sometimes
// adds despite the prompt.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	return text
}
