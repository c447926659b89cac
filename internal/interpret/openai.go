package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const systemPrompt = `You translate one browser automation instruction into exactly one action.
Reply with a single JSON object and nothing else:
{"type": "navigate|click|fill|screenshot|extract|wait", "url": "...", "selector": "...", "value": "...", "reasoning": "..."}
Use CSS selectors or Playwright text selectors (text=...). Include only the fields the action needs.`

// OpenAIOptions configures the OpenAI interpreter.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	DisableRetries bool
	Logger         *slog.Logger
}

// OpenAI asks a chat completion model to interpret instructions.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an interpreter backed by the Chat Completions API.
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.DisableRetries {
		reqOpts = append(reqOpts, option.WithMaxRetries(0))
	}

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  opts.Model,
		logger: opts.Logger,
	}, nil
}

// Interpret implements Interpreter.
func (o *OpenAI) Interpret(ctx context.Context, instruction string, page PageContext) (Action, error) {
	user := instruction
	if page.URL != "" {
		user = fmt.Sprintf("Current page: %s (%s)\nInstruction: %s", page.URL, page.Title, instruction)
	}

	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return Action{}, fmt.Errorf("interpret request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Action{}, fmt.Errorf("%w: model returned no choices", ErrUninterpretable)
	}

	action, err := parseAction(completion.Choices[0].Message.Content)
	if err != nil {
		return Action{}, err
	}
	o.logger.Debug("Instruction interpreted", "model", o.model, "action", action.Type)
	return action, nil
}

// parseAction decodes a model reply, tolerating a fenced code block.
func parseAction(content string) (Action, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var action Action
	if err := json.Unmarshal([]byte(content), &action); err != nil {
		return Action{}, fmt.Errorf("%w: invalid model reply: %v", ErrUninterpretable, err)
	}
	action.Type = ActionType(strings.ToLower(string(action.Type)))
	if err := action.Validate(); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrUninterpretable, err)
	}
	return action, nil
}
