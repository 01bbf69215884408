package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// Generator produces and edits single-page website documents.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Edit(ctx context.Context, req EditRequest) (string, error)
}

// GenerateRequest describes a new site. APIKey, when set, replaces the shared
// key for this call only.
type GenerateRequest struct {
	Name   string
	Prompt string
	APIKey string
}

// EditRequest describes a change to an existing document.
type EditRequest struct {
	Name         string
	ExistingHTML string
	Instruction  string
	APIKey       string
}

// GeneratorOptions configures the chat-completion backed generator.
type GeneratorOptions struct {
	Client          *Client
	Model           string
	Temperature     float64
	SystemPrompt    string
	MaxPromptTokens int
}

type generator struct {
	client       *Client
	logger       *logrus.Logger
	model        string
	temperature  float64
	systemPrompt string
	budget       *tokenBudget
}

const (
	DefaultModel = "gemini-2.0-flash"

	defaultGeneratorSystemPrompt = `You're an expert web developer. You write clean, production-ready HTML for single-page websites.
Return only valid HTML. Do not include JavaScript or external CSS unless absolutely necessary.`
	defaultGeneratorTemperature = 0.4
)

// NewGenerator constructs a Generator backed by the chat completions API.
func NewGenerator(opts GeneratorOptions) (Generator, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultGeneratorTemperature
	}

	systemPrompt := strings.TrimSpace(opts.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultGeneratorSystemPrompt
	}

	budget, err := newTokenBudget(opts.MaxPromptTokens)
	if err != nil {
		return nil, err
	}

	return &generator{
		client:       opts.Client,
		logger:       opts.Client.logger,
		model:        model,
		temperature:  temperature,
		systemPrompt: systemPrompt,
		budget:       budget,
	}, nil
}

func (g *generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	prompt := strings.TrimSpace(req.Prompt)
	if name == "" || prompt == "" {
		return "", eris.New("site name and prompt are required")
	}

	message := fmt.Sprintf("Generate a single-page website titled %q. The theme or idea is: %q.", name, prompt)
	return g.complete(ctx, logrus.Fields{"site_name": name, "operation": "generate"}, message, req.APIKey)
}

func (g *generator) Edit(ctx context.Context, req EditRequest) (string, error) {
	name := strings.TrimSpace(req.Name)
	instruction := strings.TrimSpace(req.Instruction)
	existing := strings.TrimSpace(req.ExistingHTML)
	if name == "" || instruction == "" || existing == "" {
		return "", eris.New("site name, existing html and instruction are required")
	}

	fields := logrus.Fields{"site_name": name, "operation": "edit"}
	if err := g.budget.check(existing); err != nil {
		g.logError(fields, err, "rejecting oversized edit")
		return "", err
	}

	message := fmt.Sprintf("Here is the current HTML for a website titled %q:\n\n%s\n\nPlease make the following changes: %q\n\nReturn only the complete updated HTML document.", name, existing, instruction)
	return g.complete(ctx, fields, message, req.APIKey)
}

func (g *generator) complete(ctx context.Context, fields logrus.Fields, message, apiKey string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.systemPrompt),
			openai.UserMessage(message),
		},
		Temperature: openai.Float(g.temperature),
	}

	var callOptions []option.RequestOption
	if key := strings.TrimSpace(apiKey); key != "" {
		callOptions = append(callOptions, option.WithAPIKey(key))
		withKey := logrus.Fields{"own_key": true}
		for k, v := range fields {
			withKey[k] = v
		}
		fields = withKey
	}

	completion, err := g.client.chat.New(ctx, params, callOptions...)
	if err != nil {
		g.logError(fields, err, "requesting chat completion")
		return "", eris.Wrap(err, "requesting chat completion")
	}

	if len(completion.Choices) == 0 {
		err := eris.New("llm completion returned no choices")
		g.logError(fields, err, "processing chat completion")
		return "", err
	}

	choice := completion.Choices[0]
	if reason := strings.TrimSpace(choice.FinishReason); strings.EqualFold(reason, "content_filter") {
		err := eris.New("llm blocked the request via content filter")
		g.logError(fields, err, "generator blocked")
		return "", err
	}

	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		err := eris.Errorf("llm refused to generate content: %s", refusal)
		g.logError(fields, err, "generator refused")
		return "", err
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		err := eris.New("llm response content is empty")
		g.logError(fields, err, "empty llm response")
		return "", err
	}

	document, err := normalizeDocument(content)
	if err != nil {
		err := eris.Wrap(err, "cleaning llm html response")
		g.logError(fields, err, "invalid llm response")
		return "", err
	}

	return document, nil
}

func (g *generator) logError(fields logrus.Fields, err error, message string) {
	if g.logger == nil || err == nil {
		return
	}

	entry := g.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
