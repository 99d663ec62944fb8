package agent

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// Provider names accepted in runtime.provider and agents.*.provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderEcho      = "echo"
)

const defaultMaxTokens = 4096

// ProviderFactory builds SDK-backed invokers. Credentials come from the
// SDKs' standard environment variables.
type ProviderFactory struct{}

// Build implements Factory.
func (ProviderFactory) Build(_ context.Context, req Request) (Invoker, error) {
	switch req.Provider() {
	case ProviderAnthropic:
		return NewAnthropicInvoker(req), nil
	case ProviderOpenAI:
		return NewOpenAIInvoker(req), nil
	case ProviderEcho:
		return EchoInvoker{}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
			"agent %q: unsupported provider %q", req.AgentID, req.Provider())
	}
}

// AnthropicInvoker calls the Messages API with the agent prompt as system text.
type AnthropicInvoker struct {
	client *anthropic.Client
	http   *http.Client
	model  anthropic.Model
	system string
}

// NewAnthropicInvoker creates an invoker with its own HTTP connection pool.
func NewAnthropicInvoker(req Request) *AnthropicInvoker {
	hc := &http.Client{}
	opts := []anthropicopt.RequestOption{anthropicopt.WithHTTPClient(hc), anthropicopt.WithMaxRetries(0)}
	if req.Runtime.Host != "" {
		opts = append(opts, anthropicopt.WithBaseURL(req.Runtime.Host))
	}
	client := anthropic.NewClient(opts...)

	model := anthropic.ModelClaude3_5Sonnet20241022
	if m := req.Model(); m != "" {
		model = anthropic.Model(m)
	}
	return &AnthropicInvoker{client: &client, http: hc, model: model, system: req.Agent.Prompt}
}

func (a *AnthropicInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if a.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.StatusCode, err)
		}
		return "", classifyOther(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// Close drops idle connections held by the invoker's HTTP client.
func (a *AnthropicInvoker) Close() error {
	a.http.CloseIdleConnections()
	return nil
}

// OpenAIInvoker calls the Chat Completions API.
type OpenAIInvoker struct {
	client *openai.Client
	http   *http.Client
	model  string
	system string
}

// NewOpenAIInvoker creates an invoker with its own HTTP connection pool.
func NewOpenAIInvoker(req Request) *OpenAIInvoker {
	hc := &http.Client{}
	opts := []openaiopt.RequestOption{openaiopt.WithHTTPClient(hc), openaiopt.WithMaxRetries(0)}
	if req.Runtime.Host != "" {
		opts = append(opts, openaiopt.WithBaseURL(req.Runtime.Host))
	}
	client := openai.NewClient(opts...)

	model := openai.ChatModelGPT4oMini
	if m := req.Model(); m != "" {
		model = m
	}
	return &OpenAIInvoker{client: &client, http: hc, model: model, system: req.Agent.Prompt}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if o.system != "" {
		messages = append(messages, openai.SystemMessage(o.system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               o.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(defaultMaxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus(apiErr.StatusCode, err)
		}
		return "", classifyOther(err)
	}
	if len(resp.Choices) == 0 {
		return "", Permanent(errors.New("openai: no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Close drops idle connections held by the invoker's HTTP client.
func (o *OpenAIInvoker) Close() error {
	o.http.CloseIdleConnections()
	return nil
}

// EchoInvoker returns its prompt unchanged. It lets specs be dry-run
// without credentials.
type EchoInvoker struct{}

func (EchoInvoker) Invoke(_ context.Context, prompt string) (string, error) { return prompt, nil }

func classifyOther(err error) error {
	if IsTransient(err) {
		return Transient(err)
	}
	return Permanent(err)
}
