package scanning

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultClaudeModel     = "claude-3-5-haiku-20241022"
	defaultClaudeMaxTokens = 1024
)

// Claude invokes an Anthropic vision model through the Messages API.
type Claude struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaude creates a Claude invoker. Extra request options (base URL,
// retries) are passed through to the SDK client.
func NewClaude(apiKey string, model string, opts ...option.RequestOption) (*Claude, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required", ErrUnavailable)
	}
	if model == "" {
		model = defaultClaudeModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Claude{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

// Name returns "claude".
func (c *Claude) Name() string { return "claude" }

// Invoke sends the document as a base64 PNG block followed by the prompt.
func (c *Claude) Invoke(ctx context.Context, data []byte, mediaType string, cfg InvokeConfig) (string, error) {
	img, err := PrepareImage(data, mediaType)
	if err != nil {
		return "", err
	}

	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(img)),
				anthropic.NewTextBlock(structuredPrompt),
			),
		},
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &RemoteError{Engine: c.Name(), Status: apiErr.StatusCode, Err: err}
		}
		return "", &RemoteError{Engine: c.Name(), Err: err}
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &RemoteError{Engine: c.Name(), Err: errors.New("unexpected response format: no text blocks")}
	}
	return b.String(), nil
}
