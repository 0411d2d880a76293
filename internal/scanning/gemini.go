package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini invokes a Google Gemini vision model.
type Gemini struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGemini creates a Gemini invoker. A missing API key is reported as
// ErrUnavailable so the tier can be skipped.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrUnavailable)
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("%w: creating gemini client: %v", ErrUnavailable, err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		timeout:   60 * time.Second,
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Invoke sends the document image with the structured prompt.
func (g *Gemini) Invoke(ctx context.Context, data []byte, mediaType string, cfg InvokeConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	img, err := PrepareImage(data, mediaType)
	if err != nil {
		return "", err
	}

	// A model handle per call keeps the output budget local to this request.
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxOutputTokens))
	}

	// genai.ImageData expects the format suffix ("png"), not the MIME type
	resp, err := model.GenerateContent(ctx, genai.ImageData("png", img), genai.Text(structuredPrompt))
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return "", &RemoteError{Engine: g.Name(), Status: gErr.Code, Err: err}
		}
		return "", &RemoteError{Engine: g.Name(), Err: fmt.Errorf("generating content: %w", err)}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &RemoteError{Engine: g.Name(), Err: errors.New("no response from gemini")}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
