package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Ollama invokes a vision model served by a local Ollama instance.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama invoker.
// Recommended models for receipt scanning (in order of recommendation):
//   - llava:1.6 (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - llava-phi3 (smaller, faster, but less accurate)
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models on local hardware are slow
		},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// Invoke posts the document to /api/chat. The output budget maps to
// num_predict.
func (o *Ollama) Invoke(ctx context.Context, data []byte, mediaType string, cfg InvokeConfig) (string, error) {
	img, err := PrepareImage(data, mediaType)
	if err != nil {
		return "", err
	}

	options := map[string]any{"temperature": 0}
	if cfg.MaxOutputTokens > 0 {
		options["num_predict"] = cfg.MaxOutputTokens
	}
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{
				Role:    "user",
				Content: structuredPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(img)},
			},
		},
		Options: options,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return "", fmt.Errorf("%w: ollama at %s: %v", ErrUnavailable, o.baseURL, err)
		}
		return "", &RemoteError{Engine: o.Name(), Err: fmt.Errorf("calling ollama API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			// model not pulled
			return "", fmt.Errorf("%w: ollama model %q: %s", ErrUnavailable, o.model, strings.TrimSpace(string(body)))
		}
		return "", &RemoteError{Engine: o.Name(), Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &RemoteError{Engine: o.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	return chatResp.Message.Content, nil
}

// Close is a no-op for the HTTP client.
func (o *Ollama) Close() error {
	return nil
}
