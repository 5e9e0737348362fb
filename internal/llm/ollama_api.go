package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/wayfarer/internal/version"
)

// OllamaAPIClient is a direct HTTP client for the Ollama generate API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	apiKey  string // sent as a bearer token when Ollama sits behind an auth proxy
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// WithAPIKey sets a bearer token for every request.
func (o *OllamaAPIClient) WithAPIKey(key string) *OllamaAPIClient {
	o.apiKey = key
	return o
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string { return "ollama" }

// Complete sends a completion request and waits for the whole reply.
func (o *OllamaAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := o.post(ctx, o.body(req))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.completion(o.model, time.Since(start)), nil
}

func (o *OllamaAPIClient) body(req CompletionRequest) ollamaRequest {
	body := ollamaRequest{
		Model:  o.model,
		Prompt: buildPrompt(req),
		System: req.System,
	}
	if req.Model != "" && req.Model != "ollama" {
		body.Model = req.Model
	}
	if req.JSON {
		body.Format = "json"
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}
	return body
}

func (o *OllamaAPIClient) post(ctx context.Context, body ollamaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: o.Name(), Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProviderError{Provider: o.Name(), Message: strings.TrimSpace(string(msg)), Code: resp.StatusCode}
	}
	return resp, nil
}

// buildPrompt flattens the conversation for the generate endpoint.
func buildPrompt(req CompletionRequest) string {
	var prompt strings.Builder
	for _, msg := range req.Messages {
		if msg.Role != RoleUser {
			prompt.WriteString(msg.Role)
			prompt.WriteString(": ")
		}
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n\n")
	}
	return strings.TrimSuffix(prompt.String(), "\n\n")
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Format  string         `json:"format,omitempty"`
	Stream  bool           `json:"stream"` // always false; the API streams by default
	Options *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (r ollamaResponse) completion(model string, took time.Duration) *CompletionResponse {
	if r.Model != "" {
		model = r.Model
	}
	return &CompletionResponse{
		Content:    r.Response,
		StopReason: r.DoneReason,
		Model:      model,
		Duration:   took,
		Usage:      Usage{InputTokens: r.PromptEvalCount, OutputTokens: r.EvalCount},
	}
}
