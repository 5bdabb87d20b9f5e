package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tripforge/itinerary-engine/internal/model"
	"github.com/tripforge/itinerary-engine/internal/resilience"
	"github.com/tripforge/itinerary-engine/internal/telemetry"
)

// OpenAIClient implements Client against an OpenAI-shaped chat completions
// endpoint: it demands a schema-constrained JSON object back and retries on
// a malformed response before surfacing model.ErrLLMFailure.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     telemetry.Logger
	opts       Options
}

// NewOpenAIClient builds a client; an empty apiKey falls back to the
// OPENAI_API_KEY environment variable.
func NewOpenAIClient(apiKey string, logger telemetry.Logger) *OpenAIClient {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = telemetry.NoOpLogger{}
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		opts:       DefaultOptions(),
	}
}

// WithOptions returns a shallow copy configured with opts.
func (c *OpenAIClient) WithOptions(opts Options) *OpenAIClient {
	cp := *c
	cp.opts = opts
	return &cp
}

func (c *OpenAIClient) GenerateStructured(ctx context.Context, prompt string, schema Schema) (map[string]interface{}, error) {
	if c.apiKey == "" {
		return nil, model.NewError("llm.GenerateStructured", fmt.Errorf("%w: OpenAI API key not configured", model.ErrLLMFailure))
	}

	var lastErr error
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 3 // initial attempt plus 2 retries on malformed output

	var result map[string]interface{}
	err := resilience.Retry(ctx, cfg, func() error {
		out, err := c.callOnce(ctx, prompt, schema)
		if err != nil {
			lastErr = err
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, model.NewError("llm.GenerateStructured", fmt.Errorf("%w: %v", model.ErrLLMFailure, lastErr))
	}
	return result, nil
}

func (c *OpenAIClient) callOnce(ctx context.Context, prompt string, schema Schema) (map[string]interface{}, error) {
	messages := []map[string]string{}
	if c.opts.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": c.opts.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	reqBody := map[string]interface{}{
		"model":       c.opts.Model,
		"messages":    messages,
		"temperature": c.opts.Temperature,
		"max_tokens":  c.opts.MaxTokens,
	}
	if schema != nil {
		reqBody["response_format"] = map[string]interface{}{
			"type":   "json_schema",
			"schema": schema,
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse response envelope: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	var structured map[string]interface{}
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &structured); err != nil {
		return nil, fmt.Errorf("malformed structured content: %w", err)
	}
	return structured, nil
}
