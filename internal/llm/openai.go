package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI clients.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o-mini (text) / text-embedding-3-small (embeddings)
	BaseURL string        // default: https://api.openai.com
	Timeout time.Duration // default: 60s
	Guard   GuardConfig
}

func (cfg *OpenAIConfig) applyDefaults(defaultModel string) {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
}

// OpenAIClient implements TextGenerator using the chat completions API.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
	guard  *callGuard
}

var _ TextGenerator = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new OpenAI completion client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	cfg.applyDefaults("gpt-4o-mini")
	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		guard:  newCallGuard("openai", cfg.Guard),
	}
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single-turn completion to OpenAI at temperature 0.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.guard.do(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *OpenAIClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := openAIChatRequest{
		Model:       c.cfg.Model,
		Messages:    []openAIChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
	}

	var respData openAIChatResponse
	if err := postOpenAI(ctx, c.client, c.cfg, "/v1/chat/completions", reqBody, &respData); err != nil {
		return "", err
	}
	if len(respData.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return respData.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// BreakerState reports the circuit breaker state for the health endpoint.
func (c *OpenAIClient) BreakerState() string {
	return c.guard.State()
}

// OpenAIEmbeddingClient implements EmbeddingGenerator using the embeddings API.
type OpenAIEmbeddingClient struct {
	cfg    OpenAIConfig
	client *http.Client
	guard  *callGuard
}

var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)

// NewOpenAIEmbeddingClient creates a new OpenAI embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIConfig) *OpenAIEmbeddingClient {
	cfg.applyDefaults("text-embedding-3-small")
	return &OpenAIEmbeddingClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		guard:  newCallGuard("openai-embeddings", cfg.Guard),
	}
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for the given text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.guard.do(ctx, func() (interface{}, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (c *OpenAIEmbeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var respData openAIEmbedResponse
	err := postOpenAI(ctx, c.client, c.cfg, "/v1/embeddings", openAIEmbedRequest{
		Model: c.cfg.Model,
		Input: text,
	}, &respData)
	if err != nil {
		return nil, err
	}
	if len(respData.Data) == 0 || len(respData.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding vector")
	}
	return respData.Data[0].Embedding, nil
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.cfg.Model
}

func postOpenAI(ctx context.Context, client *http.Client, cfg OpenAIConfig, path string, reqBody, respData interface{}) error {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", cfg.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(respData); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
