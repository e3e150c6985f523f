package llm

import "fmt"

// ProviderConfig selects and configures an LLM provider.
type ProviderConfig struct {
	Provider       string // "ollama" (default), "openai", "anthropic"
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
	Guard          GuardConfig
}

// NewTextGenerator creates the TextGenerator for the configured provider.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Guard: cfg.Guard,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey: cfg.APIKey, Model: cfg.Model, Guard: cfg.Guard,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL, Model: cfg.Model, Guard: cfg.Guard,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for the configured
// provider. Returns (nil, nil) for providers without an embeddings API
// (Anthropic); the engine then falls back to text matching.
func NewEmbeddingGenerator(cfg ProviderConfig) (EmbeddingGenerator, error) {
	model := cfg.EmbeddingModel
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIConfig{
			APIKey: cfg.APIKey, Model: model, BaseURL: cfg.BaseURL, Guard: cfg.Guard,
		}), nil
	case "ollama", "":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL, Model: model, Guard: cfg.Guard,
		}), nil
	default:
		return nil, nil
	}
}
