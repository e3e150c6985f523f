// Package llm provides clients for LLM providers (Ollama, OpenAI, Anthropic)
// behind two small interfaces. All HTTP calls are rate-limited and wrapped
// with circuit breaker protection.
package llm

import "context"

// TextGenerator is the interface for LLM text completion. Extraction prompts
// use single-string completion style (not chat history).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
