package llm

import "fmt"

// ProviderOptions selects and configures a concrete client implementation.
type ProviderOptions struct {
	Provider string // "ollama" (default) or "openai"
	APIKey   string
	Model    string
	BaseURL  string
}

// NewTextGenerator creates the appropriate TextGenerator for the provider.
func NewTextGenerator(opts ProviderOptions) (TextGenerator, error) {
	switch opts.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: opts.APIKey, Model: opts.Model, BaseURL: opts.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: opts.BaseURL, Model: opts.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", opts.Provider)
	}
}

// NewEmbeddingGenerator creates the appropriate EmbeddingGenerator for the
// provider. The embeddingModel parameter overrides the provider default.
func NewEmbeddingGenerator(opts ProviderOptions, embeddingModel string) (EmbeddingGenerator, error) {
	switch opts.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: opts.APIKey, Model: embeddingModel, BaseURL: opts.BaseURL}), nil
	case "ollama", "":
		model := embeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: opts.BaseURL, Model: model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", opts.Provider)
	}
}
