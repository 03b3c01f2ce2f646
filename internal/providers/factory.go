package providers

import "fmt"

// New constructs the Provider implementation for a connection's provider
// name. apiBase and defaultModel may be empty, in which case each
// implementation's own default is used.
func New(name, apiKey, apiBase, defaultModel string) (Provider, error) {
	switch name {
	case "anthropic":
		opts := []AnthropicOption{}
		if apiBase != "" {
			opts = append(opts, WithAnthropicBaseURL(apiBase))
		}
		if defaultModel != "" {
			opts = append(opts, WithAnthropicModel(defaultModel))
		}
		return NewAnthropicProvider(apiKey, opts...), nil
	case "openai":
		return NewOpenAIProvider("openai", apiKey, apiBase, defaultModel), nil
	case "dashscope":
		return NewDashScopeProvider(apiKey, apiBase, defaultModel), nil
	case "google":
		return NewGoogleProvider(apiKey, apiBase, defaultModel), nil
	case "openrouter":
		return NewOpenRouterProvider(apiKey, apiBase, defaultModel), nil
	case "ollama":
		return NewOllamaProvider(apiKey, apiBase, defaultModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
