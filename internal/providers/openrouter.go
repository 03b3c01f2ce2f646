package providers

const (
	openrouterDefaultBase  = "https://openrouter.ai/api/v1"
	openrouterDefaultModel = "openrouter/auto"
)

// OpenRouterProvider routes chat completions through OpenRouter's
// OpenAI-compatible API, which fronts dozens of upstream models behind one
// endpoint. Model IDs are expected in OpenRouter's "{vendor}/{model}" form;
// resolveModel (OpenAIProvider) falls back to defaultModel for bare ids.
type OpenRouterProvider struct {
	*OpenAIProvider
}

func NewOpenRouterProvider(apiKey, apiBase, defaultModel string) *OpenRouterProvider {
	if apiBase == "" {
		apiBase = openrouterDefaultBase
	}
	if defaultModel == "" {
		defaultModel = openrouterDefaultModel
	}
	return &OpenRouterProvider{
		OpenAIProvider: NewOpenAIProvider("openrouter", apiKey, apiBase, defaultModel),
	}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }
