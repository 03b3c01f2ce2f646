package providers

const (
	ollamaDefaultBase  = "http://localhost:11434/v1"
	ollamaDefaultModel = "llama3.1"
)

// OllamaProvider talks to a local Ollama instance through its
// OpenAI-compatible /v1 endpoint. Ollama ignores the API key entirely, but
// OpenAIProvider always sends an Authorization header, so a placeholder
// value is used when the connection's envKeyName resolves to an empty key.
type OllamaProvider struct {
	*OpenAIProvider
}

func NewOllamaProvider(apiKey, apiBase, defaultModel string) *OllamaProvider {
	if apiKey == "" {
		apiKey = "ollama"
	}
	if apiBase == "" {
		apiBase = ollamaDefaultBase
	}
	if defaultModel == "" {
		defaultModel = ollamaDefaultModel
	}
	return &OllamaProvider{
		OpenAIProvider: NewOpenAIProvider("ollama", apiKey, apiBase, defaultModel),
	}
}

func (p *OllamaProvider) Name() string          { return "ollama" }
func (p *OllamaProvider) SupportsThinking() bool { return false }
