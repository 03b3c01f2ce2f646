package providers

const (
	googleDefaultBase  = "https://generativelanguage.googleapis.com/v1beta/openai"
	googleDefaultModel = "gemini-2.5-flash"
)

// GoogleProvider talks to Gemini through its OpenAI-compatible endpoint,
// reusing OpenAIProvider's request/response handling and the
// collapseToolCallsWithoutSig history fixup Gemini 2.5+ requires.
type GoogleProvider struct {
	*OpenAIProvider
}

func NewGoogleProvider(apiKey, apiBase, defaultModel string) *GoogleProvider {
	if apiBase == "" {
		apiBase = googleDefaultBase
	}
	if defaultModel == "" {
		defaultModel = googleDefaultModel
	}
	return &GoogleProvider{
		OpenAIProvider: NewOpenAIProvider("google", apiKey, apiBase, defaultModel),
	}
}

func (p *GoogleProvider) Name() string { return "google" }
