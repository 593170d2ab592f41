package providers

import "context"

// Provider names understood by the factory.
const (
	ProviderDeepSeek   = "deepseek"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// Message is one role-tagged entry of a generation request.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// GenerationParams is the per-call generation parameter bag. Zero values
// mean "backend default".
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// Citation is one piece of grounding metadata attached to a response.
// Only some backends produce these.
type Citation struct {
	Title string
	URI   string
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one backend generation result.
type Response struct {
	Content   string
	Citations []Citation
	Usage     *UsageInfo
}

// LLMProvider generates text for one backend. The credential is passed
// per call so the orchestrator's rotation state stays outside the
// provider.
type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, credential string, messages []Message, model string, params GenerationParams) (*Response, error)
}
