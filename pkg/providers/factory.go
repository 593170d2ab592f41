package providers

import (
	"fmt"
	"strings"

	"github.com/huskbot/husk/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultEscapeModel       = "openai/gpt-4o-mini"
	defaultEscapeMaxTokens   = 512
)

// EscapeHatch describes the single last-resort backend call made after
// the rotation space is exhausted.
type EscapeHatch struct {
	Provider  LLMProvider
	APIKey    string
	Model     string
	MaxTokens int
}

func (e *EscapeHatch) Configured() bool {
	return e != nil && e.Provider != nil && e.APIKey != ""
}

// Backends bundles everything the orchestrator needs: the provider
// implementations, the rotation registry, and the optional escape hatch.
type Backends struct {
	Providers map[string]LLMProvider
	Registry  *ModelRegistry
	Escape    *EscapeHatch
}

// Build wires the provider set from config. At least one rotation model
// with a usable credential pool is required.
func Build(cfg *config.Config) (*Backends, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}

	provs := map[string]LLMProvider{}
	pools := map[string]*CredentialPool{}

	if keys := trimAll(cfg.Providers.DeepSeek.APIKeys); len(keys) > 0 {
		base := strings.TrimSpace(cfg.Providers.DeepSeek.APIBase)
		if base == "" {
			base = defaultDeepSeekAPIBase
		}
		provs[ProviderDeepSeek] = NewHTTPProvider(ProviderDeepSeek, base, strings.TrimSpace(cfg.Providers.DeepSeek.Proxy))
		pools[ProviderDeepSeek] = NewCredentialPool(keys)
	}

	if keys := trimAll(cfg.Providers.Gemini.APIKeys); len(keys) > 0 {
		provs[ProviderGemini] = NewGeminiProvider()
		pools[ProviderGemini] = NewCredentialPool(keys)
	}

	models := make([]config.ModelConfig, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		if _, ok := provs[m.Provider]; !ok {
			continue
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no configured model has a usable provider credential (set HUSK_PROVIDERS_DEEPSEEK_API_KEYS or HUSK_PROVIDERS_GEMINI_API_KEYS)")
	}

	b := &Backends{
		Providers: provs,
		Registry:  NewModelRegistry(models, pools),
	}

	if key := strings.TrimSpace(cfg.Providers.OpenRouter.APIKey); key != "" {
		base := strings.TrimSpace(cfg.Providers.OpenRouter.APIBase)
		if base == "" {
			base = defaultOpenRouterAPIBase
		}
		model := strings.TrimSpace(cfg.Providers.OpenRouter.Model)
		if model == "" {
			model = defaultEscapeModel
		}
		maxTokens := cfg.Providers.OpenRouter.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultEscapeMaxTokens
		}
		b.Escape = &EscapeHatch{
			Provider:  NewHTTPProvider(ProviderOpenRouter, base, ""),
			APIKey:    key,
			Model:     model,
			MaxTokens: maxTokens,
		}
	}

	return b, nil
}

func trimAll(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
