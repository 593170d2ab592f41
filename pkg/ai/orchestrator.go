package ai

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/providers"
)

// ErrAllBackendsExhausted is the terminal orchestrator error: every
// (credential, model) combination and the escape hatch failed. Callers
// must show the user a fallback string, never this error.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// PromptUnit is one logical generation request.
type PromptUnit struct {
	Messages []providers.Message
	// Tier, when set, picks the starting model by priority tier. The
	// rotation order takes over after the first failure.
	Tier string
	// Params override the model's configured generation parameters
	// where non-zero.
	Params providers.GenerationParams
}

// Orchestrator drives one generation request across the fallback space:
// credentials × models, then the escape hatch.
type Orchestrator struct {
	backends *providers.Backends
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(backends *providers.Backends) *Orchestrator {
	return &Orchestrator{backends: backends, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// budget bounds total attempts across the whole fallback space.
func (o *Orchestrator) budget() int {
	maxCreds := 1
	for _, m := range o.backends.Registry.Models() {
		if n := o.backends.Registry.Pool(m.Provider).Size(); n > maxCreds {
			maxCreds = n
		}
	}
	return maxCreds * o.backends.Registry.Len() * 2
}

// Execute runs the request until a backend answers, the budget runs
// out, or the escape hatch fails. Rotation state is shared across
// concurrent calls; attempts within one call are strictly sequential.
func (o *Orchestrator) Execute(ctx context.Context, unit PromptUnit) (*providers.Response, error) {
	requestID := uuid.NewString()
	registry := o.backends.Registry
	budget := o.budget()
	nModels := registry.Len()

	model := registry.Current()
	if unit.Tier != "" {
		model = registry.SelectForTier(unit.Tier)
	}

	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		pool := registry.Pool(model.Provider)
		provider := o.backends.Providers[model.Provider]

		resp, err := provider.Generate(ctx, pool.Current(), unit.Messages, model.Name, mergeParams(model.Params, unit.Params))
		if err == nil {
			logger.DebugCF("ai", "request served", map[string]any{
				"request": requestID,
				"model":   model.Name,
				"attempt": attempt,
			})
			return resp, nil
		}
		lastErr = err

		kind := providers.Classify(err)
		decision := Decide(kind, attempt, budget, nModels)
		logger.InfoCF("ai", "attempt failed", map[string]any{
			"request": requestID,
			"model":   model.Name,
			"attempt": attempt,
			"kind":    kind.String(),
			"error":   err.Error(),
		})

		switch decision.Action {
		case ActionRotateModel, ActionRotateModelBackoff:
			model = registry.RotateModel()
			logger.InfoCF("ai", "rotated model", map[string]any{"request": requestID, "model": model.Name})
		case ActionRotateCredential:
			pool.Rotate()
			logger.InfoCF("ai", "rotated credential", map[string]any{"request": requestID, "provider": model.Provider})
		case ActionEscapeHatch:
			return o.escapeHatch(ctx, requestID, unit, lastErr)
		}

		if decision.Backoff > 0 {
			if err := o.sleep(ctx, decision.Backoff); err != nil {
				return nil, err
			}
		}
	}

	return o.escapeHatch(ctx, requestID, unit, lastErr)
}

// escapeHatch makes the single last-resort call with a reduced prompt
// and a conservative token cap. Its failure is terminal.
func (o *Orchestrator) escapeHatch(ctx context.Context, requestID string, unit PromptUnit, lastErr error) (*providers.Response, error) {
	escape := o.backends.Escape
	if !escape.Configured() {
		return nil, terminal(lastErr)
	}

	logger.WarnCF("ai", "rotation budget spent, using escape hatch", map[string]any{
		"request": requestID,
		"model":   escape.Model,
	})

	resp, err := escape.Provider.Generate(ctx, escape.APIKey, reducePrompt(unit.Messages), escape.Model,
		providers.GenerationParams{MaxTokens: escape.MaxTokens})
	if err != nil {
		logger.ErrorCF("ai", "escape hatch failed", map[string]any{"request": requestID, "error": err.Error()})
		return nil, terminal(err)
	}
	return resp, nil
}

func terminal(cause error) error {
	if cause == nil {
		return ErrAllBackendsExhausted
	}
	return errors.Join(ErrAllBackendsExhausted, cause)
}

// reducePrompt keeps the system instructions and the last user message,
// dropping the conversation window.
func reducePrompt(messages []providers.Message) []providers.Message {
	var reduced []providers.Message
	for _, m := range messages {
		if m.Role == "system" {
			reduced = append(reduced, m)
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			reduced = append(reduced, messages[i])
			break
		}
	}
	if len(reduced) == 0 && len(messages) > 0 {
		reduced = append(reduced, messages[len(messages)-1])
	}
	return reduced
}

func mergeParams(base, override providers.GenerationParams) providers.GenerationParams {
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.Temperature > 0 {
		base.Temperature = override.Temperature
	}
	if override.TopP > 0 {
		base.TopP = override.TopP
	}
	if override.TopK > 0 {
		base.TopK = override.TopK
	}
	return base
}
