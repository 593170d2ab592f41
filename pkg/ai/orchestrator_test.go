package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huskbot/husk/pkg/config"
	"github.com/huskbot/husk/pkg/providers"
)

type recordedCall struct {
	Credential string
	Model      string
}

// scriptedProvider runs a fixed decision function and records every call.
type scriptedProvider struct {
	name  string
	calls []recordedCall
	fn    func(call int, credential, model string) (*providers.Response, error)
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(_ context.Context, credential string, _ []providers.Message, model string, _ providers.GenerationParams) (*providers.Response, error) {
	call := len(p.calls)
	p.calls = append(p.calls, recordedCall{Credential: credential, Model: model})
	return p.fn(call, credential, model)
}

func alwaysFail(kind providers.ErrorKind) func(int, string, string) (*providers.Response, error) {
	return func(int, string, string) (*providers.Response, error) {
		return nil, &providers.CallError{Provider: "fake", Kind: kind, Message: "scripted failure"}
	}
}

func newTestOrchestrator(primary, escape *scriptedProvider) *Orchestrator {
	models := []config.ModelConfig{
		{Name: "model-a", Provider: "fake", Tier: "default"},
		{Name: "model-b", Provider: "fake", Tier: "low"},
	}
	pools := map[string]*providers.CredentialPool{
		"fake": providers.NewCredentialPool([]string{"k1", "k2"}),
	}
	backends := &providers.Backends{
		Providers: map[string]providers.LLMProvider{"fake": primary},
		Registry:  providers.NewModelRegistry(models, pools),
	}
	if escape != nil {
		backends.Escape = &providers.EscapeHatch{
			Provider:  escape,
			APIKey:    "escape-key",
			Model:     "escape-model",
			MaxTokens: 256,
		}
	}

	o := New(backends)
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func unit(text string) PromptUnit {
	return PromptUnit{Messages: []providers.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: text},
	}}
}

func TestExecute_FirstAttemptSucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: func(int, string, string) (*providers.Response, error) {
		return &providers.Response{Content: "hello"}, nil
	}}
	o := newTestOrchestrator(primary, nil)

	resp, err := o.Execute(context.Background(), unit("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	require.Len(t, primary.calls, 1)
	assert.Equal(t, "k1", primary.calls[0].Credential)
	assert.Equal(t, "model-a", primary.calls[0].Model)
}

func TestExecute_BudgetBoundsAttemptsAndEscapeHatchFiresOnce(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: alwaysFail(providers.ErrKindTransient)}
	escape := &scriptedProvider{name: "escape", fn: func(int, string, string) (*providers.Response, error) {
		return &providers.Response{Content: "last resort"}, nil
	}}
	o := newTestOrchestrator(primary, escape)

	resp, err := o.Execute(context.Background(), unit("hi"))
	require.NoError(t, err)
	assert.Equal(t, "last resort", resp.Content)

	// 2 credentials x 2 models x 2 = 8 primary attempts, then exactly
	// one escape-hatch call.
	assert.Len(t, primary.calls, 8)
	require.Len(t, escape.calls, 1)
	assert.Equal(t, "escape-key", escape.calls[0].Credential)
	assert.Equal(t, "escape-model", escape.calls[0].Model)
}

func TestExecute_EscapeHatchFailureIsTerminal(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: alwaysFail(providers.ErrKindTransient)}
	escape := &scriptedProvider{name: "escape", fn: alwaysFail(providers.ErrKindTransient)}
	o := newTestOrchestrator(primary, escape)

	_, err := o.Execute(context.Background(), unit("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllBackendsExhausted)
	assert.Len(t, escape.calls, 1)
}

func TestExecute_NoEscapeHatchIsTerminalAfterBudget(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: alwaysFail(providers.ErrKindQuota)}
	o := newTestOrchestrator(primary, nil)

	_, err := o.Execute(context.Background(), unit("hi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllBackendsExhausted)
	assert.LessOrEqual(t, len(primary.calls), 8)
}

func TestExecute_QuotaRotatesModelImmediately(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: func(call int, _, _ string) (*providers.Response, error) {
		if call == 0 {
			return nil, &providers.CallError{Provider: "fake", Kind: providers.ErrKindQuota, Message: "insufficient balance"}
		}
		return &providers.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(primary, nil)

	var slept []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := o.Execute(context.Background(), unit("hi"))
	require.NoError(t, err)
	require.Len(t, primary.calls, 2)
	assert.Equal(t, "model-b", primary.calls[1].Model)
	// Credential index is reset with the model, and no backoff applies
	// to configuration failures.
	assert.Equal(t, "k1", primary.calls[1].Credential)
	assert.Empty(t, slept)
}

func TestExecute_TransientRotatesCredentialWithBackoff(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: func(call int, _, _ string) (*providers.Response, error) {
		if call == 0 {
			return nil, &providers.CallError{Provider: "fake", Kind: providers.ErrKindTransient, Message: "connection reset"}
		}
		return &providers.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(primary, nil)

	var slept []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := o.Execute(context.Background(), unit("hi"))
	require.NoError(t, err)
	require.Len(t, primary.calls, 2)
	assert.Equal(t, "model-a", primary.calls[1].Model)
	assert.Equal(t, "k2", primary.calls[1].Credential)
	assert.Equal(t, []time.Duration{time.Second}, slept)
}

func TestExecute_TierPreferencePicksStartingModel(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: func(int, string, string) (*providers.Response, error) {
		return &providers.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(primary, nil)

	u := unit("hi")
	u.Tier = "low"
	_, err := o.Execute(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, primary.calls, 1)
	assert.Equal(t, "model-b", primary.calls[0].Model)
}

func TestExecute_QuotaOnTierSelectedModelRotatesAway(t *testing.T) {
	primary := &scriptedProvider{name: "fake", fn: func(call int, _, model string) (*providers.Response, error) {
		if model == "model-b" {
			return nil, &providers.CallError{Provider: "fake", Kind: providers.ErrKindQuota, Message: "insufficient balance"}
		}
		return &providers.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(primary, nil)

	u := unit("hi")
	u.Tier = "low"
	_, err := o.Execute(context.Background(), u)
	require.NoError(t, err)

	// The quota failure on the tier-selected model must never retry that
	// model; the rotation advances relative to it.
	require.Len(t, primary.calls, 2)
	assert.Equal(t, "model-b", primary.calls[0].Model)
	assert.Equal(t, "model-a", primary.calls[1].Model)
}

func TestExecute_ReducedPromptForEscapeHatch(t *testing.T) {
	messages := []providers.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
		{Role: "user", Content: "current question"},
	}
	reduced := reducePrompt(messages)
	require.Len(t, reduced, 2)
	assert.Equal(t, "persona", reduced[0].Content)
	assert.Equal(t, "current question", reduced[1].Content)
}
