package providers

import (
	"sync"

	"github.com/huskbot/husk/pkg/config"
)

// CredentialPool hands out credentials for one backend in a fixed cyclic
// order. Rotation wraps; a pool is never empty once constructed.
type CredentialPool struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

func NewCredentialPool(keys []string) *CredentialPool {
	return &CredentialPool{keys: keys}
}

func (p *CredentialPool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Current returns the active credential without advancing.
func (p *CredentialPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[p.idx]
}

// Rotate advances to the next credential and returns it.
func (p *CredentialPool) Rotate() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	p.idx = (p.idx + 1) % len(p.keys)
	return p.keys[p.idx]
}

// Reset moves the pool back to its first credential.
func (p *CredentialPool) Reset() {
	p.mu.Lock()
	p.idx = 0
	p.mu.Unlock()
}

// Model is one rotation entry: a named model bound to its backend and
// generation parameters.
type Model struct {
	Name     string
	Provider string
	Tier     string
	Params   GenerationParams
}

// ModelRegistry tracks the rotation position over the configured model
// list and the credential pool of each backend.
type ModelRegistry struct {
	mu     sync.Mutex
	models []Model
	idx    int
	pools  map[string]*CredentialPool
}

func NewModelRegistry(models []config.ModelConfig, pools map[string]*CredentialPool) *ModelRegistry {
	entries := make([]Model, 0, len(models))
	for _, m := range models {
		entries = append(entries, Model{
			Name:     m.Name,
			Provider: m.Provider,
			Tier:     m.Tier,
			Params: GenerationParams{
				MaxTokens:   m.MaxTokens,
				Temperature: m.Temperature,
				TopP:        m.TopP,
				TopK:        m.TopK,
			},
		})
	}
	return &ModelRegistry{models: entries, pools: pools}
}

func (r *ModelRegistry) Len() int {
	return len(r.models)
}

// Models returns a copy of the rotation order.
func (r *ModelRegistry) Models() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Current returns the active rotation model.
func (r *ModelRegistry) Current() Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[r.idx]
}

// RotateModel advances to the next model and resets the new backend's
// credential pool so every credential gets a chance against it.
func (r *ModelRegistry) RotateModel() Model {
	r.mu.Lock()
	r.idx = (r.idx + 1) % len(r.models)
	m := r.models[r.idx]
	r.mu.Unlock()

	if pool := r.pools[m.Provider]; pool != nil {
		pool.Reset()
	}
	return m
}

// Pool returns the credential pool for the given backend, or nil.
func (r *ModelRegistry) Pool(provider string) *CredentialPool {
	return r.pools[provider]
}

// CredentialCount is the size of the active model's credential pool,
// never less than 1 so attempt budgets stay positive.
func (r *ModelRegistry) CredentialCount() int {
	n := r.Pool(r.Current().Provider).Size()
	if n < 1 {
		return 1
	}
	return n
}

// SelectForTier moves the rotation to the first model of the requested
// tier, falling back to the first configured model when no entry
// matches. Syncing the index means a later RotateModel advances past
// the selected model, never back onto it.
func (r *ModelRegistry) SelectForTier(tier string) Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.models {
		if m.Tier == tier {
			r.idx = i
			return m
		}
	}
	r.idx = 0
	return r.models[0]
}
