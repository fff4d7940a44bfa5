package provider

import (
	"context"

	"github.com/google/uuid"
)

// CredentialStore resolves per-user provider credentials. Decryption at rest
// is the store implementation's concern.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID uuid.UUID, key string) (string, error)
}

// Profile describes a user's provider preference.
type Profile struct {
	UserID        uuid.UUID
	Preferred     Name
	AllowFallback bool // when set, selection falls back to the default provider
}

// Selection is a resolved provider choice with a validated credential.
type Selection struct {
	Strategy *Strategy
	APIKey   string
}

// Registry is an immutable lookup table of provider strategies. It is built
// eagerly at process startup and injected into the workflow engine; there is
// no module-level registry.
type Registry struct {
	strategies map[Name]*Strategy
}

// NewRegistry constructs strategies for every supported provider.
func NewRegistry() *Registry {
	strategies := make(map[Name]*Strategy, len(AllNames()))
	for _, name := range AllNames() {
		switch name {
		case Gemini:
			strategies[name] = geminiStrategy()
		case OpenAI:
			strategies[name] = openAIStrategy()
		case Anthropic:
			strategies[name] = anthropicStrategy()
		}
	}
	return &Registry{strategies: strategies}
}

// Get returns the strategy for a provider.
func (r *Registry) Get(name Name) (*Strategy, error) {
	strategy, ok := r.strategies[name]
	if !ok {
		return nil, &SelectionError{Provider: name, Reason: "not registered"}
	}
	return strategy, nil
}

// Select resolves a user's preferred provider into a usable Selection: it
// looks up the credential and checks its format. If the preferred provider
// has no usable credential, exactly one substitution to the default provider
// is attempted when the profile allows fallback; the original failure is
// reported otherwise.
func (r *Registry) Select(ctx context.Context, store CredentialStore, profile Profile) (*Selection, error) {
	preferred := profile.Preferred
	if preferred == "" {
		preferred = Default
	}

	selection, err := r.resolve(ctx, store, profile.UserID, preferred)
	if err == nil {
		return selection, nil
	}

	if profile.AllowFallback && preferred != Default {
		if fallback, fbErr := r.resolve(ctx, store, profile.UserID, Default); fbErr == nil {
			return fallback, nil
		}
	}

	return nil, err
}

func (r *Registry) resolve(ctx context.Context, store CredentialStore, userID uuid.UUID, name Name) (*Selection, error) {
	strategy, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	apiKey, err := store.GetCredential(ctx, userID, strategy.CredentialKey())
	if err != nil {
		return nil, &SelectionError{Provider: name, Reason: "credential lookup failed", Cause: err}
	}
	if apiKey == "" {
		return nil, &SelectionError{Provider: name, Reason: "no credential configured"}
	}
	if err := strategy.ValidateCredential(apiKey); err != nil {
		return nil, &SelectionError{Provider: name, Reason: "invalid credential", Cause: err}
	}

	return &Selection{Strategy: strategy, APIKey: apiKey}, nil
}
