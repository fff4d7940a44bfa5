package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredentialStore struct {
	credentials map[string]string
	err         error
}

func (s *fakeCredentialStore) GetCredential(_ context.Context, _ uuid.UUID, key string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.credentials[key], nil
}

func TestRegistry_Select_Preferred(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{
		"openai_api_key": "sk-test123",
	}}

	selection, err := registry.Select(context.Background(), store, Profile{
		UserID:    uuid.New(),
		Preferred: OpenAI,
	})
	require.NoError(t, err)
	assert.Equal(t, OpenAI, selection.Strategy.Name())
	assert.Equal(t, "sk-test123", selection.APIKey)
}

func TestRegistry_Select_MissingCredential(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{}}

	_, err := registry.Select(context.Background(), store, Profile{
		UserID:    uuid.New(),
		Preferred: Anthropic,
	})
	require.Error(t, err)

	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, Anthropic, selErr.Provider)
	assert.Contains(t, selErr.Reason, "no credential")
}

func TestRegistry_Select_InvalidCredentialFormat(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{
		"gemini_api_key": "not-a-gemini-key",
	}}

	_, err := registry.Select(context.Background(), store, Profile{
		UserID:    uuid.New(),
		Preferred: Gemini,
	})
	require.Error(t, err)

	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, Gemini, selErr.Provider)
}

func TestRegistry_Select_FallbackToDefault(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{
		// No anthropic credential, but the default provider is configured.
		"gemini_api_key": "AIzaSyTest123",
	}}

	selection, err := registry.Select(context.Background(), store, Profile{
		UserID:        uuid.New(),
		Preferred:     Anthropic,
		AllowFallback: true,
	})
	require.NoError(t, err)
	assert.Equal(t, Gemini, selection.Strategy.Name())
}

func TestRegistry_Select_FallbackDisabled(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{
		"gemini_api_key": "AIzaSyTest123",
	}}

	_, err := registry.Select(context.Background(), store, Profile{
		UserID:    uuid.New(),
		Preferred: Anthropic,
	})
	assert.Error(t, err)
}

func TestRegistry_Select_EmptyPreferenceUsesDefault(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{credentials: map[string]string{
		"gemini_api_key": "AIzaSyTest123",
	}}

	selection, err := registry.Select(context.Background(), store, Profile{UserID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, Default, selection.Strategy.Name())
}

func TestRegistry_Select_StoreError(t *testing.T) {
	registry := NewRegistry()
	store := &fakeCredentialStore{err: errors.New("connection refused")}

	_, err := registry.Select(context.Background(), store, Profile{
		UserID:    uuid.New(),
		Preferred: OpenAI,
	})
	require.Error(t, err)

	var selErr *SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.ErrorContains(t, selErr.Cause, "connection refused")
}

func TestStrategy_ListModels_NoCredential(t *testing.T) {
	registry := NewRegistry()
	strategy, err := registry.Get(OpenAI)
	require.NoError(t, err)

	models, err := strategy.ListModels(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, models)
}
