package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchDelay_KnownValue(t *testing.T) {
	// 15 rpm with width 1: ceil(60000/15*1.1) = 4400ms.
	delay := BatchDelay(15, 1)
	assert.Equal(t, 4400*time.Millisecond, delay)

	// Fractional spacing rounds up, never down.
	assert.Equal(t, 4889*time.Millisecond, BatchDelay(27, 2))
}

func TestBatchDelay_MonotonicInWidth(t *testing.T) {
	prev := time.Duration(0)
	for width := 1; width <= 10; width++ {
		delay := BatchDelay(30, width)
		assert.GreaterOrEqual(t, delay, prev, "width %d", width)
		prev = delay
	}
}

func TestBatchDelay_NonIncreasingInRPM(t *testing.T) {
	prev := BatchDelay(1, 5)
	for rpm := 2; rpm <= 100; rpm++ {
		delay := BatchDelay(rpm, 5)
		assert.LessOrEqual(t, delay, prev, "rpm %d", rpm)
		prev = delay
	}
}

func TestBatchDelay_NonNegative(t *testing.T) {
	assert.Equal(t, time.Duration(0), BatchDelay(0, 5))
	assert.Equal(t, time.Duration(0), BatchDelay(15, 0))
	assert.Equal(t, time.Duration(0), BatchDelay(-1, -1))
}

func TestParseName(t *testing.T) {
	tests := []struct {
		input   string
		want    Name
		wantErr bool
	}{
		{"gemini", Gemini, false},
		{"openai", OpenAI, false},
		{"anthropic", Anthropic, false},
		{"", "", true},
		{"llama", "", true},
	}

	for _, tt := range tests {
		got, err := ParseName(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
		} else {
			assert.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestStrategy_ValidateCredential(t *testing.T) {
	registry := NewRegistry()

	tests := []struct {
		provider Name
		key      string
		valid    bool
	}{
		{Gemini, "AIzaSyTest123", true},
		{Gemini, "sk-wrong", false},
		{OpenAI, "sk-test123", true},
		{OpenAI, "AIzaWrong", false},
		{Anthropic, "sk-ant-test123", true},
		{Anthropic, "sk-test123", false},
		{Gemini, "", false},
		{Gemini, "   ", false},
	}

	for _, tt := range tests {
		strategy, err := registry.Get(tt.provider)
		assert.NoError(t, err)

		err = strategy.ValidateCredential(tt.key)
		if tt.valid {
			assert.NoError(t, err, "%s / %q", tt.provider, tt.key)
		} else {
			assert.Error(t, err, "%s / %q", tt.provider, tt.key)
		}
	}
}

func TestStrategy_Metadata(t *testing.T) {
	registry := NewRegistry()

	for _, name := range AllNames() {
		strategy, err := registry.Get(name)
		assert.NoError(t, err)
		assert.Equal(t, name, strategy.Name())
		assert.NotEmpty(t, strategy.CredentialKey())
		assert.Greater(t, strategy.Capabilities().RequestsPerMinute, 0)
		assert.Greater(t, strategy.Capabilities().MaxTokens, 0)
		assert.Greater(t, strategy.RateLimitDelay(), time.Duration(0))
	}
}
