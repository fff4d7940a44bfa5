package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONBlock_JSONFence(t *testing.T) {
	input := "```json\n{\"score\": 85}\n```"
	assert.Equal(t, `{"score": 85}`, CleanJSONBlock(input))
}

func TestCleanJSONBlock_GenericFence(t *testing.T) {
	input := "```\n{\"score\": 85}\n```"
	assert.Equal(t, `{"score": 85}`, CleanJSONBlock(input))
}

func TestCleanJSONBlock_FenceWithLanguageIdentifier(t *testing.T) {
	input := "```javascript\n{\"score\": 85}\n```"
	assert.Equal(t, `{"score": 85}`, CleanJSONBlock(input))
}

func TestCleanJSONBlock_BareJSON(t *testing.T) {
	input := `  {"score": 85}  `
	assert.Equal(t, `{"score": 85}`, CleanJSONBlock(input))
}

func TestCleanJSONBlock_TrailingProse(t *testing.T) {
	// The closing fence cuts off anything the model appended after it.
	input := "```json\n{\"ok\": true}\n```\nLet me know if you need anything else!"
	assert.Equal(t, `{"ok": true}`, CleanJSONBlock(input))
}

func TestDecodeJSON_Fenced(t *testing.T) {
	var out struct {
		Score int `json:"score"`
	}
	err := DecodeJSON("```json\n{\"score\": 72}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, 72, out.Score)
}

func TestDecodeJSON_NotJSON(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("I'm sorry, I can't help with that.", &out)
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestDecodeJSON_Empty(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("```json\n```", &out)
	require.Error(t, err)
}
