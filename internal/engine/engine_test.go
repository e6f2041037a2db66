package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{APIKey: "sk-test", Model: "gpt-4o-mini"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, float64(30000), cfg.NavTimeout)

	cfg = Config{APIKey: "sk-test", Model: "made-up-model"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultModel, cfg.Model)

	cfg = Config{Model: "gpt-4o"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInit)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"op":"none"}`, stripFence(`{"op":"none"}`))
	assert.Equal(t, `{"op":"none"}`, stripFence("```json\n{\"op\":\"none\"}\n```"))
	assert.Equal(t, `{"op":"none"}`, stripFence("```\n{\"op\":\"none\"}\n```"))
	assert.Equal(t, `{"op":"none"}`, stripFence("  {\"op\":\"none\"}  "))
}

func TestCompileSchema(t *testing.T) {
	compiled, err := compileSchema(defaultExtractSchema)
	require.NoError(t, err)

	require.NoError(t, compiled.Validate(map[string]any{"data": "hello"}))
	assert.Error(t, compiled.Validate(map[string]any{"data": 42}))

	_, err = compileSchema(map[string]any{"type": "not-a-type"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadInput)
}
