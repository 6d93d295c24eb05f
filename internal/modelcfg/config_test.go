package modelcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"model_type": "causal-lm",
		"vocab_size": 32000,
		"hidden_size": 2048,
		"intermediate_size": 5632,
		"num_attention_heads": 16,
		"num_hidden_layers": 20,
		"num_key_value_heads": 4,
		"head_dim": 128,
		"rms_norm_eps": 1e-5,
		"rope_theta": 10000,
		"flm_version": 2,
		"sliding_window": 4096,
		"sliding_window_pattern": 5
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "causal-lm", cfg.ModelType)
	require.Equal(t, 20, cfg.NumHiddenLayers)
	require.NoError(t, cfg.CheckCompatible())
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `{"model_type": "causal-lm"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestCheckCompatibleRejectsOutOfRange(t *testing.T) {
	cfg := &Config{FLMVersion: MaxSupportedFLMVersion + 1}
	require.Error(t, cfg.CheckCompatible())
}

func TestIsSlidingPatternEveryFifthFull(t *testing.T) {
	cfg := &Config{NumHiddenLayers: 10, SlidingWindowPattern: 5}
	pattern := cfg.IsSlidingPattern()
	require.Len(t, pattern, 10)
	require.False(t, pattern[4])  // layer 5 (index 4) is full
	require.False(t, pattern[9])  // layer 10 (index 9) is full
	require.True(t, pattern[0])
	require.True(t, pattern[5])
}

func TestIsSlidingPatternZeroMeansNoneSliding(t *testing.T) {
	cfg := &Config{NumHiddenLayers: 4, SlidingWindowPattern: 0}
	pattern := cfg.IsSlidingPattern()
	for _, b := range pattern {
		require.False(t, b)
	}
}
