// Package modelcfg reads a model directory's config.json: the
// architecture parameters the weight codec, KV cache, and generation
// loop all size themselves from.
package modelcfg

import (
	"encoding/json"
	"fmt"
	"os"
)

// VisionTower carries the optional vision-encoder parameters a
// multimodal model's config.json may include.
type VisionTower struct {
	PatchSize    int `json:"patch_size"`
	ImageSize    int `json:"image_size"`
	HiddenSize   int `json:"hidden_size"`
	NumLayers    int `json:"num_layers"`
}

// Config mirrors a model's config.json. Required fields per spec.md;
// SlidingWindow/SlidingWindowPattern/Vision are optional.
type Config struct {
	ModelType           string       `json:"model_type"`
	VocabSize           int          `json:"vocab_size"`
	HiddenSize          int          `json:"hidden_size"`
	IntermediateSize    int          `json:"intermediate_size"`
	NumAttentionHeads   int          `json:"num_attention_heads"`
	NumHiddenLayers     int          `json:"num_hidden_layers"`
	NumKeyValueHeads    int          `json:"num_key_value_heads"`
	HeadDim             int          `json:"head_dim"`
	RMSNormEps          float64      `json:"rms_norm_eps"`
	RopeTheta           float64      `json:"rope_theta"`
	FLMVersion          int          `json:"flm_version"`
	SlidingWindow       int          `json:"sliding_window,omitempty"`
	SlidingWindowPattern int         `json:"sliding_window_pattern,omitempty"` // every Nth layer is full attention; 0 means none
	Vision              *VisionTower `json:"vision,omitempty"`
}

var requiredFields = []string{
	"model_type", "vocab_size", "hidden_size", "intermediate_size",
	"num_attention_heads", "num_hidden_layers", "num_key_value_heads",
	"head_dim", "rms_norm_eps", "rope_theta", "flm_version",
}

// Load reads and validates a model directory's config.json.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelcfg: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("modelcfg: parse %s: %w", path, err)
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("modelcfg: %s missing required field %q", path, field)
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("modelcfg: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// IsSlidingPattern expands SlidingWindowPattern into a per-layer
// is_sliding flag list: every SlidingWindowPattern-th layer (1-indexed)
// is full attention, the rest are sliding. A pattern of zero means no
// layer is sliding.
func (c *Config) IsSlidingPattern() []bool {
	out := make([]bool, c.NumHiddenLayers)
	if c.SlidingWindowPattern <= 0 {
		return out
	}
	for i := range out {
		layerNum := i + 1
		out[i] = layerNum%c.SlidingWindowPattern != 0
	}
	return out
}

// MinSupportedFLMVersion and MaxSupportedFLMVersion bound the flm_version
// range this build will load; CheckCompatible enforces it.
const (
	MinSupportedFLMVersion = 1
	MaxSupportedFLMVersion = 3
)

// CheckCompatible reports whether this build can run a model with the
// given flm_version.
func (c *Config) CheckCompatible() error {
	if c.FLMVersion < MinSupportedFLMVersion || c.FLMVersion > MaxSupportedFLMVersion {
		return fmt.Errorf("model flm_version %d outside supported range [%d, %d]",
			c.FLMVersion, MinSupportedFLMVersion, MaxSupportedFLMVersion)
	}
	return nil
}
