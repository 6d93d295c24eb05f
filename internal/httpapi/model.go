package httpapi

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flmrun/flm/internal/catalog"
	"github.com/flmrun/flm/internal/family"
	"github.com/flmrun/flm/internal/modelcfg"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/sampler"
	"github.com/flmrun/flm/internal/tokenizer"
)

// loadedModel is the single model the runtime currently holds in
// device memory. Multi-model concurrency is out of scope: loading a
// new tag evicts whatever was loaded before.
type loadedModel struct {
	Tag      catalog.Tag
	Entry    catalog.ModelEntry
	Config   *modelcfg.Config
	Family   family.Family
	LoadedAt time.Time
}

// modelManager owns catalog lookups and the single active model,
// serializing load/unload against concurrent route handlers.
type modelManager struct {
	cat       *catalog.Catalog
	modelRoot string
	device    npu.Device
	ctxMgr    *npu.HardwareContextManager

	mu      sync.RWMutex
	current *loadedModel
}

func newModelManager(cat *catalog.Catalog, modelRoot string, device npu.Device, ctxMgr *npu.HardwareContextManager) *modelManager {
	return &modelManager{cat: cat, modelRoot: modelRoot, device: device, ctxMgr: ctxMgr}
}

// tokenizerConfig mirrors the handful of tokenizer_config.json fields
// this runtime actually reads; vocabulary-file parsing and BPE/
// SentencePiece internals are a tokenizer-package concern this layer
// never touches directly.
type tokenizerConfig struct {
	EncodingName string `json:"encoding_name"`
}

func loadTokenizer(modelDir string, cfg *modelcfg.Config) (tokenizer.Tokenizer, error) {
	encodingName := "cl100k_base"
	data, err := os.ReadFile(filepath.Join(modelDir, "tokenizer_config.json"))
	if err == nil {
		var tc tokenizerConfig
		if err := json.Unmarshal(data, &tc); err == nil && tc.EncodingName != "" {
			encodingName = tc.EncodingName
		}
	}
	return tokenizer.NewTiktokenAdapter(encodingName, cfg.VocabSize)
}

// Load resolves tag against the catalog, requires it to be installed,
// and replaces whatever model is currently active.
func (m *modelManager) Load(tag string) (*loadedModel, error) {
	resolved, entry, cfg, fam, err := LoadFamily(m.cat, m.modelRoot, tag, m.device, m.ctxMgr)
	if err != nil {
		return nil, err
	}

	lm := &loadedModel{Tag: resolved, Entry: entry, Config: cfg, Family: fam, LoadedAt: time.Now()}

	m.mu.Lock()
	m.current = lm
	m.mu.Unlock()
	return lm, nil
}

// LoadFamily resolves tag against cat, validates it is installed and
// version-compatible, and builds the family.Family it names. It is the
// shared model-loading path behind modelManager.Load, also used
// directly by the CLI's run and bench subcommands, which need a loaded
// family without a Server around it.
func LoadFamily(cat *catalog.Catalog, modelRoot, tag string, device npu.Device, ctxMgr *npu.HardwareContextManager) (catalog.Tag, catalog.ModelEntry, *modelcfg.Config, family.Family, error) {
	resolved, entry, err := cat.Resolve(tag)
	if err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}
	if !catalog.IsInstalled(modelRoot, resolved) {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, fmt.Errorf("model %s is not installed; run pull first", resolved)
	}
	if err := catalog.CheckMinVersion(entry.FLMMinVersion); err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}

	dir := catalog.ModelDir(modelRoot, resolved)
	cfg, err := modelcfg.Load(filepath.Join(dir, "config.json"))
	if err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}
	if err := cfg.CheckCompatible(); err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}

	tok, err := loadTokenizer(dir, cfg)
	if err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}

	deps := family.Deps{
		Config:    cfg,
		Device:    device,
		CtxMgr:    ctxMgr,
		Tokenizer: tok,
		Sampler:   sampler.New(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}
	fam, err := family.New(deps)
	if err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}

	weightPath := filepath.Join(dir, "weights.flmw")
	if err := fam.LoadModel(weightPath); err != nil {
		return catalog.Tag{}, catalog.ModelEntry{}, nil, nil, err
	}

	return resolved, entry, cfg, fam, nil
}

// Current returns the active model, or nil if none is loaded.
func (m *modelManager) Current() *loadedModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// EnsureLoaded loads tag if it isn't already the active model.
func (m *modelManager) EnsureLoaded(tag string) (*loadedModel, error) {
	resolved, _, err := m.cat.Resolve(tag)
	if err != nil {
		return nil, err
	}
	if lm := m.Current(); lm != nil && lm.Tag == resolved {
		return lm, nil
	}
	return m.Load(tag)
}
