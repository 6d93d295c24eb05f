// Package family implements dynamic dispatch over supported model
// families as a tagged variant instead of a class hierarchy: each
// family owns its modelcfg.Config, its weight archive, its KV cache,
// and the device command sequences that drive its forward pass, behind
// one shared capability interface.
package family

import (
	"fmt"

	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/modelcfg"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/sampler"
	"github.com/flmrun/flm/internal/tokenizer"
)

// Family is the shared capability set every model variant implements:
// load a weight archive, prime the KV cache without generating, run a
// full chat turn, clear context, report conversation history, and
// adjust one sampling parameter at a time.
type Family interface {
	LoadModel(archivePath string) error
	Insert(tokens []int) error
	Generate(messages []generate.Message, cfg generate.Config, emit func(generate.Chunk)) (*generate.Meta, error)
	ClearContext()
	GetHistory() []generate.Message
	ConfigureParameter(name string, value float64) error
}

// Embedder is additionally implemented by families that produce a
// pooled embedding vector rather than streamed text.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Deps bundles the process-wide collaborators every family variant is
// built from; the caller constructs these once and passes the same
// set to every family it builds.
type Deps struct {
	Config    *modelcfg.Config
	Device    npu.Device
	CtxMgr    *npu.HardwareContextManager
	Tokenizer tokenizer.Tokenizer
	Sampler   *sampler.Sampler
}

// New builds the family variant matching cfg.ModelType.
func New(deps Deps) (Family, error) {
	switch deps.Config.ModelType {
	case "causal-lm", "harmony":
		return newCausalLM(deps)
	case "encoder":
		return newEncoder(deps)
	default:
		return nil, fmt.Errorf("family: unsupported model_type %q", deps.Config.ModelType)
	}
}
