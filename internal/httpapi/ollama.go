package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flmrun/flm/internal/catalog"
	"github.com/flmrun/flm/internal/flmerr"
	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/sampler"
)

// ollamaOptions mirrors the handful of generation knobs Ollama's
// /api/generate and /api/chat accept under "options".
type ollamaOptions struct {
	Temperature   *float64 `json:"temperature"`
	TopP          *float64 `json:"top_p"`
	TopK          *int     `json:"top_k"`
	RepeatPenalty *float64 `json:"repeat_penalty"`
	NumPredict    *int     `json:"num_predict"`
}

func (o ollamaOptions) toParams() (sampler.Params, int) {
	var p sampler.Params
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.TopK != nil {
		p.TopK = *o.TopK
	}
	if o.RepeatPenalty != nil {
		p.RepPenalty = *o.RepeatPenalty
	}
	maxTokens := 0
	if o.NumPredict != nil {
		maxTokens = *o.NumPredict
	}
	return p, maxTokens
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  *bool          `json:"stream"`
	Options *ollamaOptions `json:"options"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaChatTurn `json:"messages"`
	Stream   *bool            `json:"stream"`
	Options  *ollamaOptions   `json:"options"`
}

type ollamaChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func wantsStream(stream *bool) bool {
	return stream == nil || *stream
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if !bindJSON(c, &req) {
		return
	}
	s.runChat(c, req.Model, []generate.Message{{Role: "user", Content: req.Prompt}}, req.Options, wantsStream(req.Stream))
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if !bindJSON(c, &req) {
		return
	}
	msgs := make([]generate.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = generate.Message{Role: m.Role, Content: m.Content}
	}
	s.runChat(c, req.Model, msgs, req.Options, wantsStream(req.Stream))
}

// runChat is shared by /api/generate and /api/chat: both load the
// requested model, run one generation turn under accelerator
// exclusivity, and stream ndjson lines back if the caller asked for
// streaming.
func (s *Server) runChat(c *gin.Context, modelTag string, msgs []generate.Message, opts *ollamaOptions, stream bool) {
	lm, err := s.models.EnsureLoaded(modelTag)
	if err != nil {
		writeError(c, err)
		return
	}

	params := sampler.Params{}
	maxTokens := 0
	if opts != nil {
		params, maxTokens = opts.toParams()
	}

	reqID := newRequestID()
	token := s.state.NewToken(reqID)
	defer s.state.ReleaseToken(reqID)

	w := newNDJSONWriter(c)
	var lastMeta *generate.Meta
	var genErr error

	err = s.runExclusive(func() {
		cfg := generate.Config{MaxTokens: maxTokens, Params: params, Cancel: token}
		lastMeta, genErr = lm.Family.Generate(msgs, cfg, func(chunk generate.Chunk) {
			if !stream {
				return
			}
			w.Write(gin.H{
				"model":    lm.Tag.String(),
				"message":  gin.H{"role": "assistant", "content": chunk.Text},
				"thinking": chunk.Part == generate.PartReasoning,
				"done":     false,
			})
		})
	})
	if err != nil {
		writeBusy(c, err)
		return
	}
	if genErr != nil {
		writeError(c, genErr)
		return
	}

	final := gin.H{
		"model":                lm.Tag.String(),
		"done":                 true,
		"done_reason":          lastMeta.StopReason.String(),
		"prompt_eval_count":    lastMeta.PromptTokens,
		"eval_count":           lastMeta.GeneratedTokens,
		"total_duration":       lastMeta.TotalNs,
		"prompt_eval_duration": lastMeta.PrefillNs,
		"eval_duration":        lastMeta.DecodeNs,
	}
	if stream {
		w.Write(final)
		return
	}
	c.JSON(http.StatusOK, final)
}

type embeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"prompt"`
}

func (s *Server) handleEmbeddings(c *gin.Context) {
	var req embeddingsRequest
	if !bindJSON(c, &req) {
		return
	}
	lm, err := s.models.EnsureLoaded(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}
	embedder, ok := lm.Family.(interface{ Embed(string) ([]float32, error) })
	if !ok {
		writeError(c, flmerr.New(flmerr.InvalidRequest, fmt.Sprintf("model %s does not support embeddings", lm.Tag)))
		return
	}

	var vec []float32
	var embedErr error
	err = s.runExclusive(func() {
		vec, embedErr = embedder.Embed(req.Input)
	})
	if err != nil {
		writeBusy(c, err)
		return
	}
	if embedErr != nil {
		writeError(c, embedErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"embedding": vec})
}

// tagsFilter reads the ?filter= query param /api/tags accepts
// ("all" | "installed" | "not-installed"), defaulting to all.
func tagsFilter(c *gin.Context) catalog.Filter {
	switch c.Query("filter") {
	case "installed":
		return catalog.FilterInstalled
	case "not-installed":
		return catalog.FilterNotInstalled
	default:
		return catalog.FilterAll
	}
}

func (s *Server) handleTags(c *gin.Context) {
	listings := s.catalog.List(s.models.modelRoot, tagsFilter(c))
	models := make([]gin.H, 0, len(listings))
	for _, l := range listings {
		models = append(models, gin.H{
			"name":    l.Tag.String(),
			"details": l.Entry.Details,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handlePS(c *gin.Context) {
	lm := s.models.Current()
	if lm == nil {
		c.JSON(http.StatusOK, gin.H{"models": []gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": []gin.H{{
		"name":       lm.Tag.String(),
		"model_type": lm.Config.ModelType,
	}}})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": catalog.RuntimeVersion})
}

type showRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleShow(c *gin.Context) {
	var req showRequest
	if !bindJSON(c, &req) {
		return
	}
	_, entry, err := s.catalog.Resolve(req.Model)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":            entry.Name,
		"details":         entry.Details,
		"flm_min_version": entry.FLMMinVersion,
	})
}

type cancelRequest struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleCancel(c *gin.Context) {
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}
	found := s.state.Cancel(req.RequestID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no in-flight request with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
