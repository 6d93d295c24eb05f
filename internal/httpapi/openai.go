package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/flmrun/flm/internal/generate"
	"github.com/flmrun/flm/internal/sampler"
)

func (s *Server) handleOpenAIModels(c *gin.Context) {
	listings := s.catalog.List(s.models.modelRoot, tagsFilter(c))
	data := make([]gin.H, 0, len(listings))
	for _, l := range listings {
		data = append(data, gin.H{
			"id":       l.Tag.String(),
			"object":   "model",
			"owned_by": l.Entry.Details.Family,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"top_p"`
}

func (r openAIChatRequest) params() sampler.Params {
	var p sampler.Params
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		p.TopP = *r.TopP
	}
	return p
}

func (s *Server) handleOpenAIChatCompletions(c *gin.Context) {
	var req openAIChatRequest
	if !bindJSON(c, &req) {
		return
	}
	msgs := make([]generate.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = generate.Message{Role: m.Role, Content: m.Content}
	}
	s.runOpenAIChat(c, req.Model, msgs, req.params(), req.MaxTokens, req.Stream)
}

type openAICompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
}

func (s *Server) handleOpenAICompletions(c *gin.Context) {
	var req openAICompletionRequest
	if !bindJSON(c, &req) {
		return
	}
	var params sampler.Params
	if req.Temperature != nil {
		params.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		params.TopP = *req.TopP
	}
	s.runOpenAIChat(c, req.Model, []generate.Message{{Role: "user", Content: req.Prompt}}, params, req.MaxTokens, req.Stream)
}

// runOpenAIChat mirrors runChat's admission-control and generation
// flow but renders OpenAI's chat-completion-chunk shape, streamed over
// SSE rather than ndjson.
func (s *Server) runOpenAIChat(c *gin.Context, modelTag string, msgs []generate.Message, params sampler.Params, maxTokens int, stream bool) {
	lm, err := s.models.EnsureLoaded(modelTag)
	if err != nil {
		writeError(c, err)
		return
	}

	reqID := newRequestID()
	token := s.state.NewToken(reqID)
	defer s.state.ReleaseToken(reqID)

	created := time.Now().Unix()
	w := newSSEWriter(c)
	var lastMeta *generate.Meta
	var genErr error
	var full string

	err = s.runExclusive(func() {
		cfg := generate.Config{MaxTokens: maxTokens, Params: params, Cancel: token}
		lastMeta, genErr = lm.Family.Generate(msgs, cfg, func(chunk generate.Chunk) {
			full += chunk.Text
			if !stream {
				return
			}
			w.Write(gin.H{
				"id":      reqID,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   lm.Tag.String(),
				"choices": []gin.H{{
					"index": 0,
					"delta": gin.H{"content": chunk.Text},
				}},
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

	usage := gin.H{
		"prompt_tokens":     lastMeta.PromptTokens,
		"completion_tokens": lastMeta.GeneratedTokens,
		"total_tokens":      lastMeta.PromptTokens + lastMeta.GeneratedTokens,
	}
	if stream {
		w.Write(gin.H{
			"id":      reqID,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   lm.Tag.String(),
			"choices": []gin.H{{"index": 0, "delta": gin.H{}, "finish_reason": openAIFinishReason(lastMeta)}},
			"usage":   usage,
		})
		w.Done()
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      reqID,
		"object":  "chat.completion",
		"created": created,
		"model":   lm.Tag.String(),
		"choices": []gin.H{{
			"index":         0,
			"message":       gin.H{"role": "assistant", "content": full},
			"finish_reason": openAIFinishReason(lastMeta),
		}},
		"usage": usage,
	})
}

func openAIFinishReason(meta *generate.Meta) string {
	switch meta.StopReason {
	case generate.StopLengthLimit, generate.StopMaxContextReached:
		return "length"
	case generate.StopCancelled:
		return "stop"
	default:
		return "stop"
	}
}

type openAIEmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func (s *Server) handleOpenAIEmbeddings(c *gin.Context) {
	var req openAIEmbeddingsRequest
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

	data := make([]gin.H, len(req.Input))
	var embedErr error
	err = s.runExclusive(func() {
		for i, text := range req.Input {
			vec, err := embedder.Embed(text)
			if err != nil {
				embedErr = err
				return
			}
			data[i] = gin.H{"object": "embedding", "index": i, "embedding": vec}
		}
	})
	if err != nil {
		writeBusy(c, err)
		return
	}
	if embedErr != nil {
		writeError(c, embedErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data, "model": lm.Tag.String()})
}

// handleOpenAITranscriptions accepts the multipart request shape but
// declines the actual transcription: PCM extraction and mel-spectrogram
// preprocessing are a separate audio front-end this runtime doesn't
// implement.
func (s *Server) handleOpenAITranscriptions(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": "audio transcription is not supported by this build"})
}
