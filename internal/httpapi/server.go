// Package httpapi implements the concurrent HTTP front-end: an Ollama-
// style and an OpenAI-style route table over one shared model manager
// and accelerator-exclusivity admission control.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"

	"github.com/flmrun/flm/internal/catalog"
	"github.com/flmrun/flm/internal/npu"
	"github.com/flmrun/flm/internal/runtimestate"
)

// DefaultMaxConnections bounds how many TCP connections the listener
// serves at once. Excess connects are not closed: they wait in the
// listen backlog until a served connection closes and frees a slot.
const DefaultMaxConnections = 10

// Options configures one Server.
type Options struct {
	Addr           string
	MaxBodyBytes   int64
	MaxConnections int
	MaxQueue       int
	CORSEnabled    bool
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	return o
}

// Server bundles the runtime state every route handler shares: the
// accelerator exclusivity lock and deferral queue, the active model
// manager, and the model catalog.
type Server struct {
	opts    Options
	state   *runtimestate.RuntimeState
	models  *modelManager
	catalog *catalog.Catalog
	started time.Time
}

// New builds a Server. device/ctxMgr are the already-opened accelerator
// handle; catalog and modelRoot locate installable models.
func New(opts Options, cat *catalog.Catalog, modelRoot string, device npu.Device, ctxMgr *npu.HardwareContextManager) *Server {
	opts = opts.withDefaults()
	return &Server{
		opts:    opts,
		state:   runtimestate.New(opts.MaxQueue),
		models:  newModelManager(cat, modelRoot, device, ctxMgr),
		catalog: cat,
		started: time.Now(),
	}
}

// PreloadModel loads tag into the server's model manager up front, so
// the first request against it doesn't pay the load latency. Used by
// `flm serve <tag>`'s optional positional argument.
func (s *Server) PreloadModel(tag string) error {
	_, err := s.models.Load(tag)
	return err
}

// Router builds the gin engine implementing the full route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(bodyLimitMiddleware(s.opts.MaxBodyBytes))
	if s.opts.CORSEnabled {
		r.Use(corsMiddleware())
	}

	r.POST("/api/generate", s.handleGenerate)
	r.POST("/api/chat", s.handleChat)
	r.POST("/api/embeddings", s.handleEmbeddings)
	r.GET("/api/tags", s.handleTags)
	r.GET("/api/ps", s.handlePS)
	r.GET("/api/version", s.handleVersion)
	r.POST("/api/show", s.handleShow)
	r.POST("/api/cancel", s.handleCancel)

	r.GET("/v1/models", s.handleOpenAIModels)
	r.POST("/v1/chat/completions", s.handleOpenAIChatCompletions)
	r.POST("/v1/completions", s.handleOpenAICompletions)
	r.POST("/v1/embeddings", s.handleOpenAIEmbeddings)
	r.POST("/v1/audio/transcriptions", s.handleOpenAITranscriptions)

	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}

// Run starts the HTTP server on opts.Addr, enforcing the connection
// limit at the listener, and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen on %s: %w", s.opts.Addr, err)
	}
	ln = netutil.LimitListener(ln, s.opts.MaxConnections)

	srv := &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("flm: serving on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runExclusive attempts to acquire the accelerator, running fn
// immediately if it can; otherwise it enqueues fn to run once the
// accelerator frees up, blocking the caller's goroutine on done until
// fn actually runs (so the HTTP handler's response still completes on
// its own request goroutine rather than detaching).
func (s *Server) runExclusive(fn func()) error {
	if s.state.TryAcquire() {
		defer s.state.Release()
		fn()
		return nil
	}
	done := make(chan struct{})
	err := s.state.Enqueue(func() {
		defer close(done)
		defer s.state.Release()
		fn()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// newRequestID generates a short random identifier for cancellation
// tracking, one per accelerator-exclusive request.
func newRequestID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
