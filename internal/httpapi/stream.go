package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ndjsonWriter streams application/x-ndjson: one JSON object per line,
// chunked, flushed after every write so a slow client's socket
// back-pressures the generation loop rather than buffering unbounded
// output in memory.
type ndjsonWriter struct {
	c           *gin.Context
	wroteHeader bool
}

func newNDJSONWriter(c *gin.Context) *ndjsonWriter {
	return &ndjsonWriter{c: c}
}

func (w *ndjsonWriter) Write(v any) error {
	if !w.wroteHeader {
		w.c.Writer.Header().Set("Content-Type", "application/x-ndjson")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.wroteHeader = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.c.Writer.Write(data); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// sseWriter streams text/event-stream: each event is "data: <json>\n\n",
// terminated by a literal "data: [DONE]\n\n" event.
type sseWriter struct {
	c           *gin.Context
	wroteHeader bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) Write(v any) error {
	if !w.wroteHeader {
		w.c.Writer.Header().Set("Content-Type", "text/event-stream")
		w.c.Writer.Header().Set("Cache-Control", "no-cache")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.wroteHeader = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.c.Writer.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) Done() {
	w.c.Writer.Write([]byte("data: [DONE]\n\n"))
	w.c.Writer.Flush()
}
