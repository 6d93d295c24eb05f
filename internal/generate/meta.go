package generate

import "time"

// StopReason names why generation for a request ended.
type StopReason int

const (
	StopEndOfSequence StopReason = iota
	StopLengthLimit
	StopCancelled
	StopMaxContextReached
)

func (r StopReason) String() string {
	switch r {
	case StopEndOfSequence:
		return "end_of_sequence"
	case StopLengthLimit:
		return "length_limit"
	case StopCancelled:
		return "cancelled"
	case StopMaxContextReached:
		return "max_context_reached"
	default:
		return "unknown"
	}
}

// Meta carries a request's generation statistics: token counts and
// nanosecond-resolution phase timestamps, reported in the final
// streaming chunk.
type Meta struct {
	PromptTokens    int
	GeneratedTokens int

	LoadNs    int64
	PrefillNs int64
	DecodeNs  int64
	TotalNs   int64

	StopReason StopReason
}

// phaseTimer accumulates elapsed nanoseconds for one named phase across
// however many start/stop calls the engine makes (prefill runs in
// chunks, so its timer may be started and stopped several times).
type phaseTimer struct {
	start   time.Time
	elapsed time.Duration
	running bool
}

func (t *phaseTimer) Start() {
	t.start = time.Now()
	t.running = true
}

func (t *phaseTimer) Stop() {
	if !t.running {
		return
	}
	t.elapsed += time.Since(t.start)
	t.running = false
}

func (t *phaseTimer) Nanoseconds() int64 { return t.elapsed.Nanoseconds() }
