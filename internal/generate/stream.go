package generate

import "strings"

// UTF8Buffer accumulates detokenized bytes and only releases complete
// code-point sequences, holding back the tail of anything that isn't
// fully decoded yet so a caller never emits a chunk ending mid-rune.
type UTF8Buffer struct {
	pending []byte
}

// Push appends freshly detokenized bytes and returns the longest
// complete-code-point-aligned prefix ready to emit; the remainder stays
// buffered for the next call.
func (b *UTF8Buffer) Push(data []byte) []byte {
	b.pending = append(b.pending, data...)
	cut := completeRunePrefixLen(b.pending)
	out := append([]byte(nil), b.pending[:cut]...)
	b.pending = b.pending[cut:]
	return out
}

// Flush releases whatever remains, complete or not, for use at stream
// finalization.
func (b *UTF8Buffer) Flush() []byte {
	out := b.pending
	b.pending = nil
	return out
}

// completeRunePrefixLen finds the longest prefix of buf consisting only
// of complete UTF-8 code-point sequences (1-4 bytes), leaving a trailing
// partial sequence unconsumed.
func completeRunePrefixLen(buf []byte) int {
	i := len(buf)
	// walk back over any trailing continuation bytes (10xxxxxx) to find
	// where the last code point starts.
	for i > 0 && buf[i-1]&0xC0 == 0x80 {
		i--
	}
	if i == 0 {
		return 0
	}
	lead := buf[i-1]
	var want int
	switch {
	case lead&0x80 == 0x00:
		want = 1
	case lead&0xE0 == 0xC0:
		want = 2
	case lead&0xF0 == 0xE0:
		want = 3
	case lead&0xF8 == 0xF0:
		want = 4
	default:
		// invalid lead byte; treat as complete so it doesn't block forever
		return len(buf)
	}
	have := len(buf) - (i - 1)
	if have >= want {
		return len(buf)
	}
	return i - 1
}

// ChannelPart classifies which part of the chat-template output a piece
// of decoded text belongs to.
type ChannelPart int

const (
	PartChatTemplate ChannelPart = iota
	PartReasoning
	PartResponse
)

const (
	reasoningStartMarker = "<|start|>assistant<|channel|>analysis<|message|>"
	reasoningEndMarker   = "<|start|>assistant<|channel|>final<|message|>"
	specialTokenBegin    = "<|"
	specialTokenEnd      = "|>"
)

// ChannelFilter implements the idle -> reasoning -> response state
// machine that splits a model's chat-template output into a "thinking"
// stream and a "content" stream, suppressing the marker tokens
// themselves.
type ChannelFilter struct {
	buffer      strings.Builder
	isReasoning bool
}

// Classify feeds one piece of decoded text and reports which channel it
// belongs to. Special-token pieces (anything containing both "<|" and
// "|>") are always reported as PartChatTemplate and should be
// suppressed by the caller.
func (f *ChannelFilter) Classify(piece string) ChannelPart {
	f.buffer.WriteString(piece)
	buffered := f.buffer.String()
	isSpecial := strings.Contains(piece, specialTokenBegin) && strings.Contains(piece, specialTokenEnd)

	if !f.isReasoning && strings.Contains(buffered, reasoningStartMarker) {
		f.isReasoning = true
		f.buffer.Reset()
	}
	if f.isReasoning && strings.Contains(buffered, reasoningEndMarker) {
		f.isReasoning = false
		f.buffer.Reset()
	}

	switch {
	case isSpecial:
		return PartChatTemplate
	case f.isReasoning:
		return PartReasoning
	default:
		return PartResponse
	}
}
