package generate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUTF8BufferHoldsIncompleteSequence(t *testing.T) {
	var b UTF8Buffer
	euroBytes := []byte("€") // 3-byte UTF-8 sequence: 0xE2 0x82 0xAC

	out := b.Push(euroBytes[:2])
	require.Empty(t, out)

	out = b.Push(euroBytes[2:])
	require.Equal(t, euroBytes, out)
}

func TestUTF8BufferPassesThroughASCII(t *testing.T) {
	var b UTF8Buffer
	out := b.Push([]byte("hello"))
	require.Equal(t, []byte("hello"), out)
}

func TestUTF8BufferFlushReturnsRemainder(t *testing.T) {
	var b UTF8Buffer
	euroBytes := []byte("€")
	b.Push(euroBytes[:1])
	require.Equal(t, euroBytes[:1], b.Flush())
}

func TestUTF8BufferConcatenationEqualsInput(t *testing.T) {
	input := "hello, 世界! €100"
	var b UTF8Buffer
	var got []byte
	for i := 0; i < len(input); i++ {
		got = append(got, b.Push([]byte{input[i]})...)
	}
	got = append(got, b.Flush()...)
	require.Equal(t, input, string(got))
}

func TestChannelFilterSuppressesSpecialTokens(t *testing.T) {
	f := &ChannelFilter{}
	require.Equal(t, PartChatTemplate, f.Classify("<|start|>"))
}

func TestChannelFilterTracksReasoningState(t *testing.T) {
	f := &ChannelFilter{}
	require.Equal(t, PartChatTemplate, f.Classify(reasoningStartMarker))
	require.Equal(t, PartReasoning, f.Classify("thinking about it"))
	require.Equal(t, PartChatTemplate, f.Classify(reasoningEndMarker))
	require.Equal(t, PartResponse, f.Classify("final answer"))
}
