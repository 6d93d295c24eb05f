package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenericChatTemplateFormatsTurnsAndPrimesAssistant(t *testing.T) {
	out := genericChatTemplate([]Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	})
	require.True(t, strings.HasPrefix(out, "<|start|>system<|message|>be terse<|end|>\n"))
	require.Contains(t, out, "<|start|>user<|message|>hi<|end|>\n")
	require.True(t, strings.HasSuffix(out, "<|start|>assistant<|message|>"))
}

func TestHarmonyChatTemplateOpensAnalysisChannel(t *testing.T) {
	out := harmonyChatTemplate([]Message{{Role: "user", Content: "hi"}})
	require.Contains(t, out, "<|start|>user<|channel|>final<|message|>hi<|end|>\n")
	require.True(t, strings.HasSuffix(out, "<|start|>assistant<|channel|>analysis<|message|>"))
}

func TestTemplateForKnownModelTypes(t *testing.T) {
	require.NotNil(t, TemplateFor("causal-lm"))
	require.NotNil(t, TemplateFor("harmony"))
}

func TestTemplateForUnknownModelTypeFallsBackToGeneric(t *testing.T) {
	msgs := []Message{{Role: "user", Content: "hi"}}
	got := TemplateFor("some-unknown-type")(msgs)
	want := genericChatTemplate(msgs)
	require.Equal(t, want, got)
}
