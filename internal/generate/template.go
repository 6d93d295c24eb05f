package generate

import "strings"

// Message is one role/content turn in a chat request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatTemplate renders a list of role/content messages into the raw
// prompt text a model's tokenizer should encode, plus the trailing
// assistant-turn opener that primes generation.
type ChatTemplate func(messages []Message) string

// Templates maps a model_type to its chat-formatting function.
var Templates = map[string]ChatTemplate{
	"causal-lm": genericChatTemplate,
	"harmony":   harmonyChatTemplate,
}

// TemplateFor returns the template registered for modelType, falling
// back to the generic role-tagged format for unknown model types.
func TemplateFor(modelType string) ChatTemplate {
	if t, ok := Templates[modelType]; ok {
		return t
	}
	return genericChatTemplate
}

// genericChatTemplate renders plain role-tagged turns, the common
// instruction-tuned format most causal-LM checkpoints expect.
func genericChatTemplate(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|start|>")
		b.WriteString(m.Role)
		b.WriteString("<|message|>")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|start|>assistant<|message|>")
	return b.String()
}

// harmonyChatTemplate renders the channel-tagged format the streaming
// channel filter's markers are defined against.
func harmonyChatTemplate(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|start|>")
		b.WriteString(m.Role)
		b.WriteString("<|channel|>final<|message|>")
		b.WriteString(m.Content)
		b.WriteString("<|end|>\n")
	}
	b.WriteString("<|start|>assistant<|channel|>analysis<|message|>")
	return b.String()
}
