package tokenizer

import "testing"

// fakeTokenizer is a minimal Tokenizer that checks the interface can be
// satisfied without a tiktoken encoding load.
type fakeTokenizer struct{ vocab int }

func (f *fakeTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i, r := range text {
		ids[i] = int(r)
	}
	return ids
}

func (f *fakeTokenizer) Decode(ids []int) string {
	runes := make([]rune, len(ids))
	for i, id := range ids {
		runes[i] = rune(id)
	}
	return string(runes)
}

func (f *fakeTokenizer) DecodeToken(id int) string { return string(rune(id)) }
func (f *fakeTokenizer) VocabSize() int             { return f.vocab }

func TestFakeTokenizerSatisfiesInterface(t *testing.T) {
	var _ Tokenizer = (*fakeTokenizer)(nil)
}
