package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenAdapter wraps a tiktoken-go encoding behind the Tokenizer
// contract. encodingName is read from the model's tokenizer_config.json
// (e.g. "cl100k_base"); this package does not interpret the vocabulary
// file itself, only the name that selects which built-in encoding to
// load.
type TiktokenAdapter struct {
	enc       *tiktoken.Tiktoken
	vocabSize int
}

// NewTiktokenAdapter loads the named tiktoken encoding.
func NewTiktokenAdapter(encodingName string, vocabSize int) (*TiktokenAdapter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %q: %w", encodingName, err)
	}
	return &TiktokenAdapter{enc: enc, vocabSize: vocabSize}, nil
}

func (t *TiktokenAdapter) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenAdapter) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

func (t *TiktokenAdapter) DecodeToken(id int) string {
	return t.enc.Decode([]int{id})
}

func (t *TiktokenAdapter) VocabSize() int { return t.vocabSize }
