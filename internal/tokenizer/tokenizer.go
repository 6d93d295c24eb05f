// Package tokenizer defines the contract the generation loop tokenizes
// and detokenizes through. Byte-pair/SentencePiece encoding internals
// are an external collaborator's concern; this package only specifies
// the interface and a concrete adapter.
package tokenizer

// Tokenizer converts between text and the model's token id space.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	// DecodeToken detokenizes a single id, used by the decode loop's
	// per-step streaming path.
	DecodeToken(id int) string
	VocabSize() int
}
