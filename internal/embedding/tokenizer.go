package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// Tokenizer produces BERT-style model inputs (input_ids, attention_mask, token_type_ids),
// each padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

const (
	clsToken = 101
	sepToken = 102
	// firstWordID skips the padding, unused and special ids at the start of a BERT vocabulary.
	firstWordID = 1000
	bertVocab   = 30522
)

// HashTokenizer maps each word to a vocabulary id by hashing it. It stands in for a real
// vocabulary when the model ships without one.
type HashTokenizer struct {
	// VocabSize bounds the ids. Zero means the BERT base vocabulary size.
	VocabSize int
}

// Tokenize emits [CLS] word... [SEP], truncating words that do not fit.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	vocab := t.VocabSize
	if vocab <= firstWordID {
		vocab = bertVocab
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0], attentionMask[0] = clsToken, 1
	pos := 1
	for _, w := range Words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = firstWordID + int64(hashFeature(w)%uint64(vocab-firstWordID))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos], attentionMask[pos] = sepToken, 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// Words lowercases text and splits it into runs of letters and digits, so identifiers
// such as "order_status" yield "order" and "status".
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashFeature(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
