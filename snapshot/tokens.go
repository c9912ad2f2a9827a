package snapshot

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator approximates how many model tokens a snapshot summary
// occupies. Estimates are advisory (stored as an optional field); an
// estimator error simply leaves the field unset.
type TokenEstimator interface {
	Estimate(text string) (int, error)
}

// HeuristicEstimator approximates tokens as one per four bytes of text, the
// common rule of thumb for English prose. Cheap and dependency free; use
// the BPE estimator when exact counts matter.
type HeuristicEstimator struct{}

// Estimate implements TokenEstimator.
func (HeuristicEstimator) Estimate(text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

// BPEEstimator counts tokens with a real tiktoken byte-pair encoding.
type BPEEstimator struct {
	codec tokenizer.Codec
}

// NewBPEEstimator creates an estimator for the named encoding. Supported
// encodings: cl100k_base (default when empty), o200k_base, p50k_base,
// r50k_base.
func NewBPEEstimator(encoding string) (*BPEEstimator, error) {
	var enc tokenizer.Encoding
	switch encoding {
	case "", "cl100k_base":
		enc = tokenizer.Cl100kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "r50k_base":
		enc = tokenizer.R50kBase
	default:
		return nil, fmt.Errorf("unknown token encoding %q", encoding)
	}
	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &BPEEstimator{codec: codec}, nil
}

// Estimate implements TokenEstimator.
func (e *BPEEstimator) Estimate(text string) (int, error) {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
