// Package embed produces fixed-size semantic vectors for chunk text and
// queries. The only implementation is a local hashed n-gram embedder: no
// network, fully deterministic, so cache entries written by one process are
// comparable with vectors computed by any other.
package embed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Dim is the embedding dimensionality. Vectors of any other length must be
// rejected by consumers.
const Dim = 384

// MaxBatch is the upper bound on texts per EmbedBatch call.
const MaxBatch = 32

// ErrBatchTooLarge is returned by EmbedBatch for batches over MaxBatch.
var ErrBatchTooLarge = errors.New("embed: batch exceeds maximum size")

// Embedder computes L2-normalized vectors of length Dim.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Local is the hashed n-gram embedder. Each word and each character trigram
// is hashed into one of Dim buckets with a hash-derived sign; the
// accumulated vector is L2-normalized. Stateless and safe for concurrent use.
type Local struct{}

// NewLocal returns the local embedder and runs a warm-up embedding so the
// first request does not pay any lazy-initialization cost.
func NewLocal() *Local {
	l := &Local{}
	l.embed("warm up")
	return l
}

// Embed implements Embedder.
func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.embed(text), nil
}

// EmbedBatch implements Embedder. The batch is bounded so callers chunk
// their input instead of handing over unbounded slices.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(texts), MaxBatch)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.embed(t)
	}
	return out, nil
}

func (l *Local) embed(text string) []float32 {
	vec := make([]float32, Dim)

	for _, word := range tokenize(text) {
		bump(vec, word)
		// Character trigrams give partial credit to near-matches
		// (plural forms, compound identifiers).
		runes := []rune(word)
		for i := 0; i+3 <= len(runes); i++ {
			bump(vec, string(runes[i:i+3]))
		}
	}

	normalize(vec)
	return vec
}

// bump adds a unit contribution for one feature. The low bit of the hash
// picks the sign so features cancel rather than pile up in a few buckets.
func bump(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % Dim)
	if sum&(1<<63) != 0 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length. The zero vector stays zero.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

// Cosine returns the cosine similarity of two vectors. With both inputs
// L2-normalized this is just the dot product; mismatched lengths return 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
