// Package embed defines the embedding provider contract and a local,
// dependency-free default implementation.
package embed

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Dimension is the fixed embedding width for the deployment. Every stored
// embedding shares it; a mismatch on read is a fatal load error.
const Dimension = 256

// Embedder produces fixed-dimension vectors. Implementations must be
// deterministic for a given text.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// LocalEmbedder is a hashed bag-of-ngrams embedder. It is not a learned
// model, but it is deterministic, fast, and good enough for recall-style
// similarity over conversational text. API-backed embedders can replace it
// via config without touching stored data, provided the dimension matches.
type LocalEmbedder struct{}

func NewLocalEmbedder() *LocalEmbedder { return &LocalEmbedder{} }

func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, Dimension)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		// Word plus character trigrams, each hashed into two buckets with
		// opposite signs to spread mass.
		for _, feature := range features(tok) {
			h := sha256.Sum256([]byte(feature))
			i1 := binary.LittleEndian.Uint32(h[0:4]) % Dimension
			i2 := binary.LittleEndian.Uint32(h[4:8]) % Dimension
			sign := float32(1)
			if h[8]&1 == 1 {
				sign = -1
			}
			vec[i1] += sign
			vec[i2] -= sign * 0.5
		}
	}

	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func features(tok string) []string {
	out := []string{"w:" + tok}
	runes := []rune(tok)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, "t:"+string(runes[i:i+3]))
	}
	return out
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// Pack encodes a vector as little-endian float32 bytes for DB storage.
func Pack(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Unpack decodes little-endian float32 bytes and validates the dimension.
func Unpack(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embed: malformed vector: %d bytes", len(data))
	}
	n := len(data) / 4
	if n != Dimension {
		return nil, fmt.Errorf("embed: dimension mismatch: got %d, want %d", n, Dimension)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// Cosine returns the cosine similarity of two vectors. Zero-length or
// zero-magnitude vectors return 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
