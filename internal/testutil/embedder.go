// Package testutil provides shared testing utilities: a deterministic
// embedder and a disposable pgvector database.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder implements ai.Embedder with deterministic output: the vector
// for a text depends only on the text and the dimension, so the same input
// always lands at the same point and distinct inputs are (almost surely)
// distinct. Vectors are L2-normalized so cosine scores are well behaved.
type FakeEmbedder struct {
	Dim int
	Err error // returned from Embed when set
}

func (f *FakeEmbedder) Name() string { return "fake-embedder" }

func (f *FakeEmbedder) Register(_ api.Registry) {}

func (f *FakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{Embedding: f.vector(text)})
	}
	return resp, nil
}

// vector expands a sha256 of the text into Dim pseudo-random components.
func (f *FakeEmbedder) vector(text string) []float32 {
	dim := f.Dim
	if dim <= 0 {
		dim = 8
	}
	v := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := range v {
		block := sha256.Sum256(append(seed[:], byte(i), byte(i>>8)))
		bits := binary.BigEndian.Uint32(block[:4])
		v[i] = float32(bits)/float32(math.MaxUint32) - 0.5
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}
