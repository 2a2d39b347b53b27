package embed

import (
	"math"
	"testing"
)

func TestEmbedDeterministic(t *testing.T) {
	e := NewLocalEmbedder()
	a, err := e.Embed("the quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed("the quick brown fox")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
	if len(a) != Dimension {
		t.Errorf("dimension = %d, want %d", len(a), Dimension)
	}
}

func TestEmbedSimilarityOrdering(t *testing.T) {
	e := NewLocalEmbedder()
	base, _ := e.Embed("deploy the web server to production")
	near, _ := e.Embed("deploy web server production now")
	far, _ := e.Embed("my cat likes tuna for breakfast")

	if Cosine(base, near) <= Cosine(base, far) {
		t.Errorf("near text should score higher: near=%v far=%v",
			Cosine(base, near), Cosine(base, far))
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	vec := make([]float32, Dimension)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(i)))
	}
	got, err := Unpack(Pack(vec))
	if err != nil {
		t.Fatal(err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Fatalf("bit mismatch at %d", i)
		}
	}
}

func TestUnpackDimensionMismatch(t *testing.T) {
	if _, err := Unpack(make([]byte, 4*(Dimension-1))); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := Unpack(make([]byte, 3)); err == nil {
		t.Error("expected malformed vector error")
	}
}

func TestCosineEdgeCases(t *testing.T) {
	if Cosine(nil, nil) != 0 {
		t.Error("empty vectors should be 0")
	}
	zero := make([]float32, Dimension)
	one := make([]float32, Dimension)
	one[0] = 1
	if Cosine(zero, one) != 0 {
		t.Error("zero-magnitude vector should be 0")
	}
	if got := Cosine(one, one); math.Abs(got-1) > 1e-9 {
		t.Errorf("self similarity = %v, want 1", got)
	}
}
