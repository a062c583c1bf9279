package encoder

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
)

func vecNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestFallbackDeterministicAndUnitNorm(t *testing.T) {
	a := Fallback("hello world", FallbackDim)
	b := Fallback("hello world", FallbackDim)
	if len(a) != FallbackDim {
		t.Fatalf("len = %d, want %d", len(a), FallbackDim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Fallback not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
	if n := vecNorm(a); math.Abs(n-1.0) > 1e-6 {
		t.Fatalf("norm = %v, want ~1.0", n)
	}
}

func TestFallbackDistinguishesText(t *testing.T) {
	a := Fallback("alpha", FallbackDim)
	b := Fallback("beta", FallbackDim)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different text to produce different fallback vectors")
	}
}

func TestSyntheticProviderSectorSalting(t *testing.T) {
	p := NewSyntheticProvider(64)
	a, err := p.Embed(context.Background(), "remember this", model.SectorSemantic)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(context.Background(), "remember this", model.SectorEmotional)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("unexpected dims: %d, %d", len(a), len(b))
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected distinct sectors to embed the same text differently")
	}
}

type failingProvider struct{}

func (failingProvider) Info() Info { return Info{Provider: "remote", Model: "test", Dims: 32} }
func (failingProvider) Embed(context.Context, string, model.Sector) ([]float32, error) {
	return nil, errors.New("provider unreachable")
}

func TestWithFallbackDegradesOnError(t *testing.T) {
	p := WithFallback(failingProvider{}, FallbackDim, logging.Nop())
	vec, err := p.Embed(context.Background(), "anything", model.SectorSemantic)
	if err != nil {
		t.Fatalf("expected fallback to suppress the error, got: %v", err)
	}
	if len(vec) != FallbackDim {
		t.Fatalf("len = %d, want %d", len(vec), FallbackDim)
	}
}

func TestWithCircuitBreakerWrapsFailure(t *testing.T) {
	p := WithCircuitBreaker(failingProvider{}, logging.Nop())
	_, err := p.Embed(context.Background(), "anything", model.SectorSemantic)
	if err == nil {
		t.Fatal("expected error to propagate through the circuit breaker")
	}
}
