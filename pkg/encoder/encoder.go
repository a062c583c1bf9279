// Package encoder implements the Encoder (C1, spec.md §4.1): deterministic
// text-to-vector embedding, parameterized by provider and sector, with a
// SimHash-like deterministic fallback for when a real provider is
// unavailable. The circuit breaker wrapping non-synthetic providers is
// grounded on hieuntg81-alfred-ai's internal/adapter/llm CircuitBreakerProvider
// (sony/gobreaker/v2), generalized from chat completions to embeddings.
package encoder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
)

// FallbackDim is the dimension of the deterministic SimHash-like fallback
// vector (spec.md §4.1).
const FallbackDim = 32

// Info describes a provider for the Encoder compatibility check
// (spec.md §4.1: infoDigest() -> {provider, model, dims}).
type Info struct {
	Provider string
	Model    string
	Dims     int
}

// Provider produces a unit-norm dense vector for text, parameterized by
// sector. Implementations may apply sector-specific preprocessing (e.g. the
// procedural sector stripping markdown, the emotional sector retaining
// interjection tokens).
type Provider interface {
	Embed(ctx context.Context, text string, sector model.Sector) ([]float32, error)
	Info() Info
}

// SyntheticProvider is a zero-dependency deterministic provider used in
// tests and as the default when no remote/local model is configured. It
// always succeeds, so it never needs circuit breaking.
type SyntheticProvider struct {
	dims int
}

// NewSyntheticProvider returns a SyntheticProvider producing vectors of dims
// dimensions.
func NewSyntheticProvider(dims int) *SyntheticProvider {
	if dims <= 0 {
		dims = 256
	}
	return &SyntheticProvider{dims: dims}
}

func (p *SyntheticProvider) Info() Info {
	return Info{Provider: "synthetic", Model: "fnv-xorshift", Dims: p.dims}
}

// Embed deterministically derives a vector from text via the same
// FNV-seeded xorshift expansion used by Fallback, but at the provider's full
// dimensionality and salted by sector so the same text embeds differently
// per sector.
func (p *SyntheticProvider) Embed(_ context.Context, text string, sector model.Sector) ([]float32, error) {
	return deterministicVector(sectorSalt(text, sector), p.dims), nil
}

// circuitBreakerProvider wraps a non-synthetic Provider with a gobreaker
// circuit breaker: after MaxFailures consecutive embedding failures the
// circuit opens and calls fail fast without reaching the provider, until
// Timeout elapses and a single probe request is allowed through.
type circuitBreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[[]float32]
	log     logging.Logger
}

const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// WithCircuitBreaker wraps inner so repeated failures trip a breaker instead
// of hammering a down provider; callers should combine the result with
// Fallback via WithFallback.
func WithCircuitBreaker(inner Provider, log logging.Logger) Provider {
	name := inner.Info().Provider
	cb := gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        "encoder:" + name,
		MaxRequests: 1,
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			log.Warnw("encoder circuit breaker state change", "breaker", breakerName, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool { return err == nil },
	})
	return &circuitBreakerProvider{inner: inner, breaker: cb, log: log}
}

func (p *circuitBreakerProvider) Info() Info { return p.inner.Info() }

func (p *circuitBreakerProvider) Embed(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	vec, err := p.breaker.Execute(func() ([]float32, error) {
		return p.inner.Embed(ctx, text, sector)
	})
	if err != nil {
		return nil, errs.Unavailable("encoder.Embed", err)
	}
	return vec, nil
}

// fallbackProvider wraps a primary Provider so that any failure degrades to
// the deterministic SimHash-like fallback instead of propagating the error,
// restoring service at reduced retrieval quality (spec.md §4.1).
type fallbackProvider struct {
	primary Provider
	dims    int
	log     logging.Logger
}

// WithFallback makes primary resilient: embedding failures fall back to a
// deterministic fingerprint of dims dimensions rather than failing the call.
func WithFallback(primary Provider, dims int, log logging.Logger) Provider {
	return &fallbackProvider{primary: primary, dims: dims, log: log}
}

func (p *fallbackProvider) Info() Info { return p.primary.Info() }

func (p *fallbackProvider) Embed(ctx context.Context, text string, sector model.Sector) ([]float32, error) {
	vec, err := p.primary.Embed(ctx, text, sector)
	if err == nil {
		return vec, nil
	}
	p.log.Warnw("encoder provider failed, using deterministic fallback", "error", err)
	return Fallback(sectorSalt(text, sector), p.dims), nil
}

// Fallback produces the spec.md §4.1 SimHash-like deterministic pseudo-vector:
// an FNV-style hash of text expanded by a xorshift PRNG into dims dimensions,
// then L2-normalized. Used both as the degraded-service path and for
// fingerprinting cold memories (spec.md §5 step 3).
func Fallback(text string, dims int) []float32 {
	if dims <= 0 {
		dims = FallbackDim
	}
	return deterministicVector(text, dims)
}

func deterministicVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	if state == 0 {
		state = 0x9E3779B97F4A7C15
	}

	vec := make([]float32, dims)
	var sumSq float64
	for i := 0; i < dims; i++ {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map the 64-bit state into [-1, 1).
		v := (float64(state%2000000) / 1000000.0) - 1.0
		vec[i] = float32(v)
		sumSq += v * v
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// sectorSalt prepends the sector so identical text embeds differently per
// sector, matching spec.md §4.1's "per input text and sector" contract.
func sectorSalt(text string, sector model.Sector) string {
	var b strings.Builder
	b.WriteString(string(sector))
	b.WriteByte(0)
	b.WriteString(text)
	return b.String()
}

// CheckCompatibility logs a warning if the active provider's dimensionality
// or synthetic-ness doesn't match what the configured retrieval tier
// expects, per spec.md §4.1's startup compatibility check: stored and query
// vectors produced under mismatched providers would be incomparable.
func CheckCompatibility(info Info, expectSynthetic bool, expectDims int, log logging.Logger) {
	if expectSynthetic && info.Provider != "synthetic" {
		log.Warnw("encoder compatibility: tier expects synthetic provider but a non-synthetic provider is active",
			"provider", info.Provider)
	}
	if expectDims > 0 && info.Dims != expectDims {
		log.Warnw("encoder compatibility: provider dimensionality does not match configured vecDim",
			"providerDims", info.Dims, "vecDim", expectDims)
	}
}
