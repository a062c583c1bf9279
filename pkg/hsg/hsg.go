// Package hsg implements the HSG Writer (C6, spec.md §4.4) and HSG Query
// (C7, spec.md §4.5): the write path that routes, embeds, and stores a
// memory plus its waypoints, and the hybrid read path that fuses per-sector
// kNN, composite scoring, cross-sector resonance, and optional spreading
// activation. Grounded on the teacher's store.go Upsert/Search pair for the
// overall shape of "validate -> encode -> persist -> index" and "embed
// query -> score candidates -> sort", generalized from a single flat
// embedding table to per-sector vectors, waypoints, and resonance.
package hsg

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/hsgraph/hsg/internal/tokenize"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/router"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

// Config bundles the tunables HSG Writer/Query need from spec.md §6's
// configuration table.
type Config struct {
	SegmentCount        int     // S: number of maintenance-sampling segments
	WaypointK           int     // K: top-K same-sector neighbors wired as waypoints on add
	DefaultReinforceBoost float64
	RecencyTauDays      float64 // τ used by recencyModulator, default 7
	ReinforceOnQuery    bool
	RegenerationEnabled bool
	MaxSpreadIterations int
	MaxActive           int // spec.md §6 maxActive: upper bound on concurrent foreground queries
	WriteRequestsPerMin int // per-tenant Add throttle (AddToSector is not throttled), token-bucket refill rate
	WriteBurst          int // per-tenant Add throttle (AddToSector is not throttled), token-bucket burst size
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		SegmentCount:          16,
		WaypointK:             5,
		DefaultReinforceBoost: 0.1,
		RecencyTauDays:        7,
		ReinforceOnQuery:      true,
		RegenerationEnabled:   true,
		MaxSpreadIterations:   2,
		MaxActive:             32,
		WriteRequestsPerMin:   600,
		WriteBurst:            20,
	}
}

// Engine wires together every dependency HSG Writer/Query need: encoder,
// table/vector stores, crypto box, sector router, event bus, and the pure
// dynamics math.
type Engine struct {
	tables     *tablestore.Store
	vectors    *vectorstore.Store
	enc        encoder.Provider
	box        *cryptobox.Box
	router     *router.Router
	bus        *eventbus.Bus
	resonance  dynamics.ResonanceMatrix
	log        logging.Logger
	cfg        Config
	idNow      func() int64
	newID      func() string
	randSegment func(n int) int

	querySem      chan struct{}
	activeQueries int64
	writeLimiter  *tenantLimiter
}

// New builds an Engine. log may be nil (defaults to a no-op logger).
func New(tables *tablestore.Store, vectors *vectorstore.Store, enc encoder.Provider, box *cryptobox.Box, rt *router.Router, bus *eventbus.Bus, cfg Config, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	maxActive := cfg.MaxActive
	if maxActive <= 0 {
		maxActive = 32
	}
	return &Engine{
		tables:    tables,
		vectors:   vectors,
		enc:       enc,
		box:       box,
		router:    rt,
		bus:       bus,
		resonance: dynamics.DefaultResonanceMatrix(),
		log:       log,
		cfg:       cfg,
		idNow:     func() int64 { return time.Now().UnixMilli() },
		newID:     func() string { return uuid.NewString() },
		randSegment: func(n int) int {
			if n <= 0 {
				return 0
			}
			return int(time.Now().UnixNano() % int64(n))
		},
		querySem:     make(chan struct{}, maxActive),
		writeLimiter: newTenantLimiter(cfg.WriteRequestsPerMin, cfg.WriteBurst),
	}
}

// ActiveQueries reports the number of Search calls currently in flight,
// spec.md §6's maxActive counter surfaced for the Decay Worker's (C9,
// spec.md §4.7) "skip while foreground queries are active" gate.
func (e *Engine) ActiveQueries() int {
	return int(atomic.LoadInt64(&e.activeQueries))
}

// acquireQuerySlot blocks until a slot under maxActive is free or ctx is
// done, enforcing spec.md §6's "upper bound on concurrent foreground
// queries".
func (e *Engine) acquireQuerySlot(ctx context.Context) error {
	select {
	case e.querySem <- struct{}{}:
		atomic.AddInt64(&e.activeQueries, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseQuerySlot() {
	atomic.AddInt64(&e.activeQueries, -1)
	<-e.querySem
}

// Close stops the Engine's background write-limiter cleanup goroutine. Safe
// to call once during shutdown.
func (e *Engine) Close() {
	if e.writeLimiter != nil {
		e.writeLimiter.Close()
	}
}

func simhash64(text string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tokenize.Canonicalize(text)))
	return h.Sum64()
}

func (e *Engine) now() int64 { return e.idNow() }

// embedSectors embeds text into the primary sector plus every
// secondary sector in parallel via errgroup, returning one SectorVector per
// sector. Reuses the provisional vector already computed for whichever
// sector it matches (spec.md §9 open question 5), so the provisional
// semantic embedding is not recomputed.
func (e *Engine) embedSectors(ctx context.Context, text string, provisional model.Sector, provisionalVec []float32, sectors []model.Sector) (map[model.Sector][]float32, error) {
	out := make(map[model.Sector][]float32, len(sectors))
	var remaining []model.Sector
	for _, s := range sectors {
		if s == provisional {
			out[s] = provisionalVec
			continue
		}
		remaining = append(remaining, s)
	}
	if len(remaining) == 0 {
		return out, nil
	}

	type result struct {
		sector model.Sector
		vec    []float32
	}
	results := make([]result, len(remaining))
	g, gctx := errgroup.WithContext(ctx)
	for i, sector := range remaining {
		i, sector := i, sector
		g.Go(func() error {
			vec, err := e.enc.Embed(gctx, text, sector)
			if err != nil {
				return err
			}
			results[i] = result{sector: sector, vec: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs.Unavailable("hsg.embedSectors", err)
	}
	for _, r := range results {
		out[r.sector] = r.vec
	}
	return out, nil
}

func meanVector(vecs map[model.Sector][]float32) []float32 {
	var dim int
	for _, v := range vecs {
		if len(v) > dim {
			dim = len(v)
		}
		break
	}
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	n := float64(len(vecs))
	if n == 0 {
		n = 1
	}
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out
}

// allowWrite enforces spec.md §4.12 tenancy scoping for a write targeting
// targetTenant.
func allowWrite(secCtx tenancy.Context, targetTenant *string) error {
	return secCtx.Allow(targetTenant)
}
