package hsg

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hsgraph/hsg/internal/tokenize"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/errs"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tenancy"
)

// Filter narrows a Search call (spec.md §4.5).
type Filter struct {
	Sectors     []model.Sector
	MinSalience float64
	TenantID    *string
	StartTime   int64 // 0 = unbounded
	EndTime     int64 // 0 = unbounded
}

// SearchOptions toggles per-query behavior not part of the Filter.
type SearchOptions struct {
	SpreadActivation bool
}

// Match is one ranked result returned by Search (spec.md §4.5's return
// fields).
type Match struct {
	ID               string
	Content          string
	Score            float64
	Sectors          []model.Sector
	PrimarySector    model.Sector
	Path             []string
	Salience         float64
	LastSeenAt       int64
	UpdatedAt        int64
	DecayLambda      float64
	Version          int64
	Segment          int
	SimHash          uint64
	GeneratedSummary string
}

const recencyTauDaysDefault = 7.0
const millisPerDay = 24 * 60 * 60 * 1000

// Search implements HSG Query's search(queryText, k, filter) -> ordered
// matches (spec.md §4.5).
func (e *Engine) Search(ctx context.Context, secCtx tenancy.Context, queryText string, k int, filter Filter, opts SearchOptions) ([]Match, error) {
	tenantID := filter.TenantID
	if err := secCtx.Allow(tenantID); err != nil {
		return nil, err
	}
	if err := e.acquireQuerySlot(ctx); err != nil {
		return nil, errs.Unavailable("hsg.Search", err)
	}
	defer e.releaseQuerySlot()
	if k <= 0 {
		k = 10
	}
	sectors := filter.Sectors
	if len(sectors) == 0 {
		sectors = []model.Sector{model.SectorSemantic}
	}
	topN := int(math.Ceil(float64(k) * 2))

	candidates, usedFallback, err := e.gatherCandidates(ctx, tenantID, queryText, sectors, topN)
	if err != nil {
		return nil, err
	}
	if usedFallback {
		e.log.Infow("hsg.Search: served from keyword fallback", "query", queryText)
	}

	tau := e.cfg.RecencyTauDays
	if tau <= 0 {
		tau = recencyTauDaysDefault
	}
	now := e.now()

	scoredByMem := make(map[string]*scoredCandidate, len(candidates))
	for _, c := range candidates {
		mem, err := e.tables.GetMemory(ctx, c.memoryID)
		if err != nil {
			continue
		}
		if mem.TenantID == nil && tenantID != nil {
			continue
		}
		if mem.TenantID != nil && tenantID != nil && *mem.TenantID != *tenantID {
			continue
		}
		if filter.MinSalience > 0 && mem.Salience < filter.MinSalience {
			continue
		}
		if filter.StartTime > 0 && mem.CreatedAt < filter.StartTime {
			continue
		}
		if filter.EndTime > 0 && mem.CreatedAt > filter.EndTime {
			continue
		}

		salMod := clamp01(mem.Salience * (1 + math.Log1p(float64(mem.Coactivations))))
		deltaDays := float64(now-mem.LastSeenAt) / millisPerDay
		recMod := math.Exp(-deltaDays / tau)
		base := 0.7*c.cosine + 0.2*salMod + 0.1*recMod
		resonant := e.resonance.ApplyResonance(base, mem.PrimarySector, c.querySector.Live())

		existing, ok := scoredByMem[mem.ID]
		if !ok || resonant > existing.score {
			scoredByMem[mem.ID] = &scoredCandidate{mem: mem, score: resonant, sector: c.querySector}
		}
	}

	merged := make([]*scoredCandidate, 0, len(scoredByMem))
	for _, sc := range scoredByMem {
		merged = append(merged, sc)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		if merged[i].mem.Salience != merged[j].mem.Salience {
			return merged[i].mem.Salience > merged[j].mem.Salience
		}
		if merged[i].mem.LastSeenAt != merged[j].mem.LastSeenAt {
			return merged[i].mem.LastSeenAt > merged[j].mem.LastSeenAt
		}
		return merged[i].mem.ID < merged[j].mem.ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	paths := map[string][]string{}
	if opts.SpreadActivation && len(merged) > 0 {
		seeds := make(map[string]float64, len(merged))
		for _, sc := range merged {
			seeds[sc.mem.ID] = sc.score
		}
		neighbors := func(id string) []dynamics.ActivationEdge {
			wps, err := e.tables.WaypointsFrom(ctx, tenantID, id)
			if err != nil {
				return nil
			}
			out := make([]dynamics.ActivationEdge, len(wps))
			for i, w := range wps {
				out[i] = dynamics.ActivationEdge{DstID: w.DstID, Weight: w.Weight}
			}
			return out
		}
		energies := dynamics.SpreadActivation(seeds, neighbors, e.cfg.MaxSpreadIterations)
		for id := range energies {
			if _, seeded := seeds[id]; seeded {
				continue
			}
			paths[id] = []string{id}
		}
	}

	matches := make([]Match, 0, len(merged))
	for _, sc := range merged {
		decrypted, derr := e.box.OpenString([]byte(sc.mem.Content))
		if derr != nil {
			decrypted = "[Encrypted Content]"
			e.log.Warnw("hsg.Search: failed to decrypt memory content", "memId", sc.mem.ID, "error", derr)
		}
		matches = append(matches, Match{
			ID:               sc.mem.ID,
			Content:          decrypted,
			Score:            sc.score,
			Sectors:          []model.Sector{sc.sector},
			PrimarySector:    sc.mem.PrimarySector,
			Path:             paths[sc.mem.ID],
			Salience:         sc.mem.Salience,
			LastSeenAt:       sc.mem.LastSeenAt,
			UpdatedAt:        sc.mem.UpdatedAt,
			DecayLambda:      sc.mem.DecayLambda,
			Version:          sc.mem.Version,
			Segment:          sc.mem.Segment,
			SimHash:          sc.mem.SimHash,
			GeneratedSummary: sc.mem.GeneratedSummary,
		})
		go e.onQueryHit(sc.mem.ID, sc.sector)
	}
	return matches, nil
}

type scoredCandidate struct {
	mem    *model.Memory
	score  float64
	sector model.Sector
}

type rawCandidate struct {
	memoryID    string
	cosine      float64
	querySector model.Sector
}

// gatherCandidates runs step 1/2 of spec.md §4.5: embed the query per
// target sector and fetch topN nearest neighbors per sector, in parallel via
// errgroup. Each target sector is also matched against its cold variant
// (decay.go's compressVectors pools a decayed sector's vector into
// sector.Cold() and deletes the live row), using the same query vector
// since the cold pool lives in the same embedding space as the live sector
// it was compressed from — otherwise a memory whose vector decayed to cold
// would never surface again, and onQueryHit's cold->live regeneration path
// would stay unreachable. Falls back to a keyword/Jaccard scan over every
// sector if the encoder errors on every sector (spec.md §4.5's failure
// mode).
func (e *Engine) gatherCandidates(ctx context.Context, tenantID *string, queryText string, sectors []model.Sector, topN int) ([]rawCandidate, bool, error) {
	type sectorResult struct {
		sector  model.Sector
		matches []rawCandidate
		err     error
	}
	results := make([]sectorResult, len(sectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, sector := range sectors {
		i, sector := i, sector
		g.Go(func() error {
			vec, err := e.enc.Embed(gctx, queryText, sector)
			if err != nil {
				results[i] = sectorResult{sector: sector, err: err}
				return nil
			}
			var matches []rawCandidate
			if knn, err := e.vectors.KNN(gctx, tenantID, sector, vec, topN); err == nil {
				for _, m := range knn {
					matches = append(matches, rawCandidate{memoryID: m.MemoryID, cosine: m.Score, querySector: sector})
				}
			} else {
				results[i] = sectorResult{sector: sector, err: err}
				return nil
			}
			if coldKnn, err := e.vectors.KNN(gctx, tenantID, sector.Cold(), vec, topN); err == nil {
				for _, m := range coldKnn {
					matches = append(matches, rawCandidate{memoryID: m.MemoryID, cosine: m.Score, querySector: sector.Cold()})
				}
			} else {
				e.log.Warnw("hsg.Search: cold sector KNN failed", "sector", sector.Cold(), "error", err)
			}
			results[i] = sectorResult{sector: sector, matches: matches}
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	var out []rawCandidate
	for _, r := range results {
		if r.err == nil {
			allFailed = false
			out = append(out, r.matches...)
		}
	}
	if !allFailed {
		return out, false, nil
	}

	e.log.Warnw("hsg.Search: encoder unavailable on every target sector, falling back to keyword search", "query", queryText)
	fallback, err := e.keywordFallback(ctx, tenantID, queryText, sectors, topN)
	if err != nil {
		return nil, true, err
	}
	return fallback, true, nil
}

// keywordFallback scores every candidate memory by Jaccard similarity of
// canonicalized tokens, per spec.md §4.5's encoder-failure fallback.
func (e *Engine) keywordFallback(ctx context.Context, tenantID *string, queryText string, sectors []model.Sector, topN int) ([]rawCandidate, error) {
	queryTokens := tokenize.CanonicalSet(queryText)
	mems, err := e.tables.ListByTenant(ctx, tenantID, topN*len(sectors)*4)
	if err != nil {
		return nil, err
	}
	var out []rawCandidate
	for _, mem := range mems {
		decrypted, derr := e.box.OpenString([]byte(mem.Content))
		if derr != nil {
			continue
		}
		docTokens := tokenize.DocumentSet(decrypted)
		score := tokenize.Jaccard(queryTokens, docTokens)
		if score <= 0 {
			continue
		}
		for _, sector := range sectors {
			out = append(out, rawCandidate{memoryID: mem.ID, cosine: score, querySector: sector})
		}
	}
	return out, nil
}

// onQueryHit implements spec.md §4.5 step 7: asynchronously reinforce
// salience on a query hit and, if the hit vector was cold, regenerate and
// promote it back to the live sector.
func (e *Engine) onQueryHit(memID string, sector model.Sector) {
	ctx := context.Background()
	if e.cfg.ReinforceOnQuery {
		mem, err := e.tables.GetMemory(ctx, memID)
		if err == nil {
			expected := mem.Version
			mem.Salience = dynamics.Reinforce(mem.Salience, e.cfg.DefaultReinforceBoost)
			mem.LastSeenAt = e.now()
			mem.Coactivations++
			mem.UpdatedAt = mem.LastSeenAt
			mem.Version = expected + 1
			if err := e.tables.UpdateMemory(ctx, mem, expected); err != nil {
				e.log.Warnw("hsg.onQueryHit: reinforce failed", "memId", memID, "error", err)
			}
		}
	}

	if !e.cfg.RegenerationEnabled || !sector.IsCold() {
		return
	}
	live := sector.Live()
	mem, err := e.tables.GetMemory(ctx, memID)
	if err != nil {
		return
	}
	decrypted, derr := e.box.OpenString([]byte(mem.Content))
	if derr != nil {
		return
	}
	vec, err := e.enc.Embed(ctx, decrypted, live)
	if err != nil {
		e.log.Warnw("hsg.onQueryHit: regeneration embed failed", "memId", memID, "error", err)
		return
	}
	if err := e.writeSectorVector(ctx, mem, live, vec); err != nil {
		e.log.Warnw("hsg.onQueryHit: regeneration write failed", "memId", memID, "error", err)
		return
	}
	if err := e.vectors.Delete(ctx, memID, sector); err != nil {
		e.log.Warnw("hsg.onQueryHit: failed to drop cold vector after promotion", "memId", memID, "error", err)
	}
}
