// Package decay implements the Decay Worker (C9, spec.md §4.7): a periodic
// segment-sampled sweep that ages every memory's salience, demotes stale
// vectors to compressed/fingerprinted cold storage, and shrinks generated
// summaries to match. Grounded on the teacher's maintenance sweep shape
// (sample -> transform -> batch-commit -> log a stat row), generalized from
// a single table scan to per-tenant, per-segment random-window sampling and
// the tiered compression policy of spec.md §4.6/§4.7.
package decay

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hsgraph/hsg/internal/tokenize"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

const millisPerDay = 24 * 60 * 60 * 1000

// Config bundles the Decay Worker's tunables from spec.md §6.
type Config struct {
	SegmentCount  int           // S: must match the segment count memories were sampled into on write
	DecayRatio    float64       // fraction of a segment sampled per run, default 0.2
	ColdThreshold float64       // floor compared against max(0.3, ColdThreshold) for fingerprinting
	Cooldown      time.Duration // minimum time between runs, default 60s
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		SegmentCount:  16,
		DecayRatio:    0.2,
		ColdThreshold: 0.3,
		Cooldown:      60 * time.Second,
	}
}

// Stats is the per-run counter set spec.md §4.7 step 5 logs.
type Stats struct {
	Processed     int
	Decayed       int
	Compressed    int
	Fingerprinted int
	TiersHot      int
	TiersWarm     int
	TiersCold     int
	Skipped       bool
}

// Worker runs the periodic decay sweep.
type Worker struct {
	tables  *tablestore.Store
	vectors *vectorstore.Store
	box     *cryptobox.Box
	cfg     Config
	log     logging.Logger

	mu      sync.Mutex
	lastRun time.Time

	activeQueries func() int
	now           func() time.Time
	randIntn      func(n int) int
}

// New builds a Worker. activeQueries, if non-nil, is polled at the start of
// each Run to honor spec.md §4.7 step 1's "skip if active query count > 0"
// gate; log may be nil.
func New(tables *tablestore.Store, vectors *vectorstore.Store, box *cryptobox.Box, cfg Config, log logging.Logger, activeQueries func() int) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{
		tables:        tables,
		vectors:       vectors,
		box:           box,
		cfg:           cfg,
		log:           log,
		activeQueries: activeQueries,
		now:           time.Now,
		randIntn:      rand.Intn,
	}
}

// Run executes one decay sweep across every tenant (including the global
// bucket) and segment, per spec.md §4.7.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	w.mu.Lock()
	if w.activeQueries != nil && w.activeQueries() > 0 {
		w.mu.Unlock()
		w.log.Debugw("decay.Run: skipped, active query in flight")
		return Stats{Skipped: true}, nil
	}
	now := w.now()
	if !w.lastRun.IsZero() && now.Sub(w.lastRun) < w.cfg.Cooldown {
		w.mu.Unlock()
		w.log.Debugw("decay.Run: skipped, within cooldown")
		return Stats{Skipped: true}, nil
	}
	w.lastRun = now
	w.mu.Unlock()

	tenants, err := w.tables.ListTenants(ctx)
	if err != nil {
		return Stats{}, err
	}
	scopes := make([]*string, 0, len(tenants)+1)
	scopes = append(scopes, nil) // the global/system bucket
	for i := range tenants {
		scopes = append(scopes, &tenants[i])
	}

	segmentCount := w.cfg.SegmentCount
	if segmentCount <= 0 {
		segmentCount = 1
	}

	var stats Stats
	for _, tenantID := range scopes {
		for seg := 0; seg < segmentCount; seg++ {
			mems, err := w.tables.ListBySegment(ctx, tenantID, []int{seg})
			if err != nil {
				w.log.Warnw("decay.Run: failed to list segment", "segment", seg, "error", err)
				continue
			}
			total := len(mems)
			if total == 0 {
				continue
			}
			windowSize := int(math.Ceil(float64(total) * w.cfg.DecayRatio))
			if windowSize < 1 {
				windowSize = 1
			}
			if windowSize > total {
				windowSize = total
			}
			offset := 0
			if total > 1 {
				offset = w.randIntn(total)
			}
			for _, mem := range sampleWindow(mems, offset, windowSize) {
				w.decayOne(ctx, mem, &stats)
				runtime.Gosched() // cooperative yield between memories (step 4)
			}
		}
	}

	statTime := w.now()
	st := &model.MaintenanceStat{
		ID:        newStatID(statTime),
		Type:      "decay",
		Count:     int64(stats.Processed),
		Timestamp: statTime.UnixMilli(),
	}
	if err := w.tables.PutStat(ctx, st); err != nil {
		w.log.Warnw("decay.Run: failed to log maintenance stat", "error", err)
	}
	w.log.Infow("decay.Run completed",
		"processed", stats.Processed, "decayed", stats.Decayed,
		"compressed", stats.Compressed, "fingerprinted", stats.Fingerprinted,
		"tiersHot", stats.TiersHot, "tiersWarm", stats.TiersWarm, "tiersCold", stats.TiersCold)
	return stats, nil
}

// newStatID generates a time-sortable id for a maintenance stat row, so rows
// created in the same run naturally order by id as well as timestamp.
func newStatID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// sampleWindow returns a contiguous window of size from mems starting at
// offset, wrapping around the end of the slice (spec.md §4.7 step 2).
func sampleWindow(mems []*model.Memory, offset, size int) []*model.Memory {
	total := len(mems)
	if size >= total {
		return mems
	}
	out := make([]*model.Memory, size)
	for i := 0; i < size; i++ {
		out[i] = mems[(offset+i)%total]
	}
	return out
}

// decayOne applies one memory's tier assignment, salience decay, cold-vector
// compression/fingerprinting, and summary compression (spec.md §4.7 step 3).
func (w *Worker) decayOne(ctx context.Context, mem *model.Memory, stats *Stats) {
	now := w.now().UnixMilli()
	deltaDays := float64(now-mem.LastSeenAt) / millisPerDay
	if deltaDays < 0 {
		deltaDays = 0
	}

	tier, lambda := dynamics.AssignTier(deltaDays, mem.Salience, mem.Coactivations)
	switch tier {
	case dynamics.TierHot:
		stats.TiersHot++
	case dynamics.TierWarm:
		stats.TiersWarm++
	default:
		stats.TiersCold++
	}

	oldSalience := mem.Salience
	newSalience, f := dynamics.DecayStep(mem.Salience, mem.Coactivations, deltaDays, lambda)

	expected := mem.Version
	mem.Salience = newSalience
	mem.DecayLambda = lambda
	mem.UpdatedAt = now

	fingerprinted := false
	if dynamics.ShouldCompress(f) {
		if w.compressVectors(ctx, mem, f) {
			stats.Compressed++
		}
		if dynamics.ShouldFingerprint(f, w.cfg.ColdThreshold) {
			fingerprinted = true
		}
	}

	decrypted, derr := w.decryptContent(mem)
	if derr == nil {
		if fingerprinted {
			mem.GeneratedSummary = topKeywords(decrypted, 3)
		} else {
			mem.GeneratedSummary = summarize(decrypted, dynamics.SummaryTierFor(f))
		}
	}
	if fingerprinted {
		stats.Fingerprinted++
	}

	if err := w.tables.UpdateMemory(ctx, mem, expected); err != nil {
		w.log.Warnw("decay.decayOne: failed to commit salience update", "memId", mem.ID, "error", err)
		return
	}
	stats.Processed++
	if newSalience < oldSalience {
		stats.Decayed++
	}
}

// compressVectors pools every live sector vector belonging to mem into its
// "_cold" counterpart (or a deterministic fingerprint, if f also clears the
// fingerprint threshold) and drops the live entry. Returns whether any
// vector was compressed.
func (w *Worker) compressVectors(ctx context.Context, mem *model.Memory, f float64) bool {
	vecs, err := w.vectors.GetByMemID(ctx, mem.ID)
	if err != nil {
		w.log.Warnw("decay.compressVectors: failed to load sector vectors", "memId", mem.ID, "error", err)
		return false
	}
	fingerprint := dynamics.ShouldFingerprint(f, w.cfg.ColdThreshold)
	compressedAny := false
	for _, v := range vecs {
		if v.Sector.IsCold() {
			continue
		}
		pooled := dynamics.CompressVector(v.Vector, f)
		if fingerprint {
			pooled = encoder.Fallback(fingerprintSeed(mem.ID, v.Sector), encoder.FallbackDim)
		}
		coldSector := v.Sector.Cold()
		if err := w.vectors.Put(ctx, &model.SectorVector{
			MemoryID:  mem.ID,
			Sector:    coldSector,
			TenantID:  mem.TenantID,
			Vector:    pooled,
			Dim:       len(pooled),
			UpdatedAt: mem.UpdatedAt,
		}); err != nil {
			w.log.Warnw("decay.compressVectors: failed to write cold vector", "memId", mem.ID, "sector", v.Sector, "error", err)
			continue
		}
		if err := w.vectors.Delete(ctx, mem.ID, v.Sector); err != nil {
			w.log.Warnw("decay.compressVectors: failed to drop live vector after compression", "memId", mem.ID, "sector", v.Sector, "error", err)
		}
		compressedAny = true
	}
	return compressedAny
}

func fingerprintSeed(memID string, sector model.Sector) string {
	return memID + "\x00" + string(sector)
}

func (w *Worker) decryptContent(mem *model.Memory) (string, error) {
	if w.box == nil {
		return "", cryptobox.ErrDecryptFailed
	}
	return w.box.OpenString([]byte(mem.Content))
}

// summarize applies spec.md §4.7's summary compression policy for the given
// tier.
func summarize(text string, tier dynamics.SummaryTier) string {
	switch tier {
	case dynamics.SummaryFull:
		return truncate(text, 200)
	case dynamics.SummaryExtractive:
		return extractiveSummary(text)
	default:
		return topKeywords(text, 3)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractiveSummary keeps leading sentences until the result falls in the
// spec's 80-200 char band, truncating to 200 if a single sentence overruns.
func extractiveSummary(text string) string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			sentences = append(sentences, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	if len(sentences) == 0 {
		return truncate(text, 200)
	}
	out := ""
	for _, s := range sentences {
		candidate := out + s
		out = candidate
		if len(out) >= 80 {
			break
		}
	}
	return truncate(out, 200)
}

// topKeywords picks the k most frequent canonical tokens in text, in
// descending-frequency then lexical order, space-joined.
func topKeywords(text string, k int) string {
	counts := make(map[string]int)
	for _, tok := range tokenize.Tokens(text) {
		counts[tok]++
	}
	type kv struct {
		tok   string
		count int
	}
	list := make([]kv, 0, len(counts))
	for tok, c := range counts {
		list = append(list, kv{tok, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].tok < list[j].tok
	})
	if len(list) > k {
		list = list[:k]
	}
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.tok
	}
	return joinSpace(out)
}

func joinSpace(toks []string) string {
	out := ""
	for i, t := range toks {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
