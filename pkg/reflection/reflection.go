// Package reflection implements the Reflection Worker (C10, spec.md §4.8):
// per-tenant clustering of similar memories into a synthesized "reflective"
// memory. Grounded on the teacher's pkg/hindsight/hindsight.go Observe/
// detectPatterns/generalizeFromMemories (group-then-synthesize shape, content
// keyword scan for pattern evidence) and pkg/memory/reflect.go (the
// bank-config wrapping of a synthesis call this package's Synthesizer hook
// generalizes), adapted from entity/keyword grouping to Jaccard-similarity
// clustering and from a fixed prompt template to a pluggable Synthesizer
// with a deterministic fallback.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hsgraph/hsg/internal/tokenize"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/hsg"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
)

const reflectiveRecencyConstantMs = 43_200_000 // 12 hours, spec.md §4.8 step 5
const snippetTruncateChars = 3000
const maxSnippetChars = 200

// Synthesizer turns a cluster of memory snippets into a short insight.
// Best-effort: any error falls back to the deterministic heuristic template
// (spec.md §9 open question 3).
type Synthesizer interface {
	Synthesize(ctx context.Context, sector model.Sector, count int, snippets string) (string, error)
}

// Config bundles the Reflection Worker's tunables from spec.md §6.
type Config struct {
	ReflectMin       int     // minimum tenant memory count before reflecting, default 20
	FetchLimit       int     // most recent memories fetched per tenant, default 100
	JaccardThreshold float64 // cluster-membership threshold, default 0.8
	SalienceBoost    float64 // multiplicative boost applied to source memories, default 1.1
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		ReflectMin:       20,
		FetchLimit:       100,
		JaccardThreshold: 0.8,
		SalienceBoost:    1.1,
	}
}

// Stats is the per-tenant-run result.
type Stats struct {
	Skipped         bool
	MemoriesScanned int
	ClustersFound   int
	ReflectionsMade int
}

// Worker runs the periodic per-tenant reflection sweep.
type Worker struct {
	tables *tablestore.Store
	box    *cryptobox.Box
	writer *hsg.Engine
	synth  Synthesizer
	cfg    Config
	log    logging.Logger
	now    func() time.Time
	secCtx tenancy.Context // the system identity this worker writes reflective memories as
}

// New builds a Worker. synth may be nil, in which case synthesis always uses
// the deterministic heuristic.
func New(tables *tablestore.Store, box *cryptobox.Box, writer *hsg.Engine, synth Synthesizer, cfg Config, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{
		tables: tables,
		box:    box,
		writer: writer,
		synth:  synth,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
		secCtx: tenancy.New(nil, true),
	}
}

// RunAll sweeps every known tenant plus the global bucket (spec.md §4.8: "per
// tenant").
func (w *Worker) RunAll(ctx context.Context) (map[string]Stats, error) {
	tenants, err := w.tables.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Stats, len(tenants)+1)
	stats, err := w.RunTenant(ctx, nil)
	if err != nil {
		w.log.Warnw("reflection.RunAll: global bucket failed", "error", err)
	} else {
		out[""] = stats
	}
	for _, t := range tenants {
		tenantID := t
		stats, err := w.RunTenant(ctx, &tenantID)
		if err != nil {
			w.log.Warnw("reflection.RunAll: tenant failed", "tenant", tenantID, "error", err)
			continue
		}
		out[tenantID] = stats
	}
	return out, nil
}

type analyzedMemory struct {
	mem        *model.Memory
	tokens     map[string]struct{}
	decrypted  string
	visited    bool
	emotional  bool
}

// RunTenant runs one reflection pass for a single tenant scope (nil = global
// bucket), per spec.md §4.8 steps 1-9.
func (w *Worker) RunTenant(ctx context.Context, tenantID *string) (Stats, error) {
	limit := w.cfg.FetchLimit
	if limit <= 0 {
		limit = 100
	}
	mems, err := w.tables.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return Stats{}, err
	}
	if len(mems) < w.cfg.ReflectMin {
		return Stats{Skipped: true}, nil
	}

	analyzed := make([]*analyzedMemory, 0, len(mems))
	for _, mem := range mems {
		if mem.PrimarySector == model.SectorReflective || mem.Metadata.Consolidated {
			continue
		}
		decrypted, derr := w.box.OpenString([]byte(mem.Content))
		if derr != nil {
			continue // decrypt for analysis only; skip what we cannot read
		}
		analyzed = append(analyzed, &analyzedMemory{
			mem:       mem,
			tokens:    tokenize.DocumentSet(decrypted),
			decrypted: decrypted,
			emotional: mem.PrimarySector == model.SectorEmotional,
		})
	}

	clusters := w.buildClusters(analyzed)

	stats := Stats{MemoriesScanned: len(analyzed), ClustersFound: len(clusters)}
	now := w.now()
	for _, cluster := range clusters {
		if err := w.reflectCluster(ctx, tenantID, cluster, now); err != nil {
			w.log.Warnw("reflection.RunTenant: failed to synthesize cluster", "tenant", tenantID, "error", err)
			continue
		}
		stats.ReflectionsMade++
	}

	if err := w.tables.PutStat(ctx, &model.MaintenanceStat{
		ID:        newStatID(now),
		Type:      "reflect",
		Count:     int64(stats.ReflectionsMade),
		Timestamp: now.UnixMilli(),
	}); err != nil {
		w.log.Warnw("reflection.RunTenant: failed to log maintenance stat", "error", err)
	}
	return stats, nil
}

// newStatID generates a time-sortable id for a maintenance stat row.
func newStatID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// buildClusters implements spec.md §4.8 step 4: for each unvisited memory M,
// scan other unvisited memories of the same primary sector and accept into
// M's cluster if Jaccard similarity exceeds the threshold. Clusters with
// fewer than 2 members are discarded.
func (w *Worker) buildClusters(analyzed []*analyzedMemory) [][]*analyzedMemory {
	var clusters [][]*analyzedMemory
	for i, seed := range analyzed {
		if seed.visited {
			continue
		}
		cluster := []*analyzedMemory{seed}
		seed.visited = true
		for j := i + 1; j < len(analyzed); j++ {
			cand := analyzed[j]
			if cand.visited || cand.mem.PrimarySector != seed.mem.PrimarySector {
				continue
			}
			if tokenize.Jaccard(seed.tokens, cand.tokens) > w.cfg.JaccardThreshold {
				cluster = append(cluster, cand)
				cand.visited = true
			}
		}
		if len(cluster) >= 2 {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// reflectCluster computes reflective salience, synthesizes the insight text,
// writes the new reflective memory, and marks sources consolidated (spec.md
// §4.8 steps 5-8).
func (w *Worker) reflectCluster(ctx context.Context, tenantID *string, cluster []*analyzedMemory, now time.Time) error {
	sector := cluster[0].mem.PrimarySector
	count := len(cluster)

	var recencySum float64
	hasEmotional := false
	sourceIDs := make([]string, count)
	snippets := make([]string, count)
	for i, am := range cluster {
		deltaMs := float64(now.UnixMilli() - am.mem.CreatedAt)
		recencySum += expNeg(deltaMs / reflectiveRecencyConstantMs)
		if am.emotional {
			hasEmotional = true
		}
		sourceIDs[i] = am.mem.ID
		snippets[i] = am.decrypted
	}
	meanRecency := recencySum / float64(count)
	emotionalTerm := 0.0
	if hasEmotional {
		emotionalTerm = 1.0
	}
	salience := clamp01(0.6*(float64(count)/10.0) + 0.3*meanRecency + 0.1*emotionalTerm)

	concatenated := strings.Join(snippets, " ")
	if len(concatenated) > snippetTruncateChars {
		concatenated = concatenated[:snippetTruncateChars]
	}

	insight := w.synthesize(ctx, sector, count, concatenated, snippets)

	iso := now.UTC().Format(time.RFC3339)
	metadata := model.MemoryMetadata{
		Type:      "auto_reflect",
		Sources:   sourceIDs,
		Frequency: count,
		At:        iso,
	}
	if tenantID != nil {
		if raw, err := json.Marshal(*tenantID); err == nil {
			metadata.Extras = map[string]json.RawMessage{"tenantId": raw}
		}
	}
	created, err := w.writer.AddToSector(ctx, w.secCtx, insight, model.SectorReflective, []string{"reflect:auto"}, metadata, tenantID)
	if err != nil {
		return err
	}
	expected := created.Version
	created.Salience = salience
	created.Version = expected + 1
	if err := w.tables.UpdateMemory(ctx, created, expected); err != nil {
		w.log.Warnw("reflection.reflectCluster: failed to set reflective salience", "memId", created.ID, "error", err)
	}

	return w.consolidateSources(ctx, cluster, now.UnixMilli())
}

// synthesize attempts the injected LLM Synthesizer and falls back to the
// deterministic heuristic template on any error or absence (spec.md §4.8
// step 6, §9 open question 3).
func (w *Worker) synthesize(ctx context.Context, sector model.Sector, count int, concatenated string, snippets []string) string {
	if w.synth != nil {
		text, err := w.synth.Synthesize(ctx, sector, count, concatenated)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		w.log.Warnw("reflection.synthesize: LLM synthesis failed, using heuristic fallback", "error", err)
	}
	return heuristicInsight(sector, count, snippets)
}

// heuristicInsight builds the deterministic fallback template: "N {sector}
// pattern detected: {first-200-chars-joined}".
func heuristicInsight(sector model.Sector, count int, snippets []string) string {
	joined := strings.Join(snippets, " ")
	if len(joined) > maxSnippetChars {
		joined = joined[:maxSnippetChars]
	}
	return fmt.Sprintf("%d %s pattern detected: %s", count, sector, joined)
}

// consolidateSources marks every source memory consolidated, refreshes
// lastSeenAt, and boosts salience ×1.1 clamped (spec.md §4.8 step 8).
func (w *Worker) consolidateSources(ctx context.Context, cluster []*analyzedMemory, nowMs int64) error {
	for _, am := range cluster {
		mem := am.mem
		expected := mem.Version
		mem.Metadata.Consolidated = true
		mem.LastSeenAt = nowMs
		mem.UpdatedAt = nowMs
		boost := w.cfg.SalienceBoost
		if boost <= 0 {
			boost = 1.1
		}
		mem.Salience = dynamics.Reinforce(mem.Salience, mem.Salience*(boost-1))
		mem.Version = expected + 1
		if err := w.tables.UpdateMemory(ctx, mem, expected); err != nil {
			w.log.Warnw("reflection.consolidateSources: failed to mark consolidated", "memId", mem.ID, "error", err)
		}
	}
	return nil
}

func expNeg(x float64) float64 {
	if x < 0 {
		x = 0
	}
	return math.Exp(-x)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
