// Package usersummary implements the User Summary Worker (C11, spec.md §4.9):
// periodic per-tenant profile synthesis from recent memory metadata. Grounded
// on the teacher's pkg/hindsight/hindsight.go formatContext (heuristic
// summarization by grouping memory metadata) and BankConfig (persona-shaped
// profile fields), generalized from a fixed persona template to an
// IDE-activity heuristic, with an optional LLM Generator hook mirroring the
// Reflection Worker's best-effort Synthesizer pattern (spec.md §9 open
// question 3's "best-effort, falls back to heuristic" decision applied
// consistently here).
package usersummary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
)

const maxConcurrentTenants = 5

// Generator produces a short professional-profile summary from a prompt
// built out of compressed recent-activity text. Best-effort: any error falls
// back to the deterministic heuristic.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config bundles the User Summary Worker's tunables from spec.md §6.
type Config struct {
	FetchLimit int // most recent memories fetched per tenant, default 50
}

// DefaultConfig returns spec.md's stated default.
func DefaultConfig() Config {
	return Config{FetchLimit: 50}
}

// Stats is the run-wide result of a sweep across every active tenant.
type Stats struct {
	TenantsScanned   int
	ProfilesWritten  int
	ProfilesSkipped  int
}

// Worker runs the periodic per-tenant profile synthesis sweep.
type Worker struct {
	tables *tablestore.Store
	box    *cryptobox.Box
	gen    Generator
	cfg    Config
	log    logging.Logger
	now    func() time.Time
}

// New builds a Worker. gen may be nil, in which case synthesis always uses
// the deterministic heuristic.
func New(tables *tablestore.Store, box *cryptobox.Box, gen Generator, cfg Config, log logging.Logger) *Worker {
	if log == nil {
		log = logging.Nop()
	}
	return &Worker{tables: tables, box: box, gen: gen, cfg: cfg, log: log, now: time.Now}
}

// Run sweeps every tenant (plus the global bucket) with a concurrency cap of
// 5 tenants in flight (spec.md §4.9 last sentence).
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	tenants, err := w.tables.ListTenants(ctx)
	if err != nil {
		return Stats{}, err
	}
	scopes := make([]*string, 0, len(tenants)+1)
	scopes = append(scopes, nil)
	for _, t := range tenants {
		tenantID := t
		scopes = append(scopes, &tenantID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTenants)

	stats := Stats{TenantsScanned: len(scopes)}
	results := make(chan bool, len(scopes))
	for _, scope := range scopes {
		scope := scope
		g.Go(func() error {
			wrote, err := w.runTenant(gctx, scope)
			if err != nil {
				w.log.Warnw("usersummary.Run: tenant failed", "tenant", scope, "error", err)
				results <- false
				return nil // a single tenant's failure must not abort the sweep
			}
			results <- wrote
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for wrote := range results {
		if wrote {
			stats.ProfilesWritten++
		} else {
			stats.ProfilesSkipped++
		}
	}
	return stats, nil
}

func (w *Worker) runTenant(ctx context.Context, tenantID *string) (bool, error) {
	limit := w.cfg.FetchLimit
	if limit <= 0 {
		limit = 50
	}
	mems, err := w.tables.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return false, err
	}
	if len(mems) == 0 {
		return false, nil
	}

	summary := w.synthesize(ctx, mems)
	now := w.now()
	key := ""
	if tenantID != nil {
		key = *tenantID
	}

	existing, err := w.tables.GetUserProfile(ctx, key)
	reflectionCount := int64(1)
	createdAt := now.UnixMilli()
	if err == nil {
		reflectionCount = existing.ReflectionCount + 1
		createdAt = existing.CreatedAt
	}

	profile := &model.UserProfile{
		TenantID:        key,
		Summary:         summary,
		ReflectionCount: reflectionCount,
		CreatedAt:       createdAt,
		UpdatedAt:       now.UnixMilli(),
	}
	if err := w.tables.PutUserProfile(ctx, profile); err != nil {
		return false, err
	}
	return true, nil
}

// synthesize runs the LLM path (local compression, then a short prompt) if a
// Generator is configured, falling back to the metadata heuristic on any
// error or absence.
func (w *Worker) synthesize(ctx context.Context, mems []*model.Memory) string {
	if w.gen != nil {
		compressed := w.compressSnippets(mems)
		prompt := buildPrompt(compressed)
		text, err := w.gen.Generate(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		w.log.Warnw("usersummary.synthesize: LLM generation failed, using heuristic fallback", "error", err)
	}
	return heuristicProfile(mems)
}

// compressSnippets decrypts each memory for analysis only (never persisted)
// and truncates to a short per-memory excerpt, the "run local compression
// first" step of spec.md §4.9.
func (w *Worker) compressSnippets(mems []*model.Memory) []string {
	const perMemoryChars = 120
	out := make([]string, 0, len(mems))
	for _, mem := range mems {
		text, err := w.box.OpenString([]byte(mem.Content))
		if err != nil {
			continue
		}
		if len(text) > perMemoryChars {
			text = text[:perMemoryChars]
		}
		out = append(out, text)
	}
	return out
}

func buildPrompt(snippets []string) string {
	return fmt.Sprintf(
		"Write a 2-3 sentence professional profile summarizing this person's recent work, based on these activity notes:\n%s",
		strings.Join(snippets, "\n"),
	)
}

// heuristicProfile combines unique project names, languages, file names, and
// event counts extracted from memory metadata (spec.md §4.9's stated
// fallback).
func heuristicProfile(mems []*model.Memory) string {
	projects := map[string]struct{}{}
	files := map[string]struct{}{}
	languages := map[string]struct{}{}
	eventCounts := map[string]int{}

	for _, mem := range mems {
		md := mem.Metadata
		if md.IDEProjectName != "" {
			projects[md.IDEProjectName] = struct{}{}
		}
		if md.IDEFilePath != "" {
			files[md.IDEFilePath] = struct{}{}
			if lang := languageForPath(md.IDEFilePath); lang != "" {
				languages[lang] = struct{}{}
			}
		}
		if md.IDEEventType != "" {
			eventCounts[md.IDEEventType]++
		}
	}

	if len(projects) == 0 && len(files) == 0 && len(eventCounts) == 0 {
		return fmt.Sprintf("Active across %d recent memories; no IDE activity metadata available.", len(mems))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active across %d project(s)", len(projects))
	if names := sortedKeys(projects); len(names) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
	}
	if langs := sortedKeys(languages); len(langs) > 0 {
		fmt.Fprintf(&b, ", working in %s", strings.Join(langs, ", "))
	}
	fmt.Fprintf(&b, ". Touched %d file(s) across %d recent memories.", len(files), len(mems))
	if len(eventCounts) > 0 {
		b.WriteString(" Event activity: ")
		b.WriteString(strings.Join(formatCounts(eventCounts), ", "))
		b.WriteString(".")
	}
	return b.String()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatCounts(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s x%d", k, counts[k]))
	}
	return out
}

var extToLanguage = map[string]string{
	".go":   "Go",
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".js":   "JavaScript",
	".jsx":  "JavaScript",
	".py":   "Python",
	".rb":   "Ruby",
	".rs":   "Rust",
	".java": "Java",
	".kt":   "Kotlin",
	".c":    "C",
	".cpp":  "C++",
	".cc":   "C++",
	".h":    "C/C++",
	".cs":   "C#",
	".php":  "PHP",
	".swift": "Swift",
	".sh":   "Shell",
	".sql":  "SQL",
	".yaml": "YAML",
	".yml":  "YAML",
	".json": "JSON",
	".md":   "Markdown",
}

func languageForPath(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return extToLanguage[strings.ToLower(path[idx:])]
}
