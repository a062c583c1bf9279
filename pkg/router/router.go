// Package router implements the Sector Router (C5, spec.md §4.3): given
// text and optional hints, decides a memory's primary and secondary
// sectors. Classifier-first when a trained per-tenant model exists and is
// confident; otherwise deterministic keyword/regex heuristics, grounded on
// the same token-scoring idiom internal/tokenize uses for the keyword
// fallback search path.
package router

import (
	"context"
	"sort"

	"github.com/hsgraph/hsg/internal/tokenize"
	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/model"
)

// SecondaryThreshold is the minimum heuristic score (spec.md §4.3) for a
// non-primary sector to be reported as secondary.
const SecondaryThreshold = 0.3

// MaxSecondary caps how many secondary sectors are returned.
const MaxSecondary = 3

// Result is the router's decision for one piece of text.
type Result struct {
	PrimarySector     model.Sector
	SecondarySectors  []model.Sector
	UsedClassifier    bool
	ClassifierScore   float64
}

// keywordSets are the heuristic trigger words per sector, matched against
// canonicalized tokens. Sectors absent here (e.g. contextual) never win the
// heuristic pass and fall through to the semantic default.
var keywordSets = map[model.Sector][]string{
	model.SectorProcedural: {"step", "how", "run", "build", "deploy", "configure", "install", "execute", "command", "script", "fix", "debug"},
	model.SectorEmotional:  {"love", "hate", "happy", "sad", "angry", "excite", "worri", "afraid", "frustrat", "anxious", "grateful"},
	model.SectorEpisodic:   {"yesterday", "today", "tomorrow", "ago", "last", "week", "month", "year", "when", "remember", "happen"},
	model.SectorReflective: {"realize", "learn", "insight", "pattern", "reflect", "notice", "conclud", "summary"},
	model.SectorSensory:    {"see", "hear", "smell", "taste", "touch", "look", "sound", "color", "bright", "loud"},
	model.SectorTemporal:   {"schedule", "deadline", "duration", "before", "after", "during", "until", "since"},
}

// Router decides sector assignment, consulting a Classifier when available.
type Router struct {
	classifier *classifier.Classifier
}

// New returns a Router. classifier may be nil (heuristics only).
func New(c *classifier.Classifier) *Router {
	return &Router{classifier: c}
}

// Route decides sectors for text. meanVec, if non-empty, is passed to the
// classifier (spec.md §4.3 step 1); tenantID selects the per-tenant model.
func (r *Router) Route(ctx context.Context, tenantID string, text string, meanVec []float32) (Result, error) {
	if r.classifier != nil && len(meanVec) > 0 {
		pred, err := r.classifier.Predict(ctx, tenantID, meanVec)
		if err != nil {
			return Result{}, err
		}
		if pred != nil && pred.Confidence >= classifier.ConfidenceThreshold {
			return Result{
				PrimarySector:   pred.Sector,
				SecondarySectors: secondaryFromScores(pred.Sector, pred.Scores),
				UsedClassifier:  true,
				ClassifierScore: pred.Confidence,
			}, nil
		}
	}
	return heuristicRoute(text), nil
}

func secondaryFromScores(primary model.Sector, scores map[model.Sector]float64) []model.Sector {
	type scored struct {
		sector model.Sector
		score  float64
	}
	var candidates []scored
	for sector, score := range scores {
		if sector == primary || score < SecondaryThreshold {
			continue
		}
		candidates = append(candidates, scored{sector, score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > MaxSecondary {
		candidates = candidates[:MaxSecondary]
	}
	out := make([]model.Sector, len(candidates))
	for i, c := range candidates {
		out[i] = c.sector
	}
	return out
}

// heuristicRoute applies the spec.md §4.3 step 2/3 keyword/regex fallback:
// score each known sector by the fraction of its trigger stems present in
// the canonicalized token set, pick the highest as primary (default
// semantic), and report every other sector above SecondaryThreshold.
func heuristicRoute(text string) Result {
	tokens := tokenize.CanonicalSet(text)
	if len(tokens) == 0 {
		return Result{PrimarySector: model.SectorSemantic}
	}

	scores := make(map[model.Sector]float64, len(keywordSets))
	for sector, keywords := range keywordSets {
		scores[sector] = heuristicScore(tokens, keywords)
	}

	best := model.SectorSemantic
	bestScore := 0.0
	for sector, score := range scores {
		if score > bestScore {
			bestScore = score
			best = sector
		}
	}

	return Result{
		PrimarySector:    best,
		SecondarySectors: secondaryFromScores(best, scores),
	}
}

// heuristicScore counts how many of a sector's trigger words appear as a
// prefix of some token in the set, normalized by the number of triggers.
func heuristicScore(tokens map[string]struct{}, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	var hits int
	for _, kw := range keywords {
		for tok := range tokens {
			if hasPrefix(tok, kw) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(keywords))
}

func hasPrefix(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}
