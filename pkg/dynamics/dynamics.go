// Package dynamics implements the Dynamics Engine (C8, spec.md §4.6): the
// pure-function salience math shared by HSG Writer/Query and the Decay
// Worker — dual-phase decay, tier assignment, reinforcement, cross-sector
// resonance, waypoint weighting, spreading activation, and cold-vector
// compression. Nothing in this package performs I/O; callers pass in
// whatever state (now, memory fields, neighbor lists) the formulas need.
// Grounded on the teacher's similarity.go (cosine/Euclidean helpers, the
// only numeric-kernel precedent in the corpus) for the package's
// pure-math-function style.
package dynamics

import (
	"math"
	"sort"

	"github.com/hsgraph/hsg/pkg/model"
)

// Global dual-phase decay constants (spec.md §4.6).
const (
	FastLambda = 0.2   // λ₁: fast phase, much greater than the per-sector slow rate
	Alpha      = 0.6   // weight of the fast phase in the decay mixture
)

// Tier lambdas (spec.md §4.6).
const (
	LambdaHot  = 0.005
	LambdaWarm = 0.02
	LambdaCold = 0.05
)

// Spreading activation / waypoint constants (spec.md §4.6).
const (
	Gamma               = 0.5  // attenuation per hop
	ActivationThreshold = 0.05 // τ: terminate below this energy
	WaypointWriteFloor  = 0.05
	WaypointPruneFloor  = 0.02
)

// Tier is one of the three salience tiers a memory is assigned to.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// Retained computes the dual-phase decay factor applied to salience s after
// d days have elapsed, with per-sector slow rate lambda (spec.md §4.6):
// retained(s,d,λ) = s·(α·exp(-λ₁·d) + (1-α)·exp(-λ₂·d)).
func Retained(s, days, lambda float64) float64 {
	fast := Alpha * math.Exp(-FastLambda*days)
	slow := (1 - Alpha) * math.Exp(-lambda*days)
	return s * (fast + slow)
}

// AssignTier picks hot/warm/cold for a memory given elapsed days since last
// seen, its current salience, and its coactivation count (spec.md §4.6).
func AssignTier(deltaDays float64, salience float64, coactivations int64) (Tier, float64) {
	recent := deltaDays < 6
	if recent && (coactivations > 5 || salience > 0.7) {
		return TierHot, LambdaHot
	}
	if recent || salience > 0.4 {
		return TierWarm, LambdaWarm
	}
	return TierCold, LambdaCold
}

// DecayStep computes the new salience after one decay tick (spec.md §4.6):
// sal_eff = clamp(sal·(1+log1p(coact)),0,1); f = exp(-λ·(Δdays/(sal_eff+0.1)));
// newSal = clamp(sal_eff·f,0,1). f is also returned for the compression
// trigger the Decay Worker applies.
func DecayStep(salience float64, coactivations int64, deltaDays, lambda float64) (newSalience, f float64) {
	salEff := clamp01(salience * (1 + math.Log1p(float64(coactivations))))
	f = math.Exp(-lambda * (deltaDays / (salEff + 0.1)))
	return clamp01(salEff * f), f
}

// Reinforce applies a reinforcement boost to salience, capped at 1.
func Reinforce(salience, boost float64) float64 {
	return math.Min(1, salience+boost)
}

// ResonanceMatrix is an 8x8 table (indexed by model.Sector.Index()) scoring
// how strongly a hit in memSector should count toward a query issued
// against querySector (spec.md §4.5 step 4, §4.6). Diagonal is always 1.0.
type ResonanceMatrix [8][8]float64

// DefaultResonanceMatrix returns the resonance matrix (spec.md §4.6):
// diagonal 1.0, every off-diagonal pair at a moderate 0.35,
// with a handful of intuitively related sector pairs raised to 0.5-0.7.
// No configuration key overrides its cells; the HSG engine always uses this
// matrix as built here.
func DefaultResonanceMatrix() ResonanceMatrix {
	var m ResonanceMatrix
	for i := range m {
		for j := range m {
			if i == j {
				m[i][j] = 1.0
			} else {
				m[i][j] = 0.35
			}
		}
	}
	raise := func(a, b model.Sector, v float64) {
		m[a.Index()][b.Index()] = v
		m[b.Index()][a.Index()] = v
	}
	raise(model.SectorEpisodic, model.SectorTemporal, 0.7)
	raise(model.SectorEpisodic, model.SectorReflective, 0.6)
	raise(model.SectorProcedural, model.SectorContextual, 0.6)
	raise(model.SectorEmotional, model.SectorReflective, 0.6)
	raise(model.SectorSensory, model.SectorEpisodic, 0.55)
	raise(model.SectorSemantic, model.SectorReflective, 0.5)
	return m
}

// Resonance returns M[memSector][querySector], or 0 if either sector is
// unknown.
func (m ResonanceMatrix) Resonance(memSector, querySector model.Sector) float64 {
	if !memSector.Valid() || !querySector.Valid() {
		return 0
	}
	return m[memSector.Index()][querySector.Index()]
}

// ApplyResonance multiplies baseSim by the resonance between the two
// sectors (spec.md §4.6: score' = baseSim · M[memSec][querySec]).
func (m ResonanceMatrix) ApplyResonance(baseSim float64, memSector, querySector model.Sector) float64 {
	return baseSim * m.Resonance(memSector, querySector)
}

// waypointTauDays is τ_edge expressed in days (spec.md §4.6: 30 days).
const waypointTauDays = 30.0

// WaypointWeight computes w(a,b,Δt) = cosine(a,b)·exp(-Δt/τ_edge) for two
// sector vectors separated by deltaDays (spec.md §4.6).
func WaypointWeight(cosine float64, deltaDays float64) float64 {
	return cosine * math.Exp(-deltaDays/waypointTauDays)
}

// ShouldWriteWaypoint reports whether a freshly computed weight clears the
// write floor (spec.md §4.6: weights below 0.05 are not written).
func ShouldWriteWaypoint(weight float64) bool {
	return weight >= WaypointWriteFloor
}

// ShouldPruneWaypoint reports whether an existing waypoint's weight has
// fallen below the prune floor (spec.md §4.6: existing ones below 0.02 are
// pruned weekly).
func ShouldPruneWaypoint(weight float64) bool {
	return weight < WaypointPruneFloor
}

// ActivationEdge is one outgoing edge considered during spreading
// activation.
type ActivationEdge struct {
	DstID  string
	Weight float64
}

// ActivationNeighbors resolves the outgoing edges of a memory id during
// spreading activation BFS.
type ActivationNeighbors func(id string) []ActivationEdge

// SpreadActivation runs the spec.md §4.6/§4.5 step 6 BFS: starting from
// seeds with their initial energies, propagate energy to waypoint
// neighbors with attenuation Gamma per hop, terminating a branch once its
// energy falls below ActivationThreshold, for at most maxIter hops.
// Returns the highest energy reached for every visited memory id,
// including the seeds themselves.
func SpreadActivation(seeds map[string]float64, neighbors ActivationNeighbors, maxIter int) map[string]float64 {
	energies := make(map[string]float64, len(seeds))
	for id, e := range seeds {
		energies[id] = e
	}

	frontier := make(map[string]float64, len(seeds))
	for id, e := range seeds {
		frontier[id] = e
	}

	for hop := 0; hop < maxIter && len(frontier) > 0; hop++ {
		next := make(map[string]float64)
		for id, energy := range frontier {
			for _, edge := range neighbors(id) {
				propagated := energy * edge.Weight * Gamma
				if propagated < ActivationThreshold {
					continue
				}
				if propagated > energies[edge.DstID] {
					energies[edge.DstID] = propagated
				}
				if propagated > next[edge.DstID] {
					next[edge.DstID] = propagated
				}
			}
		}
		frontier = next
	}
	return energies
}

// TopK sorts id->energy pairs by descending energy (ties by ascending id)
// and returns at most k of them.
func TopK(energies map[string]float64, k int) []string {
	type scored struct {
		id     string
		energy float64
	}
	scoredList := make([]scored, 0, len(energies))
	for id, e := range energies {
		scoredList = append(scoredList, scored{id, e})
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].energy != scoredList[j].energy {
			return scoredList[i].energy > scoredList[j].energy
		}
		return scoredList[i].id < scoredList[j].id
	})
	if k > 0 && len(scoredList) > k {
		scoredList = scoredList[:k]
	}
	out := make([]string, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.id
	}
	return out
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
