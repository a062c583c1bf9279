package dynamics

import (
	"math"
	"testing"

	"github.com/hsgraph/hsg/pkg/model"
)

func TestRetainedDecaysTowardZero(t *testing.T) {
	immediate := Retained(1.0, 0, LambdaWarm)
	if math.Abs(immediate-1.0) > 1e-9 {
		t.Fatalf("Retained at d=0 should equal s, got %v", immediate)
	}
	later := Retained(1.0, 30, LambdaWarm)
	if later >= immediate {
		t.Fatalf("expected decay over time, got immediate=%v later=%v", immediate, later)
	}
	if later < 0 {
		t.Fatalf("retained salience must not go negative, got %v", later)
	}
}

func TestAssignTierHotWarmCold(t *testing.T) {
	tier, lambda := AssignTier(1, 1.0, 10)
	if tier != TierHot || lambda != LambdaHot {
		t.Fatalf("expected hot tier for recent+high-coactivation memory, got %s", tier)
	}

	tier, lambda = AssignTier(2, 0.5, 0)
	if tier != TierWarm || lambda != LambdaWarm {
		t.Fatalf("expected warm tier for recent memory, got %s", tier)
	}

	tier, lambda = AssignTier(30, 0.1, 0)
	if tier != TierCold || lambda != LambdaCold {
		t.Fatalf("expected cold tier for old low-salience memory, got %s", tier)
	}
}

func TestDecayStepClampsToUnitInterval(t *testing.T) {
	newSal, f := DecayStep(0.9, 20, 100, LambdaCold)
	if newSal < 0 || newSal > 1 {
		t.Fatalf("newSalience out of [0,1]: %v", newSal)
	}
	if f < 0 || f > 1 {
		t.Fatalf("f out of [0,1]: %v", f)
	}
}

func TestReinforceCapsAtOne(t *testing.T) {
	if got := Reinforce(0.9, 0.5); got != 1.0 {
		t.Fatalf("Reinforce should cap at 1.0, got %v", got)
	}
}

func TestResonanceMatrixDiagonalIsOne(t *testing.T) {
	m := DefaultResonanceMatrix()
	for _, sector := range model.AllSectors {
		if got := m.Resonance(sector, sector); got != 1.0 {
			t.Fatalf("expected diagonal resonance 1.0 for %s, got %v", sector, got)
		}
	}
}

func TestWaypointWriteAndPruneFloors(t *testing.T) {
	w := WaypointWeight(1.0, 0)
	if !ShouldWriteWaypoint(w) {
		t.Fatalf("expected a fresh cosine=1 waypoint to clear the write floor, got %v", w)
	}
	stale := WaypointWeight(0.01, 365)
	if !ShouldPruneWaypoint(stale) {
		t.Fatalf("expected a stale low-similarity waypoint to be pruned, got %v", stale)
	}
}

func TestSpreadActivationAttenuatesAndTerminates(t *testing.T) {
	graph := map[string][]ActivationEdge{
		"a": {{DstID: "b", Weight: 1.0}},
		"b": {{DstID: "c", Weight: 1.0}},
		"c": {{DstID: "d", Weight: 1.0}},
		"d": {{DstID: "e", Weight: 1.0}},
		"e": {{DstID: "f", Weight: 1.0}},
	}
	neighbors := func(id string) []ActivationEdge { return graph[id] }

	energies := SpreadActivation(map[string]float64{"a": 1.0}, neighbors, 5)
	if energies["a"] != 1.0 {
		t.Fatalf("seed energy should be preserved, got %v", energies["a"])
	}
	if _, ok := energies["b"]; !ok {
		t.Fatal("expected b to receive propagated energy")
	}
	// Each hop multiplies by Gamma (0.5): b 0.5, c 0.25, d 0.125, e 0.0625,
	// and f would get 0.03125, below ActivationThreshold, so propagation stops.
	if _, ok := energies["f"]; ok {
		t.Fatal("expected propagation to terminate before reaching f")
	}
}

func TestTopKOrdersByEnergyThenID(t *testing.T) {
	energies := map[string]float64{"z": 0.5, "a": 0.5, "m": 0.9}
	top := TopK(energies, 2)
	if len(top) != 2 || top[0] != "m" || top[1] != "a" {
		t.Fatalf("unexpected TopK order: %v", top)
	}
}

func TestCompressVectorShrinksAndRenormalizes(t *testing.T) {
	vec := make([]float32, 16)
	for i := range vec {
		vec[i] = 1.0
	}
	vec = l2Normalize(vec)

	compressed := CompressVector(vec, 0.5)
	if len(compressed) >= len(vec) {
		t.Fatalf("expected compression to shrink the vector, got len=%d from %d", len(compressed), len(vec))
	}
	var normSq float64
	for _, v := range compressed {
		normSq += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(normSq)-1.0) > 1e-5 {
		t.Fatalf("expected renormalized unit vector, got norm=%v", math.Sqrt(normSq))
	}
}

func TestSummaryTierThresholds(t *testing.T) {
	if SummaryTierFor(0.9) != SummaryFull {
		t.Fatal("expected full summary tier above 0.8")
	}
	if SummaryTierFor(0.5) != SummaryExtractive {
		t.Fatal("expected extractive tier between 0.4 and 0.8")
	}
	if SummaryTierFor(0.1) != SummaryKeywords {
		t.Fatal("expected keyword tier below 0.4")
	}
}
