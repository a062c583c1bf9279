package router

import (
	"context"
	"testing"

	"github.com/hsgraph/hsg/pkg/model"
)

func TestHeuristicRouteProcedural(t *testing.T) {
	r := New(nil)
	res, err := r.Route(context.Background(), "acme", "run the deploy script and configure the build", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.PrimarySector != model.SectorProcedural {
		t.Fatalf("expected procedural sector, got %s", res.PrimarySector)
	}
	if res.UsedClassifier {
		t.Fatal("expected heuristic path without a classifier")
	}
}

func TestHeuristicRouteDefaultsToSemantic(t *testing.T) {
	r := New(nil)
	res, err := r.Route(context.Background(), "acme", "xyzzy plugh", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.PrimarySector != model.SectorSemantic {
		t.Fatalf("expected semantic default, got %s", res.PrimarySector)
	}
}

func TestHeuristicRouteEmotional(t *testing.T) {
	r := New(nil)
	res, err := r.Route(context.Background(), "acme", "I am so happy and excited today", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res.PrimarySector != model.SectorEmotional && res.PrimarySector != model.SectorEpisodic {
		t.Fatalf("expected emotional or episodic sector (emotional matches 'happy', episodic matches 'today'), got %s", res.PrimarySector)
	}
}

func TestSecondarySectorsCappedAndThresholded(t *testing.T) {
	scores := map[model.Sector]float64{
		model.SectorSemantic:   1.0,
		model.SectorEpisodic:   0.9,
		model.SectorEmotional:  0.5,
		model.SectorSensory:    0.4,
		model.SectorTemporal:   0.35,
		model.SectorReflective: 0.1, // below threshold
	}
	secondary := secondaryFromScores(model.SectorSemantic, scores)
	if len(secondary) > MaxSecondary {
		t.Fatalf("expected at most %d secondary sectors, got %d", MaxSecondary, len(secondary))
	}
	for _, s := range secondary {
		if s == model.SectorReflective {
			t.Fatal("expected sector below threshold to be excluded")
		}
	}
}
