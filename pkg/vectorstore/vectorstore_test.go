package vectorstore

import (
	"context"
	"testing"

	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
)

func strp(s string) *string { return &s }

func openTest(t *testing.T) *Store {
	t.Helper()
	ts, err := tablestore.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("tablestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })
	return New(ts)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	v := &model.SectorVector{MemoryID: "m1", Sector: model.SectorSemantic, TenantID: strp("acme"), Vector: []float32{1, 0, 0}, Dim: 3}
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "m1", model.SectorSemantic)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Vector) != 3 || got.Vector[0] != 1 {
		t.Fatalf("unexpected vector: %v", got.Vector)
	}
}

func TestKNNOrdersByCosineWithTiebreak(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	tenant := strp("acme")

	vectors := map[string][]float32{
		"m-far":    {0, 1, 0},
		"m-near-1": {1, 0, 0},
		"m-near-2": {1, 0, 0},
	}
	for id, vec := range vectors {
		if err := s.Put(ctx, &model.SectorVector{MemoryID: id, Sector: model.SectorSemantic, TenantID: tenant, Vector: vec, Dim: 3}); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	matches, err := s.KNN(ctx, tenant, model.SectorSemantic, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	if matches[0].MemoryID != "m-near-1" || matches[1].MemoryID != "m-near-2" {
		t.Fatalf("expected tied top matches ordered by ascending id, got %+v", matches)
	}
	if matches[2].MemoryID != "m-far" {
		t.Fatalf("expected orthogonal vector last, got %+v", matches)
	}
}

func TestKNNScopesByTenant(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_ = s.Put(ctx, &model.SectorVector{MemoryID: "a1", Sector: model.SectorSemantic, TenantID: strp("a"), Vector: []float32{1, 0}, Dim: 2})
	_ = s.Put(ctx, &model.SectorVector{MemoryID: "b1", Sector: model.SectorSemantic, TenantID: strp("b"), Vector: []float32{1, 0}, Dim: 2})

	matches, err := s.KNN(ctx, strp("a"), model.SectorSemantic, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("KNN: %v", err)
	}
	if len(matches) != 1 || matches[0].MemoryID != "a1" {
		t.Fatalf("expected only tenant a's vector, got %+v", matches)
	}
}

func TestDeleteAllRemovesEverySector(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	_ = s.Put(ctx, &model.SectorVector{MemoryID: "m1", Sector: model.SectorSemantic, Vector: []float32{1, 0}, Dim: 2})
	_ = s.Put(ctx, &model.SectorVector{MemoryID: "m1", Sector: model.SectorEpisodic, Vector: []float32{0, 1}, Dim: 2})

	if err := s.DeleteAll(ctx, "m1"); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	got, err := s.GetByMemID(ctx, "m1")
	if err != nil {
		t.Fatalf("GetByMemID: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no vectors after DeleteAll, got %d", len(got))
	}
}
