package tablestore

import (
	"context"
	"testing"

	"github.com/hsgraph/hsg/pkg/model"
)

func strp(s string) *string { return &s }

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetMemoryRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := &model.Memory{
		ID:            "mem-1",
		TenantID:      strp("acme"),
		Content:       "hello world",
		PrimarySector: model.SectorSemantic,
		Tags:          []string{"greeting"},
		Segment:       3,
		CreatedAt:     1000,
		UpdatedAt:     1000,
		LastSeenAt:    1000,
		Salience:      1.0,
		DecayLambda:   0.02,
		Version:       1,
		MeanVec:       []float32{0.1, 0.2, 0.3},
	}
	if err := s.PutMemory(ctx, m); err != nil {
		t.Fatalf("PutMemory: %v", err)
	}

	got, err := s.GetMemory(ctx, "mem-1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "hello world" || got.PrimarySector != model.SectorSemantic {
		t.Fatalf("unexpected memory: %+v", got)
	}
	if len(got.MeanVec) != 3 || got.MeanVec[1] != float32(0.2) {
		t.Fatalf("mean vec not round-tripped: %v", got.MeanVec)
	}
}

func TestUpdateMemoryOptimisticConflict(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	m := &model.Memory{ID: "mem-2", PrimarySector: model.SectorEpisodic, Version: 1, CreatedAt: 1, UpdatedAt: 1, LastSeenAt: 1}
	if err := s.PutMemory(ctx, m); err != nil {
		t.Fatalf("PutMemory: %v", err)
	}

	m.Version = 2
	m.Content = "revised"
	if err := s.UpdateMemory(ctx, m, 1); err != nil {
		t.Fatalf("UpdateMemory with correct expected version: %v", err)
	}

	m.Version = 3
	if err := s.UpdateMemory(ctx, m, 1); err == nil {
		t.Fatal("expected conflict error when expected version is stale")
	}
}

func TestDeleteMemoryNotFound(t *testing.T) {
	s := openTest(t)
	if err := s.DeleteMemory(context.Background(), "missing"); err == nil {
		t.Fatal("expected NotFound error deleting a missing memory")
	}
}

func TestListBySegmentScopesTenant(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i, tenant := range []*string{strp("a"), strp("b")} {
		m := &model.Memory{
			ID: "mem-seg-" + tenant2(tenant), TenantID: tenant, PrimarySector: model.SectorSemantic,
			Segment: 0, CreatedAt: int64(i), UpdatedAt: int64(i), LastSeenAt: int64(i), Version: 1,
		}
		if err := s.PutMemory(ctx, m); err != nil {
			t.Fatalf("PutMemory: %v", err)
		}
	}

	got, err := s.ListBySegment(ctx, strp("a"), []int{0})
	if err != nil {
		t.Fatalf("ListBySegment: %v", err)
	}
	if len(got) != 1 || *got[0].TenantID != "a" {
		t.Fatalf("expected exactly one memory scoped to tenant a, got %+v", got)
	}
}

func tenant2(t *string) string {
	if t == nil {
		return "none"
	}
	return *t
}

func TestClassifierModelRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	cm := &model.ClassifierModel{
		TenantID: "acme",
		Weights:  map[model.Sector][]float64{model.SectorSemantic: {0.1, 0.2}},
		Biases:   map[model.Sector]float64{model.SectorSemantic: 0.05},
		Version:  1,
	}
	if err := s.PutClassifierModel(ctx, cm); err != nil {
		t.Fatalf("PutClassifierModel: %v", err)
	}
	got, err := s.GetClassifierModel(ctx, "acme")
	if err != nil {
		t.Fatalf("GetClassifierModel: %v", err)
	}
	if len(got.Weights[model.SectorSemantic]) != 2 {
		t.Fatalf("unexpected weights: %+v", got.Weights)
	}
}
