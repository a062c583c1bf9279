package classifier

import (
	"context"
	"testing"

	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
)

func openTest(t *testing.T) (*Classifier, *tablestore.Store) {
	t.Helper()
	ts, err := tablestore.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("tablestore.Open: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })
	c, err := New(ts, 16)
	if err != nil {
		t.Fatalf("classifier.New: %v", err)
	}
	return c, ts
}

func TestPredictWithNoModelReturnsNil(t *testing.T) {
	c, _ := openTest(t)
	pred, err := c.Predict(context.Background(), "acme", []float32{0.1, 0.2})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred != nil {
		t.Fatalf("expected nil prediction for untrained tenant, got %+v", pred)
	}
}

func TestTrainConvergesAndPredicts(t *testing.T) {
	c, ts := openTest(t)
	ctx := context.Background()
	tenant := "acme"

	samples := []struct {
		vec    []float32
		sector model.Sector
	}{
		{[]float32{5, 0}, model.SectorSemantic},
		{[]float32{5, 0.1}, model.SectorSemantic},
		{[]float32{-5, 0}, model.SectorEpisodic},
		{[]float32{-5, -0.1}, model.SectorEpisodic},
	}
	for i, s := range samples {
		m := &model.Memory{
			ID: "m" + string(rune('0'+i)), TenantID: &tenant, PrimarySector: s.sector,
			MeanVec: s.vec, CreatedAt: int64(i), UpdatedAt: int64(i), LastSeenAt: int64(i), Version: 1,
		}
		if err := ts.PutMemory(ctx, m); err != nil {
			t.Fatalf("PutMemory: %v", err)
		}
	}

	trained, err := c.Train(ctx, tenant, 0.5, 200)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if trained.Version != 1 {
		t.Fatalf("expected first trained version to be 1, got %d", trained.Version)
	}

	pred, err := c.Predict(ctx, tenant, []float32{5, 0})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred == nil {
		t.Fatal("expected a prediction after training")
	}
	if pred.Sector != model.SectorSemantic {
		t.Fatalf("expected semantic sector for a semantic-like vector, got %s (scores=%v)", pred.Sector, pred.Scores)
	}

	retrained, err := c.Train(ctx, tenant, 0.5, 50)
	if err != nil {
		t.Fatalf("retrain: %v", err)
	}
	if retrained.Version != 2 {
		t.Fatalf("expected retrained version to be 2, got %d", retrained.Version)
	}
}

func TestTrainNoSamplesReturnsInvalid(t *testing.T) {
	c, _ := openTest(t)
	if _, err := c.Train(context.Background(), "empty-tenant", 0.1, 1); err == nil {
		t.Fatal("expected error training a tenant with no memories")
	}
}
