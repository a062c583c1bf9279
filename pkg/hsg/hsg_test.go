package hsg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/router"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ts, err := tablestore.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	vs := vectorstore.New(ts)
	cls, err := classifier.New(ts, 16)
	require.NoError(t, err)
	rt := router.New(cls)
	bus := eventbus.New(logging.Nop())

	key, err := cryptobox.GenerateKey()
	require.NoError(t, err)
	box := cryptobox.New(key)

	enc := encoder.NewSyntheticProvider(32)

	eng := New(ts, vs, enc, box, rt, bus, DefaultConfig(), logging.Nop())
	eng.idNow = func() int64 { return 1000 }
	t.Cleanup(eng.Close)
	return eng
}

func adminCtx() tenancy.Context {
	return tenancy.New(nil, true)
}

func TestAddWritesMemoryAndPrimaryVector(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	tenant := "acme"

	mem, err := eng.Add(ctx, adminCtx(), "let's schedule a deploy for tomorrow, run the build script", nil, model.MemoryMetadata{}, &tenant)
	require.NoError(t, err)
	require.NotEmpty(t, mem.ID)
	require.Equal(t, int64(1), mem.Version)

	stored, err := eng.tables.GetMemory(ctx, mem.ID)
	require.NoError(t, err)
	require.Equal(t, mem.PrimarySector, stored.PrimarySector)

	vec, err := eng.vectors.Get(ctx, mem.ID, mem.PrimarySector)
	require.NoError(t, err)
	require.NotEmpty(t, vec.Vector)
}

func TestAddRejectsEmptyContent(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Add(context.Background(), adminCtx(), "", nil, model.MemoryMetadata{}, nil)
	require.Error(t, err)
}

func TestAddCrossTenantForbidden(t *testing.T) {
	eng := newTestEngine(t)
	tenantA := "a"
	nonAdmin := tenancy.New(&tenantA, false)
	tenantB := "b"
	_, err := eng.Add(context.Background(), nonAdmin, "hello", nil, model.MemoryMetadata{}, &tenantB)
	require.Error(t, err)
}

func TestReinforceIncreasesSalienceAndVersion(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	mem, err := eng.Add(ctx, adminCtx(), "I felt really happy about the launch today", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)

	updated, err := eng.Reinforce(ctx, adminCtx(), mem.ID, 0.1)
	require.NoError(t, err)
	require.Greater(t, updated.Salience, mem.Salience)
	require.Equal(t, mem.Version+1, updated.Version)
}

func TestDeleteCascadesVectorsAndWaypoints(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	mem, err := eng.Add(ctx, adminCtx(), "remembering the trip we took last week", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)

	err = eng.Delete(ctx, adminCtx(), mem.ID)
	require.NoError(t, err)

	_, err = eng.tables.GetMemory(ctx, mem.ID)
	require.Error(t, err)
	_, err = eng.vectors.Get(ctx, mem.ID, mem.PrimarySector)
	require.Error(t, err)
}

func TestUpdateReembedsOnlyWhenContentChanges(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	mem, err := eng.Add(ctx, adminCtx(), "step by step: configure and deploy the service", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)

	sameContent := "step by step: configure and deploy the service"
	unchanged, err := eng.Update(ctx, adminCtx(), mem.ID, &sameContent, []string{"tag1"}, nil, mem.Version)
	require.NoError(t, err)
	require.Equal(t, mem.SimHash, unchanged.SimHash)
	require.Equal(t, []string{"tag1"}, unchanged.Tags)

	newContent := "I love how this turned out, feeling grateful"
	changed, err := eng.Update(ctx, adminCtx(), mem.ID, &newContent, nil, nil, unchanged.Version)
	require.NoError(t, err)
	require.NotEqual(t, mem.SimHash, changed.SimHash)
}

func TestSearchReturnsDecryptedContentOrderedByScore(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Add(ctx, adminCtx(), "run the deployment script to build the service", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)
	_, err = eng.Add(ctx, adminCtx(), "I felt happy and grateful about the weekend", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)

	matches, err := eng.Search(ctx, adminCtx(), "run the deployment script to build the service",
		5, Filter{Sectors: []model.Sector{model.SectorProcedural, model.SectorSemantic}}, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.NotEqual(t, "[Encrypted Content]", matches[0].Content)
}

func TestAddToSectorForcesPrimarySector(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	mem, err := eng.AddToSector(ctx, adminCtx(), "3 procedural pattern detected: build, deploy, release", model.SectorReflective, []string{"reflect:auto"}, model.MemoryMetadata{Type: "auto_reflect"}, nil)
	require.NoError(t, err)
	require.Equal(t, model.SectorReflective, mem.PrimarySector)

	vec, err := eng.vectors.Get(ctx, mem.ID, model.SectorReflective)
	require.NoError(t, err)
	require.NotEmpty(t, vec.Vector)
}

func TestDeleteAllForTenantReturnsCount(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	tenant := "acme"
	_, err := eng.Add(ctx, adminCtx(), "first memory about the project roadmap", nil, model.MemoryMetadata{}, &tenant)
	require.NoError(t, err)
	_, err = eng.Add(ctx, adminCtx(), "second memory about the project roadmap", nil, model.MemoryMetadata{}, &tenant)
	require.NoError(t, err)

	deleted, err := eng.DeleteAllForTenant(ctx, adminCtx(), &tenant)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	count, err := eng.tables.CountByTenant(ctx, &tenant)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDeleteAllForTenantGlobalWipeRequiresAdmin(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	tenant := "acme"
	nonAdmin := tenancy.New(&tenant, false)
	_, err := eng.DeleteAllForTenant(ctx, nonAdmin, nil)
	require.Error(t, err)
}

func TestSearchFiltersByMinSalience(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	_, err := eng.Add(ctx, adminCtx(), "a quiet afternoon with nothing much happening", nil, model.MemoryMetadata{}, nil)
	require.NoError(t, err)

	matches, err := eng.Search(ctx, adminCtx(), "a quiet afternoon", 5, Filter{MinSalience: 0.99}, SearchOptions{})
	require.NoError(t, err)
	require.Empty(t, matches)
}
