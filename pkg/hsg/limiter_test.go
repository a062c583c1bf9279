package hsg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsgraph/hsg/pkg/model"
)

func TestActiveQueriesTracksInFlightSearch(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	require.Equal(t, 0, eng.ActiveQueries())

	require.NoError(t, eng.acquireQuerySlot(ctx))
	require.Equal(t, 1, eng.ActiveQueries())
	eng.releaseQuerySlot()
	require.Equal(t, 0, eng.ActiveQueries())
}

func TestAcquireQuerySlotBlocksPastMaxActive(t *testing.T) {
	eng := newTestEngine(t)
	eng.querySem = make(chan struct{}, 1)
	ctx := context.Background()

	require.NoError(t, eng.acquireQuerySlot(ctx))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := eng.acquireQuerySlot(cctx)
	require.Error(t, err)

	eng.releaseQuerySlot()
}

func TestWriteLimiterRejectsBurstOverflow(t *testing.T) {
	eng := newTestEngine(t)
	eng.writeLimiter = newTenantLimiter(60, 1)
	ctx := context.Background()
	tenantID := "acme"

	_, err := eng.Add(ctx, adminCtx(), "first", nil, model.MemoryMetadata{}, &tenantID)
	require.NoError(t, err)

	_, err = eng.Add(ctx, adminCtx(), "second", nil, model.MemoryMetadata{}, &tenantID)
	require.Error(t, err)
}

func TestWriteLimiterTracksTenantsIndependently(t *testing.T) {
	eng := newTestEngine(t)
	eng.writeLimiter = newTenantLimiter(60, 1)
	ctx := context.Background()
	tenantA := "acme"
	tenantB := "beta"

	_, err := eng.Add(ctx, adminCtx(), "first", nil, model.MemoryMetadata{}, &tenantA)
	require.NoError(t, err)

	_, err = eng.Add(ctx, adminCtx(), "first", nil, model.MemoryMetadata{}, &tenantB)
	require.NoError(t, err)
}
