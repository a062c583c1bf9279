package decay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/dynamics"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

func newTestStores(t *testing.T) (*tablestore.Store, *vectorstore.Store, *cryptobox.Box) {
	t.Helper()
	ts, err := tablestore.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	vs := vectorstore.New(ts)
	key, err := cryptobox.GenerateKey()
	require.NoError(t, err)
	return ts, vs, cryptobox.New(key)
}

func putMemory(t *testing.T, ts *tablestore.Store, box *cryptobox.Box, id string, createdAt int64, salience float64, coact int64, segment int) *model.Memory {
	t.Helper()
	sealed, err := box.SealString("the quick brown fox jumps over the lazy dog repeatedly")
	require.NoError(t, err)
	mem := &model.Memory{
		ID:            id,
		Content:       string(sealed),
		PrimarySector: model.SectorSemantic,
		Segment:       segment,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		LastSeenAt:    createdAt,
		Salience:      salience,
		DecayLambda:   dynamics.LambdaWarm,
		Version:       1,
		Coactivations: coact,
	}
	require.NoError(t, ts.PutMemory(context.Background(), mem))
	return mem
}

func TestRunSkipsWhenActiveQueriesInFlight(t *testing.T) {
	ts, vs, box := newTestStores(t)
	w := New(ts, vs, box, DefaultConfig(), logging.Nop(), func() int { return 1 })
	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	require.True(t, stats.Skipped)
	require.Zero(t, stats.Processed)
}

func TestRunSkipsWithinCooldown(t *testing.T) {
	ts, vs, box := newTestStores(t)
	w := New(ts, vs, box, DefaultConfig(), logging.Nop(), nil)
	putMemory(t, ts, box, "m1", 1000, 0.5, 0, 0)

	first, err := w.Run(context.Background())
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := w.Run(context.Background())
	require.NoError(t, err)
	require.True(t, second.Skipped)
}

func TestRunDecaysAndCompressesColdMemory(t *testing.T) {
	ts, vs, box := newTestStores(t)
	w := New(ts, vs, box, DefaultConfig(), logging.Nop(), nil)
	w.now = func() time.Time { return time.UnixMilli(100 * millisPerDay) }

	// Last seen 90 days ago with low salience and no reinforcement: cold
	// tier, and f should fall well under both the compress and fingerprint
	// thresholds.
	createdAt := int64(10 * millisPerDay)
	mem := putMemory(t, ts, box, "cold-mem", createdAt, 0.1, 0, 0)
	require.NoError(t, vs.Put(context.Background(), &model.SectorVector{
		MemoryID: mem.ID, Sector: model.SectorSemantic, Vector: []float32{1, 0, 0, 0}, Dim: 4, UpdatedAt: createdAt,
	}))

	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	require.False(t, stats.Skipped)
	require.Equal(t, 1, stats.Processed)
	require.Equal(t, 1, stats.Compressed)
	require.Equal(t, 1, stats.Fingerprinted)
	require.Equal(t, 1, stats.TiersCold)

	updated, err := ts.GetMemory(context.Background(), mem.ID)
	require.NoError(t, err)
	require.Less(t, updated.Salience, mem.Salience)
	require.NotEmpty(t, updated.GeneratedSummary)

	_, err = vs.Get(context.Background(), mem.ID, model.SectorSemantic)
	require.Error(t, err)
	cold, err := vs.Get(context.Background(), mem.ID, model.SectorSemantic.Cold())
	require.NoError(t, err)
	require.Len(t, cold.Vector, 32)
}

func TestRunLeavesHotMemoryUncompressed(t *testing.T) {
	ts, vs, box := newTestStores(t)
	w := New(ts, vs, box, DefaultConfig(), logging.Nop(), nil)
	now := int64(100 * millisPerDay)
	w.now = func() time.Time { return time.UnixMilli(now) }

	mem := putMemory(t, ts, box, "hot-mem", now, 0.9, 10, 0)
	require.NoError(t, vs.Put(context.Background(), &model.SectorVector{
		MemoryID: mem.ID, Sector: model.SectorSemantic, Vector: []float32{1, 0, 0, 0}, Dim: 4, UpdatedAt: now,
	}))

	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.TiersHot)
	require.Zero(t, stats.Compressed)

	_, err = vs.Get(context.Background(), mem.ID, model.SectorSemantic)
	require.NoError(t, err)
}

func TestTopKeywordsPicksMostFrequentTokens(t *testing.T) {
	out := topKeywords("deploy deploy deploy build build test", 2)
	require.Equal(t, "deploy build", out)
}

func TestSampleWindowWrapsAround(t *testing.T) {
	mems := []*model.Memory{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	window := sampleWindow(mems, 3, 2)
	require.Equal(t, []string{"d", "a"}, []string{window[0].ID, window[1].ID})
}
