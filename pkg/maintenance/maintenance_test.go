package maintenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/config"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/decay"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/hsg"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/reflection"
	"github.com/hsgraph/hsg/pkg/router"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
	"github.com/hsgraph/hsg/pkg/usersummary"
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
	eng := hsg.New(ts, vs, enc, box, rt, bus, hsg.DefaultConfig(), logging.Nop())

	cfg := config.DefaultConfig()
	decayWorker := decay.New(ts, vs, box, decay.DefaultConfig(), logging.Nop(), func() int { return 0 })
	reflectWorker := reflection.New(ts, box, eng, nil, reflection.DefaultConfig(), logging.Nop())
	summaryWorker := usersummary.New(ts, box, nil, usersummary.DefaultConfig(), logging.Nop())

	me, err := New(cfg, ts, decayWorker, reflectWorker, summaryWorker, cls, logging.Nop(), eng.ActiveQueries)
	require.NoError(t, err)
	return me
}

func TestNewRegistersAllTasks(t *testing.T) {
	me := newTestEngine(t)
	stats := me.sched.AllStats()
	require.Contains(t, stats, taskDecay)
	require.Contains(t, stats, taskReflect)
	require.Contains(t, stats, taskUserSummary)
	require.Contains(t, stats, taskClassifierRetrain)
	require.Contains(t, stats, taskWaypointPrune)
}

func TestNewSkipsReflectTaskWhenAutoReflectDisabled(t *testing.T) {
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
	eng := hsg.New(ts, vs, enc, box, rt, bus, hsg.DefaultConfig(), logging.Nop())

	cfg := config.DefaultConfig()
	cfg.AutoReflect = false
	decayWorker := decay.New(ts, vs, box, decay.DefaultConfig(), logging.Nop(), func() int { return 0 })
	reflectWorker := reflection.New(ts, box, eng, nil, reflection.DefaultConfig(), logging.Nop())
	summaryWorker := usersummary.New(ts, box, nil, usersummary.DefaultConfig(), logging.Nop())

	me, err := New(cfg, ts, decayWorker, reflectWorker, summaryWorker, cls, logging.Nop(), eng.ActiveQueries)
	require.NoError(t, err)

	stats := me.sched.AllStats()
	require.NotContains(t, stats, taskReflect)
}

func TestSnapshotReturnsEmptyBeforeAnyRun(t *testing.T) {
	me := newTestEngine(t)
	snap, err := me.Snapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap.RecentDecay)
	require.Empty(t, snap.RecentReflect)
	require.Contains(t, snap.Tasks, taskDecay)
	require.Equal(t, 0, snap.ActiveQueries)
}

func TestRetrainAllClassifiersSkipsWhenNoTenants(t *testing.T) {
	me := newTestEngine(t)
	err := me.retrainAllClassifiers(context.Background())
	require.NoError(t, err)
}

func TestRetrainAllClassifiersTrainsThenSkipsUntilThreshold(t *testing.T) {
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
	eng := hsg.New(ts, vs, enc, box, rt, bus, hsg.DefaultConfig(), logging.Nop())
	t.Cleanup(eng.Close)

	tenantID := "acme"
	secCtx := tenancy.New(&tenantID, false)
	for i := 0; i < 5; i++ {
		_, err := eng.Add(context.Background(), secCtx, "sample memory content", nil, model.MemoryMetadata{}, &tenantID)
		require.NoError(t, err)
	}

	cfg := config.DefaultConfig()
	decayWorker := decay.New(ts, vs, box, decay.DefaultConfig(), logging.Nop(), func() int { return 0 })
	reflectWorker := reflection.New(ts, box, eng, nil, reflection.DefaultConfig(), logging.Nop())
	summaryWorker := usersummary.New(ts, box, nil, usersummary.DefaultConfig(), logging.Nop())
	me, err := New(cfg, ts, decayWorker, reflectWorker, summaryWorker, cls, logging.Nop(), eng.ActiveQueries)
	require.NoError(t, err)

	require.NoError(t, me.retrainAllClassifiers(context.Background()))
	m, err := ts.GetClassifierModel(context.Background(), tenantID)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Version)

	_, err = eng.Add(context.Background(), secCtx, "one more memory", nil, model.MemoryMetadata{}, &tenantID)
	require.NoError(t, err)

	require.NoError(t, me.retrainAllClassifiers(context.Background()))
	m2, err := ts.GetClassifierModel(context.Background(), tenantID)
	require.NoError(t, err)
	require.Equal(t, int64(1), m2.Version, "retrain should be skipped until minNewSamplesForRetrain new memories accumulate")
}
