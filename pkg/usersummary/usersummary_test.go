package usersummary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/hsg"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/router"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

func newTestSetup(t *testing.T) (*tablestore.Store, *cryptobox.Box, *hsg.Engine) {
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
	return ts, box, eng
}

func adminCtx() tenancy.Context {
	return tenancy.New(nil, true)
}

func TestRunWritesHeuristicProfileFromIDEMetadata(t *testing.T) {
	ts, box, eng := newTestSetup(t)
	ctx := context.Background()
	tenant := "acme"

	metas := []model.MemoryMetadata{
		{IDEProjectName: "hsg", IDEFilePath: "pkg/hsg/writer.go", IDEEventType: "edit"},
		{IDEProjectName: "hsg", IDEFilePath: "pkg/decay/decay.go", IDEEventType: "edit"},
		{IDEProjectName: "hsg-docs", IDEFilePath: "README.md", IDEEventType: "open"},
	}
	for _, md := range metas {
		_, err := eng.Add(ctx, adminCtx(), "worked on the memory engine today", nil, md, &tenant)
		require.NoError(t, err)
	}

	w := New(ts, box, nil, DefaultConfig(), logging.Nop())
	stats, err := w.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ProfilesWritten)

	profile, err := ts.GetUserProfile(ctx, tenant)
	require.NoError(t, err)
	require.Contains(t, profile.Summary, "hsg")
	require.Contains(t, profile.Summary, "Go")
	require.Equal(t, int64(1), profile.ReflectionCount)
}

func TestRunSkipsTenantWithNoMemories(t *testing.T) {
	ts, box, _ := newTestSetup(t)
	w := New(ts, box, nil, DefaultConfig(), logging.Nop())
	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.ProfilesWritten)
}

func TestRunIncrementsReflectionCountOnRerun(t *testing.T) {
	ts, box, eng := newTestSetup(t)
	ctx := context.Background()
	tenant := "acme"
	_, err := eng.Add(ctx, adminCtx(), "some IDE activity", nil, model.MemoryMetadata{IDEProjectName: "hsg"}, &tenant)
	require.NoError(t, err)

	w := New(ts, box, nil, DefaultConfig(), logging.Nop())
	_, err = w.Run(ctx)
	require.NoError(t, err)
	_, err = w.Run(ctx)
	require.NoError(t, err)

	profile, err := ts.GetUserProfile(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, int64(2), profile.ReflectionCount)
}

type stubGenerator struct {
	text string
	err  error
}

func (s stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.text, s.err
}

func TestSynthesizeUsesGeneratorWhenConfigured(t *testing.T) {
	ts, box, eng := newTestSetup(t)
	ctx := context.Background()
	tenant := "acme"
	_, err := eng.Add(ctx, adminCtx(), "worked on the deploy pipeline", nil, model.MemoryMetadata{IDEProjectName: "hsg"}, &tenant)
	require.NoError(t, err)

	w := New(ts, box, stubGenerator{text: "A focused backend engineer."}, DefaultConfig(), logging.Nop())
	stats, err := w.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ProfilesWritten)

	profile, err := ts.GetUserProfile(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, "A focused backend engineer.", profile.Summary)
}

type failingErr struct{}

func (failingErr) Error() string { return "generation failed" }

func TestSynthesizeFallsBackOnGeneratorError(t *testing.T) {
	ts, box, eng := newTestSetup(t)
	ctx := context.Background()
	tenant := "acme"
	_, err := eng.Add(ctx, adminCtx(), "worked on the deploy pipeline", nil, model.MemoryMetadata{IDEProjectName: "hsg", IDEFilePath: "main.go"}, &tenant)
	require.NoError(t, err)

	w := New(ts, box, stubGenerator{err: failingErr{}}, DefaultConfig(), logging.Nop())
	_, err = w.Run(ctx)
	require.NoError(t, err)

	profile, err := ts.GetUserProfile(ctx, tenant)
	require.NoError(t, err)
	require.Contains(t, profile.Summary, "hsg")
}

func TestLanguageForPathMapsKnownExtensions(t *testing.T) {
	require.Equal(t, "Go", languageForPath("pkg/hsg/writer.go"))
	require.Equal(t, "", languageForPath("Makefile"))
}
