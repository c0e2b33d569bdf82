package audioserver

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_ytaudio/internal/engine"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/journal"
	"github.com/anatolykoptev/go_ytaudio/internal/engine/queue"
)

type fakeExtractor struct {
	lastTarget string
	lastOpts   engine.ExtractOptions
	result     engine.ExtractionResult
	err        error
	stats      []journal.StrategyStat
	statsErr   error
	rotations  int
}

func (f *fakeExtractor) Extract(_ context.Context, target string, opts engine.ExtractOptions) (engine.ExtractionResult, error) {
	f.lastTarget, f.lastOpts = target, opts
	return f.result, f.err
}

func (f *fakeExtractor) Status() engine.Status {
	return engine.Status{Session: engine.SessionStatus{ID: "s-1"}}
}

func (f *fakeExtractor) RotateSession() string {
	f.rotations++
	return "s-2"
}

func (f *fakeExtractor) ClearFailedStrategies() int { return 3 }

func (f *fakeExtractor) StrategyStats(context.Context) ([]journal.StrategyStat, error) {
	return f.stats, f.statsErr
}

func TestRegisterTools(t *testing.T) {
	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "dev"}, nil)
	assert.NotPanics(t, func() { RegisterTools(server, &fakeExtractor{}) })
}

func TestExtractAudioDefaults(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeExtractor{result: engine.ExtractionResult{AudioURL: "https://a/x", Title: "T", StrategyUsed: "tv_client", ExtractedAt: at}}
	h := &handlers{ext: f}

	_, out, err := h.extractAudio(context.Background(), nil, ExtractAudioInput{URL: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", f.lastTarget)
	assert.Equal(t, engine.ExtractOptions{Priority: queue.Normal, Stealth: true, UseCache: true}, f.lastOpts)
	assert.Equal(t, "https://a/x", out.AudioURL)
	assert.Equal(t, "tv_client", out.StrategyUsed)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Timestamp)
}

func TestExtractAudioFlags(t *testing.T) {
	f := &fakeExtractor{}
	h := &handlers{ext: f}
	no := false

	_, _, err := h.extractAudio(context.Background(), nil, ExtractAudioInput{
		URL: "x", Priority: "critical", Stealth: &no, UseProxy: true, UseCache: &no,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ExtractOptions{Priority: queue.Critical, UseProxy: true}, f.lastOpts)
}

func TestExtractAudioErrors(t *testing.T) {
	h := &handlers{ext: &fakeExtractor{}}
	_, _, err := h.extractAudio(context.Background(), nil, ExtractAudioInput{})
	assert.ErrorContains(t, err, "url is required")

	_, _, err = h.extractAudio(context.Background(), nil, ExtractAudioInput{URL: "x", Priority: "urgent"})
	assert.ErrorContains(t, err, "unknown priority")

	f := &fakeExtractor{err: &engine.RateLimitError{Source: "youtube", RetryAfter: 30 * time.Second}}
	h = &handlers{ext: f}
	_, _, err = h.extractAudio(context.Background(), nil, ExtractAudioInput{URL: "x"})
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)
	assert.ErrorContains(t, err, "retry after 30s")
}

func TestAdminTools(t *testing.T) {
	f := &fakeExtractor{}
	h := &handlers{ext: f}
	ctx := context.Background()

	_, st, err := h.extractorStatus(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "s-1", st.Session.ID)

	_, rot, err := h.rotateSession(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, "s-2", rot.SessionID)
	assert.Equal(t, 1, f.rotations)

	_, cl, err := h.clearFailed(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, cl.Cleared)
}

func TestStrategyStatsTool(t *testing.T) {
	ctx := context.Background()

	h := &handlers{ext: &fakeExtractor{statsErr: engine.ErrJournalDisabled}}
	_, out, err := h.strategyStats(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.False(t, out.Enabled)
	assert.Empty(t, out.Strategies)

	h = &handlers{ext: &fakeExtractor{stats: []journal.StrategyStat{{Strategy: "web_desktop", Attempts: 4}}}}
	_, out, err = h.strategyStats(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.True(t, out.Enabled)
	require.Len(t, out.Strategies, 1)
	assert.Equal(t, 4, out.Strategies[0].Attempts)
}
