package app_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hal9000y/gmail-analyzer/internal/app"
	"github.com/hal9000y/gmail-analyzer/internal/cache"
	"github.com/hal9000y/gmail-analyzer/internal/message"
)

var now = time.Date(2025, 9, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	runner  *app.Runner
	store   *cache.FileStore
	out     *bytes.Buffer
	fetches int
	fetched []message.Record
	err     error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	f := &fixture{
		store: store.WithClock(func() time.Time { return now }),
		out:   &bytes.Buffer{},
		fetched: []message.Record{
			{ID: "m-001", Sender: message.Address{Name: "Jane", Address: "jane@example.com"}, Received: now.Add(-48 * time.Hour)},
			{ID: "m-002", Sender: message.Address{Address: "bob@example.com"}, Received: now.Add(-72 * time.Hour)},
		},
	}
	f.runner = &app.Runner{
		Store: f.store,
		Fetch: func(_ context.Context, _ string) ([]message.Record, error) {
			f.fetches++
			if f.err != nil {
				return nil, f.err
			}
			return f.fetched, nil
		},
		Out:    f.out,
		Now:    func() time.Time { return now },
		Logger: log.New(io.Discard),
	}

	return f
}

func TestRunAnalyzeOnlyWithoutCache(t *testing.T) {
	f := newFixture(t)

	err := f.runner.Run(context.Background(), app.Options{Query: "label:work", Top: 10, AnalyzeOnly: true})

	require.ErrorIs(t, err, app.ErrNoCachedData)
	assert.Contains(t, err.Error(), "no cached data")
	assert.Zero(t, f.fetches)
	assert.Empty(t, f.out.String())
}

func TestRunAnalyzeOnlyUsesStaleCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.WithClock(func() time.Time { return now.Add(-72 * time.Hour) })
	require.NoError(t, f.store.Save(ctx, "label:work", f.fetched))

	require.NoError(t, f.runner.Run(ctx, app.Options{Query: "label:work", Top: 10, AnalyzeOnly: true}))

	assert.Zero(t, f.fetches)
	assert.Contains(t, f.out.String(), "jane@example.com")
}

func TestRunPullUsesFreshCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.runner.Run(ctx, app.Options{Query: "q", Top: 10, PullOnly: true}))
	assert.Equal(t, 1, f.fetches)
	assert.Empty(t, f.out.String(), "pull-only does not analyze")

	require.NoError(t, f.runner.Run(ctx, app.Options{Query: "q", Top: 10}))
	assert.Equal(t, 1, f.fetches)
	assert.Contains(t, f.out.String(), "Total emails")
}

func TestRunPullRefetchesStaleCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.WithClock(func() time.Time { return now.Add(-25 * time.Hour) })
	require.NoError(t, f.store.Save(ctx, "q", nil))
	f.store.WithClock(func() time.Time { return now })

	require.NoError(t, f.runner.Run(ctx, app.Options{Query: "q", Top: 10, PullOnly: true}))
	assert.Equal(t, 1, f.fetches)

	entry, err := f.store.Load(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, entry.Records, 2)
	assert.True(t, now.Equal(entry.CreatedAt))
}

func TestRunRefreshIgnoresFreshCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "q", f.fetched[:1]))

	require.NoError(t, f.runner.Run(ctx, app.Options{Query: "q", Top: 10, Refresh: true}))
	assert.Equal(t, 1, f.fetches)

	entry, err := f.store.Load(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, entry.Records, 2)
}

func TestRunFailedPullKeepsPriorCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Save(ctx, "q", f.fetched[:1]))
	f.err = errors.New("fetching page 3 failed after 5 retry rounds")

	err := f.runner.Run(ctx, app.Options{Query: "q", Top: 10, Refresh: true})
	require.ErrorIs(t, err, f.err)

	entry, err := f.store.Load(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, entry.Records, 1)
}

func TestRunExportsCSV(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, f.runner.Run(context.Background(), app.Options{Query: "q", Top: 10, PullOnly: true, ExportCSV: path}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "m-001")
	assert.Contains(t, string(raw), "m-002")
}

func TestRunExportFailure(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "missing", "out.csv")

	err := f.runner.Run(context.Background(), app.Options{Query: "q", Top: 10, ExportCSV: path})

	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Empty(t, f.out.String())
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name    string
		opts    app.Options
		wantErr bool
	}{
		{name: "default"},
		{name: "pull", opts: app.Options{PullOnly: true}},
		{name: "refresh", opts: app.Options{Refresh: true}},
		{name: "analyze", opts: app.Options{AnalyzeOnly: true}},
		{name: "pull and analyze", opts: app.Options{PullOnly: true, AnalyzeOnly: true}, wantErr: true},
		{name: "all", opts: app.Options{PullOnly: true, Refresh: true, AnalyzeOnly: true}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, app.ErrModeConflict)
				return
			}
			assert.NoError(t, err)
		})
	}
}
