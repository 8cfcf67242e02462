package duration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/storage"
)

type fakeLookup struct {
	durations map[string]int
	calls     []string
}

func (f *fakeLookup) Lookup(_ context.Context, externalID string) (int, error) {
	f.calls = append(f.calls, externalID)
	d, ok := f.durations[externalID]
	if !ok {
		return 0, errors.New("boom")
	}
	return d, nil
}

func setupStore(t *testing.T) (*storage.Store, *storage.Channel) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ch := &storage.Channel{Name: "Channel", ExternalID: "UCchannel", Subscribed: true}
	require.NoError(t, store.CreateChannel(ch))
	return store, ch
}

func createVideos(t *testing.T, store *storage.Store, ch *storage.Channel, ids ...string) []*storage.Video {
	t.Helper()
	var videos []*storage.Video
	for _, id := range ids {
		v := &storage.Video{ChannelID: ch.ID, ExternalID: id, Title: "Video " + id}
		require.NoError(t, store.CreateVideo(v))
		videos = append(videos, v)
	}
	return videos
}

func TestBackfill_PartialFailure(t *testing.T) {
	store, ch := setupStore(t)
	videos := createVideos(t, store, ch, "v1", "v2", "v3")

	lookup := &fakeLookup{durations: map[string]int{"v1": 60, "v3": 180}}
	b := NewBackfiller(store, lookup)

	updated, errs, err := b.Backfill(context.Background(), videos)
	require.NoError(t, err)

	require.Len(t, updated, 2)
	assert.Equal(t, "v1", updated[0].ExternalID)
	assert.Equal(t, "v3", updated[1].ExternalID)

	require.Len(t, errs, 1)
	assert.Equal(t, "v2", errs[0].Video.ExternalID)
	assert.Contains(t, errs[0].Error(), "v2")

	assert.Equal(t, []string{"v1", "v2", "v3"}, lookup.calls, "no early abort")

	for id, want := range map[string]int{"v1": 60, "v2": 0, "v3": 180} {
		got, err := store.GetVideoByExternalID(id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Duration, id)
	}
}

func TestBackfill_SkipsKnownDurations(t *testing.T) {
	store, ch := setupStore(t)
	videos := createVideos(t, store, ch, "v1")
	videos[0].Duration = 99

	lookup := &fakeLookup{durations: map[string]int{"v1": 60}}
	updated, errs, err := NewBackfiller(store, lookup).Backfill(context.Background(), videos)
	require.NoError(t, err)
	assert.Empty(t, updated)
	assert.Empty(t, errs)
	assert.Empty(t, lookup.calls)
}

func TestBackfill_Disabled(t *testing.T) {
	store, ch := setupStore(t)
	videos := createVideos(t, store, ch, "v1")

	b := FromConfig(config.TestConfig(), store)
	assert.False(t, b.Enabled())

	updated, errs, err := b.Backfill(context.Background(), videos)
	assert.NoError(t, err)
	assert.Empty(t, updated)
	assert.Empty(t, errs)
}

func TestBackfill_StoreFailure(t *testing.T) {
	store, ch := setupStore(t)
	videos := createVideos(t, store, ch, "v1")
	require.NoError(t, store.Close())

	lookup := &fakeLookup{durations: map[string]int{"v1": 60}}
	_, _, err := NewBackfiller(store, lookup).Backfill(context.Background(), videos)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestBackfillAll(t *testing.T) {
	store, ch := setupStore(t)
	createVideos(t, store, ch, "v1", "v2", "v3")

	known, err := store.GetVideoByExternalID("v3")
	require.NoError(t, err)
	known.Duration = 10
	require.NoError(t, store.SaveVideos([]*storage.Video{known}))

	lookup := &fakeLookup{durations: map[string]int{"v1": 60}}
	var ticks []int
	report, err := NewBackfiller(store, lookup).BackfillAll(context.Background(), func(done, total int) {
		assert.Equal(t, 2, total)
		ticks = append(ticks, done)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Len(t, report.Updated, 1)
	assert.Len(t, report.Errors, 1)
	assert.Equal(t, []int{1, 2}, ticks)

	count, err := store.CountVideos(func(v *storage.Video) bool { return v.Duration > 0 })
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
