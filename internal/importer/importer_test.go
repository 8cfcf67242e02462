package importer

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pders01/subwatch/internal/storage"
)

const subscriptions = `
[[channel]]
name = "Go Talks"
external_id = "UCgo"

  [[channel.video]]
  external_id = "talk1"
  title = "Concurrency is not parallelism"
  watched = true
  published = 2012-01-11T10:00:00Z

[[channel]]
name = "Paused"
external_id = "UCpaused"
subscribed = false

[[channel]]
external_id = "UCnameless"
`

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRead(t *testing.T) {
	doc, err := Read(strings.NewReader(subscriptions))
	require.NoError(t, err)
	require.Len(t, doc.Channels, 3)

	assert.Equal(t, "Go Talks", doc.Channels[0].Name)
	assert.Nil(t, doc.Channels[0].Subscribed)
	require.Len(t, doc.Channels[0].Videos, 1)
	assert.True(t, doc.Channels[0].Videos[0].Watched)
	assert.True(t, doc.Channels[0].Videos[0].Published.Equal(time.Date(2012, 1, 11, 10, 0, 0, 0, time.UTC)))

	require.NotNil(t, doc.Channels[1].Subscribed)
	assert.False(t, *doc.Channels[1].Subscribed)
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "syntax", content: "[[channel]\nname = "},
		{name: "missing id", content: "[[channel]]\nname = \"x\"\n"},
		{name: "video without id", content: "[[channel]]\nexternal_id = \"UC\"\n[[channel.video]]\nwatched = true\n"},
		{name: "unknown field", content: "[[channel]]\nexternal_id = \"UC\"\nurl = \"https://example.org\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestImport(t *testing.T) {
	store := setupStore(t)
	existing := &storage.Channel{Name: "Already here", ExternalID: "UCgo", Subscribed: true}
	require.NoError(t, store.CreateChannel(existing))
	unwatched := &storage.Video{ChannelID: existing.ID, ExternalID: "talk1", Title: "Talk"}
	require.NoError(t, store.CreateVideo(unwatched))

	doc, err := Read(strings.NewReader(subscriptions))
	require.NoError(t, err)

	summary, err := Import(store, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ChannelsCreated)
	assert.Equal(t, 1, summary.ChannelsSkipped)
	assert.Equal(t, 0, summary.VideosCreated)
	assert.Equal(t, 1, summary.VideosMarked)
	require.Len(t, summary.Changed, 2, "only new channels or channels with new videos")
	for _, changed := range summary.Changed {
		assert.True(t, changed.New)
		assert.Empty(t, changed.Videos)
	}

	kept, err := store.GetChannelByExternalID("UCgo")
	require.NoError(t, err)
	assert.Equal(t, "Already here", kept.Name, "existing channels are not overwritten")

	v, err := store.GetVideo(unwatched.ID)
	require.NoError(t, err)
	assert.True(t, v.Watched)

	paused, err := store.GetChannelByExternalID("UCpaused")
	require.NoError(t, err)
	assert.False(t, paused.Subscribed)

	nameless, err := store.GetChannelByExternalID("UCnameless")
	require.NoError(t, err)
	assert.True(t, nameless.Subscribed)
	assert.Equal(t, "UCnameless", nameless.DisplayName())

	again, err := Import(store, doc)
	require.NoError(t, err)
	assert.Zero(t, again.ChannelsCreated)
	assert.Zero(t, again.VideosMarked)
}

func TestImport_CreatesListedVideos(t *testing.T) {
	store := setupStore(t)
	doc, err := Read(strings.NewReader(subscriptions))
	require.NoError(t, err)

	summary, err := Import(store, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.VideosCreated)

	v, err := store.GetVideoByExternalID("talk1")
	require.NoError(t, err)
	assert.True(t, v.Watched)
	assert.Equal(t, "Concurrency is not parallelism", v.Title)

	// The created video is handed back with its channel for indexing.
	require.NotEmpty(t, summary.Changed)
	first := summary.Changed[0]
	assert.Equal(t, "UCgo", first.Channel.ExternalID)
	assert.True(t, first.New)
	require.Len(t, first.Videos, 1)
	assert.Equal(t, v.ID, first.Videos[0].ID)
	assert.Equal(t, first.Channel.ID, first.Videos[0].ChannelID)
}

func TestImport_BatchesVideosPerChannel(t *testing.T) {
	store := setupStore(t)
	ch := &storage.Channel{Name: "Batch", ExternalID: "UCbatch", Subscribed: true}
	require.NoError(t, store.CreateChannel(ch))
	old := &storage.Video{ChannelID: ch.ID, ExternalID: "b0", Title: "Old"}
	require.NoError(t, store.CreateVideo(old))

	doc := &Document{Channels: []Channel{{
		ExternalID: "UCbatch",
		Videos: []Video{
			{ExternalID: "b0", Watched: true},
			{ExternalID: "b1", Title: "One"},
			{ExternalID: " b2 ", Title: "Two"},
			{ExternalID: "b1", Title: "One again"},
		},
	}}}

	summary, err := Import(store, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ChannelsSkipped)
	assert.Equal(t, 2, summary.VideosCreated, "repeated ids are created once")
	assert.Equal(t, 1, summary.VideosMarked)
	require.Len(t, summary.Changed, 1)
	assert.False(t, summary.Changed[0].New)
	assert.Len(t, summary.Changed[0].Videos, 2)

	videos, err := store.GetVideos(ch.ID)
	require.NoError(t, err)
	assert.Len(t, videos, 3)
	exists, err := store.ExistsByExternalID("b2")
	require.NoError(t, err)
	assert.True(t, exists, "video ids are trimmed")

	marked, err := store.GetVideo(old.ID)
	require.NoError(t, err)
	assert.True(t, marked.Watched)
}

func TestImport_TrimsChannelIDBeforeLookup(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.CreateChannel(&storage.Channel{Name: "Go", ExternalID: "UCgo", Subscribed: true}))

	doc, err := Read(strings.NewReader("[[channel]]\nname = \"Padded\"\nexternal_id = \"  UCgo  \"\n"))
	require.NoError(t, err)

	summary, err := Import(store, doc)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ChannelsCreated)
	assert.Equal(t, 1, summary.ChannelsSkipped)

	channels, err := store.GetAllChannels()
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestExportImportRoundTrip(t *testing.T) {
	source := setupStore(t)
	ch := &storage.Channel{Name: "Round Trip", ExternalID: "UCround", Subscribed: true}
	require.NoError(t, source.CreateChannel(ch))
	published := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, source.CreateVideo(&storage.Video{
		ChannelID: ch.ID, ExternalID: "rt1", Title: "One", Watched: true, StartTime: 42, Duration: 300, Published: published,
	}))

	var buf bytes.Buffer
	require.NoError(t, Export(source, &buf, true))
	assert.Contains(t, buf.String(), "UCround")
	assert.Contains(t, buf.String(), "published = 2025-05-01T12:00:00Z")

	doc, err := Read(&buf)
	require.NoError(t, err)

	target := setupStore(t)
	_, err = Import(target, doc)
	require.NoError(t, err)

	v, err := target.GetVideoByExternalID("rt1")
	require.NoError(t, err)
	assert.True(t, v.Watched)
	assert.Equal(t, 42, v.StartTime)
	assert.Equal(t, 300, v.Duration)
	assert.True(t, v.Published.Equal(published))
}

func TestExport_ChannelsOnly(t *testing.T) {
	store := setupStore(t)
	ch := &storage.Channel{Name: "Only", ExternalID: "UConly", Subscribed: false}
	require.NoError(t, store.CreateChannel(ch))
	require.NoError(t, store.CreateVideo(&storage.Video{ChannelID: ch.ID, ExternalID: "x1"}))

	var buf bytes.Buffer
	require.NoError(t, Export(store, &buf, false))
	assert.NotContains(t, buf.String(), "x1")
	assert.Contains(t, buf.String(), "subscribed = false")
}
