package migrate

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/subwatch/internal/storage"
)

func key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// legacyStore writes a version 1 database: no external id index, channels
// without the subscribed flag, "m:ss" lengths and resume_at offsets.
func legacyStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		channels, err := tx.CreateBucket(storage.ChannelsBucket)
		if err != nil {
			return err
		}
		videos, err := tx.CreateBucket(storage.VideosBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucket(storage.SettingsBucket); err != nil {
			return err
		}

		records := map[uint64]string{
			1: `{"id":1,"name":"Old Channel","external_id":"UCold"}`,
			2: `{"id":2,"name":"Paused","external_id":"UCpaused","subscribed":false}`,
		}
		for id, rec := range records {
			if err := channels.Put(key(id), []byte(rec)); err != nil {
				return err
			}
		}
		if err := channels.SetSequence(2); err != nil {
			return err
		}

		videoRecords := map[uint64]string{
			1: `{"id":1,"channel_id":1,"title":"One","external_id":"v1","length":"4:13","resume_at":30,"watched":false}`,
			// The oldest duplicate is unwatched and inherits the flag.
			2: `{"id":2,"channel_id":1,"title":"Two","external_id":"v2","length":"1:02:03","watched":false,"thumbnail_path":"/thumbs/v2.jpg"}`,
			3: `{"id":3,"channel_id":1,"title":"Two again","external_id":"v2","length":"1:02:03","watched":true,"thumbnail_path":"/thumbs/v2-copy.jpg"}`,
			4: `{"id":4,"channel_id":2,"title":"Three","external_id":"v3","length":"soon","duration":0}`,
			5: `{"id":5,"channel_id":2,"title":"Four","external_id":"v4","duration":90,"start_time":12,"resume_at":99}`,
			6: `{"id":6,"channel_id":1,"title":"Five","external_id":"v5","watched":true}`,
		}
		for id, rec := range videoRecords {
			if err := videos.Put(key(id), []byte(rec)); err != nil {
				return err
			}
		}
		return videos.SetSequence(6)
	}))
	require.NoError(t, db.Close())

	store, err := storage.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLegacyStoreIsOutdated(t *testing.T) {
	store := legacyStore(t)

	_, err := store.GetVideoByExternalID("v1")
	assert.ErrorIs(t, err, storage.ErrSchemaOutdated)
}

func TestDefaultSteps_MigrateLegacyStore(t *testing.T) {
	store := legacyStore(t)
	p := NewDefault(store)

	q, err := p.Pending()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, versions(q))

	require.NoError(t, p.RunAll(q, nil))

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 5, version)

	// Index built, duplicate folded into the oldest record.
	v2, err := store.GetVideoByExternalID("v2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.ID)
	assert.True(t, v2.Watched, "watched flag inherited from duplicate")
	assert.Equal(t, 3723, v2.Duration)
	_, err = store.GetVideo(3)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "/thumbs/v2.jpg", v2.ThumbnailPath)

	// The removed duplicate's thumbnail is queued for cleanup.
	value, ok, err := store.GetSetting(storage.OrphanedThumbnailsKey)
	require.NoError(t, err)
	require.True(t, ok)
	orphaned, err := storage.ParseOrphanedThumbnails(value)
	require.NoError(t, err)
	assert.Equal(t, []string{"/thumbs/v2-copy.jpg"}, orphaned)

	v1, err := store.GetVideoByExternalID("v1")
	require.NoError(t, err)
	assert.Equal(t, 253, v1.Duration)
	assert.Equal(t, 30, v1.StartTime)

	v3, err := store.GetVideoByExternalID("v3")
	require.NoError(t, err)
	assert.Zero(t, v3.Duration, "unparsable length becomes unknown")

	v4, err := store.GetVideoByExternalID("v4")
	require.NoError(t, err)
	assert.Equal(t, 90, v4.Duration)
	assert.Equal(t, 12, v4.StartTime, "existing start_time wins")

	exists, err := store.ExistsByExternalID("v5")
	require.NoError(t, err)
	assert.True(t, exists)

	old, err := store.GetChannel(1)
	require.NoError(t, err)
	assert.True(t, old.Subscribed)
	paused, err := store.GetChannel(2)
	require.NoError(t, err)
	assert.False(t, paused.Subscribed, "explicit flag is kept")

	// Raw records no longer carry legacy keys.
	require.NoError(t, store.View(func(tx *bolt.Tx) error {
		return tx.Bucket(storage.VideosBucket).ForEach(func(k, v []byte) error {
			assert.NotContains(t, string(v), `"length"`)
			assert.NotContains(t, string(v), `"resume_at"`)
			return nil
		})
	}))

	// New ids continue after the legacy sequence.
	created := &storage.Video{ChannelID: 1, ExternalID: "v9", Title: "New"}
	require.NoError(t, store.CreateVideo(created))
	assert.Equal(t, uint64(7), created.ID)

	q, err = p.Pending()
	require.NoError(t, err)
	assert.Zero(t, q.Len())
}

func TestDefaultSteps_PartialRunResumes(t *testing.T) {
	store := legacyStore(t)
	steps := DefaultSteps()

	// Fail step 4 on the first attempt.
	broken := append([]Step(nil), steps...)
	broken[2].Apply = func(*bolt.Tx) error { return errors.New("interrupted") }

	p, err := New(store, broken)
	require.NoError(t, err)
	q, err := p.Pending()
	require.NoError(t, err)
	require.Error(t, p.RunAll(q, nil))

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	p = NewDefault(store)
	q, err = p.Pending()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, versions(q))
	require.NoError(t, p.RunAll(q, nil))

	v1, err := store.GetVideoByExternalID("v1")
	require.NoError(t, err)
	assert.Equal(t, 253, v1.Duration)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "0:00", want: 0},
		{in: "4:13", want: 253},
		{in: "12:00", want: 720},
		{in: "1:02:03", want: 3723},
		{in: "75", want: 75},
		{in: "4:75", wantErr: true},
		{in: "a:bc", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
		{in: "", wantErr: true},
		{in: "-1:00", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
