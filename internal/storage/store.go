package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ChannelsBucket   = []byte("channels")
	VideosBucket     = []byte("videos")
	VideoIndexBucket = []byte("video_external_ids")
	SettingsBucket   = []byte("settings")
)

const schemaVersionKey = "schema_version"

// OrphanedThumbnailsKey holds a JSON list of thumbnail files whose videos were
// removed by a migration. The CLI deletes them and clears the setting.
const OrphanedThumbnailsKey = "orphaned_thumbnails"

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicate      = errors.New("duplicate external id")
	ErrSchemaOutdated = errors.New("store schema is outdated, run migrations")
	// ErrStoreUnavailable is fatal: callers surface it without retrying.
	ErrStoreUnavailable = errors.New("store unavailable")
)

type Store struct {
	db *bolt.DB
}

// NewStore opens the database at dbPath. A fresh database gets the current
// layout, an existing one is left as is for the migration pipeline.
func NewStore(dbPath string) (*Store, error) {
	return NewStoreWithTimeout(dbPath, 1*time.Second)
}

func NewStoreWithTimeout(dbPath string, timeout time.Duration) (*Store, error) {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w: %v", ErrStoreUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		fresh := tx.Bucket(ChannelsBucket) == nil && tx.Bucket(VideosBucket) == nil
		buckets := [][]byte{ChannelsBucket, VideosBucket, SettingsBucket}
		if fresh {
			buckets = append(buckets, VideoIndexBucket)
		}
		for _, bucket := range buckets {
			if _, createErr := tx.CreateBucketIfNotExists(bucket); createErr != nil {
				return createErr
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// Update runs fn in a read-write transaction. It is the hook used by the
// migration pipeline, which works on raw buckets.
func (s *Store) Update(fn func(tx *bolt.Tx) error) error {
	return wrapDBErr(s.db.Update(fn))
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *bolt.Tx) error) error {
	return wrapDBErr(s.db.View(fn))
}

func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || errors.Is(err, bolt.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%w: bucket %q missing", ErrSchemaOutdated, name)
	}
	return b, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// Channels

func (s *Store) CreateChannel(ch *Channel) error {
	return s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		if existing, _ := channelByExternalID(b, ch.ExternalID); existing != nil {
			return fmt.Errorf("channel %s: %w", ch.ExternalID, ErrDuplicate)
		}
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		ch.ID = id
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now()
		}
		return putJSON(b, itob(id), ch)
	})
}

func (s *Store) SaveChannel(ch *Channel) error {
	return s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		if b.Get(itob(ch.ID)) == nil {
			return fmt.Errorf("channel %d: %w", ch.ID, ErrNotFound)
		}
		return putJSON(b, itob(ch.ID), ch)
	})
}

func (s *Store) GetChannel(id uint64) (*Channel, error) {
	var ch Channel
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("channel %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &ch)
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) GetChannelByExternalID(externalID string) (*Channel, error) {
	var ch *Channel
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		ch, err = channelByExternalID(b, externalID)
		return err
	})
	return ch, err
}

func channelByExternalID(b *bolt.Bucket, externalID string) (*Channel, error) {
	var found *Channel
	err := b.ForEach(func(_ []byte, v []byte) error {
		var ch Channel
		if err := json.Unmarshal(v, &ch); err != nil {
			return nil
		}
		if ch.ExternalID == externalID {
			found = &ch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("channel %s: %w", externalID, ErrNotFound)
	}
	return found, nil
}

func (s *Store) GetAllChannels() ([]*Channel, error) {
	var channels []*Channel
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_ []byte, v []byte) error {
			var ch Channel
			if err := json.Unmarshal(v, &ch); err != nil {
				return err
			}
			channels = append(channels, &ch)
			return nil
		})
	})
	// Sort channels by name (case-insensitive), fallback to external id
	sort.SliceStable(channels, func(i, j int) bool {
		return strings.ToLower(channels[i].DisplayName()) < strings.ToLower(channels[j].DisplayName())
	})
	return channels, err
}

// DeleteChannel removes the channel and every video it owns. The removed
// videos are returned so callers can clean up their thumbnail files.
func (s *Store) DeleteChannel(id uint64) ([]*Video, error) {
	var removed []*Video
	err := s.Update(func(tx *bolt.Tx) error {
		channels, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		if channels.Get(itob(id)) == nil {
			return fmt.Errorf("channel %d: %w", id, ErrNotFound)
		}
		if err := channels.Delete(itob(id)); err != nil {
			return err
		}

		videos, err := channelVideos(tx, id)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if err := deleteVideoTx(tx, v); err != nil {
				return err
			}
		}
		removed = videos
		return nil
	})
	return removed, err
}

// Videos

func (s *Store) CreateVideo(v *Video) error {
	return s.Update(func(tx *bolt.Tx) error {
		channels, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		if channels.Get(itob(v.ChannelID)) == nil {
			return fmt.Errorf("channel %d: %w", v.ChannelID, ErrNotFound)
		}
		return createVideoTx(tx, v)
	})
}

func createVideoTx(tx *bolt.Tx, v *Video) error {
	videos, err := bucket(tx, VideosBucket)
	if err != nil {
		return err
	}
	index, err := bucket(tx, VideoIndexBucket)
	if err != nil {
		return err
	}
	if v.ExternalID == "" {
		return fmt.Errorf("video without external id")
	}
	if index.Get([]byte(v.ExternalID)) != nil {
		return fmt.Errorf("video %s: %w", v.ExternalID, ErrDuplicate)
	}
	id, err := videos.NextSequence()
	if err != nil {
		return err
	}
	v.ID = id
	if err := putJSON(videos, itob(id), v); err != nil {
		return err
	}
	return index.Put([]byte(v.ExternalID), itob(id))
}

func deleteVideoTx(tx *bolt.Tx, v *Video) error {
	videos, err := bucket(tx, VideosBucket)
	if err != nil {
		return err
	}
	index, err := bucket(tx, VideoIndexBucket)
	if err != nil {
		return err
	}
	if err := videos.Delete(itob(v.ID)); err != nil {
		return err
	}
	return index.Delete([]byte(v.ExternalID))
}

func channelVideos(tx *bolt.Tx, channelID uint64) ([]*Video, error) {
	b, err := bucket(tx, VideosBucket)
	if err != nil {
		return nil, err
	}
	var videos []*Video
	err = b.ForEach(func(_ []byte, data []byte) error {
		var v Video
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
		if channelID == 0 || v.ChannelID == channelID {
			videos = append(videos, &v)
		}
		return nil
	})
	return videos, err
}

func (s *Store) GetVideo(id uint64) (*Video, error) {
	var v Video
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, VideosBucket)
		if err != nil {
			return err
		}
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("video %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) GetVideoByExternalID(externalID string) (*Video, error) {
	var v Video
	err := s.View(func(tx *bolt.Tx) error {
		index, err := bucket(tx, VideoIndexBucket)
		if err != nil {
			return err
		}
		id := index.Get([]byte(externalID))
		if id == nil {
			return fmt.Errorf("video %s: %w", externalID, ErrNotFound)
		}
		data := tx.Bucket(VideosBucket).Get(id)
		if data == nil {
			return fmt.Errorf("video %s: %w", externalID, ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ExistsByExternalID(externalID string) (bool, error) {
	var exists bool
	err := s.View(func(tx *bolt.Tx) error {
		index, err := bucket(tx, VideoIndexBucket)
		if err != nil {
			return err
		}
		exists = index.Get([]byte(externalID)) != nil
		return nil
	})
	return exists, err
}

// GetVideos returns the videos of a channel, newest first. A zero channelID
// returns every video.
func (s *Store) GetVideos(channelID uint64) ([]*Video, error) {
	var videos []*Video
	err := s.View(func(tx *bolt.Tx) error {
		var err error
		videos, err = channelVideos(tx, channelID)
		return err
	})
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].Published.After(videos[j].Published)
	})
	return videos, err
}

// CountVideos counts videos matching pred; a nil pred counts all of them.
func (s *Store) CountVideos(pred func(*Video) bool) (int, error) {
	count := 0
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, VideosBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_ []byte, data []byte) error {
			var v Video
			if err := json.Unmarshal(data, &v); err != nil {
				return nil
			}
			if pred == nil || pred(&v) {
				count++
			}
			return nil
		})
	})
	return count, err
}

// SaveVideos updates existing videos in one transaction.
func (s *Store) SaveVideos(videos []*Video) error {
	return s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, VideosBucket)
		if err != nil {
			return err
		}
		for _, v := range videos {
			if b.Get(itob(v.ID)) == nil {
				return fmt.Errorf("video %d: %w", v.ID, ErrNotFound)
			}
			if err := putJSON(b, itob(v.ID), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) updateVideo(id uint64, mutate func(*Video)) error {
	return s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, VideosBucket)
		if err != nil {
			return err
		}
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("video %d: %w", id, ErrNotFound)
		}

		var v Video
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		mutate(&v)
		return putJSON(b, itob(id), &v)
	})
}

func (s *Store) MarkVideoWatched(id uint64, watched bool) error {
	return s.updateVideo(id, func(v *Video) { v.Watched = watched })
}

func (s *Store) SetVideoStartTime(id uint64, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("negative start time %d", seconds)
	}
	return s.updateVideo(id, func(v *Video) { v.StartTime = seconds })
}

// DeleteVideo removes a single video and returns it for thumbnail cleanup.
func (s *Store) DeleteVideo(id uint64) (*Video, error) {
	var removed Video
	err := s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, VideosBucket)
		if err != nil {
			return err
		}
		data := b.Get(itob(id))
		if data == nil {
			return fmt.Errorf("video %d: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &removed); err != nil {
			return err
		}
		return deleteVideoTx(tx, &removed)
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// ApplyChannelChanges commits the inserts, prunes and watched markers of one
// channel in a single transaction. Inserts whose external id already
// exists are skipped. It returns the videos that were actually created and the
// ones that were deleted.
func (s *Store) ApplyChannelChanges(changes ChannelChanges) (created, deleted []*Video, err error) {
	err = s.Update(func(tx *bolt.Tx) error {
		created, deleted = nil, nil

		channels, err := bucket(tx, ChannelsBucket)
		if err != nil {
			return err
		}
		data := channels.Get(itob(changes.ChannelID))
		if data == nil {
			return fmt.Errorf("channel %d: %w", changes.ChannelID, ErrNotFound)
		}

		index, err := bucket(tx, VideoIndexBucket)
		if err != nil {
			return err
		}
		for _, v := range changes.Create {
			if index.Get([]byte(v.ExternalID)) != nil {
				continue
			}
			v.ChannelID = changes.ChannelID
			if err := createVideoTx(tx, v); err != nil {
				return err
			}
			created = append(created, v)
		}

		videos := tx.Bucket(VideosBucket)
		for _, id := range changes.Delete {
			raw := videos.Get(itob(id))
			if raw == nil {
				continue
			}
			var v Video
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if v.ChannelID != changes.ChannelID {
				return fmt.Errorf("video %d belongs to channel %d, not %d", id, v.ChannelID, changes.ChannelID)
			}
			if err := deleteVideoTx(tx, &v); err != nil {
				return err
			}
			deleted = append(deleted, &v)
		}

		for _, id := range changes.Watched {
			raw := videos.Get(itob(id))
			if raw == nil {
				return fmt.Errorf("video %d: %w", id, ErrNotFound)
			}
			var v Video
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if v.ChannelID != changes.ChannelID {
				return fmt.Errorf("video %d belongs to channel %d, not %d", id, v.ChannelID, changes.ChannelID)
			}
			v.Watched = true
			if err := putJSON(videos, itob(id), &v); err != nil {
				return err
			}
		}

		if !changes.Refreshed.IsZero() {
			var ch Channel
			if err := json.Unmarshal(data, &ch); err != nil {
				return err
			}
			ch.LastRefreshed = changes.Refreshed
			return putJSON(channels, itob(ch.ID), &ch)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, deleted, nil
}

// Settings

func (s *Store) GetSetting(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := s.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, SettingsBucket)
		if err != nil {
			return err
		}
		if data := b.Get([]byte(key)); data != nil {
			value, ok = string(data), true
		}
		return nil
	})
	return value, ok, err
}

func (s *Store) SetSetting(key, value string) error {
	return s.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, SettingsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// SchemaVersion returns the persisted schema version, 0 when it was never written.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.View(func(tx *bolt.Tx) error {
		var err error
		version, err = ReadSchemaVersion(tx)
		return err
	})
	return version, err
}

func ReadSchemaVersion(tx *bolt.Tx) (int, error) {
	b := tx.Bucket(SettingsBucket)
	if b == nil {
		return 0, nil
	}
	data := b.Get([]byte(schemaVersionKey))
	if data == nil {
		return 0, nil
	}
	version, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", data, err)
	}
	return version, nil
}

// WriteSchemaVersion stores version inside tx. The marker never goes backwards.
func WriteSchemaVersion(tx *bolt.Tx, version int) error {
	current, err := ReadSchemaVersion(tx)
	if err != nil {
		return err
	}
	if version < current {
		return fmt.Errorf("schema version %d is older than persisted version %d", version, current)
	}
	b, err := tx.CreateBucketIfNotExists(SettingsBucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(schemaVersionKey), []byte(strconv.Itoa(version)))
}

// AddOrphanedThumbnails appends paths to the orphaned thumbnail list inside tx.
func AddOrphanedThumbnails(tx *bolt.Tx, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	b, err := tx.CreateBucketIfNotExists(SettingsBucket)
	if err != nil {
		return err
	}
	existing, err := ParseOrphanedThumbnails(string(b.Get([]byte(OrphanedThumbnailsKey))))
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(existing, paths...))
	if err != nil {
		return err
	}
	return b.Put([]byte(OrphanedThumbnailsKey), data)
}

// ParseOrphanedThumbnails decodes the value of OrphanedThumbnailsKey. An
// empty value is an empty list.
func ParseOrphanedThumbnails(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(value), &paths); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", OrphanedThumbnailsKey, err)
	}
	return paths, nil
}
