package migrate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
)

// Record keys of legacy layouts.
const (
	legacyLengthKey   = "length"
	legacyResumeAtKey = "resume_at"
)

// DefaultSteps is the production table. Version 1 is the original layout
// with channels, videos and settings buckets. Append new rows at the end.
func DefaultSteps() []Step {
	return []Step{
		{
			Version: 2,
			Name:    "external_id_index",
			Applied: bucketExists(storage.VideoIndexBucket),
			Apply:   buildExternalIDIndex,
		},
		{
			Version: 3,
			Name:    "channel_subscribed_flag",
			Applied: noRecordMatches(storage.ChannelsBucket, lacksKey("subscribed")),
			Apply:   rewriteRecords(storage.ChannelsBucket, addSubscribedFlag),
		},
		{
			Version: 4,
			Name:    "video_duration_seconds",
			Applied: noRecordMatches(storage.VideosBucket, hasKey(legacyLengthKey)),
			Apply:   rewriteRecords(storage.VideosBucket, convertLength),
		},
		{
			Version: 5,
			Name:    "video_start_time",
			Applied: noRecordMatches(storage.VideosBucket, hasKey(legacyResumeAtKey)),
			Apply:   rewriteRecords(storage.VideosBucket, renameResumeAt),
		},
	}
}

func bucketExists(name []byte) func(tx *bolt.Tx) (bool, error) {
	return func(tx *bolt.Tx) (bool, error) {
		return tx.Bucket(name) != nil, nil
	}
}

func hasKey(key string) func(*gabs.Container) bool {
	return func(c *gabs.Container) bool { return c.Exists(key) }
}

func lacksKey(key string) func(*gabs.Container) bool {
	return func(c *gabs.Container) bool { return !c.Exists(key) }
}

// noRecordMatches is applied when no record of the bucket satisfies match.
// A missing bucket has no records.
func noRecordMatches(name []byte, match func(*gabs.Container) bool) func(tx *bolt.Tx) (bool, error) {
	return func(tx *bolt.Tx) (bool, error) {
		b := tx.Bucket(name)
		if b == nil {
			return true, nil
		}
		found := false
		err := b.ForEach(func(k, v []byte) error {
			c, err := gabs.ParseJSON(v)
			if err != nil {
				return fmt.Errorf("record %x in %s: %w", k, name, err)
			}
			if match(c) {
				found = true
			}
			return nil
		})
		return !found, err
	}
}

// rewriteRecords applies edit to every record of a bucket and stores the
// records edit reports as changed. Writes happen after iteration.
func rewriteRecords(name []byte, edit func(*gabs.Container) (bool, error)) func(tx *bolt.Tx) error {
	return func(tx *bolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return fmt.Errorf("bucket %s missing", name)
		}

		changed := map[string][]byte{}
		err := b.ForEach(func(k, v []byte) error {
			c, err := gabs.ParseJSON(v)
			if err != nil {
				return fmt.Errorf("record %x: %w", k, err)
			}
			ok, err := edit(c)
			if err != nil {
				return fmt.Errorf("record %x: %w", k, err)
			}
			if ok {
				changed[string(k)] = c.Bytes()
			}
			return nil
		})
		if err != nil {
			return err
		}

		for k, v := range changed {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		debuglog.Infof("rewrote %d records in %s", len(changed), name)
		return nil
	}
}

func addSubscribedFlag(c *gabs.Container) (bool, error) {
	if c.Exists("subscribed") {
		return false, nil
	}
	_, err := c.Set(true, "subscribed")
	return err == nil, err
}

// convertLength replaces "length" ("m:ss" or "h:mm:ss") with "duration" in
// seconds. An existing non-zero duration wins. Lengths that do not parse
// become unknown so a later backfill can fill them in.
func convertLength(c *gabs.Container) (bool, error) {
	if !c.Exists(legacyLengthKey) {
		return false, nil
	}

	seconds := 0
	if raw, ok := c.Path(legacyLengthKey).Data().(string); ok {
		parsed, err := ParseClock(raw)
		if err != nil {
			debuglog.Warnf("video %v: %v", c.Path("external_id").Data(), err)
		} else {
			seconds = parsed
		}
	}

	if current, ok := c.Path("duration").Data().(float64); !ok || current == 0 {
		if _, err := c.Set(seconds, "duration"); err != nil {
			return false, err
		}
	}
	if err := c.Delete(legacyLengthKey); err != nil {
		return false, err
	}
	return true, nil
}

func renameResumeAt(c *gabs.Container) (bool, error) {
	if !c.Exists(legacyResumeAtKey) {
		return false, nil
	}
	if !c.Exists("start_time") {
		value := c.Path(legacyResumeAtKey).Data()
		if _, ok := value.(float64); !ok {
			value = 0
		}
		if _, err := c.Set(value, "start_time"); err != nil {
			return false, err
		}
	}
	if err := c.Delete(legacyResumeAtKey); err != nil {
		return false, err
	}
	return true, nil
}

// ParseClock parses "ss", "m:ss" or "h:mm:ss" into seconds.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty length")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid length %q", s)
	}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid length %q", s)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("invalid length %q", s)
		}
		total = total*60 + n
	}
	return total, nil
}

// buildExternalIDIndex creates the external id index. When legacy data holds
// the same external id twice, the oldest record is kept, inherits a watched
// flag from its duplicates, and the duplicates are removed. Thumbnail files of
// removed duplicates are queued for deletion under
// storage.OrphanedThumbnailsKey.
func buildExternalIDIndex(tx *bolt.Tx) error {
	videos := tx.Bucket(storage.VideosBucket)
	if videos == nil {
		return fmt.Errorf("bucket %s missing", storage.VideosBucket)
	}
	index, err := tx.CreateBucketIfNotExists(storage.VideoIndexBucket)
	if err != nil {
		return err
	}

	type kept struct {
		key     []byte
		record  *gabs.Container
		watched bool
	}
	seen := map[string]*kept{}
	var order []string
	var (
		duplicates [][]byte
		orphaned   []string
	)

	err = videos.ForEach(func(k, v []byte) error {
		c, err := gabs.ParseJSON(v)
		if err != nil {
			return fmt.Errorf("record %x: %w", k, err)
		}
		id, _ := c.Path("external_id").Data().(string)
		if id == "" {
			debuglog.Warnf("video %x has no external id, not indexed", k)
			return nil
		}
		watched, _ := c.Path("watched").Data().(bool)
		if first, ok := seen[id]; ok {
			first.watched = first.watched || watched
			duplicates = append(duplicates, append([]byte(nil), k...))
			keptPath, _ := first.record.Path("thumbnail_path").Data().(string)
			if path, _ := c.Path("thumbnail_path").Data().(string); path != "" && path != keptPath {
				orphaned = append(orphaned, path)
			}
			return nil
		}
		seen[id] = &kept{key: append([]byte(nil), k...), record: c, watched: watched}
		order = append(order, id)
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range duplicates {
		if err := videos.Delete(k); err != nil {
			return err
		}
	}
	if len(duplicates) > 0 {
		debuglog.Warnf("removed %d duplicate videos", len(duplicates))
	}
	if err := storage.AddOrphanedThumbnails(tx, orphaned); err != nil {
		return err
	}

	for _, id := range order {
		entry := seen[id]
		if was, _ := entry.record.Path("watched").Data().(bool); entry.watched && !was {
			if _, err := entry.record.Set(true, "watched"); err != nil {
				return err
			}
			if err := videos.Put(entry.key, entry.record.Bytes()); err != nil {
				return err
			}
		}
		if err := index.Put([]byte(id), entry.key); err != nil {
			return err
		}
	}
	return nil
}
