// Package importer reads and writes subscription lists as TOML.
package importer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
)

// Document is a subscription list:
//
//	[[channel]]
//	name = "Some Channel"
//	external_id = "UC..."
//
//	[[channel.video]]
//	external_id = "dQw4w9WgXcQ"
//	watched = true
type Document struct {
	Channels []Channel `toml:"channel"`
}

type Channel struct {
	Name       string  `toml:"name"`
	ExternalID string  `toml:"external_id"`
	Subscribed *bool   `toml:"subscribed,omitempty"`
	Videos     []Video `toml:"video,omitempty"`
}

type Video struct {
	ExternalID string    `toml:"external_id"`
	Title      string    `toml:"title,omitempty"`
	Link       string    `toml:"link,omitempty"`
	Published  time.Time `toml:"published"`
	Watched    bool      `toml:"watched,omitempty"`
	Duration   int       `toml:"duration,omitempty"`
	StartTime  int       `toml:"start_time,omitempty"`
}

// Summary counts what an import did.
type Summary struct {
	ChannelsCreated int
	ChannelsSkipped int
	VideosCreated   int
	VideosMarked    int
	// Changed lists the channels that were created or gained videos so
	// callers can index them.
	Changed []ChannelResult
}

// ChannelResult is one channel touched by an import.
type ChannelResult struct {
	Channel *storage.Channel
	New     bool
	Videos  []*storage.Video
}

func Read(r io.Reader) (*Document, error) {
	var doc Document
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parsing subscriptions at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parsing subscriptions: %w", err)
	}
	for i, ch := range doc.Channels {
		if strings.TrimSpace(ch.ExternalID) == "" {
			return nil, fmt.Errorf("channel %d (%q) has no external_id", i+1, ch.Name)
		}
		for _, v := range ch.Videos {
			if strings.TrimSpace(v.ExternalID) == "" {
				return nil, fmt.Errorf("channel %s lists a video without external_id", ch.ExternalID)
			}
		}
	}
	return &doc, nil
}

// Import creates the channels of doc that are not stored yet. Listed videos
// are created when missing; a watched marker on an existing video of the
// same channel marks it watched. The videos of each channel are written in
// one transaction.
func Import(store *storage.Store, doc *Document) (*Summary, error) {
	summary := &Summary{}

	for _, entry := range doc.Channels {
		externalID := strings.TrimSpace(entry.ExternalID)
		isNew := false
		ch, err := store.GetChannelByExternalID(externalID)
		switch {
		case err == nil:
			summary.ChannelsSkipped++
		case errors.Is(err, storage.ErrNotFound):
			ch = &storage.Channel{
				Name:       strings.TrimSpace(entry.Name),
				ExternalID: externalID,
				Subscribed: entry.Subscribed == nil || *entry.Subscribed,
			}
			if err := store.CreateChannel(ch); err != nil {
				return summary, fmt.Errorf("creating channel %s: %w", externalID, err)
			}
			summary.ChannelsCreated++
			isNew = true
		default:
			return summary, fmt.Errorf("looking up channel %s: %w", externalID, err)
		}

		created, err := importVideos(store, ch, entry.Videos, summary)
		if err != nil {
			return summary, err
		}
		if isNew || len(created) > 0 {
			summary.Changed = append(summary.Changed, ChannelResult{Channel: ch, New: isNew, Videos: created})
		}
	}

	debuglog.Infof("import: %d channels created, %d skipped, %d videos created, %d marked watched",
		summary.ChannelsCreated, summary.ChannelsSkipped, summary.VideosCreated, summary.VideosMarked)
	return summary, nil
}

func importVideos(store *storage.Store, ch *storage.Channel, videos []Video, summary *Summary) ([]*storage.Video, error) {
	if len(videos) == 0 {
		return nil, nil
	}

	changes := storage.ChannelChanges{ChannelID: ch.ID}
	marked := make(map[uint64]bool)
	for _, entry := range videos {
		externalID := strings.TrimSpace(entry.ExternalID)
		existing, err := store.GetVideoByExternalID(externalID)
		switch {
		case err == nil:
			if entry.Watched && !existing.Watched && existing.ChannelID == ch.ID && !marked[existing.ID] {
				marked[existing.ID] = true
				changes.Watched = append(changes.Watched, existing.ID)
			}
		case errors.Is(err, storage.ErrNotFound):
			changes.Create = append(changes.Create, &storage.Video{
				ExternalID: externalID,
				Title:      entry.Title,
				Link:       entry.Link,
				Published:  entry.Published,
				Watched:    entry.Watched,
				Duration:   entry.Duration,
				StartTime:  entry.StartTime,
			})
		default:
			return nil, fmt.Errorf("looking up video %s: %w", externalID, err)
		}
	}
	if len(changes.Create) == 0 && len(changes.Watched) == 0 {
		return nil, nil
	}

	created, _, err := store.ApplyChannelChanges(changes)
	if err != nil {
		return nil, fmt.Errorf("importing videos of %s: %w", ch.ExternalID, err)
	}
	summary.VideosCreated += len(created)
	summary.VideosMarked += len(changes.Watched)
	return created, nil
}

// Export writes every channel. With withVideos set, each video is listed with
// its watched state and resume offset.
func Export(store *storage.Store, w io.Writer, withVideos bool) error {
	channels, err := store.GetAllChannels()
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}

	doc := Document{Channels: make([]Channel, 0, len(channels))}
	for _, ch := range channels {
		subscribed := ch.Subscribed
		entry := Channel{Name: ch.Name, ExternalID: ch.ExternalID, Subscribed: &subscribed}
		if withVideos {
			videos, err := store.GetVideos(ch.ID)
			if err != nil {
				return fmt.Errorf("loading videos of %s: %w", ch.ExternalID, err)
			}
			for _, v := range videos {
				entry.Videos = append(entry.Videos, Video{
					ExternalID: v.ExternalID,
					Title:      v.Title,
					Link:       v.Link,
					Published:  v.Published.UTC(),
					Watched:    v.Watched,
					Duration:   v.Duration,
					StartTime:  v.StartTime,
				})
			}
		}
		doc.Channels = append(doc.Channels, entry)
	}

	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(doc)
}
