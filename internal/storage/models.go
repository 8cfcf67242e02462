package storage

import (
	"time"
)

// Channel is a subscribed content source. Deleting a channel removes its videos.
type Channel struct {
	ID            uint64    `json:"id"`
	Name          string    `json:"name"`
	ExternalID    string    `json:"external_id"`
	Subscribed    bool      `json:"subscribed"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Video is one item of a channel. ExternalID is unique across all videos.
type Video struct {
	ID            uint64    `json:"id"`
	ChannelID     uint64    `json:"channel_id"`
	Title         string    `json:"title"`
	ExternalID    string    `json:"external_id"`
	Link          string    `json:"link"`
	Published     time.Time `json:"published"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	ThumbnailPath string    `json:"thumbnail_path"`
	Watched       bool      `json:"watched"`
	Duration      int       `json:"duration"`   // seconds, 0 when unknown
	StartTime     int       `json:"start_time"` // resume offset in seconds
}

// DisplayName falls back to the external id for channels imported without a name.
func (c *Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ExternalID
}

// ChannelChanges is the outcome of reconciling or importing one channel,
// applied atomically.
type ChannelChanges struct {
	ChannelID uint64
	Create    []*Video
	Delete    []uint64
	// Watched marks existing videos of the channel as watched.
	Watched   []uint64
	Refreshed time.Time
}
