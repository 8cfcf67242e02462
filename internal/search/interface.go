package search

import "github.com/pders01/subwatch/internal/storage"

// Searcher defines the minimal search API used by the CLI.
type Searcher interface {
	Search(query string, limit int) ([]*Result, error)
}

// UpdateListener can be implemented by search engines that maintain
// an external index and want to be notified after a channel's changes commit.
type UpdateListener interface {
	OnChannelUpdated(ch *storage.Channel, created, deleted []*storage.Video)
}

// DeleteListener can be implemented to get notified when a channel is deleted.
type DeleteListener interface {
	OnChannelDeleted(ch *storage.Channel, videos []*storage.Video)
}

// DebugStatser provides lightweight stats for visibility/debugging.
// Implemented by engines that can report index doc counts, etc.
type DebugStatser interface {
	DocCount() (int, error)
}
