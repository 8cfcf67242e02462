// Package reconcile merges freshly fetched channel feeds into the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/duration"
	"github.com/pders01/subwatch/internal/feed"
	"github.com/pders01/subwatch/internal/search"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/task"
)

// Fetcher returns the complete entry list of a channel or an error.
type Fetcher interface {
	Fetch(ctx context.Context, ch *storage.Channel) ([]feed.Entry, error)
}

// Thumbnails stores and removes thumbnail files.
type Thumbnails interface {
	Fetch(ctx context.Context, v *storage.Video) (string, error)
	RemoveAll(videos []*storage.Video)
}

// Durations fills in durations of new videos before they are stored.
type Durations interface {
	Enabled() bool
	Resolve(ctx context.Context, videos []*storage.Video) ([]*storage.Video, []duration.LookupError)
}

// RunResult is reported once, after every channel was processed.
type RunResult struct {
	Channels       int
	NotFound       []storage.Channel
	DurationErrors []duration.LookupError
	Created        int
	Deleted        int
	// Retained counts unwatched videos kept although the feed no longer lists them.
	Retained int
}

type Engine struct {
	store      *storage.Store
	fetcher    Fetcher
	thumbnails Thumbnails
	durations  Durations
	listeners  []search.UpdateListener
	now        func() time.Time
}

type Option func(*Engine)

func WithThumbnails(t Thumbnails) Option {
	return func(e *Engine) { e.thumbnails = t }
}

func WithDurations(d Durations) Option {
	return func(e *Engine) { e.durations = d }
}

// WithListener registers l to be told about every committed channel.
func WithListener(l search.UpdateListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, l) }
}

func New(store *storage.Store, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunSubscribed reconciles every subscribed channel in display order.
func (e *Engine) RunSubscribed(ctx context.Context, progress chan<- task.Progress) (*RunResult, error) {
	all, err := e.store.GetAllChannels()
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	var channels []*storage.Channel
	for _, ch := range all {
		if ch.Subscribed {
			channels = append(channels, ch)
		}
	}
	return e.Run(ctx, channels, progress)
}

// Run reconciles channels strictly in the given order. A channel whose feed
// cannot be fetched is recorded in NotFound and skipped. A store failure
// aborts the run.
func (e *Engine) Run(ctx context.Context, channels []*storage.Channel, progress chan<- task.Progress) (*RunResult, error) {
	result := &RunResult{Channels: len(channels)}
	total := len(channels)

	for i, ch := range channels {
		if err := e.reconcileChannel(ctx, ch, result); err != nil {
			return nil, fmt.Errorf("reconciling %s: %w", ch.DisplayName(), err)
		}
		task.Send(progress, float64(i+1)/float64(total), fmt.Sprintf("Refreshed %s (%d/%d)", ch.DisplayName(), i+1, total))
	}

	debuglog.Infof("reconciled %d channels: %d created, %d deleted, %d retained, %d unreachable",
		total, result.Created, result.Deleted, result.Retained, len(result.NotFound))
	return result, nil
}

func (e *Engine) reconcileChannel(ctx context.Context, ch *storage.Channel, result *RunResult) error {
	log := debuglog.WithFields(map[string]interface{}{
		"channel": ch.DisplayName(),
		"id":      ch.ExternalID,
	})

	entries, err := e.fetcher.Fetch(ctx, ch)
	if err != nil {
		log.Warnf("fetch failed: %v", err)
		result.NotFound = append(result.NotFound, *ch)
		return nil
	}

	existing, err := e.store.GetVideos(ch.ID)
	if err != nil {
		return fmt.Errorf("loading videos: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, v := range existing {
		known[v.ExternalID] = true
	}

	seen := make(map[string]bool, len(entries))
	var fresh []*storage.Video
	for _, entry := range entries {
		if seen[entry.ExternalID] {
			continue
		}
		seen[entry.ExternalID] = true
		if known[entry.ExternalID] {
			continue
		}
		// The id may belong to another channel.
		exists, err := e.store.ExistsByExternalID(entry.ExternalID)
		if err != nil {
			return fmt.Errorf("checking %s: %w", entry.ExternalID, err)
		}
		if exists {
			log.Debugf("video %s already stored under another channel", entry.ExternalID)
			continue
		}
		fresh = append(fresh, newVideo(ch, entry))
	}

	var prune []uint64
	for _, v := range existing {
		if seen[v.ExternalID] {
			continue
		}
		if v.Watched {
			prune = append(prune, v.ID)
		} else {
			result.Retained++
		}
	}

	if e.durations != nil && e.durations.Enabled() && len(fresh) > 0 {
		_, errs := e.durations.Resolve(ctx, fresh)
		result.DurationErrors = append(result.DurationErrors, errs...)
	}

	refreshed := e.now()
	created, deleted, err := e.store.ApplyChannelChanges(storage.ChannelChanges{
		ChannelID: ch.ID,
		Create:    fresh,
		Delete:    prune,
		Refreshed: refreshed,
	})
	if err != nil {
		return err
	}
	ch.LastRefreshed = refreshed
	result.Created += len(created)
	result.Deleted += len(deleted)

	if e.thumbnails != nil {
		e.thumbnails.RemoveAll(deleted)
		if err := e.downloadThumbnails(ctx, created, log); err != nil {
			return err
		}
	}

	for _, l := range e.listeners {
		l.OnChannelUpdated(ch, created, deleted)
	}

	log.Debugf("%d new, %d pruned", len(created), len(deleted))
	return nil
}

// downloadThumbnails runs after the commit. Download failures are logged and
// leave the video without a thumbnail.
func (e *Engine) downloadThumbnails(ctx context.Context, videos []*storage.Video, log *debuglog.FieldLogger) error {
	var withThumb []*storage.Video
	for _, v := range videos {
		path, err := e.thumbnails.Fetch(ctx, v)
		if err != nil {
			log.Warnf("thumbnail for %s: %v", v.ExternalID, err)
			continue
		}
		if path == "" {
			continue
		}
		v.ThumbnailPath = path
		withThumb = append(withThumb, v)
	}
	if len(withThumb) == 0 {
		return nil
	}
	if err := e.store.SaveVideos(withThumb); err != nil {
		if errors.Is(err, storage.ErrStoreUnavailable) {
			return err
		}
		log.Warnf("saving thumbnail paths: %v", err)
	}
	return nil
}

func newVideo(ch *storage.Channel, entry feed.Entry) *storage.Video {
	return &storage.Video{
		ChannelID:    ch.ID,
		Title:        entry.Title,
		ExternalID:   entry.ExternalID,
		Link:         entry.Link,
		Published:    entry.Published,
		ThumbnailURL: entry.ThumbnailURL,
		Watched:      false,
		Duration:     0,
	}
}
