package duration

import (
	"context"
	"fmt"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
)

// LookupError records a failed lookup for one video.
type LookupError struct {
	Video *storage.Video
	Err   error
}

func (e LookupError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Video.Title, e.Video.ExternalID, e.Err)
}

func (e LookupError) Unwrap() error {
	return e.Err
}

// Backfiller fills in missing video durations. Without a lookup it is
// disabled and every call is a no-op.
type Backfiller struct {
	store  *storage.Store
	lookup Lookup
}

func NewBackfiller(store *storage.Store, lookup Lookup) *Backfiller {
	return &Backfiller{store: store, lookup: lookup}
}

// FromConfig returns a backfiller using the YouTube Data API when an API key
// is configured.
func FromConfig(cfg *config.Config, store *storage.Store) *Backfiller {
	if !cfg.DurationLookupEnabled() {
		return NewBackfiller(store, nil)
	}
	return NewBackfiller(store, NewClient(cfg))
}

func (b *Backfiller) Enabled() bool {
	return b != nil && b.lookup != nil
}

// Resolve looks up the duration of every video whose duration is unknown and
// sets it in place. Nothing is persisted. One failed lookup never stops the
// others.
func (b *Backfiller) Resolve(ctx context.Context, videos []*storage.Video) (updated []*storage.Video, errs []LookupError) {
	if !b.Enabled() {
		return nil, nil
	}
	for _, v := range videos {
		if v.Duration != 0 {
			continue
		}
		seconds, err := b.lookup.Lookup(ctx, v.ExternalID)
		if err != nil {
			debuglog.WithFields(map[string]interface{}{
				"video": v.ExternalID,
			}).Warnf("duration lookup: %v", err)
			errs = append(errs, LookupError{Video: v, Err: err})
			continue
		}
		v.Duration = seconds
		updated = append(updated, v)
	}
	return updated, errs
}

// Backfill resolves durations and commits every successful update in one
// batch, however many lookups failed. err is only set when the commit fails.
func (b *Backfiller) Backfill(ctx context.Context, videos []*storage.Video) (updated []*storage.Video, errs []LookupError, err error) {
	updated, errs = b.Resolve(ctx, videos)
	if len(updated) == 0 {
		return nil, errs, nil
	}
	if err := b.store.SaveVideos(updated); err != nil {
		return nil, errs, fmt.Errorf("saving durations: %w", err)
	}
	debuglog.Infof("backfilled %d durations, %d failed", len(updated), len(errs))
	return updated, errs, nil
}

// Report summarises a store-wide backfill.
type Report struct {
	Candidates int
	Updated    []*storage.Video
	Errors     []LookupError
}

// BackfillAll runs Backfill over every video in the store without a duration.
// progress, when set, receives the number of processed videos.
func (b *Backfiller) BackfillAll(ctx context.Context, progress func(done, total int)) (*Report, error) {
	if !b.Enabled() {
		return &Report{}, nil
	}
	all, err := b.store.GetVideos(0)
	if err != nil {
		return nil, fmt.Errorf("loading videos: %w", err)
	}

	var candidates []*storage.Video
	for _, v := range all {
		if v.Duration == 0 {
			candidates = append(candidates, v)
		}
	}

	report := &Report{Candidates: len(candidates)}
	var resolved []*storage.Video
	for i, v := range candidates {
		up, errs := b.Resolve(ctx, []*storage.Video{v})
		resolved = append(resolved, up...)
		report.Errors = append(report.Errors, errs...)
		if progress != nil {
			progress(i+1, len(candidates))
		}
	}

	if len(resolved) > 0 {
		if err := b.store.SaveVideos(resolved); err != nil {
			return nil, fmt.Errorf("saving durations: %w", err)
		}
	}
	report.Updated = resolved
	return report, nil
}
