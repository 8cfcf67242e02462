package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/migrate"
	"github.com/pders01/subwatch/internal/search"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/task"
	"github.com/pders01/subwatch/internal/thumbnail"
	"github.com/pders01/subwatch/internal/validation"
)

// app holds what every command needs once the store is open.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	worker   *task.Worker
	thumbs   *thumbnail.Downloader
	searcher search.Searcher
	index    *search.BleveIndex
	out      io.Writer
	plain    bool
}

// openApp opens the store, brings its schema up to date and opens the
// search index. A failed migration keeps the store closed to commands.
func openApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	a, err := openStore(cmd, opts)
	if err != nil {
		return nil, err
	}
	if err := a.migrateOnStartup(); err != nil {
		a.Close()
		return nil, err
	}
	a.cleanupOrphanedThumbnails()
	a.openSearch()
	return a, nil
}

// openStore loads configuration, sets up logging and opens the store without
// touching its schema.
func openStore(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.dbPath != "" {
		if abs, absErr := filepath.Abs(opts.dbPath); absErr == nil {
			cfg.Database.Path = abs
		} else {
			cfg.Database.Path = opts.dbPath
		}
	}

	level := cfg.Log.Level
	if opts.debug {
		level = "debug"
	}
	if err := debuglog.Configure(level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	if err := validation.EnsureDirectory(filepath.Dir(cfg.Database.Path)); err != nil {
		return nil, fmt.Errorf("preparing database directory: %w", err)
	}
	store, err := storage.NewStoreWithTimeout(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, err
	}
	debuglog.Infof("opened store %s", store.Path())

	out := cmd.OutOrStdout()
	// Started tasks run to completion even after an interrupt.
	workerCtx := context.WithoutCancel(cmd.Context())
	return &app{
		cfg:    cfg,
		store:  store,
		worker: task.NewWorker(workerCtx),
		thumbs: thumbnail.NewDownloader(cfg),
		out:    out,
		plain:  opts.plain || !isTerminal(out),
	}, nil
}

func (a *app) Close() {
	if a.worker.Busy() {
		debuglog.Infof("waiting for the running task to finish")
	}
	a.worker.Close()
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			debuglog.Warnf("closing search index: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		debuglog.Warnf("closing store: %v", err)
	}
	debuglog.Close()
}

// migrateOnStartup runs pending migrations as a task. A store with nothing to
// migrate is stamped with the latest version.
func (a *app) migrateOnStartup() error {
	pipeline := migrate.NewDefault(a.store)
	queue, err := pipeline.Pending()
	if err != nil {
		return fmt.Errorf("planning migrations: %w", err)
	}
	if queue.Len() == 0 {
		return pipeline.Settle()
	}
	return a.runMigrations(pipeline, queue)
}

func (a *app) runMigrations(pipeline *migrate.Pipeline, queue *migrate.Queue) error {
	total := queue.Len()
	h, err := a.worker.Submit("migrate", func(ctx context.Context, progress chan<- task.Progress) (any, error) {
		done := 0
		err := pipeline.RunAll(queue, func(out migrate.Outcome) {
			if out.Status == migrate.Failed || out.Step == nil {
				return
			}
			done++
			task.Send(progress, float64(done)/float64(total),
				fmt.Sprintf("Applied migration %d (%s)", out.Step.Version, out.Step.Name))
		})
		return done, err
	})
	if err != nil {
		return err
	}

	res, err := followTask(a.out, a.plain, fmt.Sprintf("Migrating database (%d steps)", total), h)
	if err != nil {
		debuglog.Warnf("%v", err)
	}
	if res.Err != nil {
		var stepErr *migrate.StepError
		if errors.As(res.Err, &stepErr) {
			return fmt.Errorf("database upgrade stopped at step %d (%s); earlier steps are kept and the upgrade resumes on the next start: %w",
				stepErr.Version, stepErr.Name, stepErr.Err)
		}
		return fmt.Errorf("migrating database: %w", res.Err)
	}
	return nil
}

// cleanupOrphanedThumbnails removes the thumbnail files that migrations left
// without a video and clears the list.
func (a *app) cleanupOrphanedThumbnails() {
	value, ok, err := a.store.GetSetting(storage.OrphanedThumbnailsKey)
	if err != nil || !ok || value == "" {
		if err != nil {
			debuglog.Warnf("reading orphaned thumbnails: %v", err)
		}
		return
	}
	paths, err := storage.ParseOrphanedThumbnails(value)
	if err != nil {
		debuglog.Warnf("reading orphaned thumbnails: %v", err)
		return
	}
	removed := 0
	for _, path := range paths {
		if !validation.IsWithin(a.thumbs.Dir(), path) {
			debuglog.Warnf("leaving orphaned thumbnail %s outside %s", path, a.thumbs.Dir())
			continue
		}
		if err := a.thumbs.Remove(path); err != nil {
			debuglog.Warnf("orphaned thumbnail: %v", err)
			continue
		}
		removed++
	}
	if err := a.store.SetSetting(storage.OrphanedThumbnailsKey, ""); err != nil {
		debuglog.Warnf("clearing orphaned thumbnails: %v", err)
		return
	}
	debuglog.Infof("removed %d of %d orphaned thumbnails", removed, len(paths))
}

// openSearch prefers the bleve index and falls back to scanning the store.
func (a *app) openSearch() {
	a.searcher = search.NewEngine(a.store)
	if a.cfg.Database.SearchIndex == "" {
		return
	}
	idx, err := search.NewBleveIndex(a.store, a.cfg.Database.SearchIndex)
	if err != nil {
		debuglog.Warnf("search index unavailable, scanning store instead: %v", err)
		return
	}
	a.index = idx
	a.searcher = idx
}

// runTask submits fn and follows it to the end.
func (a *app) runTask(name, title string, fn task.Func) (any, error) {
	h, err := a.worker.Submit(name, fn)
	if err != nil {
		return nil, err
	}
	res, err := followTask(a.out, a.plain, title, h)
	if err != nil {
		debuglog.Warnf("%v", err)
	}
	return res.Value, res.Err
}

func (a *app) print(md string) {
	fmt.Fprint(a.out, renderMarkdown(md, a.plain))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
