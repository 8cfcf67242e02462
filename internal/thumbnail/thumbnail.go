package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/debuglog"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/validation"
)

const maxThumbnailSize = 5 << 20

// Downloader stores video thumbnails as files under one directory.
type Downloader struct {
	client       *http.Client
	dir          string
	userAgent    string
	enabled      bool
	urlValidator *validation.URLValidator
}

func NewDownloader(cfg *config.Config) *Downloader {
	return &Downloader{
		client:       &http.Client{Timeout: cfg.Feed.HTTPTimeout},
		dir:          cfg.Thumbnails.Dir,
		userAgent:    cfg.Feed.UserAgent,
		enabled:      cfg.Thumbnails.Enabled && cfg.Thumbnails.Dir != "",
		urlValidator: validation.NewURLValidator(cfg.Feed.AllowPrivateHosts),
	}
}

// Dir is the directory thumbnails are stored in.
func (d *Downloader) Dir() string {
	return d.dir
}

// PathFor returns where the thumbnail of v lives.
func (d *Downloader) PathFor(v *storage.Video) (string, error) {
	return validation.FileInDir(d.dir, v.ExternalID+".jpg")
}

// Download fetches sourceURL into destPath. The file is written to a temporary
// name first so a failed download never leaves a truncated image behind.
func (d *Downloader) Download(ctx context.Context, sourceURL, destPath string) error {
	u, err := d.urlValidator.Validate(sourceURL)
	if err != nil {
		return fmt.Errorf("invalid thumbnail URL: %w", err)
	}
	if !validation.IsWithin(d.dir, destPath) {
		return fmt.Errorf("thumbnail path %s is outside %s", destPath, d.dir)
	}
	if err := validation.EnsureDirectory(d.dir); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching thumbnail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching thumbnail: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("unexpected thumbnail content type %q", ct)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".thumb-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, maxThumbnailSize+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing thumbnail: %w", err)
	}
	if n > maxThumbnailSize {
		return fmt.Errorf("thumbnail exceeds %d bytes", maxThumbnailSize)
	}

	return os.Rename(tmp.Name(), destPath)
}

// Fetch downloads the thumbnail of v and returns its path. Videos without a
// thumbnail URL yield an empty path.
func (d *Downloader) Fetch(ctx context.Context, v *storage.Video) (string, error) {
	if !d.enabled || v.ThumbnailURL == "" {
		return "", nil
	}
	path, err := d.PathFor(v)
	if err != nil {
		return "", err
	}
	if err := d.Download(ctx, v.ThumbnailURL, path); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes a thumbnail file. Missing files and empty paths are not errors.
func (d *Downloader) Remove(path string) error {
	if path == "" {
		return nil
	}
	if !validation.IsWithin(d.dir, path) {
		return fmt.Errorf("refusing to remove %s outside %s", path, d.dir)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing thumbnail: %w", err)
	}
	debuglog.Debugf("removed thumbnail %s", path)
	return nil
}

// RemoveAll removes the thumbnails of videos and logs failures.
func (d *Downloader) RemoveAll(videos []*storage.Video) {
	for _, v := range videos {
		if err := d.Remove(v.ThumbnailPath); err != nil {
			debuglog.Warnf("thumbnail cleanup for %s: %v", v.ExternalID, err)
		}
	}
}
