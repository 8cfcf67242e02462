package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/storage"
	"github.com/pders01/subwatch/internal/validation"
)

// ErrChannelUnreachable covers every way a channel feed can fail: transport
// errors, HTTP errors and documents that do not parse.
var ErrChannelUnreachable = errors.New("channel unreachable")

const maxFeedSize = 10 << 20

type Fetcher struct {
	client       *http.Client
	parser       *Parser
	userAgent    string
	urlTemplate  string
	urlValidator *validation.URLValidator
}

func NewFetcher(cfg *config.Config) *Fetcher {
	template := cfg.Feed.URLTemplate
	if template == "" {
		template = config.DefaultFeedURLTemplate
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Feed.HTTPTimeout,
		},
		parser:       NewParser(),
		userAgent:    cfg.Feed.UserAgent,
		urlTemplate:  template,
		urlValidator: validation.NewURLValidator(cfg.Feed.AllowPrivateHosts),
	}
}

// FeedURL returns the feed address of a channel.
func (f *Fetcher) FeedURL(externalID string) string {
	return fmt.Sprintf(f.urlTemplate, url.QueryEscape(externalID))
}

// Fetch downloads and parses the feed of ch. It either returns the complete
// entry list or an error wrapping ErrChannelUnreachable.
func (f *Fetcher) Fetch(ctx context.Context, ch *storage.Channel) ([]Entry, error) {
	entries, err := f.fetch(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrChannelUnreachable, ch.DisplayName(), err)
	}
	return entries, nil
}

func (f *Fetcher) fetch(ctx context.Context, ch *storage.Channel) ([]Entry, error) {
	if strings.TrimSpace(ch.ExternalID) == "" {
		return nil, fmt.Errorf("channel has no external id")
	}

	feedURL, err := f.urlValidator.Validate(f.FeedURL(ch.ExternalID))
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return f.parser.Parse(io.LimitReader(resp.Body, maxFeedSize))
}
