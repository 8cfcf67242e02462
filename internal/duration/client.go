package duration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Jeffail/gabs/v2"
	isoduration "github.com/sosodev/duration"
	"golang.org/x/time/rate"

	"github.com/pders01/subwatch/internal/config"
)

var ErrLookupFailed = errors.New("duration lookup failed")

const (
	itemsPath    = "items"
	durationPath = "items.0.contentDetails.duration"
	errorPath    = "error.message"
)

// Lookup resolves the length of one video in seconds.
type Lookup interface {
	Lookup(ctx context.Context, externalID string) (int, error)
}

// Client queries the YouTube Data API for video durations.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	limiter  *rate.Limiter
}

func NewClient(cfg *config.Config) *Client {
	endpoint := cfg.Duration.Endpoint
	if endpoint == "" {
		endpoint = config.DefaultDurationEndpoint
	}
	limit := rate.Inf
	if cfg.Duration.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Duration.RequestsPerSecond)
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Duration.HTTPTimeout},
		endpoint: endpoint,
		apiKey:   cfg.Duration.APIKey,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (c *Client) Lookup(ctx context.Context, externalID string) (int, error) {
	seconds, err := c.lookup(ctx, externalID)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrLookupFailed, externalID, err)
	}
	return seconds, nil
}

func (c *Client) lookup(ctx context.Context, externalID string) (int, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("no API key configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	q := url.Values{}
	q.Set("part", "contentDetails")
	q.Set("id", externalID)
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting duration: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}

	j, err := gabs.ParseJSON(body)
	if err != nil {
		return 0, fmt.Errorf("parsing response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if msg, ok := j.Path(errorPath).Data().(string); ok {
			return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
		}
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if len(j.Path(itemsPath).Children()) == 0 {
		return 0, fmt.Errorf("video not found")
	}
	raw, ok := j.Path(durationPath).Data().(string)
	if !ok {
		return 0, fmt.Errorf("response has no duration")
	}
	return ParseISO8601(raw)
}

// ParseISO8601 converts durations such as "PT1H2M3S" to whole seconds.
func ParseISO8601(s string) (int, error) {
	d, err := isoduration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", s, err)
	}
	seconds := int(d.ToTimeDuration().Seconds())
	if seconds < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return seconds, nil
}
