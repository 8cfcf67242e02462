package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/validation"
)

var ErrChannelNotResolved = errors.New("channel id not found")

var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// ResolvedChannel is what a channel page reveals about itself.
type ResolvedChannel struct {
	ExternalID string
	Name       string
}

// ChannelResolver turns user input (a channel id, an @handle or a channel
// page URL) into an external channel id.
type ChannelResolver struct {
	client       *http.Client
	userAgent    string
	baseURL      string
	urlValidator *validation.URLValidator
}

func NewChannelResolver(cfg *config.Config) *ChannelResolver {
	return &ChannelResolver{
		client:       &http.Client{Timeout: cfg.Feed.HTTPTimeout},
		userAgent:    cfg.Feed.UserAgent,
		baseURL:      "https://www.youtube.com",
		urlValidator: validation.NewURLValidator(cfg.Feed.AllowPrivateHosts),
	}
}

// IsChannelID reports whether s has the shape of a channel id.
func IsChannelID(s string) bool {
	return channelIDPattern.MatchString(s)
}

func (r *ChannelResolver) Resolve(ctx context.Context, input string) (*ResolvedChannel, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty channel reference")
	}
	if IsChannelID(input) {
		return &ResolvedChannel{ExternalID: input}, nil
	}

	pageURL := input
	if strings.HasPrefix(input, "@") {
		pageURL = r.baseURL + "/" + input
	}

	u, err := r.urlValidator.Validate(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel reference %q: %w", input, err)
	}

	doc, err := r.getDocument(ctx, u.String())
	if err != nil {
		return nil, err
	}

	id := doc.Find("meta[itemprop=identifier]").AttrOr("content", "")
	if !IsChannelID(id) {
		id = doc.Find("meta[itemprop=channelId]").AttrOr("content", "")
	}
	if !IsChannelID(id) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotResolved, input)
	}

	name := doc.Find("meta[property='og:title']").AttrOr("content", "")
	if name == "" {
		name = doc.Find("meta[itemprop=name]").AttrOr("content", "")
	}

	return &ResolvedChannel{ExternalID: id, Name: strings.TrimSpace(name)}, nil
}

func (r *ChannelResolver) getDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching channel page: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching channel page: HTTP %d", res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing channel page: %w", err)
	}
	return doc, nil
}
