package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidator checks remote URLs before the fetcher or the thumbnail
// downloader touches them.
type URLValidator struct {
	// AllowPrivateHosts permits localhost, loopback and private network addresses
	AllowPrivateHosts bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewURLValidator creates a validator. Private hosts are refused unless
// allowPrivate is set.
func NewURLValidator(allowPrivate bool) *URLValidator {
	return &URLValidator{
		AllowPrivateHosts: allowPrivate,
		MaxLength:         2048,
	}
}

// Validate parses raw and rejects anything that is not a plain http(s) URL
// pointing at an acceptable host.
func (v *URLValidator) Validate(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if len(raw) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(raw, "<>\"'`") {
		return nil, fmt.Errorf("URL contains invalid characters")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("URL must use http or https protocol")
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a valid hostname")
	}
	if strings.Contains(parsed.Path, "..") {
		return nil, fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	if !v.AllowPrivateHosts {
		if err := checkPublicHost(parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	return parsed, nil
}

func checkPublicHost(hostname string) error {
	hostname = strings.ToLower(hostname)
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return fmt.Errorf("localhost URLs are not permitted")
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}
	if ip.IsLoopback() {
		return fmt.Errorf("localhost URLs are not permitted")
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.Equal(net.IPv4bcast) {
		return fmt.Errorf("private IP addresses are not permitted")
	}
	return nil
}
