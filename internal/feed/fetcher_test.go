package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/pders01/subwatch/internal/config"
	"github.com/pders01/subwatch/internal/storage"
)

func testFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.TestConfig()
	cfg.Feed.URLTemplate = server.URL + "/feeds/videos.xml?channel_id=%s"
	return NewFetcher(cfg)
}

func TestFetcher_Fetch(t *testing.T) {
	fixture, err := os.ReadFile("testdata/channel.xml")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		channel        *storage.Channel
		serverResponse func(w http.ResponseWriter, r *http.Request)
		expectedCount  int
		expectError    bool
	}{
		{
			name:    "successful fetch",
			channel: &storage.Channel{Name: "Test", ExternalID: "UCtest0000000000000000"},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("User-Agent"); got != "subwatch-test/1.0" {
					t.Errorf("expected User-Agent subwatch-test/1.0, got %s", got)
				}
				if got := r.URL.Query().Get("channel_id"); got != "UCtest0000000000000000" {
					t.Errorf("expected channel_id UCtest0000000000000000, got %s", got)
				}
				w.Header().Set("Content-Type", "application/atom+xml")
				w.Write(fixture)
			},
			expectedCount: 2,
		},
		{
			name:    "not found",
			channel: &storage.Channel{ExternalID: "UCgone"},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			expectError: true,
		},
		{
			name:    "server error",
			channel: &storage.Channel{ExternalID: "UCbroken"},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectError: true,
		},
		{
			name:    "unparsable body",
			channel: &storage.Channel{ExternalID: "UCgarbage"},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("this is not xml"))
			},
			expectError: true,
		},
		{
			name:    "missing external id",
			channel: &storage.Channel{Name: "No id"},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				t.Error("no request expected")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := testFetcher(t, tt.serverResponse)

			entries, err := fetcher.Fetch(context.Background(), tt.channel)
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !errors.Is(err, ErrChannelUnreachable) {
					t.Errorf("expected ErrChannelUnreachable, got %v", err)
				}
				if entries != nil {
					t.Errorf("expected no entries with an error, got %d", len(entries))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(entries) != tt.expectedCount {
				t.Errorf("expected %d entries, got %d", tt.expectedCount, len(entries))
			}
		})
	}
}

func TestFetcher_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cfg := config.TestConfig()
	cfg.Feed.URLTemplate = url + "/feeds/videos.xml?channel_id=%s"
	fetcher := NewFetcher(cfg)

	_, err := fetcher.Fetch(context.Background(), &storage.Channel{ExternalID: "UCx"})
	if !errors.Is(err, ErrChannelUnreachable) {
		t.Errorf("expected ErrChannelUnreachable, got %v", err)
	}
}

func TestFetcher_RejectsPrivateHostByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request to a private host should not be sent")
	}))
	defer server.Close()

	cfg := config.TestConfig()
	cfg.Feed.AllowPrivateHosts = false
	cfg.Feed.URLTemplate = server.URL + "/feeds/videos.xml?channel_id=%s"

	_, err := NewFetcher(cfg).Fetch(context.Background(), &storage.Channel{ExternalID: "UCx"})
	if !errors.Is(err, ErrChannelUnreachable) {
		t.Errorf("expected ErrChannelUnreachable, got %v", err)
	}
}

func TestFetcher_FeedURL(t *testing.T) {
	fetcher := NewFetcher(config.TestConfig())
	got := fetcher.FeedURL("UCabc")
	want := "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc"
	if got != want {
		t.Errorf("FeedURL() = %s, want %s", got, want)
	}
}
