package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Source retrieves and parses a remote feed document.
type Source interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// GofeedSource fetches feeds over HTTP and parses them with gofeed.
type GofeedSource struct {
	parser *gofeed.Parser
}

// NewGofeedSource creates a source with its own HTTP client.
func NewGofeedSource(timeout time.Duration, userAgent string) *GofeedSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &GofeedSource{parser: parser}
}

// Fetch downloads and parses the feed at url.
func (s *GofeedSource) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	return s.parser.ParseURLWithContext(url, ctx)
}
