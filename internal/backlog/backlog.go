// Package backlog fetches the bodies of articles that have not been
// retrieved successfully yet.
package backlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/metrics"
)

// PlaceholderBody is recorded as the body of a transport failure.
const PlaceholderBody = "Hurz."

// Result holds the results of one backlog pass.
type Result struct {
	Total           int
	Fetched         int
	Failed          int
	TransportErrors int
	Interrupted     bool
}

// Processor works through the pending articles of a store, one at a time.
type Processor struct {
	client    *http.Client
	userAgent string
	pacer     Pacer
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor from the fetch configuration.
func NewProcessor(cfg config.Fetch, logger *slog.Logger) *Processor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		pacer:     RandomPacer{Min: cfg.MinDelay, Max: cfg.MaxDelay},
		logger:    logger,
		now:       time.Now,
	}
}

// WithPacer replaces the pacing between fetches.
func (p *Processor) WithPacer(pacer Pacer) *Processor {
	p.pacer = pacer
	return p
}

// Process fetches every pending article of db in published order. Each
// outcome is committed on its own. When ctx is cancelled the pass stops
// before the next article and returns ctx.Err() with Interrupted set.
func (p *Processor) Process(ctx context.Context, db *database.DB, feedName string) (*Result, error) {
	log := p.logger.With("feed", feedName)
	session := db.Session()

	pending, err := session.QueryPending(ctx)
	if err != nil {
		return &Result{}, err
	}

	r := &Result{Total: len(pending)}
	metrics.BacklogPending.WithLabelValues(feedName).Set(float64(len(pending)))
	if len(pending) == 0 {
		log.Info("backlog empty")
		return r, nil
	}
	log.Info("processing backlog", "pending", len(pending))

	for i, article := range pending {
		if i > 0 {
			d, err := p.pacer.Pause(ctx)
			if err != nil {
				r.Interrupted = true
				log.Warn("backlog interrupted", "done", i, "total", len(pending))
				return r, err
			}
			log.Info("paced", "seconds", fmt.Sprintf("%.1f", d.Seconds()))
		}
		if err := ctx.Err(); err != nil {
			r.Interrupted = true
			log.Warn("backlog interrupted", "done", i, "total", len(pending))
			return r, err
		}

		start := time.Now()
		status, body, fetchErr := p.get(ctx, article.URL)
		elapsed := time.Since(start).Seconds()

		if fetchErr != nil {
			if ctx.Err() != nil {
				r.Interrupted = true
				log.Warn("backlog interrupted", "done", i, "total", len(pending))
				return r, ctx.Err()
			}
			log.Warn("transport error", "url", article.URL, "error", fetchErr)
			status, body = database.StatusTransportFailure, PlaceholderBody
			r.TransportErrors++
		}

		result := database.FetchResult{
			FetchedAt:  database.Timestamp(p.now()),
			HTTPStatus: status,
			Duration:   elapsed,
		}
		if status == http.StatusOK {
			result.HTML = &body
		}
		if err := session.UpdateFetchResult(ctx, article.URL, result); err != nil {
			return r, fmt.Errorf("recording fetch of %s: %w", article.URL, err)
		}

		if status == http.StatusOK {
			r.Fetched++
		} else {
			r.Failed++
		}
		metrics.ArticleFetches.WithLabelValues(feedName, strconv.Itoa(status)).Inc()
		metrics.ArticleFetchDuration.WithLabelValues(feedName).Observe(elapsed)
		metrics.BacklogPending.WithLabelValues(feedName).Set(float64(len(pending) - r.Fetched))

		log.Info("article fetched",
			"n", i+1,
			"total", len(pending),
			"status", status,
			"seconds", fmt.Sprintf("%.2f", elapsed),
			"url", article.URL,
		)
	}

	log.Info("backlog complete", "fetched", r.Fetched, "failed", r.Failed, "transport_errors", r.TransportErrors)
	return r, nil
}

// get issues the GET request. Only a 200 body is decoded; any failure to
// obtain a response or read its body is returned as an error.
func (p *Processor) get(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return 0, "", err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}
