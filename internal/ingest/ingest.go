// Package ingest pulls feeds and records newly discovered articles.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/feedformat"
	"github.com/TobiSchelling/feedkeeper/internal/metrics"
)

// ErrFeedUnavailable wraps failures to fetch or parse a feed document.
var ErrFeedUnavailable = errors.New("feed unavailable")

// Result holds the counters of one ingestion pass.
type Result struct {
	New          int
	Known        int
	SkippedNoURL int
	Duplicates   int
}

// Engine ingests feeds into their article stores.
type Engine struct {
	source   Source
	registry *feedformat.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates an ingestion engine.
func NewEngine(source Source, registry *feedformat.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		source:   source,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest pulls feed once and inserts every entry not yet in db. All
// inserts of the pass are committed together.
func (e *Engine) Ingest(ctx context.Context, db *database.DB, feed config.Feed) (*Result, error) {
	log := e.logger.With("feed", feed.Name)
	r := &Result{}

	adapter, err := e.registry.Lookup(feed.Name, feed.Type)
	if err != nil {
		return r, err
	}

	log.Info("fetching feed", "url", feed.URL)
	doc, err := e.source.Fetch(ctx, feed.URL)
	if err != nil {
		metrics.FeedPolls.WithLabelValues(feed.Name, "unavailable").Inc()
		return r, fmt.Errorf("%w: %s: %w", ErrFeedUnavailable, feed.Name, err)
	}

	header, err := adapter.Header(doc)
	if err != nil {
		metrics.FeedPolls.WithLabelValues(feed.Name, "malformed").Inc()
		return r, fmt.Errorf("%w: %s: header: %w", ErrFeedUnavailable, feed.Name, err)
	}
	published := ""
	if header.Published != nil {
		published = *header.Published
	}
	log.Info("feed header", "title", header.Title, "published", published)

	entries, err := adapter.Entries(doc)
	if err != nil {
		metrics.FeedPolls.WithLabelValues(feed.Name, "malformed").Inc()
		return r, fmt.Errorf("%w: %s: %w", ErrFeedUnavailable, feed.Name, err)
	}

	withURL := entries[:0]
	for _, entry := range entries {
		if entry.URL == "" {
			r.SkippedNoURL++
			log.Info("entry without url skipped", "title", entry.Title)
			continue
		}
		withURL = append(withURL, entry)
	}

	unique := Cleanse(withURL)
	r.Duplicates = len(withURL) - len(unique)
	log.Info("entries extracted", "entries", len(entries), "unique", len(unique), "no_url", r.SkippedNoURL)

	err = db.WithTx(ctx, func(s *database.Session) error {
		for _, entry := range unique {
			known, err := s.Exists(ctx, entry.URL)
			if err != nil {
				return err
			}
			if known {
				r.Known++
				continue
			}
			if _, err := s.InsertIfAbsent(ctx, database.NewArticle{
				URL:        entry.URL,
				ExternalID: entry.ExternalID,
				Title:      entry.Title,
				Published:  entry.Timestamp,
				Discovered: database.Timestamp(e.now()),
			}); err != nil {
				return err
			}
			r.New++
			log.Debug("new article", "url", entry.URL, "ts", entry.Timestamp, "title", entry.Title)
		}
		return nil
	})
	if err != nil {
		return &Result{SkippedNoURL: r.SkippedNoURL, Duplicates: r.Duplicates}, fmt.Errorf("storing entries of %s: %w", feed.Name, err)
	}

	metrics.FeedPolls.WithLabelValues(feed.Name, "ok").Inc()
	metrics.ArticlesDiscovered.WithLabelValues(feed.Name).Add(float64(r.New))
	log.Info("ingest complete", "new", r.New, "known", r.Known, "no_url", r.SkippedNoURL)
	return r, nil
}

// Cleanse removes duplicate urls, keeping the values of the last
// occurrence, and orders the survivors newest first.
func Cleanse(entries []feedformat.Entry) []feedformat.Entry {
	index := make(map[string]int, len(entries))
	unique := make([]feedformat.Entry, 0, len(entries))
	for _, entry := range entries {
		if i, seen := index[entry.URL]; seen {
			unique[i] = entry
			continue
		}
		index[entry.URL] = len(unique)
		unique = append(unique, entry)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Timestamp > unique[j].Timestamp
	})
	return unique
}
