package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrEmptyURL is returned when an article without url is inserted.
	ErrEmptyURL = errors.New("article url is empty")
	// ErrNotFound is returned when no article matches the url.
	ErrNotFound = errors.New("article not found")
)

const articleColumns = `url, COALESCE(rss_id, ''), COALESCE(title, ''), COALESCE(ts, ''),
	COALESCE(realised_ts, ''), dl_ts, dl_http, dl_dt`

const pendingCondition = `url != '' AND (dl_http IS NULL OR dl_http != 200)`

// Exists reports whether an article with url is stored.
func (s *Session) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, "SELECT 1 FROM articles WHERE url = ? LIMIT 1", url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking article %s: %w", url, err)
	}
	return true, nil
}

// InsertIfAbsent inserts a newly discovered article. A url that is already
// stored is left untouched. Returns the number of rows inserted (0 or 1).
func (s *Session) InsertIfAbsent(ctx context.Context, a NewArticle) (int64, error) {
	if a.URL == "" {
		return 0, ErrEmptyURL
	}
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO articles (url, rss_id, title, ts, realised_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		a.URL, a.ExternalID, a.Title, a.Published, a.Discovered,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting article %s: %w", a.URL, err)
	}
	return result.RowsAffected()
}

// InsertManyIfAbsent inserts each article with InsertIfAbsent semantics and
// returns how many were actually inserted.
func (s *Session) InsertManyIfAbsent(ctx context.Context, articles []NewArticle) (int64, error) {
	var inserted int64
	for _, a := range articles {
		n, err := s.InsertIfAbsent(ctx, a)
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

// UpdateFetchResult records the outcome of a fetch attempt for url.
// The body is only stored together with status 200.
func (s *Session) UpdateFetchResult(ctx context.Context, url string, r FetchResult) error {
	html := r.HTML
	if r.HTTPStatus != 200 {
		html = nil
	}
	result, err := s.q.ExecContext(ctx,
		`UPDATE articles SET dl_ts = ?, dl_http = ?, dl_dt = ?, html = ? WHERE url = ?`,
		r.FetchedAt, r.HTTPStatus, r.Duration, html, url,
	)
	if err != nil {
		return fmt.Errorf("updating fetch result for %s: %w", url, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

// QueryPending returns all articles without a successful fetch, oldest
// published first.
func (s *Session) QueryPending(ctx context.Context) ([]PendingArticle, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT url, COALESCE(title, ''), COALESCE(ts, ''), dl_http
		FROM articles WHERE `+pendingCondition+` ORDER BY ts`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying backlog: %w", err)
	}
	defer rows.Close()

	var pending []PendingArticle
	for rows.Next() {
		var p PendingArticle
		if err := rows.Scan(&p.URL, &p.Title, &p.Published, &p.LastStatus); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// Get returns the article stored under url, including its body.
// Returns nil if there is none.
func (s *Session) Get(ctx context.Context, url string) (*Article, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+articleColumns+", html FROM articles WHERE url = ?", url,
	)
	var a Article
	err := row.Scan(&a.URL, &a.ExternalID, &a.Title, &a.Published, &a.Discovered,
		&a.FetchedAt, &a.HTTPStatus, &a.Duration, &a.HTML)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Recent returns the most recently published articles without their bodies.
func (s *Session) Recent(ctx context.Context, limit int) ([]Article, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+articleColumns+" FROM articles ORDER BY ts DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.URL, &a.ExternalID, &a.Title, &a.Published, &a.Discovered,
			&a.FetchedAt, &a.HTTPStatus, &a.Duration); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// ResetFetch clears the fetch result of url so it is pending again.
func (s *Session) ResetFetch(ctx context.Context, url string) error {
	result, err := s.q.ExecContext(ctx,
		"UPDATE articles SET dl_ts = NULL, dl_http = NULL, dl_dt = NULL, html = NULL WHERE url = ?", url,
	)
	if err != nil {
		return fmt.Errorf("resetting %s: %w", url, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

// Stats returns aggregate statistics of the store.
func (s *Session) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}

	counts := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM articles", &st.Total},
		{"SELECT COUNT(*) FROM articles WHERE " + pendingCondition, &st.Pending},
		{"SELECT COUNT(*) FROM articles WHERE dl_http = 200", &st.Fetched},
		{"SELECT COUNT(*) FROM articles WHERE dl_http IS NOT NULL AND dl_http != 200", &st.Failed},
		{"SELECT COUNT(*) FROM articles WHERE dl_http IS NULL", &st.Unattempted},
	}
	for _, c := range counts {
		if err := s.q.QueryRowContext(ctx, c.sql).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	if err := s.q.QueryRowContext(ctx,
		"SELECT MAX(realised_ts), MAX(dl_ts) FROM articles",
	).Scan(&st.LastDiscovered, &st.LastFetched); err != nil {
		return nil, err
	}
	return st, nil
}
