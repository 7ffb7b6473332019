package database

import "time"

// StatusTransportFailure is recorded when an article fetch produced no
// HTTP response at all.
const StatusTransportFailure = 999

// TimestampLayout is the second-precision ISO-8601 layout used for
// discovery and fetch times.
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp formats t in local time, truncated to whole seconds.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Article is a stored article row.
type Article struct {
	URL        string
	ExternalID string
	Title      string
	Published  string
	Discovered string
	FetchedAt  *string
	HTTPStatus *int
	Duration   *float64
	HTML       *string
}

// IsPending reports whether the article still needs a successful fetch.
func (a *Article) IsPending() bool {
	return a.URL != "" && (a.HTTPStatus == nil || *a.HTTPStatus != 200)
}

// NewArticle holds the columns written when an article is first discovered.
type NewArticle struct {
	URL        string
	ExternalID string
	Title      string
	Published  string
	Discovered string
}

// PendingArticle is a backlog entry as returned by QueryPending.
type PendingArticle struct {
	URL        string
	Title      string
	Published  string
	LastStatus *int
}

// FetchResult is the outcome of one fetch attempt.
type FetchResult struct {
	FetchedAt  string
	HTTPStatus int
	Duration   float64
	HTML       *string
}

// Stats contains aggregate statistics of one store.
type Stats struct {
	Total          int
	Pending        int
	Fetched        int
	Failed         int
	Unattempted    int
	LastDiscovered *string
	LastFetched    *string
}
