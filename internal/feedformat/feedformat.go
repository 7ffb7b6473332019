// Package feedformat maps parsed feeds onto the header and entry records
// the ingestion engine stores. Each feed type gets an Adapter; the
// Registry selects one per configured feed.
package feedformat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// ErrUnknownFormat is returned when no adapter is registered for a feed.
var ErrUnknownFormat = errors.New("unknown feed format")

// ErrMissingTimestamp is returned for an entry without usable timestamp.
var ErrMissingTimestamp = errors.New("entry has no timestamp")

// Header is the feed-level information that is logged on every pass.
type Header struct {
	Title     string
	Published *string
}

// Entry is one feed item reduced to the columns of an article.
type Entry struct {
	URL        string
	ExternalID string
	Title      string
	Timestamp  string
}

// Adapter extracts header and entries of one feed format.
type Adapter struct {
	Name   string
	Header func(*gofeed.Feed) (Header, error)
	Entry  func(*gofeed.Item) (Entry, error)
}

// Entries extracts every item of feed in feed order.
func (a Adapter) Entries(feed *gofeed.Feed) ([]Entry, error) {
	entries := make([]Entry, 0, len(feed.Items))
	for i, item := range feed.Items {
		e, err := a.Entry(item)
		if err != nil {
			return nil, fmt.Errorf("%s: item %d: %w", a.Name, i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Timestamp renders t as UTC wall-clock time without zone suffix.
// Sub-second precision is only written when present.
func Timestamp(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02T15:04:05.000000")
	}
	return t.Format("2006-01-02T15:04:05")
}

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := Timestamp(*t)
	return &s
}

// entryURL prefers the item link and falls back to a GUID that is a URL.
func entryURL(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func genericHeader(feed *gofeed.Feed) (Header, error) {
	h := Header{Title: strings.TrimSpace(feed.Title)}
	switch {
	case feed.PublishedParsed != nil:
		h.Published = timestampPtr(feed.PublishedParsed)
	case feed.UpdatedParsed != nil:
		h.Published = timestampPtr(feed.UpdatedParsed)
	}
	return h, nil
}

func genericEntry(item *gofeed.Item) (Entry, error) {
	ts := item.PublishedParsed
	if ts == nil {
		ts = item.UpdatedParsed
	}
	if ts == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrMissingTimestamp, entryURL(item))
	}
	return Entry{
		URL:        entryURL(item),
		ExternalID: item.GUID,
		Title:      strings.TrimSpace(item.Title),
		Timestamp:  Timestamp(*ts),
	}, nil
}

// publishedEntry requires the item's own published date.
func publishedEntry(item *gofeed.Item) (Entry, error) {
	if item.PublishedParsed == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrMissingTimestamp, item.Link)
	}
	return Entry{
		URL:        strings.TrimSpace(item.Link),
		ExternalID: item.GUID,
		Title:      strings.TrimSpace(item.Title),
		Timestamp:  Timestamp(*item.PublishedParsed),
	}, nil
}

// RSS handles plain RSS 2.0 feeds.
var RSS = Adapter{Name: "rss", Header: genericHeader, Entry: genericEntry}

// Atom handles Atom feeds.
var Atom = Adapter{Name: "atom", Header: genericHeader, Entry: genericEntry}

// ZDFHeute handles the zdf heute news feed, whose header carries the
// channel publication date.
var ZDFHeute = Adapter{
	Name: "zdf-heute",
	Header: func(feed *gofeed.Feed) (Header, error) {
		return Header{Title: strings.TrimSpace(feed.Title), Published: timestampPtr(feed.PublishedParsed)}, nil
	},
	Entry: publishedEntry,
}

// ARDTagesschau handles the tagesschau feed, which only sets lastBuildDate.
var ARDTagesschau = Adapter{
	Name: "ard-tagesschau",
	Header: func(feed *gofeed.Feed) (Header, error) {
		return Header{Title: strings.TrimSpace(feed.Title), Published: timestampPtr(feed.UpdatedParsed)}, nil
	},
	Entry: publishedEntry,
}
