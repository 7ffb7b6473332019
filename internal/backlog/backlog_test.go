package backlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
)

type recordingPacer struct {
	pauses int
	cancel context.CancelFunc
	after  int
}

func (p *recordingPacer) Pause(ctx context.Context) (time.Duration, error) {
	p.pauses++
	if p.cancel != nil && p.pauses >= p.after {
		p.cancel()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return time.Second, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), database.DefaultSchema)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, urls ...string) {
	t.Helper()
	for i, url := range urls {
		_, err := db.Session().InsertIfAbsent(context.Background(), database.NewArticle{
			URL:        url,
			Title:      fmt.Sprintf("Article %d", i),
			Published:  fmt.Sprintf("2020-05-10T0%d:00:00", i),
			Discovered: "2020-05-10T12:00:00",
		})
		if err != nil {
			t.Fatalf("seeding %s: %v", url, err)
		}
	}
}

func newTestProcessor(pacer Pacer) *Processor {
	p := NewProcessor(config.Fetch{Timeout: 5 * time.Second, UserAgent: "feedkeeper-test"}, nil)
	p.now = func() time.Time { return time.Date(2020, 5, 10, 13, 0, 0, 0, time.Local) }
	return p.WithPacer(pacer)
}

func TestProcessStoresBodyOnlyFor200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>Grüße</body></html>")
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, "<html><body>Not here</body></html>")
		}
	}))
	defer srv.Close()

	db := openTestDB(t)
	seed(t, db, srv.URL+"/ok", srv.URL+"/missing")

	pacer := &recordingPacer{}
	r, err := newTestProcessor(pacer).Process(context.Background(), db, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Total != 2 || r.Fetched != 1 || r.Failed != 1 {
		t.Errorf("expected total=2 fetched=1 failed=1, got %+v", r)
	}

	ok, _ := db.Session().Get(context.Background(), srv.URL+"/ok")
	if ok.HTML == nil || *ok.HTML != "<html><body>Grüße</body></html>" {
		t.Errorf("expected body to be stored, got %v", ok.HTML)
	}
	if ok.FetchedAt == nil || *ok.FetchedAt != "2020-05-10T13:00:00" {
		t.Errorf("unexpected fetch time %v", ok.FetchedAt)
	}

	missing, _ := db.Session().Get(context.Background(), srv.URL+"/missing")
	if missing.HTTPStatus == nil || *missing.HTTPStatus != 404 {
		t.Error("expected status 404 to be stored")
	}
	if missing.HTML != nil {
		t.Errorf("expected body of 404 to be discarded, got %q", *missing.HTML)
	}
	if missing.Duration == nil {
		t.Error("expected duration to be stored")
	}
}

func TestProcessTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/gone"
	srv.Close()

	db := openTestDB(t)
	seed(t, db, url)

	r, err := newTestProcessor(&recordingPacer{}).Process(context.Background(), db, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.TransportErrors != 1 || r.Failed != 1 {
		t.Errorf("expected one transport error, got %+v", r)
	}

	a, _ := db.Session().Get(context.Background(), url)
	if a.HTTPStatus == nil || *a.HTTPStatus != database.StatusTransportFailure {
		t.Errorf("expected status 999, got %v", a.HTTPStatus)
	}
	if a.HTML != nil {
		t.Error("expected no body after transport failure")
	}
	if a.FetchedAt == nil {
		t.Error("expected fetch time after transport failure")
	}
	if !a.IsPending() {
		t.Error("expected article to stay pending")
	}
}

func TestProcessPacesBetweenArticlesOnly(t *testing.T) {
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, r.URL.Path)
		if r.Header.Get("User-Agent") != "feedkeeper-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	db := openTestDB(t)
	seed(t, db, srv.URL+"/a", srv.URL+"/b", srv.URL+"/c")

	pacer := &recordingPacer{}
	if _, err := newTestProcessor(pacer).Process(context.Background(), db, "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pacer.pauses != 2 {
		t.Errorf("expected 2 pauses for 3 articles, got %d", pacer.pauses)
	}
	if len(order) != 3 || order[0] != "/a" || order[2] != "/c" {
		t.Errorf("expected oldest article first, got %v", order)
	}

	pending, _ := db.Session().QueryPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("expected empty backlog, got %d", len(pending))
	}
}

func TestProcessLogsPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	db := openTestDB(t)
	seed(t, db, srv.URL+"/a", srv.URL+"/b")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	p := NewProcessor(config.Fetch{Timeout: 5 * time.Second}, logger).WithPacer(&recordingPacer{})
	if _, err := p.Process(context.Background(), db, "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Count(buf.String(), "msg=paced"); got != 1 {
		t.Errorf("expected 1 pacing record at info level, got %d in %q", got, buf.String())
	}
	if !strings.Contains(buf.String(), "seconds=1.0") {
		t.Errorf("expected pause duration in log, got %q", buf.String())
	}
}

func TestProcessSingleArticleDoesNotPace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	db := openTestDB(t)
	seed(t, db, srv.URL+"/only")

	pacer := &recordingPacer{}
	newTestProcessor(pacer).Process(context.Background(), db, "test")
	if pacer.pauses != 0 {
		t.Errorf("expected no pause, got %d", pacer.pauses)
	}
}

func TestProcessEmptyBacklog(t *testing.T) {
	db := openTestDB(t)
	r, err := newTestProcessor(&recordingPacer{}).Process(context.Background(), db, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Total != 0 {
		t.Errorf("expected empty result, got %+v", r)
	}
}

func TestProcessInterrupted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	db := openTestDB(t)
	seed(t, db, srv.URL+"/a", srv.URL+"/b", srv.URL+"/c")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pacer := &recordingPacer{cancel: cancel, after: 1}

	r, err := newTestProcessor(pacer).Process(ctx, db, "test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.Interrupted {
		t.Error("expected result to be marked interrupted")
	}
	if r.Fetched != 1 {
		t.Errorf("expected 1 article before interrupt, got %d", r.Fetched)
	}

	pending, _ := db.Session().QueryPending(context.Background())
	if len(pending) != 2 {
		t.Errorf("expected 2 articles left pending, got %d", len(pending))
	}
}

func TestRandomPacerBounds(t *testing.T) {
	p := RandomPacer{Min: time.Millisecond, Max: 3 * time.Millisecond}
	for i := 0; i < 5; i++ {
		d, err := p.Pause(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d < p.Min || d > p.Max {
			t.Errorf("pause %s outside [%s, %s]", d, p.Min, p.Max)
		}
	}
}

func TestRandomPacerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := RandomPacer{Min: time.Hour, Max: time.Hour}
	if _, err := p.Pause(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
