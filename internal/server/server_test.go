package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &config.Config{
		Databases: config.Databases{Folder: t.TempDir()},
		Feeds: []config.Feed{
			{Name: "zdf-heute", URL: "https://www.zdf.de/rss/zdf/nachrichten", Type: "zdf-heute", DB: "zdf-heute.db", Schema: "core"},
			{Name: "ard-tagesschau", URL: "https://www.tagesschau.de/xml/rss2", Type: "ard-tagesschau", DB: "ard-tagesschau.db", Schema: "core"},
		},
	}
}

func seedFeed(t *testing.T, cfg *config.Config, name string, articles ...database.NewArticle) {
	t.Helper()
	feed, _ := cfg.Feed(name)
	path, _ := cfg.DatabasePath(feed)
	db, err := database.Open(path, feed.Schema)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()
	if _, err := db.Session().InsertManyIfAbsent(context.Background(), articles); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndexRoute(t *testing.T) {
	cfg := testConfig(t)
	seedFeed(t, cfg, "zdf-heute", database.NewArticle{URL: "https://www.zdf.de/a", Title: "A", Published: "2020-05-10T08:00:00", Discovered: "2020-05-10T09:00:00"})

	srv, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/feed/zdf-heute") {
		t.Error("expected link to feed page")
	}
	if !strings.Contains(body, "2020-05-10T09:00:00") {
		t.Error("expected last discovery time")
	}
	if !strings.Contains(body, "store not created yet") {
		t.Error("expected hint for feed without store")
	}
}

func TestFeedRoute(t *testing.T) {
	cfg := testConfig(t)
	seedFeed(t, cfg, "ard-tagesschau",
		database.NewArticle{URL: "https://www.tagesschau.de/a.html", Title: "Erste Meldung", Published: "2020-05-10T08:00:00", Discovered: "2020-05-10T09:00:00"},
	)

	srv, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/feed/ard-tagesschau")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Erste Meldung") {
		t.Error("expected article title in response")
	}
	if !strings.Contains(body, "pending") {
		t.Error("expected pending status in response")
	}

	if rec := get(t, srv, "/feed/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown feed, got %d", rec.Code)
	}
}

func TestReportRoute(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if rec := get(t, srv, "/report"); !strings.Contains(rec.Body.String(), "No run has been recorded") {
		t.Error("expected empty report message")
	}

	path := cfg.LastRunReport()
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("# feedkeeper run\n\n| Feed | Step | Result |\n|---|---|---|\n| a | Ingest | 2 new |\n"), 0o644)

	body := get(t, srv, "/report").Body.String()
	if !strings.Contains(body, "<table>") || !strings.Contains(body, "2 new") {
		t.Errorf("expected rendered report, got %q", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, err := New(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected prometheus output")
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	srv, _ := New(testConfig(t), nil, nil)

	req := httptest.NewRequest("POST", "/run", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Errorf("expected redirect, got %d", rec.Code)
	}
}

func TestStaticRoute(t *testing.T) {
	srv, err := New(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	rec := get(t, srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}
