package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

const recentLimit = 50

// Server is the HTTP server for the feed status pages.
type Server struct {
	cfg    *config.Config
	sched  *scheduler.Scheduler
	logger *slog.Logger
	pages  map[string]*template.Template
	mux    *http.ServeMux
}

// FeedStatus is one row of the overview page.
type FeedStatus struct {
	Feed  config.Feed
	Stats *database.Stats
	Err   error
}

// New creates a new Server. sched may be nil, which disables manual runs.
func New(cfg *config.Config, sched *scheduler.Scheduler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"status": func(code *int) string {
			if code == nil {
				return "pending"
			}
			if *code == database.StatusTransportFailure {
				return "unreachable"
			}
			return fmt.Sprintf("%d", *code)
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not clash.
	pageNames := []string{"index.html", "feed.html", "report.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{cfg: cfg, sched: sched, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/feed/", s.handleFeed)
	s.mux.HandleFunc("/report", s.handleReport)
	s.mux.HandleFunc("/run", s.handleRun)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	feeds := make([]FeedStatus, 0, len(s.cfg.Feeds))
	for _, f := range s.cfg.Feeds {
		st := FeedStatus{Feed: f}
		st.Stats, st.Err = s.feedStats(r.Context(), f)
		feeds = append(feeds, st)
	}

	data := map[string]any{"Feeds": feeds}
	if s.sched != nil {
		data["Schedule"] = s.sched.Snapshot()
	}
	s.render(w, "index.html", data)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/feed/")
	if name == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	feed, err := s.cfg.Feed(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	path, err := s.cfg.DatabasePath(feed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	db, err := database.Open(path, feed.Schema)
	if err != nil {
		s.logger.Error("opening store", "feed", feed.Name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer db.Close()

	session := db.Session()
	stats, err := session.Stats(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	articles, err := session.Recent(r.Context(), recentLimit)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "feed.html", map[string]any{
		"Feed":     feed,
		"Stats":    stats,
		"Articles": articles,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := os.ReadFile(s.cfg.LastRunReport())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "report.html", map[string]any{
		"Report": string(report),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || s.sched == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if s.sched.Snapshot().Running {
		http.Error(w, scheduler.ErrRunAlreadyActive.Error(), http.StatusConflict)
		return
	}
	go func() {
		if err := s.sched.RunNow(context.Background()); err != nil {
			s.logger.Error("manual run failed", "error", err)
		}
	}()
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) feedStats(ctx context.Context, f config.Feed) (*database.Stats, error) {
	path, err := s.cfg.DatabasePath(f)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store not created yet (run 'feedkeeper init')")
	}
	db, err := database.Open(path, f.Schema)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Session().Stats(ctx)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("rendering template", "template", name, "error", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, logger *slog.Logger) error {
	srv, err := New(cfg, sched, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	srv.logger.Info("server listening", "url", "http://"+addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
