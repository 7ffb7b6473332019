package main

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedkeeper/internal/backlog"
	"github.com/TobiSchelling/feedkeeper/internal/config"
	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/feedformat"
	"github.com/TobiSchelling/feedkeeper/internal/ingest"
	"github.com/TobiSchelling/feedkeeper/internal/metrics"
	"github.com/TobiSchelling/feedkeeper/internal/notify"
	"github.com/TobiSchelling/feedkeeper/internal/pipeline"
	"github.com/TobiSchelling/feedkeeper/internal/runlog"
	"github.com/TobiSchelling/feedkeeper/internal/scheduler"
	"github.com/TobiSchelling/feedkeeper/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	rlog       *runlog.Log
)

func main() {
	err := rootCmd.Execute()
	if rlog != nil {
		rlog.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "feedkeeper",
	Short:   "Archive news feeds and their articles",
	Long:    "feedkeeper polls news feeds, records every new article in a per-feed SQLite store and fetches the article pages in a polite, paced backlog.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}
		return loadConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(articlesCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() error {
	path, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return err
	}
	cfg, err = config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logging := cfg.Logging
	if verbose {
		logging.Level = "DEBUG"
	}
	rlog = runlog.New(logging, cfg.LogFile(), os.Stderr)
	slog.SetDefault(rlog.Logger)
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feedkeeper", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and feed stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if configPath != "" {
			target = configPath
		}

		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
		} else {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			folder := filepath.Join(config.DataDir(), "databases")
			data := bytes.Replace(config.DefaultConfigYAML, []byte(`folder: ""`), []byte(fmt.Sprintf("folder: %q", folder)), 1)
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Created config: %s\n", target)
		}

		configPath = target
		if err := loadConfig(); err != nil {
			return err
		}

		for _, f := range cfg.Feeds {
			path, err := cfg.DatabasePath(f)
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			db, err := database.Open(path, f.Schema)
			if err != nil {
				return fmt.Errorf("creating store for %s: %w", f.Name, err)
			}
			db.Close()
			if statErr != nil {
				fmt.Printf("Created store: %s\n", path)
			} else {
				fmt.Printf("Store up to date: %s\n", path)
			}
		}
		fmt.Println("Edit the config to add feeds and mail settings.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show article counts per feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		for _, f := range cfg.Feeds {
			db, err := openStore(f)
			if err != nil {
				return err
			}
			stats, err := db.Session().Stats(ctx)
			db.Close()
			if err != nil {
				return fmt.Errorf("getting stats for %s: %w", f.Name, err)
			}

			fmt.Printf("%s (%s)\n", f.Name, db.Path())
			fmt.Printf("  Articles: %d\n", stats.Total)
			fmt.Printf("  Fetched: %d\n", stats.Fetched)
			fmt.Printf("  Failed: %d\n", stats.Failed)
			fmt.Printf("  Never attempted: %d\n", stats.Unattempted)
			fmt.Printf("  Pending: %d\n", stats.Pending)
			if stats.LastDiscovered != nil {
				fmt.Printf("  Last discovered: %s\n", *stats.LastDiscovered)
			}
			if stats.LastFetched != nil {
				fmt.Printf("  Last fetched: %s\n", *stats.LastFetched)
			}
			fmt.Println()
		}
		return nil
	},
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List configured feeds",
	Run: func(cmd *cobra.Command, args []string) {
		registry := feedformat.NewRegistry()
		for _, f := range cfg.Feeds {
			adapter := "unknown"
			if a, err := registry.Lookup(f.Name, f.Type); err == nil {
				adapter = a.Name
			}
			fmt.Printf("%-20s %-16s %-24s %s\n", f.Name, adapter, f.DB, f.URL)
		}
	},
}

// --- ingest and backlog commands ---

var ingestCmd = &cobra.Command{
	Use:   "ingest [feed]",
	Short: "Record new articles of one or all feeds",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feeds, err := selectFeeds(args)
		if err != nil {
			return err
		}
		engine := newEngine(feedformat.NewRegistry())
		for _, f := range feeds {
			db, err := openStore(f)
			if err != nil {
				return err
			}
			result, err := engine.Ingest(cmd.Context(), db, f)
			db.Close()
			if err != nil {
				fmt.Printf("%s: %v\n", f.Name, err)
				continue
			}
			fmt.Printf("%s: %d new, %d known, %d without url\n", f.Name, result.New, result.Known, result.SkippedNoURL)
		}
		return nil
	},
}

var backlogCmd = &cobra.Command{
	Use:   "backlog [feed]",
	Short: "Fetch pending articles of one or all feeds",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newRunner().ProcessBacklogs(cmd.Context(), args...)
		if result != nil {
			printSteps(result)
		}
		return err
	},
}

// --- run command ---

var noMail bool

var runCmd = &cobra.Command{
	Use:   "run [feed]",
	Short: "Ingest, then work through the backlog, of one or all feeds",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return doRun(cmd.Context(), name)
	},
}

func init() {
	runCmd.Flags().BoolVar(&noMail, "no-mail", false, "Do not mail the run log")
}

func doRun(ctx context.Context, name string) error {
	rlog.Reset()
	runner := newRunner()

	var result *pipeline.Result
	var err error
	if name == "" {
		result, err = runner.ProcessAll(ctx)
	} else {
		result, err = runner.ProcessFeed(ctx, name)
	}
	if result == nil {
		return err
	}

	printSteps(result)

	report := result.Markdown(rlog.RunID)
	if werr := writeReport(report); werr != nil {
		slog.Warn("writing run report", "error", werr)
	}
	if !noMail {
		if merr := mailRun(ctx, result, report); merr != nil {
			slog.Error("mailing run log", "error", merr)
		}
	}
	return err
}

func printSteps(result *pipeline.Result) {
	for _, step := range result.Steps {
		line := step.Summary
		if step.Err != nil {
			line = strings.TrimSpace(fmt.Sprintf("error: %v %s", step.Err, step.Summary))
		}
		fmt.Printf("%-20s %-8s %s\n", step.Feed, step.Name, line)
	}
}

func writeReport(report string) error {
	path := cfg.LastRunReport()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(report), 0o644)
}

func mailRun(ctx context.Context, result *pipeline.Result, report string) error {
	subject := fmt.Sprintf("feedkeeper run %s", result.Started.Format("2006-01-02 15:04"))
	if result.Failed() {
		subject += " (with errors)"
	}
	captured := rlog.Captured()

	body, err := pipeline.RenderHTML(report)
	if err != nil {
		return err
	}
	body += "<pre>" + html.EscapeString(captured) + "</pre>"

	mailer := notify.NewMailgun(cfg.Mail.Mailgun, rlog.Logger)
	return mailer.Notify(ctx, notify.Message{
		Subject: subject,
		Text:    report + "\n\n" + captured,
		HTML:    body,
	})
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server and the daily schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		metrics.Init(version)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		sched, err := scheduler.New(cfg.Schedule.Daily, scheduler.RunnerFunc(func(ctx context.Context) error {
			return doRun(ctx, "")
		}), rlog.Logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)

		fmt.Printf("Starting server at http://localhost:%d\n", cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, cfg, sched, rlog.Logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- helpers ---

func newEngine(registry *feedformat.Registry) *ingest.Engine {
	source := ingest.NewGofeedSource(cfg.Fetch.Timeout, cfg.Fetch.UserAgent)
	return ingest.NewEngine(source, registry, rlog.Logger)
}

func newRunner() *pipeline.Runner {
	registry := feedformat.NewRegistry()
	processor := backlog.NewProcessor(cfg.Fetch, rlog.Logger)
	return pipeline.New(cfg, registry, newEngine(registry), processor, rlog.Logger)
}

func selectFeeds(args []string) ([]config.Feed, error) {
	if len(args) == 0 {
		return cfg.Feeds, nil
	}
	f, err := cfg.Feed(args[0])
	if err != nil {
		return nil, err
	}
	return []config.Feed{f}, nil
}

func openStore(f config.Feed) (*database.DB, error) {
	path, err := cfg.DatabasePath(f)
	if err != nil {
		return nil, err
	}
	return database.Open(path, f.Schema)
}
