package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedkeeper/internal/database"
	"github.com/TobiSchelling/feedkeeper/internal/text"
)

// --- articles command ---

var pendingLimit int

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "Inspect and manage stored articles",
}

var articlesPendingCmd = &cobra.Command{
	Use:   "pending <feed>",
	Short: "List the backlog of a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openFeedStore(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		pending, err := db.Session().QueryPending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d pending\n", len(pending))
		for i, a := range pending {
			if pendingLimit > 0 && i >= pendingLimit {
				fmt.Printf("... and %d more\n", len(pending)-i)
				break
			}
			last := "never"
			if a.LastStatus != nil {
				last = fmt.Sprintf("%d", *a.LastStatus)
			}
			fmt.Printf("%s  %-5s  %s\n    %s\n", a.Published, last, a.Title, a.URL)
		}
		return nil
	},
}

var articlesShowCmd = &cobra.Command{
	Use:   "show <feed> <url>",
	Short: "Show one stored article",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openFeedStore(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := db.Session().Get(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("%w: %s", database.ErrNotFound, args[1])
		}

		fmt.Printf("Title: %s\n", a.Title)
		fmt.Printf("URL: %s\n", a.URL)
		if a.ExternalID != "" {
			fmt.Printf("ID: %s\n", a.ExternalID)
		}
		fmt.Printf("Published: %s\n", a.Published)
		fmt.Printf("Discovered: %s\n", a.Discovered)
		fmt.Printf("Fetched: %s\n", fetchSummary(a))
		if a.HTML != nil {
			fmt.Printf("Body: %d bytes\n", len(*a.HTML))
		}
		return nil
	},
}

var articlesResetCmd = &cobra.Command{
	Use:   "reset <feed> <url>",
	Short: "Put a fetched article back into the backlog",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openFeedStore(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Session().ResetFetch(cmd.Context(), args[1]); err != nil {
			return err
		}
		fmt.Printf("Reset %s\n", args[1])
		return nil
	},
}

func init() {
	articlesPendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 20, "Maximum number of articles to list (0 for all)")
	articlesCmd.AddCommand(articlesPendingCmd)
	articlesCmd.AddCommand(articlesShowCmd)
	articlesCmd.AddCommand(articlesResetCmd)
}

// --- inspect command ---

var inspectWidth int

var inspectCmd = &cobra.Command{
	Use:   "inspect <feed> <url> <term>",
	Short: "Show where a term occurs in a stored article",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openFeedStore(args[0])
		if err != nil {
			return err
		}
		defer db.Close()

		a, err := db.Session().Get(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if a == nil {
			return fmt.Errorf("%w: %s", database.ErrNotFound, args[1])
		}
		if a.HTML == nil {
			return fmt.Errorf("article %s has not been fetched", args[1])
		}

		words, err := text.HTMLWords(strings.NewReader(*a.HTML))
		if err != nil {
			return fmt.Errorf("parsing article: %w", err)
		}
		matches := text.Find(words, args[2])
		if len(matches) == 0 {
			fmt.Printf("%q not found in %s\n", args[2], a.Title)
			return nil
		}

		windows := make([]text.Window, len(matches))
		for k, m := range matches {
			windows[k] = text.Context(words, m.Start, m.End, inspectWidth)
		}
		fmt.Printf("%s: %d occurrences\n\n", a.Title, len(matches))
		for _, line := range text.Align(windows) {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectWidth, "width", "w", 6, "Words of context on each side")
}

// fetchSummary describes the last fetch of a. Stores adopted from older
// installations may carry a fetch time without status or duration.
func fetchSummary(a *database.Article) string {
	if a.FetchedAt == nil {
		return "never"
	}
	summary := *a.FetchedAt
	if a.HTTPStatus != nil {
		summary += fmt.Sprintf(" (HTTP %d", *a.HTTPStatus)
		if a.Duration != nil {
			summary += fmt.Sprintf(", %.2fs", *a.Duration)
		}
		summary += ")"
	}
	return summary
}

func openFeedStore(name string) (*database.DB, error) {
	f, err := cfg.Feed(name)
	if err != nil {
		return nil, err
	}
	return openStore(f)
}
