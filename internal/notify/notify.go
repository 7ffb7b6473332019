// Package notify sends the outcome of a run by mail.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/TobiSchelling/feedkeeper/internal/config"
)

// Message is a mail with a plain text part and an optional html part.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Notifier delivers run notifications.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Mailgun sends messages through the Mailgun messages API.
type Mailgun struct {
	URL    string
	apiKey string
	from   string
	to     string
	client *http.Client
	logger *slog.Logger
}

// NewMailgun creates a Mailgun notifier. The API key is read from the
// environment variable named in cfg.
func NewMailgun(cfg config.Mailgun, logger *slog.Logger) *Mailgun {
	if logger == nil {
		logger = slog.Default()
	}
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	return &Mailgun{
		URL:    cfg.URL,
		apiKey: key,
		from:   cfg.From,
		to:     cfg.To,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// IsConfigured reports whether every setting needed to send is present.
func (m *Mailgun) IsConfigured() bool {
	return m.URL != "" && m.apiKey != "" && m.from != "" && m.to != ""
}

// Notify sends msg. Without configuration it only logs that mail is off.
func (m *Mailgun) Notify(ctx context.Context, msg Message) error {
	if !m.IsConfigured() {
		m.logger.Info("no mailgun account configured")
		return nil
	}
	m.logger.Info("sending mail", "subject", msg.Subject)

	form := url.Values{
		"from":    {m.from},
		"to":      {m.to},
		"subject": {msg.Subject},
		"text":    {msg.Text},
	}
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun API error: %w", err)
	}
	defer resp.Body.Close()

	m.logger.Info("mailgun response", "status", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailgun API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Discard drops every message.
type Discard struct{}

func (Discard) Notify(context.Context, Message) error { return nil }
