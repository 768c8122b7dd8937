// Package notify delivers structured notifications about task outcomes.
// Delivery is best effort: failures are logged and never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"agentdesk/internal/jsonutil"
)

// Type identifies what a notification is about.
type Type int

const (
	TypeTaskComplete Type = iota
	TypeTaskFailed
	TypeReviewReady
	TypeHumanNeeded
	TypeDailySummary
)

var typeNames = jsonutil.EnumNames[Type]{"task-complete", "task-failed", "review-ready", "human-needed", "daily-summary"}

func (t Type) String() string { return typeNames.Label(t) }

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) { return typeNames.Parse("Type", s) }

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(t) }

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParseType)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Priority of a notification.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

var priorityNames = jsonutil.EnumNames[Priority]{"normal", "high"}

func (p Priority) String() string { return priorityNames.Label(p) }

// ParsePriority converts a string to a Priority.
func ParsePriority(s string) (Priority, error) { return priorityNames.Parse("Priority", s) }

// MarshalJSON implements json.Marshaler.
func (p Priority) MarshalJSON() ([]byte, error) { return jsonutil.MarshalEnumJSON(p) }

// UnmarshalJSON implements json.Unmarshaler.
func (p *Priority) UnmarshalJSON(data []byte) error {
	v, err := jsonutil.UnmarshalEnumJSON(data, ParsePriority)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Message is one notification.
type Message struct {
	Type     Type              `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Data     map[string]string `json:"data,omitempty"`
	Priority Priority          `json:"priority"`
}

// Notifier delivers a message.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes messages to a logger. It never fails.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, m Message) error {
	logger := n.Logger
	if logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if m.Priority == PriorityHigh {
		level = slog.LevelWarn
	}
	attrs := []any{"type", m.Type.String(), "title", m.Title}
	for k, v := range m.Data {
		attrs = append(attrs, k, v)
	}
	logger.Log(context.Background(), level, m.Message, attrs...)
	return nil
}

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookNotifier POSTs messages as JSON to a URL.
type WebhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookNotifier returns a notifier for url. A non-empty token is sent
// as a bearer token. client may be nil.
func NewWebhookNotifier(url, token string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &WebhookNotifier{url: url, token: token, client: client}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends messages and logs delivery failures instead of
// returning them.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewDispatcher wraps n. logger may be nil.
func NewDispatcher(n Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{notifier: n, logger: logger}
}

// Send delivers m once.
func (d *Dispatcher) Send(ctx context.Context, m Message) {
	if d == nil || d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, m); err != nil {
		d.logger.Warn("notification failed", "type", m.Type.String(), "title", m.Title, "error", err)
	}
}
