package conflict

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultWebhookTimeout bounds one webhook delivery attempt.
const DefaultWebhookTimeout = 5 * time.Second

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithCallback registers an in-process handler. May be given repeatedly.
func WithCallback(fn func(Record)) NotifierOption {
	return func(n *Notifier) { n.callbacks = append(n.callbacks, fn) }
}

// WithWebhook enables webhook delivery: each record is POSTed as JSON to
// the given URL.
func WithWebhook(url string) NotifierOption {
	return func(n *Notifier) { n.webhookURL = url }
}

// WithWebhookTimeout replaces DefaultWebhookTimeout.
func WithWebhookTimeout(d time.Duration) NotifierOption {
	return func(n *Notifier) {
		if d > 0 {
			n.webhookTimeout = d
		}
	}
}

// WithHTTPClient replaces the webhook client.
func WithHTTPClient(c *http.Client) NotifierOption {
	return func(n *Notifier) { n.client = c }
}

// WithPersistDir enables on-disk persistence: each record is written to
// <dir>/<record-id>.json for later inspection.
func WithPersistDir(dir string) NotifierOption {
	return func(n *Notifier) { n.persistDir = dir }
}

// WithNotifierLogger replaces the default logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) { n.logger = l }
}

// Notifier fans conflict records out to the configured channels. Delivery
// is informational and asynchronous: Notify returns immediately, failures
// are logged and never surface to the sync pipeline. Notify a record
// again after resolution to refresh the persisted copy.
type Notifier struct {
	callbacks      []func(Record)
	webhookURL     string
	webhookTimeout time.Duration
	client         *http.Client
	persistDir     string
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier. With no options it is a no-op sink.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{
		webhookTimeout: DefaultWebhookTimeout,
		client:         &http.Client{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify dispatches one record to every configured channel and returns
// without waiting for delivery.
func (n *Notifier) Notify(rec Record) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.Debug("notify after close dropped", "conflict", rec.ID)
		return
	}

	for _, fn := range n.callbacks {
		fn := fn
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			fn(rec)
		}()
	}
	if n.webhookURL != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.deliverWebhook(rec)
		}()
	}
	if n.persistDir != "" {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := WriteRecord(n.persistDir, rec); err != nil {
				n.logger.Warn("persist conflict record", "conflict", rec.ID, "error", err)
			}
		}()
	}
	n.mu.Unlock()
}

// Close waits for in-flight deliveries and drops anything notified after.
// Idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) deliverWebhook(rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		n.logger.Warn("encode conflict webhook", "conflict", rec.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build conflict webhook", "conflict", rec.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("deliver conflict webhook", "conflict", rec.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		n.logger.Warn("conflict webhook rejected",
			"conflict", rec.ID,
			"status", resp.StatusCode,
		)
	}
}
