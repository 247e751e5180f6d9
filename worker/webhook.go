// vidvault/worker/webhook.go
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers task outcome webhooks. Delivery is best-effort with
// bounded exponential backoff; a webhook that cannot be delivered is
// logged and dropped, it never changes the task's terminal state.
type Notifier struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
	log      *zap.Logger
}

func NewNotifier(timeout time.Duration, attempts int, backoff time.Duration, log *zap.Logger) *Notifier {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Notifier{
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  backoff,
		log:      log,
	}
}

// Send posts the payload as JSON. It blocks for at most
// attempts × (timeout + backoff window) and never returns an error.
func (n *Notifier) Send(ctx context.Context, url string, payload interface{}) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("webhook payload not serializable", zap.Error(err))
		return
	}

	delay := n.backoff
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				n.log.Warn("webhook delivery abandoned", zap.String("url", url), zap.Error(ctx.Err()))
				return
			}
		}

		if n.deliver(ctx, url, body) {
			n.log.Info("webhook delivered", zap.String("url", url), zap.Int("attempt", attempt))
			return
		}
	}
	n.log.Error("webhook delivery failed after all attempts",
		zap.String("url", url), zap.Int("attempts", n.attempts))
}

func (n *Notifier) deliver(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("webhook request build failed", zap.String("url", url), zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("webhook attempt failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.log.Warn("webhook rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}
