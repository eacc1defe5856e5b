package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Notifier delivers human-readable healing events. Delivery is strictly
// best-effort: failures are logged and swallowed, and must never abort or
// alter the orchestrator's decision or state write.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Webhook posts events as {"text": message} to a chat webhook URL.
type Webhook struct {
	url     string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewWebhook builds a webhook notifier. ratePerMinute caps delivery so a
// flapping workload cannot flood the channel; 0 disables the cap.
func NewWebhook(url string, timeout time.Duration, ratePerMinute int) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(ratePerMinute)/60.0), ratePerMinute)
	}
	return &Webhook{
		url:     url,
		httpc:   &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Notify posts the message, fire-and-forget. The response body is never
// consumed beyond draining the connection.
func (w *Webhook) Notify(ctx context.Context, message string) {
	if !w.limiter.Allow() {
		slog.Warn("notification rate limit hit, dropping", "message", message)
		return
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		slog.Error("failed to encode notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpc.Do(req)
	if err != nil {
		slog.Warn("notification delivery failed", "error", err)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		slog.Warn("notification rejected", "status", resp.StatusCode)
		return
	}
	slog.Debug("notification delivered", "message", message)
}

// Noop drops all notifications. Used when no webhook URL is configured.
type Noop struct{}

// Notify logs the event locally and does nothing else.
func (Noop) Notify(_ context.Context, message string) {
	slog.Info("notification (no webhook configured)", "message", message)
}

// FromURL returns a Webhook when url is set, otherwise a Noop.
func FromURL(url string, timeout time.Duration, ratePerMinute int) Notifier {
	if url == "" {
		return Noop{}
	}
	return NewWebhook(url, timeout, ratePerMinute)
}

var _ Notifier = (*Webhook)(nil)
var _ Notifier = Noop{}

// Event message builders keep wording consistent across call sites.

// EscalationMessage describes an escalation at the given tier.
func EscalationMessage(ref fmt.Stringer, tier int, action string, probability float64) string {
	return fmt.Sprintf(":warning: auto-healing tier %d (%s) triggered for `%s` (failure probability %.2f)",
		tier, action, ref, probability)
}

// RollbackMessage describes the terminal rollback tier.
func RollbackMessage(ref fmt.Stringer, probability float64) string {
	return fmt.Sprintf(":rotating_light: rollback triggered for `%s` (failure probability %.2f); episode exhausted, manual intervention needed if risk persists",
		ref, probability)
}

// RecoveryMessage describes a workload returning to LOW risk.
func RecoveryMessage(ref fmt.Stringer, attempts int) string {
	return fmt.Sprintf(":white_check_mark: `%s` recovered after %d healing attempt(s)", ref, attempts)
}

// ExhaustedMessage describes HIGH risk persisting after the final tier.
func ExhaustedMessage(ref fmt.Stringer, probability float64) string {
	return fmt.Sprintf(":rotating_light: `%s` still at HIGH risk (%.2f) after rollback; manual intervention needed",
		ref, probability)
}
