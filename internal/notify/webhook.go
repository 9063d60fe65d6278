package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/crm-rules/internal/resilience"
)

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(w *WebhookNotifier) { w.http = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(w *WebhookNotifier) { w.http.Timeout = d }
}

// WithRateLimit caps requests per second. Non-positive means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(w *WebhookNotifier) {
		if perSecond <= 0 {
			w.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *WebhookNotifier) { w.retry = cfg }
}

// WithBreaker overrides the failure breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(w *WebhookNotifier) { w.breaker = b }
}

// WebhookNotifier POSTs each message as JSON to a fixed URL.
type WebhookNotifier struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewWebhookNotifier creates a notifier targeting url.
func NewWebhookNotifier(url string, opts ...Option) *WebhookNotifier {
	w := &WebhookNotifier{
		url:     url,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.retry.OnRetry == nil {
		w.retry.OnRetry = resilience.RetryLogger("webhook", "send")
	}
	return w
}

// Send posts msg, retrying transient failures.
func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	return w.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
			if err := w.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "notify: rate limit wait")
			}
			return w.post(ctx, body)
		})
	})
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := eris.Errorf("notify: webhook returned %d", resp.StatusCode)
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(statusErr, resp.StatusCode)
	}
	return statusErr
}
