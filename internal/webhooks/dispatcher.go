package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/gangboard/internal/circuitbreaker"
	"github.com/mbd888/gangboard/internal/entitlement"
	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/retry"
)

// Signing headers sent with every delivery.
const (
	HeaderEvent     = "X-Gangboard-Event"
	HeaderTimestamp = "X-Gangboard-Timestamp"
	HeaderSignature = "X-Gangboard-Signature"
)

// AccessChecker is the slice of the entitlement gate the dispatcher needs.
type AccessChecker interface {
	CheckAccess(ctx context.Context, gangID string, feature entitlement.Feature) entitlement.Result
}

// Dispatcher posts events to a gang's webhooks in the background.
type Dispatcher struct {
	store     Store
	access    AccessChecker
	client    *http.Client
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
	attempts  int
	baseDelay time.Duration
	timeout   time.Duration
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Deliveries retry three times and a
// target that keeps failing is skipped for a minute.
func NewDispatcher(store Store, access AccessChecker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		access:    access,
		client:    &http.Client{Timeout: 10 * time.Second},
		breaker:   circuitbreaker.New(5, time.Minute),
		logger:    logger,
		attempts:  3,
		baseDelay: 500 * time.Millisecond,
		timeout:   45 * time.Second,
		now:       time.Now,
	}
}

// Breaker exposes the per-webhook circuit breaker.
func (d *Dispatcher) Breaker() *circuitbreaker.Breaker {
	return d.breaker
}

// DispatchToGang queues event for every active webhook of the gang that
// subscribes to its type. Nothing is sent unless the gang is entitled to
// webhook notifications right now.
func (d *Dispatcher) DispatchToGang(ctx context.Context, event *Event) error {
	if res := d.access.CheckAccess(ctx, event.GangID, entitlement.FeatureWebhookNotify); !res.Allowed {
		metrics.WebhookDeliveriesTotal.WithLabelValues("not_entitled").Inc()
		return nil
	}

	hooks, err := d.store.ListByGang(ctx, event.GangID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	for _, w := range hooks {
		if !w.Active || !w.Wants(event.Type) {
			continue
		}
		d.wg.Add(1)
		go d.deliver(w, event, payload)
	}
	return nil
}

// DispatchAsync runs DispatchToGang off the caller's goroutine. Wait
// covers it as well as the deliveries it queues.
func (d *Dispatcher) DispatchAsync(event *Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.DispatchToGang(ctx, event); err != nil {
			d.logger.Warn("webhook dispatch failed", "event", event.Type, "gang_id", event.GangID, "error", err)
		}
	}()
}

// Wait blocks until queued deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(w *Webhook, event *Event, payload []byte) {
	defer d.wg.Done()

	if !d.breaker.Allow(w.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := retry.Do(ctx, d.attempts, d.baseDelay, func() error {
		return d.post(ctx, w, event, payload)
	})

	errMsg := ""
	if err != nil {
		d.breaker.RecordFailure(w.ID)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		errMsg = err.Error()
		d.logger.Warn("webhook delivery failed", "gang_id", w.GangID, "webhook_id", w.ID, "event", event.Type, "error", err)
	} else {
		d.breaker.RecordSuccess(w.ID)
		metrics.WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()
	}
	if recErr := d.store.RecordDelivery(ctx, w.ID, d.now(), errMsg); recErr != nil {
		d.logger.Debug("webhook delivery status not recorded", "webhook_id", w.ID, "error", recErr)
	}
}

func (d *Dispatcher) post(ctx context.Context, w *Webhook, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	ts := strconv.FormatInt(event.Timestamp.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, Sign(w.Secret, ts, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := fmt.Errorf("status %d", resp.StatusCode)
		if wait := retryAfter(resp.Header.Get("Retry-After")); wait > 0 {
			return retry.After(wait, err)
		}
		return err
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// maxRetryAfter bounds how long a receiver can push back one delivery.
const maxRetryAfter = 30 * time.Second

// retryAfter parses a delta-seconds Retry-After value. HTTP-date values
// are ignored and fall back to normal backoff.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// Sign returns the signature header value for a delivery: HMAC-SHA256 over
// "<timestamp>.<payload>" with the webhook secret, hex encoded.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
