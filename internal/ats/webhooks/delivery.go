package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/web/jobs"
	"github.com/hireflow/hireflow/internal/web/ratelimit"
)

// UserAgent is sent with every delivery
const UserAgent = "Hireflow-Webhooks/1.0"

const maxErrorBody = 512

// StatusError is a non-2xx answer from an endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint responded %d", e.Code)
	}
	return fmt.Sprintf("endpoint responded %d: %s", e.Code, e.Body)
}

// Retryable reports whether the endpoint may accept the event later
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Deliverer is the webhook.deliver job handler
type Deliverer struct {
	endpoints *Endpoints
	limiter   ratelimit.RateLimiter
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

// NewDeliverer creates a deliverer. A nil limiter delivers without pacing;
// a nil client uses one with a 10 second timeout.
func NewDeliverer(endpoints *Endpoints, limiter ratelimit.RateLimiter, client *http.Client, logger *zap.Logger) *Deliverer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Redirects are answered, not followed.
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &Deliverer{endpoints: endpoints, limiter: limiter, client: &c, logger: logger, now: time.Now}
}

// RegisterHandlers adds the delivery handler to registry
func (d *Deliverer) RegisterHandlers(registry *jobs.HandlerRegistry) {
	registry.Register(TypeDeliver, d.Deliver)
}

// LimiterKey is the rate limiter key of an endpoint. The limiter adds its
// own namespace prefix.
func LimiterKey(endpointID uuid.UUID) string {
	return "endpoint:" + endpointID.String()
}

// Deliver POSTs one event to one endpoint. A rate-limited delivery is
// rescheduled for when the endpoint's window opens without using up an
// attempt.
func (d *Deliverer) Deliver(ctx context.Context, job *jobs.Job) error {
	var payload deliverPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	endpoint, err := d.endpoints.Get(ctx, payload.TenantID, payload.EndpointID)
	if err != nil {
		if store.IsNotFound(err) {
			return jobs.Permanent(err)
		}
		return err
	}

	logger := d.logger.With(
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.String("event", payload.Event),
		zap.String("job_id", job.ID.String()))

	if !endpoint.Active {
		logger.Debug("skipping delivery to inactive endpoint")
		return nil
	}

	if d.limiter != nil {
		info, err := d.limiter.Allow(ctx, LimiterKey(endpoint.ID))
		if err != nil {
			logger.Warn("webhook rate limiter unavailable", zap.Error(err))
		} else if !info.Allowed {
			logger.Debug("webhook delivery rate limited", zap.Time("retry_at", info.ResetAt))
			return jobs.RescheduleAt(info.ResetAt, "endpoint rate limit reached")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return jobs.Permanent(fmt.Errorf("invalid endpoint URL: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderDelivery, job.ID.String())
	req.Header.Set(HeaderSignature, Sign(endpoint.Secret, payload.Body))

	start := d.now()
	resp, err := d.client.Do(req)
	attempt := &Delivery{
		EndpointID: endpoint.ID,
		JobID:      job.ID,
		Event:      payload.Event,
		Attempt:    job.Attempts,
	}
	if err == nil {
		attempt.StatusCode = resp.StatusCode
		err = checkResponse(resp)
	}
	attempt.DurationMS = d.now().Sub(start).Milliseconds()
	if err != nil {
		attempt.Error = err.Error()
	}
	if rerr := d.endpoints.RecordDelivery(ctx, attempt); rerr != nil {
		logger.Error("failed to record webhook delivery", zap.Error(rerr))
	}

	if err == nil {
		logger.Info("webhook delivered", zap.Int("status", attempt.StatusCode), zap.Int64("duration_ms", attempt.DurationMS))
		return nil
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Retryable() {
		logger.Warn("webhook delivery failed", zap.Int("attempt", job.Attempts), zap.Error(err))
		return err
	}
	if se.Code == http.StatusGone {
		if derr := d.endpoints.Deactivate(ctx, endpoint.TenantID, endpoint.ID); derr != nil {
			return derr
		}
		logger.Info("webhook endpoint gone, deactivated")
	}
	return jobs.Permanent(err)
}

func checkResponse(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
