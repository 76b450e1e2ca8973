// Package webhook delivers signed event callbacks to partner organisations,
// retrying with exponential backoff and dead-lettering what cannot be delivered.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"federation-gateway/internal/common/errors"
	"federation-gateway/internal/common/logging"
	"federation-gateway/internal/common/utils"
	"federation-gateway/internal/signature"
	"federation-gateway/internal/storage"
)

// HeaderCorrelationID carries the originating request's correlation id
const HeaderCorrelationID = "X-Correlation-Id"

// ErrNoRegistration is returned by Redeliver when the org has no enabled callback
var ErrNoRegistration = stderrors.New("no enabled webhook registration")

// Envelope is the JSON body of every callback
type Envelope struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// Config tunes delivery
type Config struct {
	Retry          utils.RetryConfig
	AttemptTimeout time.Duration
	// MaxRPS paces outbound attempts across all orgs; zero disables pacing
	MaxRPS    float64
	UserAgent string
}

// DefaultConfig is five attempts, 10s each, 1s/2s/4s/8s apart
func DefaultConfig() Config {
	return Config{
		Retry:          utils.DefaultRetryConfig(),
		AttemptTimeout: 10 * time.Second,
		UserAgent:      "federation-gateway-webhooks/1.0",
	}
}

// Dispatcher sends callbacks for an organisation's registration
type Dispatcher struct {
	store   storage.Storage
	client  *http.Client
	config  Config
	limiter *rate.Limiter
	logger  logging.Logger
	now     func() time.Time

	wg       sync.WaitGroup
	stopCtx  context.Context
	stopFunc context.CancelFunc
}

// NewDispatcher creates a dispatcher. A nil client uses a default http.Client;
// per-attempt timeouts come from the request context either way.
func NewDispatcher(store storage.Storage, client *http.Client, config Config, logger logging.Logger) *Dispatcher {
	defaults := DefaultConfig()
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = defaults.Retry
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	d := &Dispatcher{
		store:  store,
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	if config.MaxRPS > 0 {
		burst := int(config.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(config.MaxRPS), burst)
	}
	d.stopCtx, d.stopFunc = context.WithCancel(context.Background())
	return d
}

// Dispatch delivers eventType to orgID's registered callback. It returns once
// delivery succeeded or the event was dead-lettered; failures are logged,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID, eventType string, payload interface{}) {
	log := d.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "org", Value: orgID},
		logging.Field{Key: "event_type", Value: eventType},
	)

	reg, err := d.store.GetWebhookRegistration(ctx, orgID)
	if stderrors.Is(err, storage.ErrNotFound) {
		log.Debug("No webhook registration, skipping dispatch")
		return
	}
	if err != nil {
		log.Error("Failed to load webhook registration", err)
		return
	}
	if !reg.Enabled {
		log.Debug("Webhook registration disabled, skipping dispatch")
		return
	}

	body, err := json.Marshal(Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: signature.FormatTimestamp(d.now()),
	})
	if err != nil {
		log.Error("Failed to encode webhook envelope", err)
		return
	}

	attempts, err := d.deliver(ctx, reg.URL, reg.Secret, eventType, body)
	if err == nil {
		log.Info("Webhook delivered", logging.Field{Key: "attempts", Value: attempts})
		return
	}

	log.Error("Webhook delivery failed permanently", err, logging.Field{Key: "attempts", Value: attempts})
	d.deadLetter(ctx, &storage.DeadLetter{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		EventType: eventType,
		URL:       reg.URL,
		Payload:   string(body),
		Attempts:  attempts,
		LastError: err.Error(),
		Status:    storage.DeadLetterPending,
	})
}

// DispatchAsync runs Dispatch on a tracked goroutine that outlives the
// request. The context's values are kept; its cancellation is not.
func (d *Dispatcher) DispatchAsync(ctx context.Context, orgID, eventType string, payload interface{}) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.stopCtx, cancel)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stop()
		defer cancel()
		d.Dispatch(detached, orgID, eventType, payload)
	}()
}

// Close waits for in-flight async deliveries. When ctx ends first, pending
// retries are cancelled and their events dead-lettered.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stopFunc()
		return nil
	case <-ctx.Done():
		d.stopFunc()
		<-done
		return ctx.Err()
	}
}

// Redeliver retries a dead letter against the org's current registration
// and records the result on it
func (d *Dispatcher) Redeliver(ctx context.Context, dl *storage.DeadLetter) error {
	log := d.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "dead_letter_id", Value: dl.ID},
		logging.Field{Key: "org", Value: dl.OrgID},
	)

	reg, err := d.store.GetWebhookRegistration(ctx, dl.OrgID)
	if stderrors.Is(err, storage.ErrNotFound) || (err == nil && !reg.Enabled) {
		return errors.ValidationError(ErrNoRegistration.Error())
	}
	if err != nil {
		return fmt.Errorf("failed to load webhook registration: %w", err)
	}

	attempts, deliverErr := d.deliver(ctx, reg.URL, reg.Secret, dl.EventType, []byte(dl.Payload))
	dl.Attempts += attempts
	dl.URL = reg.URL
	if deliverErr != nil {
		dl.LastError = deliverErr.Error()
		dl.Status = storage.DeadLetterFailed
	} else {
		dl.LastError = ""
		dl.Status = storage.DeadLetterReplayed
	}

	if err := d.store.UpdateDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		log.Error("Failed to update dead letter", err)
		return err
	}
	if deliverErr != nil {
		log.Warn("Dead letter redelivery failed", logging.Field{Key: "error", Value: deliverErr.Error()})
		return deliverErr
	}
	log.Info("Dead letter redelivered", logging.Field{Key: "attempts", Value: attempts})
	return nil
}

// deliver posts body with retries and reports how many attempts were made
func (d *Dispatcher) deliver(ctx context.Context, url, secret, eventType string, body []byte) (int, error) {
	sig := signature.SignPayload(body, secret)
	correlationID := logging.CorrelationIDFromContext(ctx)
	log := d.logger.WithContext(ctx)

	made := 0
	err := utils.RetryWithBackoff(ctx, d.config.Retry, func(attempt int) error {
		made = attempt
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := d.attempt(ctx, url, sig, eventType, correlationID, body)
		if err != nil {
			log.Warn("Webhook attempt failed",
				logging.Field{Key: "attempt", Value: attempt},
				logging.Field{Key: "max_attempts", Value: d.config.Retry.MaxAttempts},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		return err
	})
	return made, err
}

func (d *Dispatcher) attempt(ctx context.Context, url, sig, eventType, correlationID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.config.UserAgent)
	req.Header.Set(signature.HeaderSignature, sig)
	req.Header.Set(signature.HeaderEventType, eventType)
	if correlationID != "" {
		req.Header.Set(HeaderCorrelationID, correlationID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, dl *storage.DeadLetter) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.CreateDeadLetter(ctx, dl); err != nil {
		d.logger.WithContext(ctx).Error("Failed to write dead letter", err,
			logging.Field{Key: "org", Value: dl.OrgID},
			logging.Field{Key: "event_type", Value: dl.EventType},
		)
		return
	}
	d.logger.WithContext(ctx).Warn("Webhook dead-lettered",
		logging.Field{Key: "dead_letter_id", Value: dl.ID},
		logging.Field{Key: "org", Value: dl.OrgID},
	)
}
