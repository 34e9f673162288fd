package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ghost-pay/ghost_pay/internal/metrics"
)

const (
	maxDrainBytes = 64 << 10
	maxErrorLen   = 500
	userAgent     = "GhostPay-Webhooks/1.0"
)

// WorkerConfig tunes delivery.
type WorkerConfig struct {
	MaxAttempts   int
	BatchSize     int
	SweepInterval time.Duration
	Timeout       time.Duration
	Debounce      time.Duration
}

// Worker drains the outbox. Kick schedules a near-immediate pass and the
// sweep ticker catches retries and anything a kick missed. All scheduler
// state lives on the Worker.
type Worker struct {
	store  DeliveryStore
	client *http.Client
	logger *slog.Logger
	cfg    WorkerConfig
	kick   chan struct{}
	now    func() time.Time
}

// NewWorker builds a worker. A zero config field falls back to the default.
func NewWorker(store DeliveryStore, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Worker{
		store:  store,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// A redirect would turn the POST into a bodiless GET; the 3xx
			// itself is the attempt's outcome.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: logger,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Kick asks for a pass soon. Kicks that arrive while one is pending coalesce.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run processes deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	w.logger.Info("webhook worker started", "sweep_interval", w.cfg.SweepInterval.String(), "max_attempts", w.cfg.MaxAttempts)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopped")
			return
		case <-ticker.C:
		case <-w.kick:
			if w.cfg.Debounce > 0 {
				select {
				case <-time.After(w.cfg.Debounce):
				case <-ctx.Done():
					return
				}
			}
		}
		if _, err := w.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("webhook sweep failed", "error", err)
		}
	}
}

// ProcessPending runs one sweep: list, claim, send, resolve. It returns the
// number of deliveries this worker attempted.
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	batch, err := w.store.ListEligible(ctx, w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list deliveries: %w", err)
	}

	attempted := 0
	for _, p := range batch {
		if ctx.Err() != nil {
			return attempted, ctx.Err()
		}
		claimed, err := w.store.Claim(ctx, p.Delivery.ID, w.cfg.MaxAttempts)
		if err != nil {
			return attempted, err
		}
		if !claimed {
			continue
		}
		attempted++
		w.deliver(ctx, p)
	}
	return attempted, nil
}

func (w *Worker) deliver(ctx context.Context, p Pending) {
	log := w.logger.With("delivery_id", p.Delivery.ID, "event_id", p.Event.ID, "event_type", p.Event.Type)

	code, sendErr := w.send(ctx, p)
	// Resolution must land even when the sweep context was cancelled mid-request.
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if sendErr == nil && code >= 200 && code < 300 {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		if err := w.store.MarkDelivered(resolveCtx, p.Delivery.ID, code, w.now()); err != nil {
			log.Error("mark delivered failed", "error", err)
		}
		log.Info("webhook delivered", "status", code, "attempt", p.Delivery.Attempts+1)
		return
	}

	reason := fmt.Sprintf("unexpected status %d", code)
	if sendErr != nil {
		reason = sendErr.Error()
	}
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	outcome := "failed"
	if p.Delivery.Attempts+1 >= w.cfg.MaxAttempts {
		outcome = "exhausted"
	}
	metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	if err := w.store.MarkFailed(resolveCtx, p.Delivery.ID, code, reason); err != nil {
		log.Error("mark failed failed", "error", err)
	}
	log.Warn("webhook delivery failed", "status", code, "attempt", p.Delivery.Attempts+1, "error", reason, "outcome", outcome)
}

func (w *Worker) send(ctx context.Context, p Pending) (int, error) {
	body, err := Body(p.Event)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, Sign(p.Secret, body))
	req.Header.Set(HeaderEvent, p.Event.Type)

	start := time.Now()
	resp, err := w.client.Do(req)
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}
