package settlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"settlement-service/internal/broadcast"
	"settlement-service/internal/config"
	"settlement-service/internal/db"
	"settlement-service/internal/logging"
	"settlement-service/internal/payment"
	"settlement-service/internal/polling"
	"settlement-service/internal/provider"
)

const (
	defaultSyncPollAttempts = 3
	defaultSyncPollDelayMs  = 2000
)

var (
	captureSuccessCounter = metrics.GetOrCreateCounter(`settlement_capture_total{result="success"}`)
	captureFailureCounter = metrics.GetOrCreateCounter(`settlement_capture_total{result="failure"}`)
	captureSkippedCounter = metrics.GetOrCreateCounter(`settlement_capture_total{result="skipped"}`)

	webhookAcceptedCounter = metrics.GetOrCreateCounter(`settlement_webhook_total{result="accepted"}`)
	webhookRejectedCounter = metrics.GetOrCreateCounter(`settlement_webhook_total{result="rejected"}`)

	callbackDurationHistogram = metrics.GetOrCreateHistogram(`settlement_callback_duration_milliseconds`)
)

// PaymentStore is the narrow contract over the persistence collaborator.
// UpdateStatus must skip transitions that the status machine forbids and
// return the unchanged row, so writers can detect lost races.
type PaymentStore interface {
	SelectByOrderRef(ctx context.Context, orderRef string) (*db.PaymentEntity, error)
	SelectByID(ctx context.Context, id uuid.UUID) (*db.PaymentEntity, error)
	UpdateStatus(ctx context.Context, orderRef string, status payment.Status, update db.StatusUpdate) (*db.PaymentEntity, error)
}

// StatusFetcher queries the provider's authoritative payment status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderRef string) (payment.ProviderStatus, error)
}

// CaptureExecutor finalizes transfer of authorized funds. Calls are
// idempotent per order reference on the provider side.
type CaptureExecutor interface {
	Capture(ctx context.Context, orderRef string) (*provider.CaptureResult, error)
}

// SignatureVerifier validates webhook authenticity headers against the raw
// request body.
type SignatureVerifier interface {
	Verify(rawBody []byte, signature, timestamp, contentDigest string) bool
}

// SessionStarter spawns a background polling session; the polling manager
// implements it. Optional: a nil starter disables the fallback.
type SessionStarter interface {
	Start(ctx context.Context, paymentID uuid.UUID, orderRef string, cfg polling.Config) (uuid.UUID, error)
}

// Outcome is the deterministic result the HTTP-facing caller receives from
// callback handling. There is no fifth value: every path maps here.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
	OutcomeError     Outcome = "error"
)

type source string

const (
	sourceCallback source = "callback"
	sourceWebhook  source = "webhook"
	sourcePolling  source = "polling"
)

func (s source) captureSuccessCause() string {
	switch s {
	case sourceWebhook:
		return broadcast.CauseWebhookCaptureSuccess
	case sourcePolling:
		return broadcast.CausePollingCaptureSuccess
	}
	return broadcast.CauseCallbackCaptureSuccess
}

// Orchestrator drives the provider's authorization/capture lifecycle to
// completion. Both entry points (redirect callback and webhook) converge on
// resolve: fetch authoritative status, persist it, capture if authorized,
// broadcast the outcome.
type Orchestrator struct {
	store    PaymentStore
	fetcher  StatusFetcher
	capturer CaptureExecutor
	verifier SignatureVerifier
	notifier broadcast.Notifier
	sessions SessionStarter
	fallback polling.Config
	logger   *slog.Logger

	syncPollAttempts int
	syncPollDelay    time.Duration
}

func NewOrchestrator(store PaymentStore, fetcher StatusFetcher, capturer CaptureExecutor,
	verifier SignatureVerifier, notifier broadcast.Notifier, cfg config.Callback, logger *slog.Logger) *Orchestrator {

	attempts := cfg.SyncPollAttempts
	if attempts <= 0 {
		attempts = defaultSyncPollAttempts
	}
	delayMs := cfg.SyncPollDelayMs
	if delayMs <= 0 {
		delayMs = defaultSyncPollDelayMs
	}

	return &Orchestrator{
		store:            store,
		fetcher:          fetcher,
		capturer:         capturer,
		verifier:         verifier,
		notifier:         notifier,
		logger:           logger,
		syncPollAttempts: attempts,
		syncPollDelay:    time.Duration(delayMs) * time.Millisecond,
	}
}

// UseSessionStarter wires the background polling fallback. Kept separate
// from the constructor because the polling manager itself resolves through
// this orchestrator.
func (o *Orchestrator) UseSessionStarter(starter SessionStarter, fallback polling.Config) {
	o.sessions = starter
	o.fallback = fallback.Normalized()
}

// HandleCallback processes the browser redirect back from the provider. It
// always returns a deterministic outcome; capture failures surface as
// OutcomeError, never as a panic or unhandled error past this boundary.
func (o *Orchestrator) HandleCallback(ctx context.Context, orderRef string) (Outcome, error) {
	startTime := time.Now()
	defer func() {
		callbackDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	if orderRef == "" {
		return OutcomeError, errors.Wrap(ErrValidation, "missing order reference")
	}

	ctx = appendRef(ctx, orderRef)

	result, err := o.resolve(ctx, orderRef, sourceCallback)
	if err != nil {
		return OutcomeError, err
	}
	if result.Terminal {
		return outcomeFor(result.Status), nil
	}

	// Best-effort fast path: a short bounded poll before answering the
	// browser, capped so the response is never indefinitely delayed.
	for i := 0; i < o.syncPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return OutcomePending, nil
		case <-time.After(o.syncPollDelay):
		}

		result, err = o.resolve(ctx, orderRef, sourceCallback)
		if err != nil {
			var fetchErr *provider.FetchError
			if errors.As(err, &fetchErr) {
				continue
			}
			return OutcomeError, err
		}
		if result.Terminal {
			return outcomeFor(result.Status), nil
		}
	}

	o.spawnSession(ctx, orderRef)
	return OutcomePending, nil
}

type webhookPayload struct {
	Reference string `json:"reference"`
}

// HandleWebhook processes an asynchronous provider notification. The
// signature is verified against the raw body before anything else; a
// tampered or unsigned request is rejected with zero side effects.
func (o *Orchestrator) HandleWebhook(ctx context.Context, rawBody []byte, signature, timestamp, contentDigest string) error {
	if !o.verifier.Verify(rawBody, signature, timestamp, contentDigest) {
		webhookRejectedCounter.Inc()
		return ErrAuthentication
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		webhookRejectedCounter.Inc()
		return errors.Wrap(ErrValidation, "malformed webhook body")
	}
	if payload.Reference == "" {
		webhookRejectedCounter.Inc()
		return errors.Wrap(ErrValidation, "webhook body missing reference")
	}

	ctx = appendRef(ctx, payload.Reference)

	result, err := o.resolve(ctx, payload.Reference, sourceWebhook)
	if err != nil {
		return err
	}

	if !result.Terminal {
		o.spawnSession(ctx, payload.Reference)
	}

	webhookAcceptedCounter.Inc()
	return nil
}

// ResolvePolling is the polling manager's tick: one resolve step attributed
// to the polling source.
func (o *Orchestrator) ResolvePolling(ctx context.Context, orderRef string) (polling.Result, error) {
	return o.resolve(ctx, orderRef, sourcePolling)
}

// resolve performs one fetch -> persist -> capture -> broadcast step. It
// re-reads the persisted status before acting and claims the CAPTURING state
// under the store's monotonic guard, so duplicate deliveries and concurrent
// pollers cannot double-capture.
func (o *Orchestrator) resolve(ctx context.Context, orderRef string, src source) (polling.Result, error) {
	current, err := o.store.SelectByOrderRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return polling.Result{}, errors.Wrapf(ErrNotFound, "order reference %s", orderRef)
		}
		return polling.Result{}, err
	}

	if current.Status.Terminal() {
		captureSkippedCounter.Inc()
		return polling.Result{Status: current.Status, Terminal: true}, nil
	}

	providerStatus, err := o.fetcher.FetchStatus(ctx, orderRef)
	if err != nil {
		return polling.Result{}, err
	}

	switch providerStatus {
	case payment.ProviderAuthorized:
		return o.captureAuthorized(ctx, current, src)

	case payment.ProviderAborted, payment.ProviderTerminated, payment.ProviderExpired:
		status, mapErr := payment.FromProvider(providerStatus)
		if mapErr != nil {
			return polling.Result{}, mapErr
		}
		cause := broadcast.CausePaymentCancelled
		if status == payment.StatusExpired {
			cause = broadcast.CausePaymentExpired
		}
		updated, err := o.store.UpdateStatus(ctx, orderRef, status, db.StatusUpdate{})
		if err != nil {
			return polling.Result{}, err
		}
		o.publish(ctx, cause, updated)
		return polling.Result{Status: updated.Status, Terminal: updated.Status.Terminal()}, nil

	case payment.ProviderCreated:
		// Still pending at the provider. No mutation; the caller decides
		// whether to keep waiting.
		return polling.Result{Status: current.Status, Terminal: false}, nil
	}

	o.logger.ErrorContext(ctx, "Provider returned unrecognized status", "status", providerStatus)
	return polling.Result{}, errors.Wrapf(ErrUnrecognizedStatus, "%q", providerStatus)
}

func (o *Orchestrator) captureAuthorized(ctx context.Context, current *db.PaymentEntity, src source) (polling.Result, error) {
	if current.Status == payment.StatusCapturing {
		// Another writer is mid-capture; let it finish.
		captureSkippedCounter.Inc()
		return polling.Result{Status: current.Status, Terminal: false}, nil
	}

	claimed, err := o.store.UpdateStatus(ctx, current.OrderRef, payment.StatusCapturing, db.StatusUpdate{})
	if err != nil {
		return polling.Result{}, err
	}
	if claimed.Status != payment.StatusCapturing {
		// Lost the race: a concurrent writer settled the payment first.
		captureSkippedCounter.Inc()
		return polling.Result{Status: claimed.Status, Terminal: claimed.Status.Terminal()}, nil
	}

	if _, err := o.capturer.Capture(ctx, current.OrderRef); err != nil {
		captureFailureCounter.Inc()
		o.logger.ErrorContext(ctx, "Capture failed", "error", err)

		reason := err.Error()
		failed, updateErr := o.store.UpdateStatus(ctx, current.OrderRef, payment.StatusFailed, db.StatusUpdate{FailureReason: &reason})
		if updateErr != nil {
			o.logger.ErrorContext(ctx, "Error recording capture failure", "error", updateErr)
			return polling.Result{}, updateErr
		}
		o.publish(ctx, broadcast.CauseCaptureFailed, failed)
		// Absorbed: the failure is on the payment record, not the caller.
		return polling.Result{Status: failed.Status, Terminal: true}, nil
	}

	now := time.Now()
	completed, err := o.store.UpdateStatus(ctx, current.OrderRef, payment.StatusCompleted, db.StatusUpdate{PaidAt: &now})
	if err != nil {
		return polling.Result{}, err
	}

	captureSuccessCounter.Inc()
	o.publish(ctx, src.captureSuccessCause(), completed)
	return polling.Result{Status: completed.Status, Terminal: true}, nil
}

func (o *Orchestrator) spawnSession(ctx context.Context, orderRef string) {
	if o.sessions == nil {
		return
	}

	entity, err := o.store.SelectByOrderRef(ctx, orderRef)
	if err != nil {
		o.logger.ErrorContext(ctx, "Error loading payment for polling fallback", "error", err)
		return
	}

	if _, err := o.sessions.Start(ctx, entity.ID, orderRef, o.fallback); err != nil {
		o.logger.ErrorContext(ctx, "Error starting polling fallback session", "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, cause string, entity *db.PaymentEntity) {
	o.notifier.Publish(ctx, broadcast.Event{
		Cause:         cause,
		PaymentID:     entity.ID,
		OrderRef:      entity.OrderRef,
		Status:        entity.Status,
		Amount:        entity.Amount,
		UserID:        entity.UserID,
		ListingID:     entity.ListingID,
		FailureReason: entity.FailureReason,
		Timestamp:     time.Now(),
	})
}

func appendRef(ctx context.Context, orderRef string) context.Context {
	return logging.AppendCtx(ctx, slog.String("orderRef", orderRef))
}

func outcomeFor(status payment.Status) Outcome {
	switch status {
	case payment.StatusCompleted:
		return OutcomeSuccess
	case payment.StatusAborted, payment.StatusExpired:
		return OutcomeCancelled
	case payment.StatusFailed:
		return OutcomeError
	}
	return OutcomePending
}
