package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"settlement-service/internal/broadcast"
	"settlement-service/internal/payment"
)

var ErrInvalidTarget = errors.New("payment id and order reference are required")

var (
	sessionsStartedCounter   = metrics.GetOrCreateCounter(`polling_sessions_total{result="started"}`)
	sessionsResolvedCounter  = metrics.GetOrCreateCounter(`polling_sessions_total{result="resolved"}`)
	sessionsExhaustedCounter = metrics.GetOrCreateCounter(`polling_sessions_total{result="exhausted"}`)
	sessionsStoppedCounter   = metrics.GetOrCreateCounter(`polling_sessions_total{result="stopped"}`)

	tickErrorCounter = metrics.GetOrCreateCounter(`polling_ticks_total{result="fetch_error"}`)
	tickCounter      = metrics.GetOrCreateCounter(`polling_ticks_total{result="pending"}`)
)

// Result is the outcome of one resolve step against the provider.
type Result struct {
	Status   payment.Status
	Terminal bool
}

// Resolver drives one payment a single step toward settlement: fetch the
// authoritative provider status, persist it and capture if authorized. The
// settlement orchestrator implements this.
type Resolver interface {
	ResolvePolling(ctx context.Context, orderRef string) (Result, error)
}

// Manager owns the registry of concurrent polling sessions. Each session
// runs as an independent goroutine with a timer and converges one payment
// toward a terminal status via backoff-scheduled resolve calls.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*session

	resolver Resolver
	notifier broadcast.Notifier
	logger   *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

func NewManager(resolver Resolver, notifier broadcast.Notifier, logger *slog.Logger) *Manager {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:   make(map[uuid.UUID]*session),
		resolver:   resolver,
		notifier:   notifier,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// Start registers a new session and schedules its first tick. Starting a
// second session for a payment that already has one is permitted; the
// monotonic status machine makes concurrent writers safe.
func (m *Manager) Start(ctx context.Context, paymentID uuid.UUID, orderRef string, cfg Config) (uuid.UUID, error) {
	if paymentID == uuid.Nil || orderRef == "" {
		return uuid.Nil, ErrInvalidTarget
	}

	cfg = cfg.Normalized()

	s := &session{
		id:        uuid.New(),
		paymentID: paymentID,
		orderRef:  orderRef,
		config:    cfg,
		status:    SessionActive,
		createdAt: time.Now(),
	}

	sessionCtx, cancel := context.WithCancel(m.baseCtx)
	s.cancel = cancel

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	sessionsStartedCounter.Inc()
	m.logger.InfoContext(ctx, "Started polling session", "sessionId", s.id, "paymentId", paymentID, "orderRef", orderRef)

	go m.run(sessionCtx, s)

	return s.id, nil
}

// Stop cancels a session. The cancellation takes effect before the next
// scheduled tick; a tick already in flight finishes but does not reschedule.
func (m *Manager) Stop(sessionID uuid.UUID) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.status != SessionActive {
		m.mu.Unlock()
		return false
	}
	s.status = SessionStopped
	cancel := s.cancel
	m.mu.Unlock()

	cancel()
	sessionsStoppedCounter.Inc()
	m.logger.Info("Stopped polling session", "sessionId", sessionID)
	return true
}

// Restart stops a session and starts a fresh one against the same payment
// with the same configuration.
func (m *Manager) Restart(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return uuid.Nil, errors.Errorf("session %s not found", sessionID)
	}

	view := m.snapshot(s)
	m.Stop(sessionID)
	return m.Start(ctx, view.PaymentID, view.OrderRef, view.Config)
}

func (m *Manager) Get(sessionID uuid.UUID) (SessionView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionView{}, false
	}
	return s.view(), true
}

func (m *Manager) ListActive() []SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]SessionView, 0)
	for _, s := range m.sessions {
		if s.status == SessionActive {
			views = append(views, s.view())
		}
	}
	return views
}

// Cleanup removes sessions older than the given age, active ones included.
// The age is clamped to the retention cap.
func (m *Manager) Cleanup(maxAgeHours int) int {
	if maxAgeHours <= 0 {
		maxAgeHours = DefaultCleanupMaxAgeHrs
	}
	if maxAgeHours > CleanupMaxAgeHrsCap {
		maxAgeHours = CleanupMaxAgeHrsCap
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.createdAt.Before(cutoff) {
			if s.status == SessionActive {
				s.cancel()
			}
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, s := range m.sessions {
		switch s.status {
		case SessionActive:
			stats.Active++
		case SessionCompleted:
			stats.Completed++
		case SessionStopped:
			stats.Stopped++
		}
		stats.TotalAttempts += s.attempts
	}
	return stats
}

// Shutdown cancels every session. Used on process exit.
func (m *Manager) Shutdown() {
	m.cancelBase()
}

// StartJanitor periodically removes sessions older than maxAgeHours. It runs
// until the manager shuts down.
func (m *Manager) StartJanitor(interval time.Duration, maxAgeHours int) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.baseCtx.Done():
				return
			case <-ticker.C:
				if removed := m.Cleanup(maxAgeHours); removed > 0 {
					m.logger.Info("Cleaned up polling sessions", "removed", removed)
				}
			}
		}
	}()
}

func (m *Manager) run(ctx context.Context, s *session) {
	for {
		attempts, cfg := m.tickState(s)

		delay := cfg.Delay(attempts)
		m.setNextRun(s, time.Now().Add(delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		result, err := m.resolver.ResolvePolling(ctx, s.orderRef)
		if err != nil {
			// Transient: fetch failures reschedule with the same backoff.
			tickErrorCounter.Inc()
			m.logger.WarnContext(ctx, "Polling tick failed", "sessionId", s.id, "orderRef", s.orderRef, "error", err)
		} else if result.Terminal {
			m.complete(s)
			sessionsResolvedCounter.Inc()
			m.logger.InfoContext(ctx, "Polling session resolved payment", "sessionId", s.id, "status", result.Status)
			return
		} else {
			tickCounter.Inc()
		}

		if ctx.Err() != nil {
			// Stopped while the tick was in flight; do not reschedule.
			return
		}

		if m.bumpAttempts(s) >= cfg.MaxAttempts {
			// Attempts exhausted: the session ends but the payment stays
			// pending until a later signal resolves it.
			m.complete(s)
			sessionsExhaustedCounter.Inc()
			m.logger.WarnContext(ctx, "Polling session exhausted attempts", "sessionId", s.id, "orderRef", s.orderRef)

			if cfg.EnableBroadcast {
				m.notifier.Publish(ctx, broadcast.Event{
					Cause:     broadcast.CausePollingTimeout,
					PaymentID: s.paymentID,
					OrderRef:  s.orderRef,
					Timestamp: time.Now(),
				})
			}
			return
		}
	}
}

func (m *Manager) tickState(s *session) (int, Config) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.attempts, s.config
}

func (m *Manager) setNextRun(s *session, at time.Time) {
	m.mu.Lock()
	s.nextRunAt = at
	m.mu.Unlock()
}

func (m *Manager) bumpAttempts(s *session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.attempts++
	return s.attempts
}

func (m *Manager) complete(s *session) {
	m.mu.Lock()
	if s.status == SessionActive {
		s.status = SessionCompleted
	}
	m.mu.Unlock()
}

func (m *Manager) snapshot(s *session) SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.view()
}
