package polling

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Defaults and hard caps for session configuration. Caps are enforced
// regardless of caller-supplied values.
const (
	DefaultIntervalMs        = 3000
	DefaultMaxAttempts       = 20
	DefaultBackoffMultiplier = 1.2
	DefaultMaxBackoffMs      = 30000
	DefaultCleanupMaxAgeHrs  = 24

	MaxAttemptsCap       = 50
	BackoffMultiplierCap = 2.0
	MaxBackoffMsCap      = 60000
	CleanupMaxAgeHrsCap  = 168
)

// Config governs one polling session.
type Config struct {
	IntervalMs        int
	MaxAttempts       int
	BackoffMultiplier float64
	MaxBackoffMs      int
	EnableBroadcast   bool
}

func DefaultConfig() Config {
	return Config{
		IntervalMs:        DefaultIntervalMs,
		MaxAttempts:       DefaultMaxAttempts,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoffMs:      DefaultMaxBackoffMs,
		EnableBroadcast:   true,
	}
}

// Normalized fills in defaults for unset values and clamps everything to the
// system-wide caps.
func (c Config) Normalized() Config {
	if c.IntervalMs <= 0 {
		c.IntervalMs = DefaultIntervalMs
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAttempts > MaxAttemptsCap {
		c.MaxAttempts = MaxAttemptsCap
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.BackoffMultiplier > BackoffMultiplierCap {
		c.BackoffMultiplier = BackoffMultiplierCap
	}
	if c.MaxBackoffMs <= 0 {
		c.MaxBackoffMs = DefaultMaxBackoffMs
	}
	if c.MaxBackoffMs > MaxBackoffMsCap {
		c.MaxBackoffMs = MaxBackoffMsCap
	}
	return c
}

// Delay computes the scheduled delay before the tick following the given
// number of completed attempts: min(interval * multiplier^attempts, maxBackoff).
func (c Config) Delay(attempts int) time.Duration {
	delayMs := float64(c.IntervalMs) * math.Pow(c.BackoffMultiplier, float64(attempts))
	if delayMs > float64(c.MaxBackoffMs) {
		delayMs = float64(c.MaxBackoffMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionStopped   SessionStatus = "stopped"
	SessionCompleted SessionStatus = "completed"
)

type session struct {
	id        uuid.UUID
	paymentID uuid.UUID
	orderRef  string
	config    Config
	attempts  int
	status    SessionStatus
	nextRunAt time.Time
	createdAt time.Time
	cancel    func()
}

// SessionView is an immutable snapshot of a session's state.
type SessionView struct {
	ID        uuid.UUID     `json:"id"`
	PaymentID uuid.UUID     `json:"paymentId"`
	OrderRef  string        `json:"orderRef"`
	Config    Config        `json:"config"`
	Attempts  int           `json:"attempts"`
	Status    SessionStatus `json:"status"`
	NextRunAt time.Time     `json:"nextRunAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (s *session) view() SessionView {
	return SessionView{
		ID:        s.id,
		PaymentID: s.paymentID,
		OrderRef:  s.orderRef,
		Config:    s.config,
		Attempts:  s.attempts,
		Status:    s.status,
		NextRunAt: s.nextRunAt,
		CreatedAt: s.createdAt,
	}
}

// Stats aggregates session counts across the registry.
type Stats struct {
	Active        int `json:"active"`
	Completed     int `json:"completed"`
	Stopped       int `json:"stopped"`
	TotalAttempts int `json:"totalAttempts"`
}
