package polling_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"settlement-service/internal/polling"
)

func TestConfig_Normalized_AppliesDefaults(t *testing.T) {
	cfg := polling.Config{}.Normalized()

	assert.Equal(t, polling.DefaultIntervalMs, cfg.IntervalMs)
	assert.Equal(t, polling.DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, polling.DefaultBackoffMultiplier, cfg.BackoffMultiplier)
	assert.Equal(t, polling.DefaultMaxBackoffMs, cfg.MaxBackoffMs)
}

func TestConfig_Normalized_EnforcesCaps(t *testing.T) {
	cfg := polling.Config{
		IntervalMs:        100,
		MaxAttempts:       1000,
		BackoffMultiplier: 5.0,
		MaxBackoffMs:      10_000_000,
	}.Normalized()

	assert.Equal(t, polling.MaxAttemptsCap, cfg.MaxAttempts)
	assert.Equal(t, polling.BackoffMultiplierCap, cfg.BackoffMultiplier)
	assert.Equal(t, polling.MaxBackoffMsCap, cfg.MaxBackoffMs)
}

func TestConfig_Delay_BoundedAndNonDecreasing(t *testing.T) {
	cfg := polling.Config{
		IntervalMs:        3000,
		MaxAttempts:       50,
		BackoffMultiplier: 1.2,
		MaxBackoffMs:      30000,
	}.Normalized()

	prev := time.Duration(0)
	for attempts := 0; attempts < 50; attempts++ {
		delay := cfg.Delay(attempts)
		assert.LessOrEqual(t, delay, 30000*time.Millisecond, "attempt %d", attempts)
		assert.GreaterOrEqual(t, delay, prev, "attempt %d", attempts)
		prev = delay
	}

	assert.Equal(t, 3000*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 30000*time.Millisecond, cfg.Delay(49))
}
