package payment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"settlement-service/internal/payment"
)

func TestStatus_Terminal(t *testing.T) {
	terminal := []payment.Status{payment.StatusCompleted, payment.StatusAborted, payment.StatusExpired, payment.StatusFailed}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "expected %s to be terminal", s)
	}

	nonTerminal := []payment.Status{payment.StatusCreated, payment.StatusProcessing, payment.StatusAuthorized, payment.StatusCapturing}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "expected %s to be non-terminal", s)
	}
}

func TestCanTransition_TerminalStatusesNeverChange(t *testing.T) {
	all := []payment.Status{
		payment.StatusCreated, payment.StatusProcessing, payment.StatusAuthorized, payment.StatusCapturing,
		payment.StatusCompleted, payment.StatusAborted, payment.StatusExpired, payment.StatusFailed,
	}

	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, payment.CanTransition(from, to), "terminal %s must not transition to %s", from, to)
		}
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	tests := []struct {
		from    payment.Status
		to      payment.Status
		allowed bool
	}{
		{payment.StatusCreated, payment.StatusProcessing, true},
		{payment.StatusCreated, payment.StatusCapturing, true},
		{payment.StatusProcessing, payment.StatusAuthorized, true},
		{payment.StatusAuthorized, payment.StatusCapturing, true},
		{payment.StatusCapturing, payment.StatusCompleted, true},
		{payment.StatusProcessing, payment.StatusFailed, true},
		{payment.StatusCreated, payment.StatusAborted, true},
		{payment.StatusProcessing, payment.StatusCreated, false},
		{payment.StatusCapturing, payment.StatusAuthorized, false},
		{payment.StatusAuthorized, payment.StatusAuthorized, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, payment.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNormalizeProviderStatus(t *testing.T) {
	assert.Equal(t, payment.ProviderAuthorized, payment.NormalizeProviderStatus("AUTHORIZED"))
	assert.Equal(t, payment.ProviderCreated, payment.NormalizeProviderStatus("CREATED"))
	assert.Equal(t, payment.ProviderUnknown, payment.NormalizeProviderStatus("SOMETHING_NEW"))
	assert.Equal(t, payment.ProviderUnknown, payment.NormalizeProviderStatus(""))
}

func TestFromProvider(t *testing.T) {
	status, err := payment.FromProvider(payment.ProviderAuthorized)
	assert.NoError(t, err)
	assert.Equal(t, payment.StatusAuthorized, status)

	status, err = payment.FromProvider(payment.ProviderAborted)
	assert.NoError(t, err)
	assert.Equal(t, payment.StatusAborted, status)

	status, err = payment.FromProvider(payment.ProviderTerminated)
	assert.NoError(t, err)
	assert.Equal(t, payment.StatusAborted, status)

	status, err = payment.FromProvider(payment.ProviderExpired)
	assert.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, status)

	_, err = payment.FromProvider(payment.ProviderUnknown)
	assert.Error(t, err)
}
