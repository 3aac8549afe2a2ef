package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertTransitions(t *testing.T) {
	now := time.Now()

	t.Run("acknowledge then resolve", func(t *testing.T) {
		a := &RiskAlert{Status: AlertStatusOpen}
		require.NoError(t, a.Acknowledge(" ops ", now))
		assert.Equal(t, AlertStatusAcknowledged, a.Status)
		assert.Equal(t, "ops", a.AcknowledgedBy)
		require.NotNil(t, a.AcknowledgedAt)

		require.NoError(t, a.Resolve(now))
		assert.Equal(t, AlertStatusResolved, a.Status)
		require.NotNil(t, a.ResolvedAt)
	})

	t.Run("acknowledge requires identity", func(t *testing.T) {
		a := &RiskAlert{Status: AlertStatusOpen}
		assert.ErrorIs(t, a.Acknowledge("   ", now), ErrValidation)
		assert.Equal(t, AlertStatusOpen, a.Status)
	})

	t.Run("acknowledge twice", func(t *testing.T) {
		a := &RiskAlert{Status: AlertStatusAcknowledged}
		assert.ErrorIs(t, a.Acknowledge("ops", now), ErrInvalidTransition)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		for _, s := range []AlertStatus{AlertStatusResolved, AlertStatusDismissed} {
			a := &RiskAlert{Status: s}
			assert.ErrorIs(t, a.Acknowledge("ops", now), ErrInvalidTransition)
			assert.ErrorIs(t, a.Resolve(now), ErrInvalidTransition)
			assert.ErrorIs(t, a.Dismiss(now), ErrInvalidTransition)
			assert.Equal(t, s, a.Status)
		}
	})

	t.Run("dismiss acknowledged", func(t *testing.T) {
		a := &RiskAlert{Status: AlertStatusAcknowledged}
		require.NoError(t, a.Dismiss(now))
		assert.Equal(t, AlertStatusDismissed, a.Status)
	})
}

func TestDedupKey(t *testing.T) {
	a := &RiskAlert{AlertType: AlertTypeLimitBreach, AccountCode: "ACC1", Symbol: "XYZ"}
	assert.Equal(t, "LIMIT_BREACH|ACC1|XYZ", a.Key().String())
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("UNKNOWN").Rank())
}
