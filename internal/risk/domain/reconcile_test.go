package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

func position(costBasis string) PositionSnapshot {
	return PositionSnapshot{PositionID: "P1", AccountCode: "ACC1", Symbol: "XYZ", Quantity: d("10"), CostBasis: d(costBasis), TriggeringTradeID: "T1"}
}

func evaluate(pos PositionSnapshot, limits ...*RiskLimit) []LimitEvaluation {
	out := make([]LimitEvaluation, 0, len(limits))
	for _, l := range limits {
		out = append(out, EvaluateLimit(DefaultValueCalculator{}, l, pos))
	}
	return out
}

func openAlert(id string, typ AlertType, created time.Time) *RiskAlert {
	return &RiskAlert{ID: id, AlertType: typ, AccountCode: "ACC1", Symbol: "XYZ", Status: AlertStatusOpen, CreatedAt: created}
}

func TestReconcileCreatesBreach(t *testing.T) {
	pos := position("125000")
	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(7, "100000", nil)),
		Now:         t0,
		NewID:       "A1",
	})

	require.NotNil(t, m.Create)
	assert.Empty(t, m.Resolved)
	a := m.Create
	assert.Equal(t, "A1", a.ID)
	assert.Equal(t, uint64(7), a.LimitID)
	assert.Equal(t, AlertTypeLimitBreach, a.AlertType)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, AlertStatusOpen, a.Status)
	assert.Equal(t, "ACC1", a.AccountCode)
	assert.Equal(t, "XYZ", a.Symbol)
	assert.Equal(t, "T1", a.TriggeringTradeID)
	assert.True(t, d("125").Equal(a.UtilizationPct))
	assert.Equal(t, t0, a.CreatedAt)
}

func TestReconcileNoDuplicate(t *testing.T) {
	pos := position("125000")
	existing := openAlert("A1", AlertTypeLimitBreach, t0)
	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(1, "100000", nil)),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {existing}},
		Now:         t0.Add(time.Minute),
		NewID:       "A2",
	})
	assert.True(t, m.Empty())
	assert.True(t, existing.IsOpen())
}

func TestReconcileAutoResolve(t *testing.T) {
	pos := position("50000")
	breach := openAlert("A1", AlertTypeLimitBreach, t0)
	warning := openAlert("A0", AlertTypeLimitWarning, t0.Add(-time.Hour))
	now := t0.Add(time.Minute)

	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(1, "100000", dp("80"))),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {breach}, AlertTypeLimitWarning: {warning}},
		Now:         now,
		NewID:       "A2",
	})

	assert.Nil(t, m.Create)
	require.Len(t, m.Resolved, 2)
	for _, r := range m.Resolved {
		assert.Equal(t, ResolveReasonAuto, r.Reason)
		assert.Equal(t, AlertStatusResolved, r.Alert.Status)
		require.NotNil(t, r.Alert.ResolvedAt)
		assert.Equal(t, now, *r.Alert.ResolvedAt)
	}
}

func TestReconcileResolvesOnlyWhenAllNormal(t *testing.T) {
	pos := position("90000")
	breach := openAlert("A1", AlertTypeLimitBreach, t0)
	m := Reconcile(ReconcileContext{
		Position: pos,
		// 宽松限额为 NORMAL，严格限额仍突破
		Evaluations: evaluate(pos, valueLimit(1, "1000000", nil), valueLimit(2, "50000", nil)),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {breach}},
		Now:         t0,
		NewID:       "A2",
	})
	assert.True(t, m.Empty())
	assert.True(t, breach.IsOpen())
}

func TestReconcileEscalationKeepsWarningOpen(t *testing.T) {
	pos := position("110000")
	warning := openAlert("W1", AlertTypeLimitWarning, t0)
	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(1, "100000", dp("80"))),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitWarning: {warning}},
		Now:         t0.Add(time.Minute),
		NewID:       "B1",
	})

	require.NotNil(t, m.Create)
	assert.Equal(t, AlertTypeLimitBreach, m.Create.AlertType)
	assert.Empty(t, m.Resolved)
	assert.True(t, warning.IsOpen())
}

func TestReconcileDowngradeIsNoop(t *testing.T) {
	pos := position("95000")
	breach := openAlert("B1", AlertTypeLimitBreach, t0)
	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(1, "100000", dp("80"))),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {breach}},
		Now:         t0.Add(time.Minute),
		NewID:       "W1",
	})

	assert.True(t, m.Empty())
	assert.True(t, breach.IsOpen())
}

func TestReconcileRepairsDuplicateOpenAlerts(t *testing.T) {
	pos := position("125000")
	older := openAlert("A1", AlertTypeLimitBreach, t0)
	newer := openAlert("A2", AlertTypeLimitBreach, t0.Add(time.Second))
	sameTime := openAlert("A0", AlertTypeLimitBreach, t0)

	m := Reconcile(ReconcileContext{
		Position:    pos,
		Evaluations: evaluate(pos, valueLimit(1, "100000", nil)),
		Open:        map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {older, newer, sameTime}},
		Now:         t0.Add(time.Minute),
		NewID:       "A3",
	})

	assert.Nil(t, m.Create)
	assert.Equal(t, 2, m.Inconsistencies)
	require.Len(t, m.Resolved, 2)
	assert.True(t, newer.IsOpen())
	assert.Equal(t, "A1", m.Resolved[0].Alert.ID)
	assert.Equal(t, "A0", m.Resolved[1].Alert.ID)
	for _, r := range m.Resolved {
		assert.Equal(t, ResolveReasonInconsistency, r.Reason)
	}
}

func TestReconcileNoLimits(t *testing.T) {
	breach := openAlert("A1", AlertTypeLimitBreach, t0)
	m := Reconcile(ReconcileContext{
		Position: position("125000"),
		Open:     map[AlertType][]*RiskAlert{AlertTypeLimitBreach: {breach}},
		Now:      t0,
		NewID:    "A2",
	})
	assert.True(t, m.Empty())
}
