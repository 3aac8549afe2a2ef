package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/internal/risk/infrastructure/persistence/mysql"
	"github.com/wyfcoding/riskengine/pkg/db"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.RiskAlertEvent
	err    error
}

func (f *fakePublisher) PublishRiskAlert(_ context.Context, e domain.RiskAlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) published() []domain.RiskAlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RiskAlertEvent(nil), f.events...)
}

type fixture struct {
	limits    domain.RiskLimitRepository
	alerts    domain.RiskAlertRepository
	tx        *db.TxManager
	publisher *fakePublisher
	metrics   *metrics.Metrics
	svc       *EvaluationService
	mgmt      *ManagementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Init(context.Background(), db.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mysql.AutoMigrate(gdb.DB))
	t.Cleanup(func() { _ = gdb.Close() })

	f := &fixture{
		limits:    mysql.NewRiskLimitRepository(gdb.DB),
		alerts:    mysql.NewRiskAlertRepository(gdb.DB),
		tx:        db.NewTxManager(gdb.DB),
		publisher: &fakePublisher{},
		metrics:   metrics.New("risk-test"),
	}
	f.svc = NewEvaluationService(f.limits, f.alerts, f.tx, f.publisher, WithMetrics(f.metrics))
	f.mgmt = NewManagementService(f.limits, f.alerts, f.tx, f.metrics)
	return f
}

func (f *fixture) addLimit(t *testing.T, account, symbol *string, value string, threshold *string) *domain.RiskLimit {
	t.Helper()
	dto, err := f.mgmt.CreateLimit(context.Background(), CreateLimitRequest{
		AccountCode:      account,
		Symbol:           symbol,
		LimitType:        string(domain.LimitTypeMaxPositionValue),
		LimitValue:       value,
		WarningThreshold: threshold,
	})
	require.NoError(t, err)
	l, err := f.limits.Get(context.Background(), dto.ID)
	require.NoError(t, err)
	return l
}

func (f *fixture) openAlerts(t *testing.T) []*domain.RiskAlert {
	t.Helper()
	alerts, err := f.alerts.ListByStatus(context.Background(), domain.AlertStatusOpen)
	require.NoError(t, err)
	return alerts
}

func strp(s string) *string { return &s }

func pos(costBasis string) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		PositionID:        "P1",
		AccountCode:       "ACC1",
		Symbol:            "XYZ",
		Quantity:          decimal.NewFromInt(1000),
		CostBasis:         decimal.RequireFromString(costBasis),
		TriggeringTradeID: "T1",
	}
}

func TestEvaluateScenarioA(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)

	ctx := logger.WithCorrelationID(context.Background(), "corr-a")
	res, err := f.svc.Evaluate(ctx, pos("100000.0000"))
	require.NoError(t, err)

	assert.Equal(t, domain.ClassificationBreach, res.Classification)
	require.NotNil(t, res.Created)
	assert.Equal(t, domain.SeverityHigh, res.Created.Severity)
	assert.Equal(t, domain.AlertTypeLimitBreach, res.Created.AlertType)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, "corr-a", events[0].CorrelationID)
	assert.Equal(t, "ACC1:HIGH", events[0].PartitionKey())
	assert.Equal(t, res.Created.ID, events[0].AlertID)
	assert.NotEqual(t, res.Created.ID, events[0].EventID)
}

func TestEvaluateScenarioB(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)

	res, err := f.svc.Evaluate(context.Background(), pos("125000.0000"))
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.Equal(t, domain.SeverityCritical, res.Created.Severity)
}

func TestEvaluateScenarioC(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", strp("80"))

	res, err := f.svc.Evaluate(context.Background(), pos("85000"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationWarning, res.Classification)
	require.NotNil(t, res.Created)
	assert.Equal(t, domain.AlertTypeLimitWarning, res.Created.AlertType)
	assert.Equal(t, domain.SeverityLow, res.Created.Severity)
	assert.True(t, decimal.NewFromInt(85).Equal(res.Created.UtilizationPct))
}

func TestEvaluateScenarioD(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)
	ctx := context.Background()

	first, err := f.svc.Evaluate(ctx, pos("120000"))
	require.NoError(t, err)
	require.NotNil(t, first.Created)

	res, err := f.svc.Evaluate(ctx, pos("50000"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationNormal, res.Classification)
	assert.Nil(t, res.Created)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, domain.ResolveReasonAuto, res.Resolved[0].Reason)

	stored, err := f.alerts.Get(ctx, first.Created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusResolved, stored.Status)
	assert.NotNil(t, stored.ResolvedAt)
	assert.Empty(t, f.openAlerts(t))
	assert.Len(t, f.publisher.published(), 1)
}

func TestEvaluateScenarioE(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgmt.AcknowledgeAlert(context.Background(), uuid.NewString(), "ops")
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
}

func TestEvaluateIdempotentOnRedelivery(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Evaluate(ctx, pos("150000"))
		require.NoError(t, err)
	}
	assert.Len(t, f.openAlerts(t), 1)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEvaluateWildcardLimits(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, nil, nil, "1000", nil)
	f.addLimit(t, strp("ACC2"), nil, "1", nil)

	res, err := f.svc.Evaluate(context.Background(), pos("5000"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.LimitsEvaluated)
	require.NotNil(t, res.Created)
	assert.Equal(t, "ACC1", res.Created.AccountCode)
	assert.Equal(t, "XYZ", res.Created.Symbol)
}

func TestEvaluateNoLimits(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Evaluate(context.Background(), pos("5000"))
	require.NoError(t, err)
	assert.Zero(t, res.LimitsEvaluated)
	assert.Nil(t, res.Created)
}

func TestEvaluateEscalatesWarningToBreach(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", strp("80"))
	ctx := context.Background()

	warn, err := f.svc.Evaluate(ctx, pos("85000"))
	require.NoError(t, err)
	require.NotNil(t, warn.Created)

	breach, err := f.svc.Evaluate(ctx, pos("101000"))
	require.NoError(t, err)
	require.NotNil(t, breach.Created)
	assert.Equal(t, domain.AlertTypeLimitBreach, breach.Created.AlertType)
	assert.Empty(t, breach.Resolved)

	assert.Len(t, f.openAlerts(t), 2)
	assert.Len(t, f.publisher.published(), 2)

	normal, err := f.svc.Evaluate(ctx, pos("50000"))
	require.NoError(t, err)
	assert.Len(t, normal.Resolved, 2)
	assert.Empty(t, f.openAlerts(t))
}

func TestEvaluateDowngradeKeepsBreachOpen(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", strp("80"))
	ctx := context.Background()

	first, err := f.svc.Evaluate(ctx, pos("105000"))
	require.NoError(t, err)
	require.NotNil(t, first.Created)

	down, err := f.svc.Evaluate(ctx, pos("95000"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationWarning, down.Classification)
	assert.Nil(t, down.Created)
	assert.Empty(t, down.Resolved)

	open := f.openAlerts(t)
	require.Len(t, open, 1)
	assert.Equal(t, first.Created.ID, open[0].ID)
	assert.Equal(t, domain.AlertTypeLimitBreach, open[0].AlertType)
	assert.Equal(t, domain.AlertStatusOpen, open[0].Status)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEvaluateOscillationAroundLimit(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", strp("80"))
	ctx := context.Background()

	for _, v := range []string{"105000", "95000", "105000", "95000", "101000"} {
		_, err := f.svc.Evaluate(ctx, pos(v))
		require.NoError(t, err, v)
	}

	open := f.openAlerts(t)
	require.Len(t, open, 1)
	assert.Equal(t, domain.AlertTypeLimitBreach, open[0].AlertType)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEvaluateConcurrentSingleOpenAlert(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)
	// 第二个服务实例模拟另一进程，只共享数据库
	other := NewEvaluationService(f.limits, f.alerts, f.tx, f.publisher)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		svc := f.svc
		if i%2 == 1 {
			svc = other
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Evaluate(context.Background(), pos("130000"))
			if err != nil && !errors.Is(err, domain.ErrAlertConflict) {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Len(t, f.openAlerts(t), 1)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEvaluatePublishFailureKeepsAlert(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)
	f.publisher.err = errors.New("broker unavailable")

	res, err := f.svc.Evaluate(context.Background(), pos("130000"))
	require.NoError(t, err)
	require.NotNil(t, res.Created)

	stored, err := f.alerts.Get(context.Background(), res.Created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusOpen, stored.Status)
}

func TestEvaluateRepairsDuplicateOpenAlerts(t *testing.T) {
	f := newFixture(t)
	f.addLimit(t, strp("ACC1"), strp("XYZ"), "100000", nil)
	ctx := context.Background()

	first, err := f.svc.Evaluate(ctx, pos("130000"))
	require.NoError(t, err)
	require.NotNil(t, first.Created)

	// 绕过唯一键写入一条重复的 OPEN 告警：先以 RESOLVED 落库再改回 OPEN 状态字段
	dup := *first.Created
	dup.ID = uuid.NewString()
	dup.Status = domain.AlertStatusResolved
	dup.CreatedAt = first.Created.CreatedAt.Add(-time.Minute)
	require.NoError(t, f.alerts.Create(ctx, &dup))
	require.NoError(t, forceStatus(f, dup.ID, domain.AlertStatusOpen))
	require.Len(t, f.openAlerts(t), 2)

	res, err := f.svc.Evaluate(ctx, pos("130000"))
	require.NoError(t, err)
	assert.Nil(t, res.Created)
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, dup.ID, res.Resolved[0].Alert.ID)
	assert.Equal(t, domain.ResolveReasonInconsistency, res.Resolved[0].Reason)

	open := f.openAlerts(t)
	require.Len(t, open, 1)
	assert.Equal(t, first.Created.ID, open[0].ID)
}

func forceStatus(f *fixture, id string, status domain.AlertStatus) error {
	return f.tx.WithTx(context.Background(), func(ctx context.Context) error {
		return db.TxFromContext(ctx).Model(&mysql.RiskAlertModel{}).
			Where("id = ?", id).Update("status", string(status)).Error
	})
}

type failingMatcher struct{ err error }

func (m failingMatcher) ApplicableLimits(context.Context, string, string) ([]*domain.RiskLimit, error) {
	return nil, m.err
}

func TestEvaluatePropagatesStoreFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewEvaluationService(failingMatcher{err: errors.New("db down")}, f.alerts, f.tx, f.publisher)
	_, err := svc.Evaluate(context.Background(), pos("1"))
	assert.ErrorContains(t, err, "db down")
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	km := NewKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, km.size())
}
