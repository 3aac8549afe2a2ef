package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

// 评估结果标签
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
	OutcomeNoLimits = "no_limits"
)

// EvaluationResult 一次评估的结果
type EvaluationResult struct {
	PositionID string
	// LimitsEvaluated 参与评估的限额数
	LimitsEvaluated int
	Classification  domain.Classification
	Created         *domain.RiskAlert
	Resolved        []domain.AlertResolution
	// Skipped 依赖熔断时跳过评估
	Skipped bool
	// SkipCause 跳过原因，包装 domain.ErrDependencyUnavailable
	SkipCause error
}

// PositionEvaluator 持仓评估入口
type PositionEvaluator interface {
	Evaluate(ctx context.Context, position domain.PositionSnapshot) (*EvaluationResult, error)
}

// EvaluationService 风险评估应用服务
type EvaluationService struct {
	limits         domain.LimitMatcher
	alerts         domain.RiskAlertRepository
	tx             domain.TxManager
	publisher      domain.EventPublisher
	calc           domain.ValueCalculator
	locks          *KeyedMutex
	metrics        *metrics.Metrics
	publishTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// EvaluationOption 评估服务选项
type EvaluationOption func(*EvaluationService)

// WithValueCalculator 替换取值策略
func WithValueCalculator(calc domain.ValueCalculator) EvaluationOption {
	return func(s *EvaluationService) { s.calc = calc }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Metrics) EvaluationOption {
	return func(s *EvaluationService) { s.metrics = m }
}

// WithPublishTimeout 设置事件发布超时，非正值保持默认
func WithPublishTimeout(d time.Duration) EvaluationOption {
	return func(s *EvaluationService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) EvaluationOption {
	return func(s *EvaluationService) { s.now = now }
}

// NewEvaluationService 创建评估服务
func NewEvaluationService(
	limits domain.LimitMatcher,
	alerts domain.RiskAlertRepository,
	tx domain.TxManager,
	publisher domain.EventPublisher,
	opts ...EvaluationOption,
) *EvaluationService {
	s := &EvaluationService{
		limits:         limits,
		alerts:         alerts,
		tx:             tx,
		publisher:      publisher,
		calc:           domain.DefaultValueCalculator{},
		locks:          NewKeyedMutex(),
		publishTimeout: 5 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate 对一次持仓变动完成限额匹配、分类、告警去重与发布
// 同一账户+标的在进程内串行，读取 OPEN 告警与写入在同一事务内完成
func (s *EvaluationService) Evaluate(ctx context.Context, position domain.PositionSnapshot) (*EvaluationResult, error) {
	start := time.Now()
	unlock := s.locks.Lock(position.AccountCode + "|" + position.Symbol)
	defer unlock()
	defer logger.LogDuration(ctx, "risk evaluation finished", "position_id", position.PositionID)()

	logger.Info(ctx, "evaluating risk for position",
		"position_id", position.PositionID,
		"account_code", position.AccountCode,
		"symbol", position.Symbol,
	)

	res := &EvaluationResult{PositionID: position.PositionID, Classification: domain.ClassificationNormal}

	limits, err := s.limits.ApplicableLimits(ctx, position.AccountCode, position.Symbol)
	if err != nil {
		s.metrics.RecordEvaluation(OutcomeError, time.Since(start))
		return nil, fmt.Errorf("load applicable limits: %w", err)
	}
	if len(limits) == 0 {
		logger.Debug(ctx, "no applicable risk limits", "position_id", position.PositionID)
		s.metrics.RecordEvaluation(OutcomeNoLimits, time.Since(start))
		return res, nil
	}

	evals := make([]domain.LimitEvaluation, 0, len(limits))
	for _, l := range limits {
		evals = append(evals, domain.EvaluateLimit(s.calc, l, position))
	}
	res.LimitsEvaluated = len(evals)
	if dominant, ok := domain.Dominant(evals); ok {
		res.Classification = dominant.Classification
	}

	var mutation domain.AlertMutation
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		open, err := s.alerts.FindOpenForUpdate(ctx, position.AccountCode, position.Symbol, domain.EngineAlertTypes)
		if err != nil {
			return fmt.Errorf("find open alerts: %w", err)
		}
		grouped := make(map[domain.AlertType][]*domain.RiskAlert, len(domain.EngineAlertTypes))
		for _, a := range open {
			grouped[a.AlertType] = append(grouped[a.AlertType], a)
		}

		mutation = domain.Reconcile(domain.ReconcileContext{
			Position:    position,
			Evaluations: evals,
			Open:        grouped,
			Now:         s.now(),
			NewID:       s.newID(),
		})
		if mutation.Inconsistencies > 0 {
			logger.Error(ctx, "multiple open alerts found for one dedup key, resolving all but the most recent",
				"account_code", position.AccountCode,
				"symbol", position.Symbol,
				"extra_open_alerts", mutation.Inconsistencies,
			)
		}

		for _, r := range mutation.Resolved {
			if err := s.alerts.Update(ctx, r.Alert); err != nil {
				return fmt.Errorf("resolve alert: %w", err)
			}
		}
		if mutation.Create != nil {
			if err := s.alerts.Create(ctx, mutation.Create); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordEvaluation(OutcomeError, time.Since(start))
		return nil, err
	}

	res.Created = mutation.Create
	res.Resolved = mutation.Resolved
	s.afterCommit(ctx, position, mutation)
	s.metrics.RecordEvaluation(OutcomeSuccess, time.Since(start))
	return res, nil
}

func (s *EvaluationService) afterCommit(ctx context.Context, position domain.PositionSnapshot, m domain.AlertMutation) {
	for _, r := range m.Resolved {
		s.metrics.RecordAlertResolved(string(r.Reason))
		logger.Info(ctx, "risk alert resolved",
			"alert_id", r.Alert.ID,
			"alert_type", r.Alert.AlertType,
			"reason", r.Reason,
		)
	}
	if m.Create == nil {
		return
	}

	a := m.Create
	s.metrics.RecordAlertOpened(string(a.Severity), string(a.AlertType))
	logger.Warn(ctx, "risk alert opened",
		"alert_id", a.ID,
		"alert_type", a.AlertType,
		"severity", a.Severity,
		"position_id", position.PositionID,
		"message", a.Message,
	)
	s.publish(ctx, a)
}

// publish 发布失败只记录，不回滚已提交的告警
func (s *EvaluationService) publish(ctx context.Context, alert *domain.RiskAlert) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	event := domain.NewRiskAlertEvent(s.newID(), logger.CorrelationID(ctx), alert, s.now())
	if err := s.publisher.PublishRiskAlert(pubCtx, event); err != nil {
		s.metrics.RecordPublishFailure()
		logger.Error(ctx, "failed to publish risk alert event",
			"alert_id", alert.ID,
			"event_id", event.EventID,
			"error", err,
		)
	}
}
