package application

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

// DefaultRecentWindow 账户近期告警的默认时间窗口
const DefaultRecentWindow = 24 * time.Hour

// ManagementService 限额与告警的管理操作
type ManagementService struct {
	limits  domain.RiskLimitRepository
	alerts  domain.RiskAlertRepository
	tx      domain.TxManager
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManagementService 创建管理服务
func NewManagementService(limits domain.RiskLimitRepository, alerts domain.RiskAlertRepository, tx domain.TxManager, m *metrics.Metrics) *ManagementService {
	return &ManagementService{
		limits:  limits,
		alerts:  alerts,
		tx:      tx,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// --- Alert ---

// GetAlert 查询告警
func (s *ManagementService) GetAlert(ctx context.Context, id string) (*RiskAlertDTO, error) {
	a, err := s.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToRiskAlertDTO(a), nil
}

// ListOpenAlerts OPEN 告警
func (s *ManagementService) ListOpenAlerts(ctx context.Context) ([]*RiskAlertDTO, error) {
	alerts, err := s.alerts.ListByStatus(ctx, domain.AlertStatusOpen)
	if err != nil {
		return nil, err
	}
	return ToRiskAlertDTOs(alerts), nil
}

// ListCriticalAlerts OPEN 且等级 HIGH/CRITICAL 的告警
func (s *ManagementService) ListCriticalAlerts(ctx context.Context) ([]*RiskAlertDTO, error) {
	alerts, err := s.alerts.ListCritical(ctx)
	if err != nil {
		return nil, err
	}
	return ToRiskAlertDTOs(alerts), nil
}

// ListAccountAlerts 账户在 since 之后的告警，status 非空时按状态过滤
func (s *ManagementService) ListAccountAlerts(ctx context.Context, accountCode string, since *time.Time, status string) ([]*RiskAlertDTO, error) {
	if status != "" {
		alerts, err := s.alerts.ListByAccountAndStatus(ctx, accountCode, domain.AlertStatus(strings.ToUpper(status)))
		if err != nil {
			return nil, err
		}
		return ToRiskAlertDTOs(alerts), nil
	}
	from := s.now().Add(-DefaultRecentWindow)
	if since != nil {
		from = *since
	}
	alerts, err := s.alerts.ListByAccountSince(ctx, accountCode, from)
	if err != nil {
		return nil, err
	}
	return ToRiskAlertDTOs(alerts), nil
}

// ListTradeAlerts 某笔交易触发的告警
func (s *ManagementService) ListTradeAlerts(ctx context.Context, tradeID string) ([]*RiskAlertDTO, error) {
	alerts, err := s.alerts.ListByTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	return ToRiskAlertDTOs(alerts), nil
}

// AlertSummary OPEN 告警按等级统计
func (s *ManagementService) AlertSummary(ctx context.Context) (*AlertSummaryDTO, error) {
	counts, err := s.alerts.CountOpenBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	out := &AlertSummaryDTO{BySeverity: make(map[string]int64, 4)}
	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		out.BySeverity[string(sev)] = counts[sev]
		out.Total += counts[sev]
	}
	return out, nil
}

// AcknowledgeAlert 人工确认告警
func (s *ManagementService) AcknowledgeAlert(ctx context.Context, id, by string) (*RiskAlertDTO, error) {
	if strings.TrimSpace(by) == "" {
		return nil, domain.NewValidationError("acknowledged_by", "is required")
	}
	return s.transition(ctx, id, "acknowledged", func(a *domain.RiskAlert, now time.Time) error {
		return a.Acknowledge(by, now)
	})
}

// ResolveAlert 人工关闭告警
func (s *ManagementService) ResolveAlert(ctx context.Context, id string) (*RiskAlertDTO, error) {
	dto, err := s.transition(ctx, id, "resolved", func(a *domain.RiskAlert, now time.Time) error {
		return a.Resolve(now)
	})
	if err == nil {
		s.metrics.RecordAlertResolved(string(domain.ResolveReasonManual))
	}
	return dto, err
}

// DismissAlert 忽略告警
func (s *ManagementService) DismissAlert(ctx context.Context, id string) (*RiskAlertDTO, error) {
	return s.transition(ctx, id, "dismissed", func(a *domain.RiskAlert, now time.Time) error {
		return a.Dismiss(now)
	})
}

func (s *ManagementService) transition(ctx context.Context, id, action string, apply func(*domain.RiskAlert, time.Time) error) (*RiskAlertDTO, error) {
	var updated *domain.RiskAlert
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.alerts.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(a, s.now()); err != nil {
			return err
		}
		if err := s.alerts.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "risk alert "+action, "alert_id", id, "status", updated.Status)
	return ToRiskAlertDTO(updated), nil
}

// --- Limit ---

// ListLimits 全部限额
func (s *ManagementService) ListLimits(ctx context.Context) ([]*RiskLimitDTO, error) {
	limits, err := s.limits.List(ctx)
	if err != nil {
		return nil, err
	}
	return ToRiskLimitDTOs(limits), nil
}

// ListAccountLimits 账户的生效限额
func (s *ManagementService) ListAccountLimits(ctx context.Context, accountCode string) ([]*RiskLimitDTO, error) {
	limits, err := s.limits.ListActiveByAccount(ctx, accountCode)
	if err != nil {
		return nil, err
	}
	return ToRiskLimitDTOs(limits), nil
}

// GetLimit 查询限额
func (s *ManagementService) GetLimit(ctx context.Context, id uint64) (*RiskLimitDTO, error) {
	l, err := s.limits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToRiskLimitDTO(l), nil
}

// CreateLimit 创建限额，校验失败不落库
func (s *ManagementService) CreateLimit(ctx context.Context, req CreateLimitRequest) (*RiskLimitDTO, error) {
	value, err := parseDecimal("limit_value", req.LimitValue)
	if err != nil {
		return nil, err
	}
	threshold, err := parseOptionalDecimal("warning_threshold", req.WarningThreshold)
	if err != nil {
		return nil, err
	}

	now := s.now()
	limit := &domain.RiskLimit{
		AccountID:        req.AccountID,
		AccountCode:      trimPtr(req.AccountCode),
		InstrumentID:     req.InstrumentID,
		Symbol:           trimPtr(req.Symbol),
		LimitType:        domain.LimitType(strings.ToUpper(strings.TrimSpace(req.LimitType))),
		LimitValue:       value,
		WarningThreshold: threshold,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	limit.Normalize()
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	if err := s.limits.Create(ctx, limit); err != nil {
		return nil, err
	}
	logger.Info(ctx, "risk limit created",
		"limit_id", limit.ID,
		"limit_type", limit.LimitType,
		"account_code", limit.ScopeAccount(),
		"symbol", limit.ScopeSymbol(),
	)
	return ToRiskLimitDTO(limit), nil
}

// UpdateLimit 修改限额，不影响已产生的告警
func (s *ManagementService) UpdateLimit(ctx context.Context, id uint64, req UpdateLimitRequest) (*RiskLimitDTO, error) {
	value, err := parseDecimal("limit_value", req.LimitValue)
	if err != nil {
		return nil, err
	}
	threshold, err := parseOptionalDecimal("warning_threshold", req.WarningThreshold)
	if err != nil {
		return nil, err
	}

	limit, err := s.limits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := limit.Update(value, threshold, req.Active, s.now()); err != nil {
		return nil, err
	}
	if err := s.limits.Update(ctx, limit); err != nil {
		return nil, err
	}
	logger.Info(ctx, "risk limit updated", "limit_id", id)
	return ToRiskLimitDTO(limit), nil
}

// DeactivateLimit 软删除限额
func (s *ManagementService) DeactivateLimit(ctx context.Context, id uint64) error {
	limit, err := s.limits.Get(ctx, id)
	if err != nil {
		return err
	}
	limit.Deactivate(s.now())
	if err := s.limits.Update(ctx, limit); err != nil {
		return err
	}
	logger.Info(ctx, "risk limit deactivated", "limit_id", id)
	return nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, domain.NewValidationError(field, "is not a decimal")
	}
	return v, nil
}

func parseOptionalDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	v, err := parseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
