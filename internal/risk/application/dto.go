package application

import (
	"time"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// CreateLimitRequest 创建限额请求 DTO
type CreateLimitRequest struct {
	AccountID        *int64  `json:"account_id"`
	AccountCode      *string `json:"account_code" binding:"omitempty,max=50"`
	InstrumentID     *int64  `json:"instrument_id"`
	Symbol           *string `json:"symbol" binding:"omitempty,max=20"`
	LimitType        string  `json:"limit_type" binding:"required"`
	LimitValue       string  `json:"limit_value" binding:"required"`
	WarningThreshold *string `json:"warning_threshold"`
}

// UpdateLimitRequest 更新限额请求 DTO
type UpdateLimitRequest struct {
	LimitValue       string  `json:"limit_value" binding:"required"`
	WarningThreshold *string `json:"warning_threshold"`
	Active           *bool   `json:"active"`
}

// AcknowledgeAlertRequest 确认告警请求 DTO
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// RiskLimitDTO 限额 DTO
type RiskLimitDTO struct {
	ID               uint64  `json:"id"`
	AccountID        *int64  `json:"account_id,omitempty"`
	AccountCode      *string `json:"account_code,omitempty"`
	InstrumentID     *int64  `json:"instrument_id,omitempty"`
	Symbol           *string `json:"symbol,omitempty"`
	LimitType        string  `json:"limit_type"`
	LimitValue       string  `json:"limit_value"`
	WarningThreshold *string `json:"warning_threshold,omitempty"`
	Active           bool    `json:"active"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// RiskAlertDTO 告警 DTO
type RiskAlertDTO struct {
	ID                string  `json:"id"`
	LimitID           uint64  `json:"limit_id"`
	AlertType         string  `json:"alert_type"`
	Severity          string  `json:"severity"`
	AccountCode       string  `json:"account_code"`
	Symbol            string  `json:"symbol"`
	PositionID        string  `json:"position_id,omitempty"`
	TriggeringTradeID string  `json:"triggering_trade_id,omitempty"`
	CurrentValue      string  `json:"current_value"`
	LimitValue        string  `json:"limit_value"`
	UtilizationPct    string  `json:"utilization_pct"`
	Message           string  `json:"message"`
	Status            string  `json:"status"`
	AcknowledgedBy    string  `json:"acknowledged_by,omitempty"`
	AcknowledgedAt    *string `json:"acknowledged_at,omitempty"`
	ResolvedAt        *string `json:"resolved_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// AlertSummaryDTO OPEN 告警按等级统计
type AlertSummaryDTO struct {
	Total      int64            `json:"total"`
	BySeverity map[string]int64 `json:"by_severity"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// ToRiskLimitDTO 领域对象转 DTO
func ToRiskLimitDTO(l *domain.RiskLimit) *RiskLimitDTO {
	dto := &RiskLimitDTO{
		ID:           l.ID,
		AccountID:    l.AccountID,
		AccountCode:  l.AccountCode,
		InstrumentID: l.InstrumentID,
		Symbol:       l.Symbol,
		LimitType:    string(l.LimitType),
		LimitValue:   l.LimitValue.StringFixed(domain.MoneyScale),
		Active:       l.Active,
		CreatedAt:    formatTime(l.CreatedAt),
		UpdatedAt:    formatTime(l.UpdatedAt),
	}
	if l.WarningThreshold != nil {
		s := l.WarningThreshold.StringFixed(domain.PercentScale)
		dto.WarningThreshold = &s
	}
	return dto
}

// ToRiskLimitDTOs 批量转换
func ToRiskLimitDTOs(limits []*domain.RiskLimit) []*RiskLimitDTO {
	out := make([]*RiskLimitDTO, 0, len(limits))
	for _, l := range limits {
		out = append(out, ToRiskLimitDTO(l))
	}
	return out
}

// ToRiskAlertDTO 领域对象转 DTO
func ToRiskAlertDTO(a *domain.RiskAlert) *RiskAlertDTO {
	return &RiskAlertDTO{
		ID:                a.ID,
		LimitID:           a.LimitID,
		AlertType:         string(a.AlertType),
		Severity:          string(a.Severity),
		AccountCode:       a.AccountCode,
		Symbol:            a.Symbol,
		PositionID:        a.PositionID,
		TriggeringTradeID: a.TriggeringTradeID,
		CurrentValue:      a.CurrentValue.StringFixed(domain.MoneyScale),
		LimitValue:        a.LimitValue.StringFixed(domain.MoneyScale),
		UtilizationPct:    a.UtilizationPct.StringFixed(domain.PercentScale),
		Message:           a.Message,
		Status:            string(a.Status),
		AcknowledgedBy:    a.AcknowledgedBy,
		AcknowledgedAt:    formatTimePtr(a.AcknowledgedAt),
		ResolvedAt:        formatTimePtr(a.ResolvedAt),
		CreatedAt:         formatTime(a.CreatedAt),
	}
}

// ToRiskAlertDTOs 批量转换
func ToRiskAlertDTOs(alerts []*domain.RiskAlert) []*RiskAlertDTO {
	out := make([]*RiskAlertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, ToRiskAlertDTO(a))
	}
	return out
}
