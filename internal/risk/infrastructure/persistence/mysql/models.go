package mysql

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
)

// RiskLimitModel 风险限额表映射
type RiskLimitModel struct {
	ID               uint64              `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID        *int64              `gorm:"column:account_id"`
	AccountCode      *string             `gorm:"column:account_code;type:varchar(50);index:idx_risk_limits_scope,priority:1"`
	InstrumentID     *int64              `gorm:"column:instrument_id"`
	Symbol           *string             `gorm:"column:symbol;type:varchar(20);index:idx_risk_limits_scope,priority:2"`
	LimitType        string              `gorm:"column:limit_type;type:varchar(50);not null"`
	LimitValue       decimal.Decimal     `gorm:"column:limit_value;type:decimal(18,4);not null"`
	WarningThreshold decimal.NullDecimal `gorm:"column:warning_threshold;type:decimal(5,2)"`
	Active           bool                `gorm:"column:active;not null;index"`
	CreatedAt        time.Time           `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;not null"`
}

func (RiskLimitModel) TableName() string { return "risk_limits" }

// RiskAlertModel 风险告警表映射
// open_key 仅在 OPEN 状态下非空，唯一索引保证同一去重键最多一条 OPEN 告警
type RiskAlertModel struct {
	ID                string          `gorm:"primaryKey;type:varchar(36);column:id"`
	LimitID           uint64          `gorm:"column:limit_id;index"`
	AlertType         string          `gorm:"column:alert_type;type:varchar(30);not null;index:idx_risk_alerts_lookup,priority:1"`
	Severity          string          `gorm:"column:severity;type:varchar(20);not null"`
	SeverityRank      int             `gorm:"column:severity_rank;not null;default:0"`
	AccountCode       string          `gorm:"column:account_code;type:varchar(50);not null;index:idx_risk_alerts_lookup,priority:2;index:idx_risk_alerts_account_created,priority:1"`
	Symbol            string          `gorm:"column:symbol;type:varchar(20);not null;index:idx_risk_alerts_lookup,priority:3"`
	PositionID        string          `gorm:"column:position_id;type:varchar(64)"`
	TriggeringTradeID string          `gorm:"column:triggering_trade_id;type:varchar(64);index"`
	CurrentValue      decimal.Decimal `gorm:"column:current_value;type:decimal(18,4);not null"`
	LimitValue        decimal.Decimal `gorm:"column:limit_value;type:decimal(18,4);not null"`
	UtilizationPct    decimal.Decimal `gorm:"column:utilization_pct;type:decimal(7,2);not null"`
	Message           string          `gorm:"column:message;type:text"`
	Status            string          `gorm:"column:status;type:varchar(20);not null;index:idx_risk_alerts_lookup,priority:4;index:idx_risk_alerts_status_severity,priority:1"`
	OpenKey           *string         `gorm:"column:open_key;type:varchar(120);uniqueIndex:uk_risk_alerts_open_key"`
	AcknowledgedBy    string          `gorm:"column:acknowledged_by;type:varchar(100)"`
	AcknowledgedAt    *time.Time      `gorm:"column:acknowledged_at"`
	ResolvedAt        *time.Time      `gorm:"column:resolved_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;not null;index:idx_risk_alerts_account_created,priority:2"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;not null"`
}

func (RiskAlertModel) TableName() string { return "risk_alerts" }

// AutoMigrate 同步表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&RiskLimitModel{}, &RiskAlertModel{})
}

func toRiskLimitModel(l *domain.RiskLimit) *RiskLimitModel {
	m := &RiskLimitModel{
		ID:           l.ID,
		AccountID:    l.AccountID,
		AccountCode:  l.AccountCode,
		InstrumentID: l.InstrumentID,
		Symbol:       l.Symbol,
		LimitType:    string(l.LimitType),
		LimitValue:   l.LimitValue,
		Active:       l.Active,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
	}
	if l.WarningThreshold != nil {
		m.WarningThreshold = decimal.NewNullDecimal(*l.WarningThreshold)
	}
	return m
}

func toRiskLimit(m *RiskLimitModel) *domain.RiskLimit {
	l := &domain.RiskLimit{
		ID:           m.ID,
		AccountID:    m.AccountID,
		AccountCode:  m.AccountCode,
		InstrumentID: m.InstrumentID,
		Symbol:       m.Symbol,
		LimitType:    domain.LimitType(m.LimitType),
		LimitValue:   m.LimitValue,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.WarningThreshold.Valid {
		v := m.WarningThreshold.Decimal
		l.WarningThreshold = &v
	}
	return l
}

func openKey(a *domain.RiskAlert) *string {
	if !a.IsOpen() {
		return nil
	}
	k := a.Key().String()
	return &k
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toRiskAlertModel(a *domain.RiskAlert) *RiskAlertModel {
	return &RiskAlertModel{
		ID:                a.ID,
		LimitID:           a.LimitID,
		AlertType:         string(a.AlertType),
		Severity:          string(a.Severity),
		SeverityRank:      a.Severity.Rank(),
		AccountCode:       a.AccountCode,
		Symbol:            a.Symbol,
		PositionID:        a.PositionID,
		TriggeringTradeID: a.TriggeringTradeID,
		CurrentValue:      a.CurrentValue,
		LimitValue:        a.LimitValue,
		UtilizationPct:    a.UtilizationPct,
		Message:           a.Message,
		Status:            string(a.Status),
		OpenKey:           openKey(a),
		AcknowledgedBy:    a.AcknowledgedBy,
		AcknowledgedAt:    utcPtr(a.AcknowledgedAt),
		ResolvedAt:        utcPtr(a.ResolvedAt),
		CreatedAt:         a.CreatedAt.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
	}
}

func toRiskAlert(m *RiskAlertModel) *domain.RiskAlert {
	return &domain.RiskAlert{
		ID:                m.ID,
		LimitID:           m.LimitID,
		AlertType:         domain.AlertType(m.AlertType),
		Severity:          domain.Severity(m.Severity),
		AccountCode:       m.AccountCode,
		Symbol:            m.Symbol,
		PositionID:        m.PositionID,
		TriggeringTradeID: m.TriggeringTradeID,
		CurrentValue:      m.CurrentValue,
		LimitValue:        m.LimitValue,
		UtilizationPct:    m.UtilizationPct,
		Message:           m.Message,
		Status:            domain.AlertStatus(m.Status),
		AcknowledgedBy:    m.AcknowledgedBy,
		AcknowledgedAt:    m.AcknowledgedAt,
		ResolvedAt:        m.ResolvedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toRiskAlerts(models []*RiskAlertModel) []*domain.RiskAlert {
	out := make([]*domain.RiskAlert, 0, len(models))
	for _, m := range models {
		out = append(out, toRiskAlert(m))
	}
	return out
}
