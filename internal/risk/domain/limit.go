// 包 风险评估服务的领域模型：限额、告警、持仓快照、评估规则与告警状态机
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitType 限额类型，固定枚举
type LimitType string

const (
	LimitTypeMaxPositionValue    LimitType = "MAX_POSITION_VALUE"     // 单个持仓最大价值
	LimitTypeMaxPositionQuantity LimitType = "MAX_POSITION_QUANTITY"  // 单个持仓最大数量
	LimitTypeMaxAccountExposure  LimitType = "MAX_ACCOUNT_EXPOSURE"   // 账户最大敞口
	LimitTypeMaxSingleTradeValue LimitType = "MAX_SINGLE_TRADE_VALUE" // 单笔交易最大价值
	LimitTypeMaxDailyTrades      LimitType = "MAX_DAILY_TRADES"       // 每日最大交易笔数
	LimitTypeMaxConcentration    LimitType = "MAX_CONCENTRATION"      // 单一证券最大集中度
	LimitTypeMaxSectorExposure   LimitType = "MAX_SECTOR_EXPOSURE"    // 行业最大敞口
	LimitTypeMaxLossLimit        LimitType = "MAX_LOSS_LIMIT"         // 最大亏损
)

var limitTypes = map[LimitType]struct{}{
	LimitTypeMaxPositionValue:    {},
	LimitTypeMaxPositionQuantity: {},
	LimitTypeMaxAccountExposure:  {},
	LimitTypeMaxSingleTradeValue: {},
	LimitTypeMaxDailyTrades:      {},
	LimitTypeMaxConcentration:    {},
	LimitTypeMaxSectorExposure:   {},
	LimitTypeMaxLossLimit:        {},
}

// Valid 是否为已定义的限额类型
func (t LimitType) Valid() bool {
	_, ok := limitTypes[t]
	return ok
}

const (
	// MoneyScale 金额保留的小数位
	MoneyScale int32 = 4
	// PercentScale 百分比保留的小数位
	PercentScale int32 = 2
)

var hundred = decimal.NewFromInt(100)

// RiskLimit 风险限额实体；AccountCode / Symbol 为空表示对所有账户 / 标的生效
type RiskLimit struct {
	ID               uint64           `json:"id"`
	AccountID        *int64           `json:"account_id,omitempty"`
	AccountCode      *string          `json:"account_code,omitempty"`
	InstrumentID     *int64           `json:"instrument_id,omitempty"`
	Symbol           *string          `json:"symbol,omitempty"`
	LimitType        LimitType        `json:"limit_type"`
	LimitValue       decimal.Decimal  `json:"limit_value"`
	WarningThreshold *decimal.Decimal `json:"warning_threshold,omitempty"`
	Active           bool             `json:"active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Validate 校验限额不变量：类型合法、限额为正、预警阈值在 (0, 100) 之间
func (l *RiskLimit) Validate() error {
	if !l.LimitType.Valid() {
		return NewValidationError("limit_type", "is not a supported limit type")
	}
	if !l.LimitValue.IsPositive() {
		return NewValidationError("limit_value", "must be positive")
	}
	if l.WarningThreshold != nil {
		if !l.WarningThreshold.IsPositive() || l.WarningThreshold.GreaterThanOrEqual(hundred) {
			return NewValidationError("warning_threshold", "must be a percentage in (0, 100)")
		}
	}
	return nil
}

// Normalize 统一精度，空字符串范围视为通配
func (l *RiskLimit) Normalize() {
	l.LimitValue = l.LimitValue.Round(MoneyScale)
	if l.WarningThreshold != nil {
		v := l.WarningThreshold.Round(PercentScale)
		l.WarningThreshold = &v
	}
	if l.AccountCode != nil && *l.AccountCode == "" {
		l.AccountCode = nil
	}
	if l.Symbol != nil && *l.Symbol == "" {
		l.Symbol = nil
	}
}

// AppliesTo 限额是否作用于给定账户与标的
func (l *RiskLimit) AppliesTo(accountCode, symbol string) bool {
	if !l.Active {
		return false
	}
	if l.AccountCode != nil && *l.AccountCode != accountCode {
		return false
	}
	if l.Symbol != nil && *l.Symbol != symbol {
		return false
	}
	return true
}

// Update 修改限额值、预警阈值与启用状态；不影响已存在的告警
func (l *RiskLimit) Update(value decimal.Decimal, threshold *decimal.Decimal, active *bool, now time.Time) error {
	next := *l
	next.LimitValue = value
	next.WarningThreshold = threshold
	if active != nil {
		next.Active = *active
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*l = next
	return nil
}

// Deactivate 软删除
func (l *RiskLimit) Deactivate(now time.Time) {
	l.Active = false
	l.UpdatedAt = now
}

// ScopeAccount 账户范围，通配时为空
func (l *RiskLimit) ScopeAccount() string {
	if l.AccountCode == nil {
		return ""
	}
	return *l.AccountCode
}

// ScopeSymbol 标的范围，通配时为空
func (l *RiskLimit) ScopeSymbol() string {
	if l.Symbol == nil {
		return ""
	}
	return *l.Symbol
}
