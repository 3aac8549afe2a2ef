package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Classification 限额评估结果分类
type Classification string

const (
	ClassificationNormal  Classification = "NORMAL"
	ClassificationWarning Classification = "WARNING"
	ClassificationBreach  Classification = "BREACH"
)

func (c Classification) rank() int {
	switch c {
	case ClassificationBreach:
		return 2
	case ClassificationWarning:
		return 1
	default:
		return 0
	}
}

// AlertType 分类对应的告警类型，NORMAL 时为空
func (c Classification) AlertType() AlertType {
	switch c {
	case ClassificationBreach:
		return AlertTypeLimitBreach
	case ClassificationWarning:
		return AlertTypeLimitWarning
	default:
		return ""
	}
}

var (
	criticalUtilization = decimal.NewFromInt(120)
	mediumUtilization   = decimal.NewFromInt(90)
)

// ValueCalculator 根据限额类型从持仓快照推导当前值
type ValueCalculator interface {
	CurrentValue(limitType LimitType, position PositionSnapshot) decimal.Decimal
}

// DefaultValueCalculator 默认取值策略
// 除数量限额外均以成本作为当前值，敞口/集中度/亏损类限额尚无专门规则
type DefaultValueCalculator struct{}

// CurrentValue 计算当前值，保留 4 位小数
func (DefaultValueCalculator) CurrentValue(limitType LimitType, position PositionSnapshot) decimal.Decimal {
	var v decimal.Decimal
	switch limitType {
	case LimitTypeMaxPositionValue:
		v = position.CostBasis
	case LimitTypeMaxPositionQuantity:
		v = position.Quantity.Abs()
	default:
		v = position.CostBasis
	}
	return v.Round(MoneyScale)
}

// Utilization 利用率百分比 current / limit * 100，四舍五入到 2 位
func Utilization(current, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return current.Mul(hundred).DivRound(limit, PercentScale)
}

// Classify 判定分类，达到限额即为 BREACH，优先于预警判断
func Classify(current decimal.Decimal, limit *RiskLimit) Classification {
	if current.GreaterThanOrEqual(limit.LimitValue) {
		return ClassificationBreach
	}
	if limit.WarningThreshold != nil && Utilization(current, limit.LimitValue).GreaterThanOrEqual(*limit.WarningThreshold) {
		return ClassificationWarning
	}
	return ClassificationNormal
}

// GradeSeverity 按利用率与是否突破给出告警等级
func GradeSeverity(utilization decimal.Decimal, breach bool) Severity {
	if breach {
		if utilization.GreaterThanOrEqual(criticalUtilization) {
			return SeverityCritical
		}
		return SeverityHigh
	}
	if utilization.GreaterThanOrEqual(mediumUtilization) {
		return SeverityMedium
	}
	return SeverityLow
}

// LimitEvaluation 单个限额的评估结果
type LimitEvaluation struct {
	Limit          *RiskLimit
	CurrentValue   decimal.Decimal
	Utilization    decimal.Decimal
	Classification Classification
	Severity       Severity
}

// EvaluateLimit 对单个限额完成取值、分类与定级
func EvaluateLimit(calc ValueCalculator, limit *RiskLimit, position PositionSnapshot) LimitEvaluation {
	current := calc.CurrentValue(limit.LimitType, position)
	util := Utilization(current, limit.LimitValue)
	class := Classify(current, limit)
	return LimitEvaluation{
		Limit:          limit,
		CurrentValue:   current,
		Utilization:    util,
		Classification: class,
		Severity:       GradeSeverity(util, class == ClassificationBreach),
	}
}

// Message 告警描述
func (e LimitEvaluation) Message() string {
	label := "WARNING"
	if e.Classification == ClassificationBreach {
		label = "LIMIT BREACH"
	}
	return fmt.Sprintf("%s: %s at %s%% utilization (Current: %s, Limit: %s)",
		label, e.Limit.LimitType, e.Utilization.StringFixed(2),
		e.CurrentValue.StringFixed(2), e.Limit.LimitValue.StringFixed(2))
}

// Dominant 选出最严重的评估：BREACH > WARNING > NORMAL，其次利用率高者，再次限额 ID 小者
func Dominant(evals []LimitEvaluation) (LimitEvaluation, bool) {
	if len(evals) == 0 {
		return LimitEvaluation{}, false
	}
	best := evals[0]
	for _, e := range evals[1:] {
		if dominates(e, best) {
			best = e
		}
	}
	return best, true
}

func dominates(a, b LimitEvaluation) bool {
	if ra, rb := a.Classification.rank(), b.Classification.rank(); ra != rb {
		return ra > rb
	}
	if c := a.Utilization.Cmp(b.Utilization); c != 0 {
		return c > 0
	}
	return a.Limit.ID < b.Limit.ID
}
