package domain

import (
	"sort"
	"time"
)

// ReconcileContext 一次评估所需的上下文
type ReconcileContext struct {
	Position    PositionSnapshot
	Evaluations []LimitEvaluation
	// Open 账户+标的下当前 OPEN 的告警，按告警类型分组
	Open  map[AlertType][]*RiskAlert
	Now   time.Time
	NewID string
}

// AlertResolution 被自动关闭的告警及原因
type AlertResolution struct {
	Alert  *RiskAlert
	Reason ResolveReason
}

// AlertMutation 一次评估需要落库的变更
type AlertMutation struct {
	Create   *RiskAlert
	Resolved []AlertResolution
	// Inconsistencies 同一去重键下发现的多余 OPEN 告警数
	Inconsistencies int
}

// Empty 是否无任何变更
func (m AlertMutation) Empty() bool {
	return m.Create == nil && len(m.Resolved) == 0
}

// EngineAlertTypes 由评估引擎产生并参与去重的告警类型
var EngineAlertTypes = []AlertType{AlertTypeLimitBreach, AlertTypeLimitWarning}

// Reconcile 告警去重与生命周期判定
//
// 去重键为 (告警类型, 账户, 标的)，整次评估只按最严重的限额结果判定一次：
//   - 全部 NORMAL：关闭该账户标的下引擎产生的 OPEN 告警
//   - WARNING/BREACH 且同类型已有 OPEN：不做变更
//   - WARNING 且已有 OPEN 的 BREACH：不做变更，降级不关闭突破告警
//   - BREACH 且仅有 OPEN 的 WARNING：新建 BREACH，WARNING 保持 OPEN
//   - 该账户标的下无引擎告警 OPEN：按最严重结果新建告警
//
// 同一键下出现多条 OPEN 时保留最新一条，其余关闭以恢复不变量。
// 无生效限额时不做任何变更。
func Reconcile(rc ReconcileContext) AlertMutation {
	var m AlertMutation

	current := make(map[AlertType]*RiskAlert, len(EngineAlertTypes))
	for _, t := range EngineAlertTypes {
		alerts := newestFirst(rc.Open[t])
		if len(alerts) == 0 {
			continue
		}
		current[t] = alerts[0]
		for _, extra := range alerts[1:] {
			m.resolve(extra, ResolveReasonInconsistency, rc.Now)
			m.Inconsistencies++
		}
	}

	dominant, ok := Dominant(rc.Evaluations)
	if !ok {
		return m
	}

	if dominant.Classification == ClassificationNormal {
		for _, t := range EngineAlertTypes {
			if a := current[t]; a != nil {
				m.resolve(a, ResolveReasonAuto, rc.Now)
			}
		}
		return m
	}

	target := dominant.Classification.AlertType()
	if current[target] != nil {
		return m
	}
	if target == AlertTypeLimitWarning && current[AlertTypeLimitBreach] != nil {
		return m
	}

	m.Create = newAlert(rc, dominant)
	return m
}

func (m *AlertMutation) resolve(a *RiskAlert, reason ResolveReason, now time.Time) {
	if err := a.Resolve(now); err != nil {
		return
	}
	m.Resolved = append(m.Resolved, AlertResolution{Alert: a, Reason: reason})
}

func newestFirst(alerts []*RiskAlert) []*RiskAlert {
	out := make([]*RiskAlert, 0, len(alerts))
	for _, a := range alerts {
		if a != nil && a.IsOpen() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func newAlert(rc ReconcileContext, e LimitEvaluation) *RiskAlert {
	return &RiskAlert{
		ID:                rc.NewID,
		LimitID:           e.Limit.ID,
		AlertType:         e.Classification.AlertType(),
		Severity:          e.Severity,
		AccountCode:       rc.Position.AccountCode,
		Symbol:            rc.Position.Symbol,
		PositionID:        rc.Position.PositionID,
		TriggeringTradeID: rc.Position.TriggeringTradeID,
		CurrentValue:      e.CurrentValue,
		LimitValue:        e.Limit.LimitValue,
		UtilizationPct:    e.Utilization,
		Message:           e.Message(),
		Status:            AlertStatusOpen,
		CreatedAt:         rc.Now,
		UpdatedAt:         rc.Now,
	}
}
