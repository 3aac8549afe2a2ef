package domain

import (
	"context"
	"sort"
)

// LimitMatcher 查询对账户与标的生效的全部限额，包含通配限额
type LimitMatcher interface {
	ApplicableLimits(ctx context.Context, accountCode, symbol string) ([]*RiskLimit, error)
}

// MatchLimits 过滤出生效限额并按 ID 排序，保证相同输入得到相同顺序
func MatchLimits(limits []*RiskLimit, accountCode, symbol string) []*RiskLimit {
	out := make([]*RiskLimit, 0, len(limits))
	for _, l := range limits {
		if l != nil && l.AppliesTo(accountCode, symbol) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
