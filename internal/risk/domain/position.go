package domain

import "github.com/shopspring/decimal"

// PositionSnapshot 上游已计算好的持仓快照
type PositionSnapshot struct {
	PositionID        string
	AccountCode       string
	Symbol            string
	Quantity          decimal.Decimal
	AvgCost           decimal.Decimal
	CostBasis         decimal.Decimal
	TriggeringTradeID string
}
