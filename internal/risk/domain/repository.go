package domain

import (
	"context"
	"time"
)

// RiskLimitRepository 限额仓储接口
type RiskLimitRepository interface {
	LimitMatcher
	Create(ctx context.Context, limit *RiskLimit) error
	Update(ctx context.Context, limit *RiskLimit) error
	Get(ctx context.Context, id uint64) (*RiskLimit, error)
	List(ctx context.Context) ([]*RiskLimit, error)
	// ListActiveByAccount 账户专属的生效限额，不含通配限额
	ListActiveByAccount(ctx context.Context, accountCode string) ([]*RiskLimit, error)
}

// RiskAlertRepository 告警仓储接口
type RiskAlertRepository interface {
	Create(ctx context.Context, alert *RiskAlert) error
	Update(ctx context.Context, alert *RiskAlert) error
	Get(ctx context.Context, id string) (*RiskAlert, error)
	// GetForUpdate 事务内加锁读取
	GetForUpdate(ctx context.Context, id string) (*RiskAlert, error)
	// FindOpenForUpdate 事务内加锁读取账户+标的下指定类型的 OPEN 告警
	FindOpenForUpdate(ctx context.Context, accountCode, symbol string, types []AlertType) ([]*RiskAlert, error)
	ListByStatus(ctx context.Context, status AlertStatus) ([]*RiskAlert, error)
	ListByAccountAndStatus(ctx context.Context, accountCode string, status AlertStatus) ([]*RiskAlert, error)
	// ListCritical OPEN 且等级为 HIGH/CRITICAL，按等级降序、创建时间降序
	ListCritical(ctx context.Context) ([]*RiskAlert, error)
	ListByAccountSince(ctx context.Context, accountCode string, since time.Time) ([]*RiskAlert, error)
	ListByTrade(ctx context.Context, tradeID string) ([]*RiskAlert, error)
	CountOpenBySeverity(ctx context.Context) (map[Severity]int64, error)
}

// TxManager 事务管理器，fn 内的仓储调用共享同一事务
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
