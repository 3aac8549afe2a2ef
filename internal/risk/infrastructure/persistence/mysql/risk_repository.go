package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/db"
)

type baseRepository struct {
	db *gorm.DB
}

func (r *baseRepository) getDB(ctx context.Context) *gorm.DB {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// forUpdate 行锁；sqlite 整库串行写，不支持 FOR UPDATE
func (r *baseRepository) forUpdate(q *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return q
	}
	return q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// --- Limit ---

type riskLimitRepository struct {
	baseRepository
}

// NewRiskLimitRepository 创建限额仓储
func NewRiskLimitRepository(gdb *gorm.DB) domain.RiskLimitRepository {
	return &riskLimitRepository{baseRepository{db: gdb}}
}

func (r *riskLimitRepository) Create(ctx context.Context, limit *domain.RiskLimit) error {
	model := toRiskLimitModel(limit)
	if err := r.getDB(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("create risk limit: %w", err)
	}
	limit.ID = model.ID
	return nil
}

func (r *riskLimitRepository) Update(ctx context.Context, limit *domain.RiskLimit) error {
	model := toRiskLimitModel(limit)
	res := r.getDB(ctx).Model(&RiskLimitModel{ID: limit.ID}).
		Select("limit_value", "warning_threshold", "active", "updated_at").
		Updates(model)
	if res.Error != nil {
		return fmt.Errorf("update risk limit %d: %w", limit.ID, res.Error)
	}
	return nil
}

func (r *riskLimitRepository) Get(ctx context.Context, id uint64) (*domain.RiskLimit, error) {
	var model RiskLimitModel
	err := r.getDB(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("risk limit %d: %w", id, domain.ErrLimitNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toRiskLimit(&model), nil
}

func (r *riskLimitRepository) List(ctx context.Context) ([]*domain.RiskLimit, error) {
	return r.find(r.getDB(ctx).Order("id ASC"))
}

func (r *riskLimitRepository) ListActiveByAccount(ctx context.Context, accountCode string) ([]*domain.RiskLimit, error) {
	return r.find(r.getDB(ctx).Where("account_code = ? AND active = ?", accountCode, true).Order("id ASC"))
}

func (r *riskLimitRepository) ApplicableLimits(ctx context.Context, accountCode, symbol string) ([]*domain.RiskLimit, error) {
	limits, err := r.find(r.getDB(ctx).
		Where("active = ?", true).
		Where("(account_code IS NULL OR account_code = ?)", accountCode).
		Where("(symbol IS NULL OR symbol = ?)", symbol).
		Order("id ASC"))
	if err != nil {
		return nil, err
	}
	return domain.MatchLimits(limits, accountCode, symbol), nil
}

func (r *riskLimitRepository) find(q *gorm.DB) ([]*domain.RiskLimit, error) {
	var models []*RiskLimitModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	limits := make([]*domain.RiskLimit, 0, len(models))
	for _, m := range models {
		limits = append(limits, toRiskLimit(m))
	}
	return limits, nil
}

// --- Alert ---

type riskAlertRepository struct {
	baseRepository
}

// NewRiskAlertRepository 创建告警仓储
func NewRiskAlertRepository(gdb *gorm.DB) domain.RiskAlertRepository {
	return &riskAlertRepository{baseRepository{db: gdb}}
}

func (r *riskAlertRepository) Create(ctx context.Context, alert *domain.RiskAlert) error {
	err := r.getDB(ctx).Create(toRiskAlertModel(alert)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create alert %s: %w", alert.Key(), domain.ErrAlertConflict)
	}
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (r *riskAlertRepository) Update(ctx context.Context, alert *domain.RiskAlert) error {
	res := r.getDB(ctx).Model(&RiskAlertModel{ID: alert.ID}).
		Select("status", "open_key", "acknowledged_by", "acknowledged_at", "resolved_at", "updated_at").
		Updates(toRiskAlertModel(alert))
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("update alert %s: %w", alert.ID, domain.ErrAlertConflict)
	}
	if res.Error != nil {
		return fmt.Errorf("update alert %s: %w", alert.ID, res.Error)
	}
	return nil
}

func (r *riskAlertRepository) Get(ctx context.Context, id string) (*domain.RiskAlert, error) {
	return r.first(r.getDB(ctx), id)
}

func (r *riskAlertRepository) GetForUpdate(ctx context.Context, id string) (*domain.RiskAlert, error) {
	return r.first(r.forUpdate(r.getDB(ctx)), id)
}

func (r *riskAlertRepository) first(q *gorm.DB, id string) (*domain.RiskAlert, error) {
	var model RiskAlertModel
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("alert %s: %w", id, domain.ErrAlertNotFound)
	}
	if err != nil {
		return nil, err
	}
	return toRiskAlert(&model), nil
}

func (r *riskAlertRepository) FindOpenForUpdate(ctx context.Context, accountCode, symbol string, types []domain.AlertType) ([]*domain.RiskAlert, error) {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	q := r.getDB(ctx).
		Where("status = ? AND account_code = ? AND symbol = ?", string(domain.AlertStatusOpen), accountCode, symbol).
		Where("alert_type IN ?", names).
		Order("created_at DESC, id DESC")
	return r.find(r.forUpdate(q))
}

func (r *riskAlertRepository) ListByStatus(ctx context.Context, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	return r.find(r.getDB(ctx).Where("status = ?", string(status)).Order("created_at DESC, id DESC"))
}

func (r *riskAlertRepository) ListByAccountAndStatus(ctx context.Context, accountCode string, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	return r.find(r.getDB(ctx).
		Where("account_code = ? AND status = ?", accountCode, string(status)).
		Order("created_at DESC, id DESC"))
}

func (r *riskAlertRepository) ListCritical(ctx context.Context) ([]*domain.RiskAlert, error) {
	return r.find(r.getDB(ctx).
		Where("status = ?", string(domain.AlertStatusOpen)).
		Where("severity IN ?", []string{string(domain.SeverityHigh), string(domain.SeverityCritical)}).
		Order("severity_rank DESC, created_at DESC, id DESC"))
}

func (r *riskAlertRepository) ListByAccountSince(ctx context.Context, accountCode string, since time.Time) ([]*domain.RiskAlert, error) {
	return r.find(r.getDB(ctx).
		Where("account_code = ? AND created_at >= ?", accountCode, since.UTC()).
		Order("created_at DESC, id DESC"))
}

func (r *riskAlertRepository) ListByTrade(ctx context.Context, tradeID string) ([]*domain.RiskAlert, error) {
	return r.find(r.getDB(ctx).Where("triggering_trade_id = ?", tradeID).Order("created_at DESC, id DESC"))
}

func (r *riskAlertRepository) CountOpenBySeverity(ctx context.Context) (map[domain.Severity]int64, error) {
	var rows []struct {
		Severity string
		Total    int64
	}
	err := r.getDB(ctx).Model(&RiskAlertModel{}).
		Select("severity, COUNT(*) AS total").
		Where("status = ?", string(domain.AlertStatusOpen)).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.Severity]int64, len(rows))
	for _, row := range rows {
		counts[domain.Severity(row.Severity)] = row.Total
	}
	return counts, nil
}

func (r *riskAlertRepository) find(q *gorm.DB) ([]*domain.RiskAlert, error) {
	var models []*RiskAlertModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return toRiskAlerts(models), nil
}
