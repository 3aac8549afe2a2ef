package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	// EventTypeRiskAlert 告警事件类型
	EventTypeRiskAlert = "RiskAlert"
	// EventSource 事件来源
	EventSource = "risk-service"
)

// PositionUpdatedEvent 持仓更新事件，数值字段以十进制字符串或 JSON 数字传输
type PositionUpdatedEvent struct {
	PositionID        string      `json:"positionId"`
	AccountCode       string      `json:"accountCode" validate:"required,max=50"`
	Symbol            string      `json:"symbol" validate:"required,max=20"`
	NewQuantity       json.Number `json:"newQuantity" validate:"required,numeric"`
	AvgCost           json.Number `json:"avgCost" validate:"omitempty,numeric"`
	CostBasis         json.Number `json:"costBasis" validate:"required,numeric"`
	TriggeringTradeID string      `json:"triggeringTradeId"`
	CorrelationID     string      `json:"correlationId"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodePositionUpdatedEvent 解码并校验持仓事件，格式错误统一返回校验错误
func DecodePositionUpdatedEvent(payload []byte) (*PositionUpdatedEvent, error) {
	var evt PositionUpdatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, NewValidationError("payload", "is not a valid position event: "+err.Error())
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Validate 字段校验
func (e *PositionUpdatedEvent) Validate() error {
	e.AccountCode = strings.TrimSpace(e.AccountCode)
	e.Symbol = strings.TrimSpace(e.Symbol)
	if err := eventValidator().Struct(e); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return NewValidationError(fieldErrs[0].Field(), "failed "+fieldErrs[0].Tag()+" check")
		}
		return NewValidationError("payload", err.Error())
	}
	return nil
}

// Snapshot 转换为领域快照
func (e *PositionUpdatedEvent) Snapshot() (PositionSnapshot, error) {
	qty, err := decimal.NewFromString(e.NewQuantity.String())
	if err != nil {
		return PositionSnapshot{}, NewValidationError("newQuantity", "is not a decimal")
	}
	costBasis, err := decimal.NewFromString(e.CostBasis.String())
	if err != nil {
		return PositionSnapshot{}, NewValidationError("costBasis", "is not a decimal")
	}
	avgCost := decimal.Zero
	if e.AvgCost != "" {
		if avgCost, err = decimal.NewFromString(e.AvgCost.String()); err != nil {
			return PositionSnapshot{}, NewValidationError("avgCost", "is not a decimal")
		}
	}
	return PositionSnapshot{
		PositionID:        e.PositionID,
		AccountCode:       e.AccountCode,
		Symbol:            e.Symbol,
		Quantity:          qty,
		AvgCost:           avgCost,
		CostBasis:         costBasis,
		TriggeringTradeID: e.TriggeringTradeID,
	}, nil
}

// RiskAlertEvent 风险告警事件
type RiskAlertEvent struct {
	EventID           string    `json:"eventId"`
	EventType         string    `json:"eventType"`
	EventTime         int64     `json:"eventTime"`
	CorrelationID     string    `json:"correlationId"`
	Source            string    `json:"source"`
	AlertID           string    `json:"alertId"`
	AlertType         AlertType `json:"alertType"`
	Severity          Severity  `json:"severity"`
	AccountCode       string    `json:"accountCode"`
	Symbol            string    `json:"symbol"`
	TriggeringTradeID string    `json:"triggeringTradeId"`
	CurrentValue      string    `json:"currentValue"`
	LimitValue        string    `json:"limitValue"`
	UtilizationPct    string    `json:"utilizationPct"`
	Message           string    `json:"message"`
}

// NewRiskAlertEvent 由告警构造事件，每次发布使用新的事件 ID
func NewRiskAlertEvent(eventID, correlationID string, alert *RiskAlert, now time.Time) RiskAlertEvent {
	return RiskAlertEvent{
		EventID:           eventID,
		EventType:         EventTypeRiskAlert,
		EventTime:         now.UnixMilli(),
		CorrelationID:     correlationID,
		Source:            EventSource,
		AlertID:           alert.ID,
		AlertType:         alert.AlertType,
		Severity:          alert.Severity,
		AccountCode:       alert.AccountCode,
		Symbol:            alert.Symbol,
		TriggeringTradeID: alert.TriggeringTradeID,
		CurrentValue:      alert.CurrentValue.StringFixed(MoneyScale),
		LimitValue:        alert.LimitValue.StringFixed(MoneyScale),
		UtilizationPct:    alert.UtilizationPct.StringFixed(PercentScale),
		Message:           alert.Message,
	}
}

// PartitionKey 分区键 accountCode:severity
func (e RiskAlertEvent) PartitionKey() string {
	return e.AccountCode + ":" + string(e.Severity)
}
