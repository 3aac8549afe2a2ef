package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入字段缺失或非法
	ErrValidation = errors.New("validation failed")
	// ErrLimitNotFound 限额不存在
	ErrLimitNotFound = errors.New("risk limit not found")
	// ErrAlertNotFound 告警不存在
	ErrAlertNotFound = errors.New("risk alert not found")
	// ErrInvalidTransition 告警状态不允许该操作
	ErrInvalidTransition = errors.New("invalid alert status transition")
	// ErrAlertConflict 并发评估在同一去重键上抢先创建了 OPEN 告警，可重试
	ErrAlertConflict = errors.New("open alert already exists for key")
	// ErrDependencyUnavailable 依赖（存储/消息）熔断不可用
	ErrDependencyUnavailable = errors.New("risk dependency unavailable")
)

// ValidationError 字段级校验错误
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError 构造字段校验错误
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsPermanent 报告错误是否不应通过重试或重投递恢复
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrLimitNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrInvalidTransition)
}
