package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
)

// ResilienceConfig 重试与熔断参数
type ResilienceConfig struct {
	Name                 string
	RetryMaxTries        uint
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	FailureThreshold     uint32
	OpenTimeout          time.Duration
	HalfOpenMaxRequests  uint32
}

// ResilientEvaluator 评估入口的熔断 + 重试装饰器
// 熔断打开时走降级路径：记录日志并返回 Skipped，由消费者照常提交位移
type ResilientEvaluator struct {
	next    PositionEvaluator
	breaker *gobreaker.CircuitBreaker
	cfg     ResilienceConfig
	metrics *metrics.Metrics
}

// NewResilientEvaluator 创建装饰器
func NewResilientEvaluator(next PositionEvaluator, cfg ResilienceConfig, m *metrics.Metrics) *ResilientEvaluator {
	if cfg.Name == "" {
		cfg.Name = "risk-evaluation"
	}
	if cfg.RetryMaxTries == 0 {
		cfg.RetryMaxTries = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 100 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 2 * time.Second
	}

	r := &ResilientEvaluator{next: next, cfg: cfg, metrics: m}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
			m.SetCircuitState(name, stateValue(to))
		},
		// 校验/不存在等永久错误说明依赖是健康的，不计入熔断失败
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsPermanent(err) || errors.Is(err, context.Canceled)
		},
	})
	m.SetCircuitState(cfg.Name, stateValue(gobreaker.StateClosed))
	return r
}

// State 当前熔断状态
func (r *ResilientEvaluator) State() gobreaker.State {
	return r.breaker.State()
}

// Evaluate 熔断器包裹有界指数退避重试
func (r *ResilientEvaluator) Evaluate(ctx context.Context, position domain.PositionSnapshot) (*EvaluationResult, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return backoff.Retry(ctx, func() (*EvaluationResult, error) {
			res, err := r.next.Evaluate(ctx, position)
			if err != nil && domain.IsPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			if err != nil {
				logger.Warn(ctx, "risk evaluation attempt failed", "position_id", position.PositionID, "error", err)
			}
			return res, err
		},
			backoff.WithBackOff(r.newBackOff()),
			backoff.WithMaxTries(r.cfg.RetryMaxTries),
		)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cause := fmt.Errorf("%w: %w", domain.ErrDependencyUnavailable, err)
		r.metrics.RecordFailOpen()
		r.metrics.RecordEvaluation(OutcomeSkipped, 0)
		logger.Error(ctx, "circuit breaker open, skipping risk evaluation",
			"position_id", position.PositionID,
			"account_code", position.AccountCode,
			"symbol", position.Symbol,
			"error", cause,
		)
		return &EvaluationResult{PositionID: position.PositionID, Skipped: true, SkipCause: cause}, nil
	}
	if err != nil {
		return nil, err
	}
	return out.(*EvaluationResult), nil
}

func (r *ResilientEvaluator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInitialInterval
	b.MaxInterval = r.cfg.RetryMaxInterval
	return b
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
