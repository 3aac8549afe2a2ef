// Package consumer 消费持仓更新事件并驱动风险评估
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/wyfcoding/riskengine/internal/risk/application"
	"github.com/wyfcoding/riskengine/internal/risk/domain"
	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
	"github.com/wyfcoding/riskengine/pkg/mq"
)

// RedeliveryConfig 瞬时失败时同一消息的重投递退避
type RedeliveryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// PositionConsumer 单个分区消费者，逐条处理、显式提交
type PositionConsumer struct {
	reader     mq.Reader
	evaluator  application.PositionEvaluator
	metrics    *metrics.Metrics
	redelivery RedeliveryConfig
}

// NewPositionConsumer 创建持仓消费者
func NewPositionConsumer(reader mq.Reader, evaluator application.PositionEvaluator, m *metrics.Metrics, redelivery RedeliveryConfig) *PositionConsumer {
	if redelivery.InitialInterval <= 0 {
		redelivery.InitialInterval = 500 * time.Millisecond
	}
	if redelivery.MaxInterval < redelivery.InitialInterval {
		redelivery.MaxInterval = redelivery.InitialInterval
	}
	return &PositionConsumer{reader: reader, evaluator: evaluator, metrics: m, redelivery: redelivery}
}

// Run 拉取消息直到 ctx 取消或 reader 关闭
func (c *PositionConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch position message: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			// 仅 ctx 取消会走到这里，未提交的消息由下一个消费者重新处理
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error(ctx, "failed to commit position message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process 处理一条消息，瞬时失败时按退避重投递，返回 nil 表示可以提交
func (c *PositionConsumer) process(ctx context.Context, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.redelivery.InitialInterval
	b.MaxInterval = c.redelivery.MaxInterval

	for attempt := 1; ; attempt++ {
		msgCtx, err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}

		wait := b.NextBackOff()
		logger.Warn(msgCtx, "position evaluation failed, redelivering",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// handle 单次处理，返回非 nil 错误表示需要重投递
func (c *PositionConsumer) handle(ctx context.Context, msg kafka.Message) (context.Context, error) {
	evt, err := domain.DecodePositionUpdatedEvent(msg.Value)
	if err != nil {
		ctx = logger.WithCorrelationID(ctx, correlationID("", msg))
		c.reject(ctx, msg, err)
		return ctx, nil
	}
	ctx = logger.WithCorrelationID(ctx, correlationID(evt.CorrelationID, msg))

	snapshot, err := evt.Snapshot()
	if err != nil {
		c.reject(ctx, msg, err)
		return ctx, nil
	}

	res, err := c.evaluator.Evaluate(ctx, snapshot)
	switch {
	case err == nil && res != nil && res.Skipped:
		logger.Warn(ctx, "position evaluation skipped, risk dependencies unavailable",
			"position_id", snapshot.PositionID,
			"account_code", snapshot.AccountCode,
			"symbol", snapshot.Symbol,
		)
		return ctx, nil
	case err == nil:
		return ctx, nil
	case domain.IsPermanent(err):
		c.reject(ctx, msg, err)
		return ctx, nil
	default:
		return ctx, err
	}
}

// reject 无法处理的消息记录后提交，避免阻塞分区
func (c *PositionConsumer) reject(ctx context.Context, msg kafka.Message, err error) {
	c.metrics.RecordInvalidMessage()
	logger.Error(ctx, "discarding invalid position message",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
}

// Close 关闭 reader
func (c *PositionConsumer) Close() error {
	return c.reader.Close()
}

// correlationID 事件字段优先，其次消息头，最后生成
func correlationID(fromEvent string, msg kafka.Message) string {
	if fromEvent != "" {
		return fromEvent
	}
	if h := mq.Header(msg, mq.HeaderCorrelationID); h != "" {
		return h
	}
	return uuid.NewString()
}

// Group 同一消费组内的多个 worker
type Group struct {
	workers []*PositionConsumer
}

// NewGroup 创建 n 个 worker，每个 worker 独占一个 reader
func NewGroup(n int, newReader func() mq.Reader, evaluator application.PositionEvaluator, m *metrics.Metrics, redelivery RedeliveryConfig) *Group {
	g := &Group{workers: make([]*PositionConsumer, 0, n)}
	for i := 0; i < n; i++ {
		g.workers = append(g.workers, NewPositionConsumer(newReader(), evaluator, m, redelivery))
	}
	return g
}

// Run 并发运行所有 worker，任一 worker 出错时停止全部
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i, w := range g.workers {
		eg.Go(func() error {
			logger.Info(ctx, "position consumer started", "worker", i)
			defer logger.Info(ctx, "position consumer stopped", "worker", i)
			return w.Run(ctx)
		})
	}
	return eg.Wait()
}

// Close 关闭所有 reader
func (g *Group) Close() error {
	var errs []error
	for _, w := range g.workers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
