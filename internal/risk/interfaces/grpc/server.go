// Package grpc 风控服务的 gRPC 入口，提供健康检查与反射
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wyfcoding/riskengine/pkg/logger"
	"github.com/wyfcoding/riskengine/pkg/metrics"
	"github.com/wyfcoding/riskengine/pkg/middleware"
)

// ServiceName 健康检查中登记的服务名
const ServiceName = "risk.v1.RiskService"

// Checker 就绪探测，返回 nil 表示依赖可用
type Checker func(ctx context.Context) error

// Server gRPC 服务器
type Server struct {
	server *grpc.Server
	health *health.Server
}

// NewServer 创建 gRPC 服务器并注册健康检查与反射
func NewServer(m *metrics.Metrics) *Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCCorrelationInterceptor(),
			middleware.GRPCLoggingInterceptor(),
			middleware.GRPCMetricsInterceptor(m),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &Server{server: srv, health: hs}
	s.SetServing(false)
	return s
}

// SetServing 更新整体与风控服务的健康状态
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// WatchReadiness 周期执行就绪探测并同步健康状态，直到 ctx 取消
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration, check Checker) {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := check(pctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn(ctx, "readiness probe failed", "error", err)
		}
		s.SetServing(err == nil)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}

// Serve 在 addr 上监听，ctx 取消后优雅停止
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener 在给定 listener 上服务
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve grpc: %w", err)
	}
}
