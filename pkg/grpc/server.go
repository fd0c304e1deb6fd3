package grpc

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	pkgErrors "CerberusPlatform/pkg/errors"
	"CerberusPlatform/pkg/health"
	"CerberusPlatform/pkg/logger"
)

// Server обертка над gRPC сервером со стандартным сервисом здоровья
type Server struct {
	server *grpc.Server
	health *grpchealth.Server
	logger logger.Logger
}

// NewServer создает gRPC сервер с интерсепторами логирования и восстановления после паники
func NewServer(log logger.Logger, opts ...grpc.ServerOption) *Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(log),
		LoggingInterceptor(log),
	))

	server := grpc.NewServer(opts...)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	return &Server{server: server, health: healthServer, logger: log}
}

// Server возвращает нижележащий grpc.Server для регистрации сервисов
func (s *Server) Server() *grpc.Server {
	return s.server
}

// SetServing обновляет статус сервиса в grpc.health.v1
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// WatchHealth периодически переносит результат HealthChecker в статус gRPC
// до отмены контекста
func (s *Server) WatchHealth(ctx context.Context, checker health.HealthChecker, interval time.Duration) {
	update := func() {
		s.SetServing("", checker.Check(ctx).Healthy())
	}
	update()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// Serve начинает обслуживание на listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server started", logger.String("addr", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop переводит сервис здоровья в NOT_SERVING и корректно останавливает сервер
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

// LoggingInterceptor логирует вызовы и конвертирует доменные ошибки в gRPC статус
func LoggingInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []logger.Field{
			logger.CtxField(ctx),
			logger.String("method", info.FullMethod),
			logger.Duration("duration", time.Since(start)),
		}
		if err != nil {
			if domainErr, ok := pkgErrors.FromError(err); ok {
				err = domainErr.ToGRPCErr()
			}
			log.Warn("gRPC call failed", append(fields, logger.Error(err))...)
			return resp, err
		}

		log.Debug("gRPC call completed", fields...)
		return resp, nil
	}
}

// RecoveryInterceptor перехватывает панику и возвращает codes.Internal
func RecoveryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Panic recovered in gRPC handler",
					logger.CtxField(ctx),
					logger.String("method", info.FullMethod),
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
