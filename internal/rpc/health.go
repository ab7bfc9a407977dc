package rpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthProbe 检测服务 gRPC 健康检查
type HealthProbe struct {
	addr    string
	service string
	conn    *grpc.ClientConn
	cli     healthpb.HealthClient
}

// NewHealthProbe service 为空表示检查整个服务
func NewHealthProbe(addr, service string) (*HealthProbe, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &HealthProbe{
		addr:    addr,
		service: service,
		conn:    conn,
		cli:     healthpb.NewHealthClient(conn),
	}, nil
}

// Check 返回服务是否处于 SERVING
func (h *HealthProbe) Check(ctx context.Context) (bool, error) {
	resp, err := h.cli.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// LogStatus 启动时检查一次并记录结果，不影响启动
func (h *HealthProbe) LogStatus(ctx context.Context) {
	ok, err := h.Check(ctx)
	if err != nil {
		slog.Error("analysis health check", "addr", h.addr, "err", err)
		return
	}
	if ok {
		slog.Info("analysis health check OK", "addr", h.addr)
	} else {
		slog.Warn("analysis service not serving", "addr", h.addr)
	}
}

func (h *HealthProbe) Close() error {
	return h.conn.Close()
}
