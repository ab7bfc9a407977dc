package data

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Health 数据库健康状态
type Health struct {
	Status          string  `json:"status"` // healthy/unhealthy
	Dialect         string  `json:"dialect"`
	LatencyMs       float64 `json:"latency_ms"`
	OpenConnections int     `json:"open_connections"`
	InUse           int     `json:"in_use"`
	Idle            int     `json:"idle"`
	MaxOpen         int     `json:"max_open"`
	WaitCount       int64   `json:"wait_count"`
	Error           string  `json:"error,omitempty"`
}

// Healthy 是否可用
func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// Ping 检查数据库连接
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CheckHealth ping 数据库并返回连接池状态
func CheckHealth(ctx context.Context, db *gorm.DB) Health {
	h := Health{Status: "unhealthy", Dialect: db.Dialector.Name()}
	sqlDB, err := db.DB()
	if err != nil {
		h.Error = err.Error()
		return h
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	h.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	st := sqlDB.Stats()
	h.OpenConnections = st.OpenConnections
	h.InUse = st.InUse
	h.Idle = st.Idle
	h.MaxOpen = st.MaxOpenConnections
	h.WaitCount = st.WaitCount

	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Status = "healthy"
	return h
}
