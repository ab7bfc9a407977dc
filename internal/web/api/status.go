package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/gowvp/icapture/internal/adapter/camera"
	"github.com/gowvp/icapture/internal/conf"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/internal/data"
	"github.com/gowvp/icapture/internal/rpc"
	"github.com/gowvp/icapture/pkg/ffwork"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"
)

const (
	wsPushInterval = time.Second
	wsWriteWait    = 5 * time.Second
	wsPongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusAPI 健康检查、运行状态、指标与流水线控制
type StatusAPI struct {
	db          *gorm.DB
	pipeline    *pipeline.Pipeline
	camera      *camera.Adapter
	probe       *rpc.HealthProbe
	registry    *prometheus.Registry
	version     string
	stopTimeout time.Duration
}

func NewStatusAPI(cfg *conf.Bootstrap, db *gorm.DB, p *pipeline.Pipeline, cam *camera.Adapter, probe *rpc.HealthProbe, reg *prometheus.Registry) StatusAPI {
	return StatusAPI{
		db:          db,
		pipeline:    p,
		camera:      cam,
		probe:       probe,
		registry:    reg,
		version:     cfg.BuildVersion,
		stopTimeout: cfg.Pipeline.StopTimeout.Duration(),
	}
}

func registerStatus(g gin.IRouter, api StatusAPI) {
	g.GET("/health", api.getHealth)
	g.GET("/status", web.WrapH(api.getStatus))
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(api.registry, promhttp.HandlerOpts{})))
	g.GET("/ws/status", api.wsStatus)

	control := g.Group("/control")
	control.POST("/start", web.WrapH(api.start))
	control.POST("/stop", web.WrapH(api.stop))
}

type getHealthOutput struct {
	Status    string      `json:"status"`
	Version   string      `json:"version"`
	StartAt   time.Time   `json:"start_at"`
	Database  data.Health `json:"database"`
	Pipeline  bool        `json:"pipeline_running"`
	Analysis  string      `json:"analysis,omitempty"` // serving/not_serving/unreachable
	Timestamp time.Time   `json:"timestamp"`
}

// getHealth 数据库不可用时返回 503
func (a StatusAPI) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	out := getHealthOutput{
		Status:    "healthy",
		Version:   a.version,
		StartAt:   startRuntime,
		Database:  data.CheckHealth(ctx, a.db),
		Timestamp: time.Now(),
	}
	if a.pipeline != nil {
		out.Pipeline = a.pipeline.Running()
	}
	if a.probe != nil {
		switch ok, err := a.probe.Check(ctx); {
		case err != nil:
			out.Analysis = "unreachable"
		case ok:
			out.Analysis = "serving"
		default:
			out.Analysis = "not_serving"
		}
	}

	code := http.StatusOK
	if !out.Database.Healthy() {
		out.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, out)
}

type hostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	Goroutines    int     `json:"goroutines"`
}

type getStatusOutput struct {
	Pipeline pipeline.Status `json:"pipeline"`
	Cameras  []ffwork.Stats  `json:"cameras"`
	Host     hostStats       `json:"host"`
	Uptime   string          `json:"uptime"`
}

func (a StatusAPI) getStatus(c *gin.Context, _ *struct{}) (*getStatusOutput, error) {
	out := getStatusOutput{
		Host:   readHostStats(c.Request.Context()),
		Uptime: time.Since(startRuntime).Truncate(time.Second).String(),
	}
	if a.pipeline != nil {
		out.Pipeline = a.pipeline.Status()
	}
	if a.camera != nil {
		out.Cameras = a.camera.Stats()
	}
	return &out, nil
}

// readHostStats 采集失败的项保持零值
func readHostStats(ctx context.Context) hostStats {
	st := hostStats{Goroutines: runtime.NumGoroutine()}
	if v, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(v) > 0 {
		st.CPUPercent = v[0]
	}
	if m, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemPercent = m.UsedPercent
		st.MemUsedBytes = m.Used
		st.MemTotalBytes = m.Total
	}
	return st
}

// wsStatus 每秒推送一次流水线状态，客户端断开后退出
func (a StatusAPI) wsStatus(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(a.pipeline.Status()); err != nil {
			return
		}
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

type controlOutput struct {
	Running bool `json:"running"`
}

func (a StatusAPI) start(_ *gin.Context, _ *struct{}) (controlOutput, error) {
	if err := a.pipeline.Start(); err != nil {
		if errors.Is(err, pipeline.ErrRunning) {
			return controlOutput{Running: true}, reason.ErrBadRequest.SetMsg(err.Error())
		}
		return controlOutput{}, reason.ErrServer.SetMsg(err.Error())
	}
	return controlOutput{Running: true}, nil
}

func (a StatusAPI) stop(_ *gin.Context, _ *struct{}) (controlOutput, error) {
	if err := a.pipeline.Stop(a.stopTimeout); err != nil {
		return controlOutput{}, reason.ErrServer.SetMsg(err.Error())
	}
	return controlOutput{Running: false}, nil
}
