package api

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/icapture/internal/adapter/camera"
	"github.com/gowvp/icapture/internal/conf"
	"github.com/gowvp/icapture/internal/core/evidence"
	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/gowvp/icapture/internal/core/violation/store/violationdb"
	"github.com/gowvp/icapture/internal/rpc"
	"github.com/gowvp/icapture/pkg/retry"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewViolationStore, NewViolationCore, NewViolationAPI,
	NewEngine, NewSynchronizer, NewCamera, NewEvidence,
	NewAnalysisClient, NewHealthProbe,
	NewRegistry, NewPipeline, NewStatusAPI,
)

type Usecase struct {
	Conf         *conf.Bootstrap
	DB           *gorm.DB
	ViolationAPI ViolationAPI
	StatusAPI    StatusAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	setupRouter(g, uc)
	return g
}

// evidenceDir 相对路径基于工作目录
func evidenceDir(cfg *conf.Bootstrap) string {
	dir := cfg.Storage.EvidenceDir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// NewViolationStore 创建违章存储层
func NewViolationStore(db *gorm.DB) violation.Storer {
	return violationdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewViolationCore 创建违章核心服务并启动过期清理协程
func NewViolationCore(store violation.Storer, cfg *conf.Bootstrap, policy retry.Policy) (violation.Core, func()) {
	core := violation.NewCore(store,
		violation.WithRetry(policy),
		violation.WithEvidenceDir(evidenceDir(cfg)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	go core.StartCleanupWorker(ctx, cfg.Violation.RetainDays)
	return core, cancel
}

// NewEngine 违章判定引擎，持久化层作为第二级去重
func NewEngine(cfg *conf.Bootstrap, core violation.Core) *violation.Engine {
	rules := make([]violation.Rule, 0, len(cfg.Violation.Rules))
	for _, r := range cfg.Violation.Rules {
		rules = append(rules, violation.Rule{Category: r.Category, MinConfidence: r.MinConfidence})
	}
	return violation.NewEngine(violation.EngineConfig{
		Rules:              rules,
		RequiredFrames:     cfg.Violation.RequiredFrames,
		VerificationWindow: cfg.Violation.VerificationWindow.Duration(),
		DuplicateWindow:    cfg.Violation.DuplicateWindow.Duration(),
	}, violation.WithDuplicateChecker(core))
}

func NewSynchronizer(cfg *conf.Bootstrap) *framesync.Synchronizer {
	return framesync.NewSynchronizer(framesync.Config{
		PrimaryID:   cfg.Cameras.Primary.ID,
		SecondaryID: cfg.Cameras.Secondary.ID,
		Tolerance:   cfg.Sync.Tolerance.Duration(),
		BufferSize:  cfg.Sync.BufferSize,
		MaxAge:      cfg.Sync.MaxAge.Duration(),
	})
}

// NewCamera 创建摄像头采集并启动
func NewCamera(cfg *conf.Bootstrap) (*camera.Adapter, func(), error) {
	cam, err := camera.NewFromConfig(cfg.Cameras)
	if err != nil {
		return nil, nil, err
	}
	if err := cam.Start(); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	go cam.StartMonitor(ctx, 30*time.Second)
	return cam, func() {
		cancel()
		if err := cam.Stop(); err != nil {
			slog.Error("stop camera", "err", err)
		}
	}, nil
}

func NewEvidence(cfg *conf.Bootstrap) *evidence.Capturer {
	return evidence.NewCapturer(evidenceDir(cfg), cfg.Storage.JPEGQuality)
}

func NewAnalysisClient(cfg *conf.Bootstrap, ev *evidence.Capturer) *rpc.AnalysisClient {
	return rpc.NewAnalysisClient(cfg.Analysis.URL, cfg.Analysis.Timeout.Duration(), ev)
}

// NewHealthProbe 未配置 gRPC 地址时返回 nil
func NewHealthProbe(cfg *conf.Bootstrap) (*rpc.HealthProbe, func(), error) {
	if cfg.Analysis.GRPCAddr == "" {
		return nil, func() {}, nil
	}
	probe, err := rpc.NewHealthProbe(cfg.Analysis.GRPCAddr, "")
	if err != nil {
		return nil, nil, err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		probe.LogStatus(ctx)
	}()
	return probe, func() { _ = probe.Close() }, nil
}

// NewRegistry 指标注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipeline.MustRegister(reg)
	return reg
}

func pipelineConfig(cfg *conf.Bootstrap) pipeline.Config {
	pc := cfg.Pipeline
	return pipeline.Config{
		PrimaryID:            cfg.Cameras.Primary.ID,
		SecondaryID:          cfg.Cameras.Secondary.ID,
		CameraLocation:       cfg.Cameras.Primary.Location,
		CaptureFPS:           pc.CaptureFPS,
		InferenceQueueSize:   pc.InferenceQueueSize,
		PersistenceQueueSize: pc.PersistenceQueueSize,
		QueueTimeout:         pc.QueueTimeout.Duration(),
		MaxViolationsPerMin:  pc.MaxViolationsPerMin,
		StatsEvery:           pc.StatsEvery,
		SweepInterval:        pc.SweepInterval.Duration(),
	}
}

// NewPipeline 组装三级流水线，AutoStart 时立即启动
func NewPipeline(cfg *conf.Bootstrap, cam *camera.Adapter, syncer *framesync.Synchronizer, engine *violation.Engine, core violation.Core, analysis *rpc.AnalysisClient, ev *evidence.Capturer) (*pipeline.Pipeline, func(), error) {
	pc := cfg.Pipeline
	p := pipeline.New(pipelineConfig(cfg), cam, syncer, analysis, engine, core,
		pipeline.WithRecognizer(analysis),
		pipeline.WithEvidence(ev),
	)
	if pc.AutoStart {
		if err := p.Start(); err != nil {
			return nil, nil, err
		}
	}
	return p, func() {
		if err := p.Stop(pc.StopTimeout.Duration()); err != nil {
			slog.Error("stop pipeline", "err", err)
		}
		analysis.Close()
	}, nil
}
