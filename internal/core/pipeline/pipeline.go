// Package pipeline 采集 -> 推理 -> 持久化三级流水线
// 阶段之间通过有界队列解耦，慢速推理不会阻塞采集
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
	"golang.org/x/time/rate"
)

const (
	DefaultCaptureFPS           = 30
	DefaultInferenceQueueSize   = 5
	DefaultPersistenceQueueSize = 20
	DefaultQueueTimeout         = 500 * time.Millisecond
	DefaultStatsEvery           = 100
	DefaultSweepInterval        = time.Minute
)

var (
	ErrRunning     = errors.New("pipeline already running")
	ErrStopTimeout = errors.New("pipeline stop timeout")
)

// Config 流水线参数
type Config struct {
	PrimaryID            string
	SecondaryID          string
	CameraLocation       string
	CaptureFPS           int
	InferenceQueueSize   int
	PersistenceQueueSize int
	QueueTimeout         time.Duration // 队列等待上限，也是停止信号的最大感知延迟
	MaxViolationsPerMin  int           // 0 不限制
	StatsEvery           int
	SweepInterval        time.Duration
}

func (c *Config) defaults() {
	if c.CaptureFPS <= 0 {
		c.CaptureFPS = DefaultCaptureFPS
	}
	if c.InferenceQueueSize <= 0 {
		c.InferenceQueueSize = DefaultInferenceQueueSize
	}
	if c.PersistenceQueueSize <= 0 {
		c.PersistenceQueueSize = DefaultPersistenceQueueSize
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = DefaultQueueTimeout
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = DefaultStatsEvery
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// AIResult 推理阶段输出
type AIResult struct {
	Detection      *violation.Detection
	Pair           *framesync.FramePair
	ProcessingTime time.Duration
}

// Pipeline 三个常驻协程共享 active 标记，Stop 后队列中的数据直接丢弃
type Pipeline struct {
	cfg        Config
	camera     Camera
	sync       *framesync.Synchronizer
	detector   Detector
	recognizer Recognizer
	evidence   EvidenceCapturer
	recorder   Recorder
	engine     *violation.Engine
	limiter    *rate.Limiter
	log        *slog.Logger

	inferenceQ *Queue[*framesync.FramePair]
	persistQ   *Queue[*AIResult]

	active    atomic.Bool
	mu        sync.Mutex // 串行化 Start/Stop
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt atomic.Pointer[time.Time]

	capture, inference, persistence *stageStats

	persisted, persistFailed, throttled, evidenceFailed atomic.Uint64
	results                                             atomic.Uint64
	lastSweep                                           atomic.Int64
}

type Option func(*Pipeline)

// WithRecognizer 车牌识别，不设置时不做车牌补充
func WithRecognizer(r Recognizer) Option {
	return func(p *Pipeline) {
		p.recognizer = r
	}
}

// WithEvidence 证据图保存
func WithEvidence(e EvidenceCapturer) Option {
	return func(p *Pipeline) {
		p.evidence = e
	}
}

// WithLogger 替换日志
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// New 创建流水线，Start 后开始运行
func New(cfg Config, camera Camera, syncer *framesync.Synchronizer, detector Detector, engine *violation.Engine, recorder Recorder, opts ...Option) *Pipeline {
	cfg.defaults()
	p := Pipeline{
		cfg:         cfg,
		camera:      camera,
		sync:        syncer,
		detector:    detector,
		engine:      engine,
		recorder:    recorder,
		log:         slog.With("module", "pipeline"),
		inferenceQ:  NewQueue[*framesync.FramePair](cfg.InferenceQueueSize),
		persistQ:    NewQueue[*AIResult](cfg.PersistenceQueueSize),
		capture:     newStageStats(StageCapture),
		inference:   newStageStats(StageInference),
		persistence: newStageStats(StagePersistence),
	}
	if cfg.MaxViolationsPerMin > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.MaxViolationsPerMin)/60), cfg.MaxViolationsPerMin)
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &p
}

// Start 启动三个阶段
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active.Load() {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	now := time.Now()
	p.startedAt.Store(&now)
	p.lastSweep.Store(now.UnixNano())
	p.active.Store(true)
	pipelineRunning.Set(1)

	p.wg.Go(func() { p.captureLoop(ctx) })
	p.wg.Go(func() { p.inferenceLoop(ctx) })
	p.wg.Go(func() { p.persistenceLoop(ctx) })

	p.log.Info("pipeline started",
		"capture_fps", p.cfg.CaptureFPS,
		"inference_queue", p.cfg.InferenceQueueSize,
		"persistence_queue", p.cfg.PersistenceQueueSize,
	)
	return nil
}

// Stop 停止并在 timeout 内等待各阶段退出，队列中未处理的数据被丢弃
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active.Load() {
		return nil
	}
	p.active.Store(false)
	p.startedAt.Store(nil)
	pipelineRunning.Set(0)
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrStopTimeout
		p.log.Warn("pipeline stop timeout, stages still running", "timeout", timeout)
	}

	abandoned := p.inferenceQ.Clear() + p.persistQ.Clear()
	p.log.Info("pipeline stopped", "abandoned", abandoned)
	return err
}

// Running 是否运行中
func (p *Pipeline) Running() bool {
	return p.active.Load()
}

func (p *Pipeline) running(ctx context.Context) bool {
	return p.active.Load() && ctx.Err() == nil
}

// iterate 执行一次阶段循环，错误和 panic 只记录不退出
func (p *Pipeline) iterate(s *stageStats, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Sprintf("panic: %v", r))
			p.log.Error("stage panic", "stage", s.name, "err", r, "stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		s.fail(err.Error())
		p.log.Error("stage iteration failed", "stage", s.name, "err", err)
		return
	}
	s.done()
}

// Status 状态快照
func (p *Pipeline) Status() Status {
	st := Status{
		Running:          p.active.Load(),
		StartedAt:        p.startedAt.Load(),
		InferenceQueue:   p.inferenceQ.Stats(),
		PersistenceQueue: p.persistQ.Stats(),
		Sync:             p.sync.Stats(),
		Engine:           p.engine.Stats(),
		Stages: map[string]StageStats{
			StageCapture:     p.capture.snapshot(),
			StageInference:   p.inference.snapshot(),
			StagePersistence: p.persistence.snapshot(),
		},
		Throughput: ThroughputStats{
			Persisted:      p.persisted.Load(),
			PersistFailed:  p.persistFailed.Load(),
			Throttled:      p.throttled.Load(),
			EvidenceFailed: p.evidenceFailed.Load(),
		},
	}
	return st
}

func (p *Pipeline) logStats() {
	st := p.Status()
	p.log.Info("pipeline stats",
		"inference_queue", st.InferenceQueue.Len,
		"inference_dropped", st.InferenceQueue.Dropped,
		"persistence_queue", st.PersistenceQueue.Len,
		"persistence_dropped", st.PersistenceQueue.Dropped,
		"paired", st.Sync.Paired,
		"degraded", st.Sync.Degraded,
		"sync_rate", st.Sync.SyncRate,
		"total_detections", st.Engine.TotalDetections,
		"violations_logged", st.Engine.ViolationsLogged,
		"duplicates_prevented", st.Engine.DuplicatesPrevented,
		"verification_pending", st.Engine.VerificationPending,
	)
}
