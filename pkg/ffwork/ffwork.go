// Package ffwork 通过 ffmpeg 子进程拉取 RTSP 原始帧 (yuv420p)
// 只保留最新一帧，消费方按需取走
package ffwork

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

const (
	DefaultLowLight     = 50.0
	DefaultWarnEvery    = 5 * time.Second
	DefaultRestartDelay = 3 * time.Second
)

type (
	Config struct {
		Name          string
		RTSPURL       string
		Width, Height int
		FPS           int
		Transport     string
		UseWallClock  bool
		HWAccel       string
		LowLight      float64       // 亮度低于该值时告警，0 使用默认值
		WarnEvery     time.Duration // 低照度告警间隔
		RestartDelay  time.Duration // ffmpeg 退出后重启间隔
	}
	// Frame 一帧 I420 数据
	Frame struct {
		Seq        uint64
		Timestamp  time.Time
		Data       []byte
		Brightness float64
	}
	Capture struct {
		cfg       Config
		frameSize int
		log       *slog.Logger

		latest atomic.Pointer[Frame]

		m       sync.Mutex
		started bool
		cancel  context.CancelFunc
		wg      sync.WaitGroup

		ffmpegLog  *queue.CirQueue[string]
		frameCount atomic.Uint64
		skipCount  atomic.Uint64
		restarts   atomic.Uint64
		lastFrame  atomic.Int64
		lastWarn   atomic.Int64
	}
	Stats struct {
		Name       string    `json:"name"`
		FrameCount uint64    `json:"frame_count"`
		SkipCount  uint64    `json:"skip_count"` // 未被取走即被覆盖的帧
		Restarts   uint64    `json:"restarts"`
		LastFrame  time.Time `json:"last_frame"`
		FrameSize  int       `json:"frame_size"`
		IsRunning  bool      `json:"is_running"`
	}
)

func NewCapture(cfg Config) (*Capture, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps: %d", cfg.FPS)
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.LowLight <= 0 {
		cfg.LowLight = DefaultLowLight
	}
	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = DefaultWarnEvery
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Capture{
		cfg:       cfg,
		frameSize: FrameSize(cfg.Width, cfg.Height),
		log:       slog.With("camera", cfg.Name),
		ffmpegLog: queue.NewCirQueue[string](100),
	}, nil
}

// FrameSize I420 每帧字节数
func FrameSize(width, height int) int {
	return width * height * 3 / 2
}

func (c *Capture) Name() string   { return c.cfg.Name }
func (c *Capture) Config() Config { return c.cfg }

func (c *Capture) buildFFmpegArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-threads", "2",
	}
	args = append(args, "-user_agent", "FFmpeg iCapture")
	args = append(args, "-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts+discardcorrupt",
		"-rtsp_transport", c.cfg.Transport,
		"-timeout", "10000000",
	)
	if c.cfg.UseWallClock {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	if c.cfg.HWAccel != "" {
		args = append(args, "-hwaccel", c.cfg.HWAccel)
	}
	args = append(args, "-i", c.cfg.RTSPURL)

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(c.cfg.FPS),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", c.cfg.FPS, c.cfg.Width, c.cfg.Height),
		"pipe:1",
	)
	return args
}

// Start 启动采集，ffmpeg 退出后按 RestartDelay 自动重启直到 Stop
func (c *Capture) Start() error {
	if c.cfg.RTSPURL == "" {
		return fmt.Errorf("rtsp url is required")
	}
	c.m.Lock()
	defer c.m.Unlock()
	if c.started {
		return fmt.Errorf("frame capture already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true
	c.wg.Go(func() { c.run(ctx) })
	return nil
}

func (c *Capture) run(ctx context.Context) {
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		c.restarts.Add(1)
		c.log.Warn("ffmpeg exited, restarting", "err", err, "delay", c.cfg.RestartDelay, "stderr", c.ffmpegLog.Range())
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.RestartDelay):
		}
	}
}

func (c *Capture) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", c.buildFFmpegArgs()...)
	cmd.WaitDelay = 5 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	c.log.Info("ffmpeg started", "url", c.cfg.RTSPURL, "size", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height), "fps", c.cfg.FPS)

	var wg sync.WaitGroup
	wg.Go(func() { c.readStderr(stderr) })
	readErr := c.ReadFrames(ctx, stdout)
	waitErr := cmd.Wait()
	wg.Wait()
	return errors.Join(readErr, waitErr)
}

// ReadFrames 按固定帧长读取原始帧写入最新帧槽，流结束或 ctx 结束时返回
func (c *Capture) ReadFrames(ctx context.Context, r io.Reader) error {
	reader := bufio.NewReaderSize(r, c.frameSize*2)
	for ctx.Err() == nil {
		data := make([]byte, c.frameSize)
		if _, err := io.ReadFull(reader, data); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("ffmpeg stream ended: %w", err)
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}
		c.publish(data, time.Now())
	}
	return ctx.Err()
}

func (c *Capture) publish(data []byte, now time.Time) {
	f := Frame{
		Seq:        c.frameCount.Add(1),
		Timestamp:  now,
		Data:       data,
		Brightness: Brightness(data, c.cfg.Width, c.cfg.Height),
	}
	c.lastFrame.Store(now.UnixNano())
	if old := c.latest.Swap(&f); old != nil {
		c.skipCount.Add(1)
	}
	c.checkLowLight(f.Brightness, now)
}

// checkLowLight 低照度告警，按 WarnEvery 节流
func (c *Capture) checkLowLight(brightness float64, now time.Time) {
	if brightness >= c.cfg.LowLight {
		return
	}
	last := c.lastWarn.Load()
	if now.UnixNano()-last < int64(c.cfg.WarnEvery) {
		return
	}
	if c.lastWarn.CompareAndSwap(last, now.UnixNano()) {
		c.log.Warn("low light detected", "brightness", brightness, "threshold", c.cfg.LowLight)
	}
}

// TakeLatest 取走最新帧，自上次取走后无新帧时返回 false
func (c *Capture) TakeLatest() (*Frame, bool) {
	f := c.latest.Swap(nil)
	return f, f != nil
}

// readStderr 读取 ffmpeg 的 stderr 输出用于日志记录
func (c *Capture) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		c.ffmpegLog.Push(scan.Text())
	}
}

func (c *Capture) Log() []string {
	return c.ffmpegLog.Range()
}

func (c *Capture) Stop() error {
	c.m.Lock()
	if !c.started {
		c.m.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.m.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.latest.Store(nil)
	return nil
}

func (c *Capture) GetStats() Stats {
	c.m.Lock()
	running := c.started
	c.m.Unlock()
	var last time.Time
	if ns := c.lastFrame.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Name:       c.cfg.Name,
		FrameCount: c.frameCount.Load(),
		SkipCount:  c.skipCount.Load(),
		Restarts:   c.restarts.Load(),
		LastFrame:  last,
		FrameSize:  c.frameSize,
		IsRunning:  running,
	}
}
