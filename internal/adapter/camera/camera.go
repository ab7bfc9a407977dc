// Package camera 将 ffmpeg 采集源适配为流水线的帧来源
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/icapture/internal/conf"
	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/pkg/ffwork"
	"github.com/ixugo/goddd/pkg/conc"
)

var _ pipeline.Camera = (*Adapter)(nil)

// Source 单路帧来源
type Source interface {
	Start() error
	Stop() error
	TakeLatest() (*ffwork.Frame, bool)
	GetStats() ffwork.Stats
}

// Adapter 按摄像头 ID 管理多路采集
type Adapter struct {
	sources conc.Map[string, *source]
	ids     []string
}

type source struct {
	Source
	width, height int
}

func NewAdapter() *Adapter {
	return &Adapter{}
}

// NewFromConfig 根据配置创建主/副两路 ffmpeg 采集，未配置地址的一路跳过
func NewFromConfig(cams conf.Cameras) (*Adapter, error) {
	a := NewAdapter()
	for _, c := range []conf.Camera{cams.Primary, cams.Secondary} {
		if c.ID == "" || c.RTSPURL == "" {
			continue
		}
		capture, err := ffwork.NewCapture(ffwork.Config{
			Name:         c.ID,
			RTSPURL:      c.RTSPURL,
			Width:        c.Width,
			Height:       c.Height,
			FPS:          c.FPS,
			Transport:    c.Transport,
			UseWallClock: true,
		})
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", c.ID, err)
		}
		a.Add(c.ID, capture, c.Width, c.Height)
	}
	return a, nil
}

// Add 注册帧来源，重复 ID 覆盖
func (a *Adapter) Add(id string, s Source, width, height int) {
	if _, ok := a.sources.Load(id); !ok {
		a.ids = append(a.ids, id)
	}
	a.sources.Store(id, &source{Source: s, width: width, height: height})
}

// PullFrame implements pipeline.Camera.
func (a *Adapter) PullFrame(sourceID string) (framesync.RawFrame, bool) {
	s, ok := a.sources.Load(sourceID)
	if !ok {
		return framesync.RawFrame{}, false
	}
	f, ok := s.TakeLatest()
	if !ok {
		return framesync.RawFrame{}, false
	}
	return framesync.RawFrame{
		Data:       f.Data,
		Width:      s.width,
		Height:     s.height,
		Timestamp:  f.Timestamp,
		Brightness: f.Brightness,
	}, true
}

// Start 启动全部来源，任一失败时停止已启动的来源
func (a *Adapter) Start() error {
	started := make([]Source, 0, len(a.ids))
	for _, id := range a.ids {
		s, _ := a.sources.Load(id)
		if err := s.Start(); err != nil {
			for _, v := range started {
				_ = v.Stop()
			}
			return fmt.Errorf("start camera %s: %w", id, err)
		}
		started = append(started, s)
		slog.Info("camera started", "id", id)
	}
	return nil
}

func (a *Adapter) Stop() error {
	var errs []error
	for _, id := range a.ids {
		s, _ := a.sources.Load(id)
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop camera %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stats 各路采集统计
func (a *Adapter) Stats() []ffwork.Stats {
	out := make([]ffwork.Stats, 0, len(a.ids))
	for _, id := range a.ids {
		s, _ := a.sources.Load(id)
		out = append(out, s.GetStats())
	}
	return out
}

// StartMonitor 定期检查各路是否仍在出帧，阻塞直到 ctx 结束
func (a *Adapter) StartMonitor(ctx context.Context, interval time.Duration) {
	conc.Timer(ctx, interval, interval, func() {
		a.checkStale(time.Now(), interval)
	})
}

// checkStale 返回超过 stale 未出帧的摄像头
func (a *Adapter) checkStale(now time.Time, stale time.Duration) []string {
	var out []string
	for _, st := range a.Stats() {
		if !st.IsRunning || st.LastFrame.IsZero() {
			continue
		}
		if now.Sub(st.LastFrame) > stale {
			out = append(out, st.Name)
			slog.Warn("camera stalled", "id", st.Name, "last_frame", st.LastFrame, "restarts", st.Restarts)
		}
	}
	return out
}
