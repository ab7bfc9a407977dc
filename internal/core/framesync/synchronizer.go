// Package framesync 双摄像头帧缓冲与时间同步
// 主摄像头 (广角) 最新帧与副摄像头 (车牌) 时间最接近的帧配对
package framesync

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	DefaultTolerance    = 100 * time.Millisecond
	DefaultBufferSize   = 30
	DefaultMaxAge       = 2 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
)

// Config 同步参数
type Config struct {
	PrimaryID    string
	SecondaryID  string
	Tolerance    time.Duration
	BufferSize   int
	MaxAge       time.Duration
	PollInterval time.Duration
}

func (c *Config) defaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = DefaultTolerance
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Synchronizer 每路一个环形缓冲，单锁保护，锁只在修改缓冲时持有
type Synchronizer struct {
	cfg Config
	now func() time.Time
	log *slog.Logger

	mu        sync.Mutex
	primary   *frameRing
	secondary *frameRing
	seq       map[string]uint64
	stats     Stats
}

type Option func(*Synchronizer)

// WithClock 替换帧龄计算使用的时钟
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithLogger 替换日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.log = l
	}
}

// NewSynchronizer 创建同步器
func NewSynchronizer(cfg Config, opts ...Option) *Synchronizer {
	cfg.defaults()
	s := Synchronizer{
		cfg:       cfg,
		now:       time.Now,
		log:       slog.With("module", "framesync"),
		primary:   newFrameRing(cfg.BufferSize),
		secondary: newFrameRing(cfg.BufferSize),
		seq:       make(map[string]uint64, 2),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.log.Info("frame synchronizer initialized",
		"primary", cfg.PrimaryID,
		"secondary", cfg.SecondaryID,
		"tolerance", cfg.Tolerance,
		"buffer", cfg.BufferSize,
	)
	return &s
}

// Config 返回生效的配置
func (s *Synchronizer) Config() Config {
	return s.cfg
}

func (s *Synchronizer) ring(sourceID string) *frameRing {
	switch sourceID {
	case s.cfg.PrimaryID:
		return s.primary
	case s.cfg.SecondaryID:
		return s.secondary
	}
	return nil
}

// AddFrame 写入缓冲，帧未携带采集时间时使用当前时钟
func (s *Synchronizer) AddFrame(raw RawFrame, sourceID string) bool {
	return s.Add(TimestampedFrame{
		Data:       raw.Data,
		Width:      raw.Width,
		Height:     raw.Height,
		Timestamp:  raw.Timestamp,
		SourceID:   sourceID,
		Brightness: raw.Brightness,
	})
}

// Add 写入一帧，不阻塞
// 缓冲满时丢弃最旧帧，未知来源返回 false
func (s *Synchronizer) Add(f TimestampedFrame) bool {
	if len(f.Data) == 0 {
		return false
	}
	now := s.now()
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.ring(f.SourceID)
	if r == nil {
		s.stats.Rejected++
		s.log.Warn("unknown source", "source_id", f.SourceID)
		return false
	}
	s.seq[f.SourceID]++
	f.Seq = s.seq[f.SourceID]
	if r.push(f) {
		s.stats.DroppedOverflow++
	}
	s.purgeLocked(now)
	return true
}

// purgeLocked 清理超过 MaxAge 的帧
func (s *Synchronizer) purgeLocked(now time.Time) {
	for _, r := range []*frameRing{s.primary, s.secondary} {
		for f := r.front(); f != nil && f.Age(now) > s.cfg.MaxAge; f = r.front() {
			r.popFront()
			s.stats.DroppedStale++
		}
	}
}

// GetSynchronizedPair 获取一组同步帧
// 至少尝试一次，不会阻塞超过 timeout；超时返回 false
func (s *Synchronizer) GetSynchronizedPair(timeout time.Duration) (*FramePair, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if pair := s.tryPair(); pair != nil {
			return pair, true
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		time.Sleep(min(remain, s.cfg.PollInterval))
	}

	s.mu.Lock()
	s.stats.Misses++
	s.mu.Unlock()
	return nil, false
}

func (s *Synchronizer) tryPair() *FramePair {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)

	primary := s.primary.back()
	if primary == nil {
		return nil
	}

	if i := s.closestLocked(primary.Timestamp); i >= 0 {
		p, sec := *primary, *s.secondary.at(i)
		s.primary.popBack()
		s.secondary.removeAt(i)
		s.stats.Paired++
		s.log.Debug("synchronized pair created", "diff", absDuration(p.Timestamp.Sub(sec.Timestamp)))
		return newPair(&p, &sec)
	}

	if s.secondary.Len() == 0 || primary.Age(now) > s.cfg.Tolerance {
		p := *primary
		s.primary.popBack()
		s.stats.Degraded++
		s.log.Debug("degraded pair, secondary unavailable", "secondary_buffered", s.secondary.Len())
		return newPair(&p, nil)
	}
	return nil
}

// closestLocked 容忍度内时间差最小的副帧下标，相同差值取最旧
func (s *Synchronizer) closestLocked(target time.Time) int {
	best := -1
	bestDiff := time.Duration(math.MaxInt64)
	for i := range s.secondary.Len() {
		diff := absDuration(s.secondary.at(i).Timestamp.Sub(target))
		if diff <= s.cfg.Tolerance && diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}

// Stats 统计快照
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.PrimaryBuffered = s.primary.Len()
	out.SecondaryBuffered = s.secondary.Len()
	total := out.Paired + out.Degraded + out.Misses
	out.SyncRate = float64(out.Paired) / float64(max(1, total))
	return out
}

// ResetStats 清零计数，不影响缓冲
func (s *Synchronizer) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = Stats{}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
