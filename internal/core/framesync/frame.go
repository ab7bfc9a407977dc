package framesync

import (
	"bytes"
	"time"
)

// RawFrame 摄像头拉取的一帧 (I420)
type RawFrame struct {
	Data       []byte
	Width      int
	Height     int
	Timestamp  time.Time // 采集时间，零值时由同步器打时间戳
	Brightness float64   // Y 平面均值 0~255
}

// TimestampedFrame 带采集时间的帧，写入缓冲后只读
type TimestampedFrame struct {
	Data       []byte
	Width      int
	Height     int
	Timestamp  time.Time
	SourceID   string
	Brightness float64
	Seq        uint64 // 同一来源内递增
}

// Age 相对 now 的帧龄
func (f *TimestampedFrame) Age(now time.Time) time.Duration {
	return now.Sub(f.Timestamp)
}

func (f *TimestampedFrame) clone() *TimestampedFrame {
	out := *f
	out.Data = bytes.Clone(f.Data)
	return &out
}

// FramePair 同步输出，Secondary 为空时表示降级
type FramePair struct {
	Primary             *TimestampedFrame
	Secondary           *TimestampedFrame
	Timestamp           time.Time // 取主帧时间
	Synchronized        bool
	PrimaryBrightness   float64
	SecondaryBrightness float64
}

// HasSecondary 是否携带车牌摄像头帧
func (p *FramePair) HasSecondary() bool {
	return p.Secondary != nil
}

// Skew 两帧时间差，降级时为 0
func (p *FramePair) Skew() time.Duration {
	if p.Secondary == nil {
		return 0
	}
	d := p.Primary.Timestamp.Sub(p.Secondary.Timestamp)
	if d < 0 {
		return -d
	}
	return d
}

func newPair(primary, secondary *TimestampedFrame) *FramePair {
	p := FramePair{
		Primary:           primary.clone(),
		Timestamp:         primary.Timestamp,
		PrimaryBrightness: primary.Brightness,
	}
	if secondary != nil {
		p.Secondary = secondary.clone()
		p.Synchronized = true
		p.SecondaryBrightness = secondary.Brightness
	}
	return &p
}

// Stats 同步统计
type Stats struct {
	Paired            uint64  `json:"paired"`
	Degraded          uint64  `json:"degraded"`
	Misses            uint64  `json:"misses"`
	DroppedStale      uint64  `json:"dropped_stale"`
	DroppedOverflow   uint64  `json:"dropped_overflow"`
	Rejected          uint64  `json:"rejected"`
	PrimaryBuffered   int     `json:"primary_buffered"`
	SecondaryBuffered int     `json:"secondary_buffered"`
	SyncRate          float64 `json:"sync_rate"`
}
