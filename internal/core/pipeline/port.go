package pipeline

import (
	"context"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
)

// Camera 摄像头帧来源，非阻塞，无新帧时返回 false
type Camera interface {
	PullFrame(sourceID string) (framesync.RawFrame, bool)
}

// Detection 检测服务返回的最佳目标
type Detection struct {
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	BBox       violation.BBox `json:"bbox"`
}

// DetectResult 检测结果
type DetectResult struct {
	HasViolation bool      `json:"has_violation"`
	Best         Detection `json:"best"`
}

// Detector 违章检测
type Detector interface {
	Detect(ctx context.Context, frame *framesync.TimestampedFrame) (DetectResult, error)
}

// RecognizeResult 车牌识别结果，未保存图片时 SavedPath 为空
type RecognizeResult struct {
	Identifier string  `json:"identifier"`
	Confidence float64 `json:"confidence"`
	SavedPath  string  `json:"saved_path"`
}

// Recognizer 车牌识别，persist 为 true 时同时保存车牌图
type Recognizer interface {
	Recognize(ctx context.Context, frame *framesync.TimestampedFrame, contextCode string, persist bool) (RecognizeResult, error)
}

// EvidenceResult 证据图保存结果
type EvidenceResult struct {
	SavedPath    string  `json:"saved_path"`
	QualityScore float64 `json:"quality_score"`
}

// EvidenceCapturer 裁剪并保存违章证据图
// Discard 删除写库失败后遗留的证据图，路径为 SavedPath
type EvidenceCapturer interface {
	CaptureAndSave(ctx context.Context, frame *framesync.TimestampedFrame, bbox violation.BBox, code string) (EvidenceResult, error)
	Discard(paths ...string) error
}

// Recorder 违章记录写入
type Recorder interface {
	AddViolation(ctx context.Context, in *violation.AddViolationInput) (*violation.Violation, error)
}

// DuplicateChecker 持久化去重查询
type DuplicateChecker = violation.DuplicateChecker

var (
	_ Recorder         = violation.Core{}
	_ DuplicateChecker = violation.Core{}
)
