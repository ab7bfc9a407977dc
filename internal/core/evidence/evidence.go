// Package evidence 按检测框裁剪帧并保存证据图
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/gowvp/icapture/pkg/ffwork"
	"github.com/ixugo/goddd/pkg/reason"
)

const (
	KindFace  = "faces"
	KindPlate = "plates"

	DefaultQuality = 85
	DefaultMargin  = 0.15

	// 裁剪区域边长达到该值时尺寸分满分
	fullScoreSide = 96
)

var _ pipeline.EvidenceCapturer = (*Capturer)(nil)

// Capturer 证据图写入 <dir>/<kind>/<yyyymmdd>/<code>.jpg，返回相对 dir 的路径
type Capturer struct {
	dir     string
	quality int
	margin  float64
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Capturer)

// WithMargin 检测框四周外扩比例
func WithMargin(m float64) Option {
	return func(c *Capturer) {
		c.margin = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Capturer) {
		c.now = now
	}
}

func NewCapturer(dir string, quality int, opts ...Option) *Capturer {
	if quality <= 0 {
		quality = DefaultQuality
	}
	c := Capturer{
		dir:     dir,
		quality: quality,
		margin:  DefaultMargin,
		now:     time.Now,
		log:     slog.With("module", "evidence"),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Dir 证据根目录
func (c *Capturer) Dir() string {
	return c.dir
}

// CaptureAndSave 保存骑手证据图
func (c *Capturer) CaptureAndSave(ctx context.Context, frame *framesync.TimestampedFrame, bbox violation.BBox, code string) (pipeline.EvidenceResult, error) {
	return c.Save(ctx, KindFace, frame, bbox, code)
}

// SavePlate 保存车牌证据图
func (c *Capturer) SavePlate(ctx context.Context, frame *framesync.TimestampedFrame, bbox violation.BBox, code string) (pipeline.EvidenceResult, error) {
	return c.Save(ctx, KindPlate, frame, bbox, code)
}

// Save 裁剪并编码为 JPEG，bbox 为空时保存整帧
func (c *Capturer) Save(ctx context.Context, kind string, frame *framesync.TimestampedFrame, bbox violation.BBox, code string) (pipeline.EvidenceResult, error) {
	var out pipeline.EvidenceResult
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if frame == nil {
		return out, reason.ErrBadRequest.SetMsg("frame is nil")
	}
	if code == "" {
		return out, reason.ErrBadRequest.SetMsg("violation code is empty")
	}

	img, err := ffwork.YCbCr(frame.Data, frame.Width, frame.Height)
	if err != nil {
		return out, reason.ErrBadRequest.Withf("frame: %s", err)
	}
	rect := img.Rect
	if !bbox.Empty() {
		rect = Expand(bbox, c.margin, img.Rect)
	}
	if rect.Empty() {
		return out, reason.ErrBadRequest.Withf("bbox %+v outside frame %dx%d", bbox, frame.Width, frame.Height)
	}

	var buf bytes.Buffer
	if err := ffwork.EncodeJPEG(&buf, img.SubImage(rect), c.quality); err != nil {
		return out, fmt.Errorf("encode jpeg: %w", err)
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	rel := filepath.Join(kind, ts.Format("20060102"), code+".jpg")
	full := filepath.Join(c.dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return out, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(full, buf.Bytes(), 0o644); err != nil {
		return out, fmt.Errorf("write evidence: %w", err)
	}

	out.SavedPath = rel
	out.QualityScore = QualityScore(img, rect)
	c.log.Debug("evidence saved", "kind", kind, "path", rel, "bytes", buf.Len(), "quality", out.QualityScore)
	return out, nil
}

// Discard 删除 dir 下的证据图，空路径与不存在的文件忽略
func (c *Capturer) Discard(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if !filepath.IsLocal(p) {
			errs = append(errs, reason.ErrBadRequest.Withf("path %q escapes evidence dir", p))
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		c.log.Debug("evidence discarded", "path", p)
	}
	return errors.Join(errs...)
}

// Expand 按比例外扩检测框并裁剪到 bounds 内
func Expand(b violation.BBox, margin float64, bounds image.Rectangle) image.Rectangle {
	mx := int(math.Round(float64(b.Width()) * margin))
	my := int(math.Round(float64(b.Height()) * margin))
	r := image.Rect(b.X1-mx, b.Y1-my, b.X2+mx, b.Y2+my)
	return r.Intersect(bounds)
}

// QualityScore 亮度、对比度、尺寸加权得分 (0-1)
func QualityScore(img *image.YCbCr, r image.Rectangle) float64 {
	mean, stddev := ffwork.LumaStats(img, r)
	if r.Empty() {
		return 0
	}
	brightness := 1 - math.Abs(mean-128)/128
	contrast := math.Min(1, stddev/64)
	size := math.Min(1, float64(r.Dx()*r.Dy())/float64(fullScoreSide*fullScoreSide))
	score := 0.4*brightness + 0.4*contrast + 0.2*size
	return math.Round(score*1000) / 1000
}
