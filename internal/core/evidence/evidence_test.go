package evidence

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/gowvp/icapture/pkg/ffwork"
)

func testFrame(w, h int) *framesync.TimestampedFrame {
	data := make([]byte, ffwork.FrameSize(w, h))
	// 棋盘格保证裁剪区域有对比度
	for y := range h {
		for x := range w {
			if (x/4+y/4)%2 == 0 {
				data[y*w+x] = 200
			} else {
				data[y*w+x] = 60
			}
		}
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	return &framesync.TimestampedFrame{
		Data:      data,
		Width:     w,
		Height:    h,
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local),
		SourceID:  "CAM-WA-001",
	}
}

func TestCaptureAndSave(t *testing.T) {
	dir := t.TempDir()
	c := NewCapturer(dir, 85)

	res, err := c.CaptureAndSave(context.Background(), testFrame(64, 48), violation.BBox{X1: 10, Y1: 10, X2: 30, Y2: 30}, "VL-20250301-ABCDEF12")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(KindFace, "20250301", "VL-20250301-ABCDEF12.jpg")
	if res.SavedPath != want {
		t.Fatalf("expected %s, got %s", want, res.SavedPath)
	}
	if res.QualityScore <= 0 || res.QualityScore > 1 {
		t.Fatalf("unexpected quality %v", res.QualityScore)
	}

	f, err := os.Open(filepath.Join(dir, res.SavedPath))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	// 20px 框四周各外扩 3px
	if cfg.Width != 26 || cfg.Height != 26 {
		t.Fatalf("unexpected crop size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestExpandClampsToFrame(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 80)
	r := Expand(violation.BBox{X1: 0, Y1: 0, X2: 40, Y2: 20}, 0.15, bounds)
	if r != image.Rect(0, 0, 46, 23) {
		t.Fatalf("unexpected rect %v", r)
	}
	r = Expand(violation.BBox{X1: 200, Y1: 200, X2: 240, Y2: 220}, 0.15, bounds)
	if !r.Empty() {
		t.Fatalf("expected empty rect, got %v", r)
	}
}

func TestSaveErrors(t *testing.T) {
	c := NewCapturer(t.TempDir(), 0)
	ctx := context.Background()

	if _, err := c.SavePlate(ctx, nil, violation.BBox{}, "VL-1"); err == nil {
		t.Fatal("expected nil frame error")
	}
	if _, err := c.SavePlate(ctx, testFrame(16, 16), violation.BBox{}, ""); err == nil {
		t.Fatal("expected empty code error")
	}
	bad := testFrame(16, 16)
	bad.Data = bad.Data[:10]
	if _, err := c.SavePlate(ctx, bad, violation.BBox{}, "VL-1"); err == nil {
		t.Fatal("expected short frame error")
	}
	if _, err := c.CaptureAndSave(ctx, testFrame(16, 16), violation.BBox{X1: 100, Y1: 100, X2: 120, Y2: 120}, "VL-1"); err == nil {
		t.Fatal("expected bbox outside frame error")
	}

	// 空检测框保存整帧
	res, err := c.SavePlate(ctx, testFrame(16, 16), violation.BBox{}, "VL-2")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(filepath.Dir(res.SavedPath)) != KindPlate {
		t.Fatalf("unexpected plate path %s", res.SavedPath)
	}
}

func TestDiscard(t *testing.T) {
	dir := t.TempDir()
	c := NewCapturer(dir, 85)
	ctx := context.Background()

	face, err := c.CaptureAndSave(ctx, testFrame(32, 32), violation.BBox{X1: 4, Y1: 4, X2: 20, Y2: 20}, "VL-20250301-00000001")
	if err != nil {
		t.Fatal(err)
	}
	plate, err := c.SavePlate(ctx, testFrame(32, 32), violation.BBox{}, "VL-20250301-00000001")
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Discard(face.SavedPath, "", plate.SavedPath, "faces/20250301/missing.jpg"); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{face.SavedPath, plate.SavedPath} {
		if _, err := os.Stat(filepath.Join(dir, p)); !os.IsNotExist(err) {
			t.Fatalf("%s must be removed, stat err=%v", p, err)
		}
	}

	if err := c.Discard("../outside.jpg"); err == nil {
		t.Fatal("expected error for path outside evidence dir")
	}
}

func TestQualityScore(t *testing.T) {
	flat := make([]byte, ffwork.FrameSize(32, 32))
	for i := range flat {
		flat[i] = 128
	}
	img, _ := ffwork.YCbCr(flat, 32, 32)
	low := QualityScore(img, img.Rect)

	img2, _ := ffwork.YCbCr(testFrame(32, 32).Data, 32, 32)
	high := QualityScore(img2, img2.Rect)
	if high <= low {
		t.Fatalf("textured crop should score higher: %v <= %v", high, low)
	}
	if QualityScore(img, image.Rectangle{}) != 0 {
		t.Fatal("empty rect must score 0")
	}
}
