package ffwork

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"
)

func frame(w, h int, y byte) []byte {
	data := make([]byte, FrameSize(w, h))
	for i := range w * h {
		data[i] = y
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 128
	}
	return data
}

func TestBrightness(t *testing.T) {
	if v := Brightness(frame(4, 4, 200), 4, 4); v != 200 {
		t.Fatalf("expected 200, got %v", v)
	}
	if v := Brightness([]byte{1, 2}, 4, 4); v != 0 {
		t.Fatalf("short frame expected 0, got %v", v)
	}
}

func TestYCbCrAndJPEG(t *testing.T) {
	img, err := YCbCr(frame(16, 8, 90), 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 16, 8) {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	mean, stddev := LumaStats(img, image.Rect(2, 2, 10, 6))
	if mean != 90 || stddev != 0 {
		t.Fatalf("unexpected luma %v %v", mean, stddev)
	}

	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img.SubImage(image.Rect(2, 2, 10, 6)), 85); err != nil {
		t.Fatal(err)
	}
	cfg, err := jpeg.DecodeConfig(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 8 || cfg.Height != 4 {
		t.Fatalf("unexpected jpeg size %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := YCbCr([]byte{1}, 16, 8); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestReadFramesKeepsLatest(t *testing.T) {
	c, err := NewCapture(Config{Name: "test", Width: 4, Height: 2, FPS: 10})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.TakeLatest(); ok {
		t.Fatal("expected no frame before read")
	}

	var stream bytes.Buffer
	stream.Write(frame(4, 2, 10))
	stream.Write(frame(4, 2, 20))
	stream.Write(frame(4, 2, 30))
	// 末尾残帧触发流结束
	stream.Write([]byte{1, 2, 3})

	if err := c.ReadFrames(context.Background(), &stream); err == nil {
		t.Fatal("expected stream end error")
	}

	f, ok := c.TakeLatest()
	if !ok {
		t.Fatal("expected latest frame")
	}
	if f.Seq != 3 || f.Brightness != 30 {
		t.Fatalf("expected newest frame, got seq=%d brightness=%v", f.Seq, f.Brightness)
	}
	if _, ok := c.TakeLatest(); ok {
		t.Fatal("frame must be taken once")
	}

	st := c.GetStats()
	if st.FrameCount != 3 || st.SkipCount != 2 || st.LastFrame.IsZero() {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestNewCaptureValidate(t *testing.T) {
	if _, err := NewCapture(Config{Width: 0, Height: 2, FPS: 1}); err == nil {
		t.Fatal("expected resolution error")
	}
	if _, err := NewCapture(Config{Width: 2, Height: 2}); err == nil {
		t.Fatal("expected fps error")
	}
	c, _ := NewCapture(Config{Width: 2, Height: 2, FPS: 1})
	if err := c.Start(); err == nil {
		t.Fatal("expected missing url error")
	}
}
