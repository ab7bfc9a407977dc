package ffwork

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
)

// Brightness Y 平面均值 (0-255)，数据不足时返回 0
func Brightness(data []byte, width, height int) float64 {
	n := width * height
	if n <= 0 || len(data) < n {
		return 0
	}
	var sum uint64
	for _, v := range data[:n] {
		sum += uint64(v)
	}
	return float64(sum) / float64(n)
}

// YCbCr 将 I420 数据包装为 image.YCbCr，不拷贝
func YCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", width, height)
	}
	cw, ch := (width+1)/2, (height+1)/2
	ySize, cSize := width*height, cw*ch
	if len(data) < ySize+2*cSize {
		return nil, fmt.Errorf("frame too short: %d < %d", len(data), ySize+2*cSize)
	}
	return &image.YCbCr{
		Y:              data[:ySize],
		Cb:             data[ySize : ySize+cSize],
		Cr:             data[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

// EncodeJPEG quality 超出 1-100 时使用 jpeg.DefaultQuality
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// LumaStats 区域内亮度均值与标准差
func LumaStats(img *image.YCbCr, r image.Rectangle) (mean, stddev float64) {
	r = r.Intersect(img.Rect)
	n := r.Dx() * r.Dy()
	if n == 0 {
		return 0, 0
	}
	var sum, sq float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Y[img.YOffset(r.Min.X, y):img.YOffset(r.Max.X-1, y)+1]
		for _, v := range row {
			f := float64(v)
			sum += f
			sq += f * f
		}
	}
	mean = sum / float64(n)
	variance := sq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
