package violation

import (
	"fmt"
	"time"
)

const noPlatePrefix = "NO_PLATE_"

// BBox 检测框 (像素坐标，左上/右下)
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Empty 宽或高为 0
func (b BBox) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Detection 一次违章检测，识别车牌后补充 Identifier
type Detection struct {
	Category             string    `json:"category"`
	Confidence           float64   `json:"confidence"`
	BBox                 BBox      `json:"bbox"`
	Timestamp            time.Time `json:"timestamp"` // 帧对采集时间
	CameraID             string    `json:"camera_id"`
	Identifier           string    `json:"identifier,omitempty"`
	IdentifierConfidence float64   `json:"identifier_confidence,omitempty"`
}

// HasIdentifier 是否识别出车牌
func (d *Detection) HasIdentifier() bool {
	return d.Identifier != ""
}

// TrackingKey 多帧校验与去重使用的键
// 无车牌时按摄像头生成，这类键只做多帧校验，不参与去重
func (d *Detection) TrackingKey() string {
	if d.Identifier != "" {
		return d.Identifier
	}
	return fmt.Sprintf("%s%s", noPlatePrefix, d.CameraID)
}
