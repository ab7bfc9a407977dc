package violation

import (
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
)

type FindViolationInput struct {
	web.PagerFilter
	PlateNumber   string `form:"plate_number"`
	ViolationType string `form:"violation_type"`
	CameraID      string `form:"camera_id"`
	Status        string `form:"status"`
	StartMs       int64  `form:"start_ms"` // 采集时间范围（毫秒时间戳）
	EndMs         int64  `form:"end_ms"`
}

type AddViolationInput struct {
	Code                string   `json:"code"`
	ViolationType       string   `json:"violation_type"`
	PlateNumber         string   `json:"plate_number"`
	RiderImagePath      string   `json:"rider_image_path"`
	PlateImagePath      string   `json:"plate_image_path"`
	CameraID            string   `json:"camera_id"`
	CameraLocation      string   `json:"camera_location"`
	DetectionConfidence float64  `json:"detection_confidence"`
	OCRConfidence       float64  `json:"ocr_confidence"`
	QualityScore        float64  `json:"quality_score"`
	Synchronized        bool     `json:"synchronized"`
	Notes               string   `json:"notes"`
	DetectedAt          orm.Time `json:"detected_at"`
}
