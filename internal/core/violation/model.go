package violation

import (
	"github.com/ixugo/goddd/pkg/orm"
)

// 违章记录处理状态
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
)

// Violation 违章记录
type Violation struct {
	ID                  int64    `gorm:"primaryKey" json:"id"`
	Code                string   `gorm:"column:code;uniqueIndex;notNull;default:'';comment:违章编号" json:"code"`
	ViolationType       string   `gorm:"column:violation_type;index;notNull;default:'';comment:违章类别" json:"violation_type"`
	PlateNumber         string   `gorm:"column:plate_number;index;notNull;default:'';comment:车牌" json:"plate_number"`
	RiderImagePath      string   `gorm:"column:rider_image_path;notNull;default:''" json:"rider_image_path"`
	PlateImagePath      string   `gorm:"column:plate_image_path;notNull;default:''" json:"plate_image_path"`
	CameraID            string   `gorm:"column:camera_id;index;notNull;default:''" json:"camera_id"`
	CameraLocation      string   `gorm:"column:camera_location;notNull;default:''" json:"camera_location"`
	DetectionConfidence float64  `gorm:"column:detection_confidence;notNull;default:0" json:"detection_confidence"`
	OCRConfidence       float64  `gorm:"column:ocr_confidence;notNull;default:0" json:"ocr_confidence"`
	QualityScore        float64  `gorm:"column:quality_score;notNull;default:0;comment:证据图质量" json:"quality_score"`
	Synchronized        bool     `gorm:"column:synchronized;notNull;default:false;comment:是否有车牌摄像头同步帧" json:"synchronized"`
	Status              string   `gorm:"column:status;notNull;default:'pending'" json:"status"`
	Notes               string   `gorm:"column:notes;notNull;default:''" json:"notes"`
	DetectedAt          orm.Time `gorm:"column:detected_at;index;notNull;comment:帧采集时间" json:"detected_at"`
	CreatedAt           orm.Time `gorm:"column:created_at;notNull" json:"created_at"`
}

// TableName database table name
func (*Violation) TableName() string {
	return "violations"
}
