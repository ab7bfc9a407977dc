package violation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// ViolationStorer Instantiation interface
type ViolationStorer interface {
	Find(context.Context, *[]*Violation, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Violation, ...orm.QueryOption) error
	Add(context.Context, *Violation) error
	Count(context.Context, ...orm.QueryOption) (int64, error)
	Del(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
}

// FindViolations 分页查询违章记录
func (c Core) FindViolations(ctx context.Context, in *FindViolationInput) ([]*Violation, int64, error) {
	query := orm.NewQuery(6).OrderBy("detected_at DESC")
	if in.PlateNumber != "" {
		query.Where("plate_number = ?", in.PlateNumber)
	}
	if in.ViolationType != "" {
		query.Where("violation_type = ?", in.ViolationType)
	}
	if in.CameraID != "" {
		query.Where("camera_id = ?", in.CameraID)
	}
	if in.Status != "" {
		query.Where("status = ?", in.Status)
	}
	if in.StartMs > 0 && in.EndMs > 0 {
		query.Where("detected_at >= ? AND detected_at <= ?",
			orm.Time{Time: time.UnixMilli(in.StartMs)},
			orm.Time{Time: time.UnixMilli(in.EndMs)},
		)
	}

	items := make([]*Violation, 0, in.Limit())
	total, err := c.store.Violation().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetViolation Query a single object
func (c Core) GetViolation(ctx context.Context, id int64) (*Violation, error) {
	var out Violation
	if err := c.store.Violation().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddViolation 写入违章记录，瞬时错误按策略重试
// 重试耗尽时错误可用 errors.Is(err, retry.ErrExhausted) 识别
func (c Core) AddViolation(ctx context.Context, in *AddViolationInput) (*Violation, error) {
	var out Violation
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	if out.DetectedAt.IsZero() {
		out.DetectedAt = orm.Now()
	}
	out.Status = StatusPending
	out.CreatedAt = orm.Now()

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		v := out
		if err := c.store.Violation().Add(ctx, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add violation code[%s]: %w", in.Code, err)
	}
	return &out, nil
}

// CheckRecentDuplicate 窗口内是否已有同车牌记录
func (c Core) CheckRecentDuplicate(ctx context.Context, plate string, window time.Duration) (bool, error) {
	if plate == "" {
		return false, nil
	}
	since := orm.Time{Time: time.Now().Add(-window)}
	var n int64
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = c.store.Violation().Count(ctx, orm.Where("plate_number = ? AND detected_at >= ?", plate, since))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check duplicate plate[%s]: %w", plate, err)
	}
	return n > 0, nil
}

// CountSince 统计时间点之后的违章数
func (c Core) CountSince(ctx context.Context, t time.Time) (int64, error) {
	n, err := c.store.Violation().Count(ctx, orm.Where("detected_at >= ?", orm.Time{Time: t}))
	if err != nil {
		return 0, reason.ErrDB.Withf(`CountSince err[%s]`, err.Error())
	}
	return n, nil
}
