package violationdb

import (
	"context"

	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ violation.ViolationStorer = Violation{}

// Violation Related business namespaces
type Violation DB

// NewViolation instance object
func NewViolation(db *gorm.DB) Violation {
	return Violation{db: db}
}

// Session 在同一事务中执行 fns，任一返回错误或 panic 时回滚
func (d Violation) Session(ctx context.Context, fns ...func(*gorm.DB) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range fns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func apply(db *gorm.DB, opts []orm.QueryOption) *gorm.DB {
	for _, fn := range opts {
		db = fn(db)
	}
	return db
}

// Find implements violation.ViolationStorer.
func (d Violation) Find(ctx context.Context, bs *[]*violation.Violation, page orm.Pager, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := d.Session(ctx, func(tx *gorm.DB) error {
		if err := apply(tx.Model(new(violation.Violation)), opts).Count(&total).Error; err != nil {
			return err
		}
		if total == 0 {
			return nil
		}
		return apply(tx.Model(new(violation.Violation)), opts).
			Offset(page.Offset()).
			Limit(page.Limit()).
			Find(bs).Error
	})
	return total, err
}

// Get implements violation.ViolationStorer.
func (d Violation) Get(ctx context.Context, b *violation.Violation, opts ...orm.QueryOption) error {
	return d.Session(ctx, func(tx *gorm.DB) error {
		return apply(tx.Model(b), opts).First(b).Error
	})
}

// Add implements violation.ViolationStorer.
func (d Violation) Add(ctx context.Context, b *violation.Violation) error {
	return d.Session(ctx, func(tx *gorm.DB) error {
		return tx.Create(b).Error
	})
}

// Count implements violation.ViolationStorer.
func (d Violation) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := d.Session(ctx, func(tx *gorm.DB) error {
		return apply(tx.Model(new(violation.Violation)), opts).Count(&total).Error
	})
	return total, err
}

// Del implements violation.ViolationStorer.
func (d Violation) Del(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	if len(opts) == 0 {
		return 0, gorm.ErrMissingWhereClause
	}
	var affected int64
	err := d.Session(ctx, func(tx *gorm.DB) error {
		res := apply(tx, opts).Delete(new(violation.Violation))
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
