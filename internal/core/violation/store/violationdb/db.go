package violationdb

import (
	"github.com/gowvp/icapture/internal/core/violation"
	"gorm.io/gorm"
)

var _ violation.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Violation Get business instance
func (d DB) Violation() violation.ViolationStorer {
	return Violation(d)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(
		new(violation.Violation),
	); err != nil {
		panic(err)
	}
	return d
}
