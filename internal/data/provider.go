package data

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/wire"
	"github.com/gowvp/icapture/internal/conf"
	"github.com/gowvp/icapture/pkg/retry"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(SetupDB, NewRetryPolicy)

// NewRetryPolicy 数据库访问重试策略
func NewRetryPolicy(c *conf.Bootstrap) retry.Policy {
	return retry.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  c.Retry.BaseDelay.Duration(),
		Classify:   Classify,
		Name:       "db",
	}
}

// SetupDB 初始化数据存储，数据库不可达时返回错误
func SetupDB(c *conf.Bootstrap, policy retry.Policy) (*gorm.DB, error) {
	cfg := c.Data.Database
	dial, isSQLite := getDialector(cfg.Dsn)
	if isSQLite {
		cfg.MaxIdleConns = 1
		cfg.MaxOpenConns = 1
	}
	return connect(policy, func() (*gorm.DB, error) {
		return orm.New(dial, orm.Config{
			MaxIdleConns:    int(cfg.MaxIdleConns),
			MaxOpenConns:    int(cfg.MaxOpenConns),
			ConnMaxLifetime: cfg.ConnMaxLifetime.Duration(),
			SlowThreshold:   cfg.SlowThreshold.Duration(),
		})
	})
}

// connect 按策略重试建立连接，ping 失败的连接池立即关闭
func connect(policy retry.Policy, open func() (*gorm.DB, error)) (*gorm.DB, error) {
	var db *gorm.DB
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		conn, err := open()
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := Ping(pctx, conn); err != nil {
			if sqlDB, e := conn.DB(); e == nil {
				_ = sqlDB.Close()
			}
			return err
		}
		db = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return db, nil
}

// getDialector 返回 dial 和 是否 sqlite
func getDialector(dsn string) (gorm.Dialector, bool) {
	switch true {
	case strings.HasPrefix(dsn, "postgres"):
		return postgres.New(postgres.Config{
			DriverName: "pgx",
			DSN:        dsn,
		}), false
	case strings.HasPrefix(dsn, "mysql"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), false
	default:
		if dsn == ":memory:" || filepath.IsAbs(dsn) {
			return sqlite.Open(dsn), true
		}
		return sqlite.Open(filepath.Join(system.Getwd(), dsn)), true
	}
}
