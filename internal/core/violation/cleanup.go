package violation

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// StartCleanupWorker 启动定时清理协程，每天执行一次
// days 为保留天数，超过该天数的违章记录及证据图将被删除
func (c Core) StartCleanupWorker(ctx context.Context, days int) {
	if days <= 0 {
		slog.Info("violation cleanup disabled", "days", days)
		return
	}

	slog.Info("violation cleanup worker started", "retain_days", days)

	// 启动时先执行一次清理
	c.CleanupExpired(ctx, days)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired(ctx, days)
		}
	}
}

// CleanupExpired 清理过期违章，先删除证据图，再删除数据库记录
func (c Core) CleanupExpired(ctx context.Context, days int) (deleted, filesDeleted int) {
	cutoffTime := time.Now().AddDate(0, 0, -days)

	slog.Info("starting violation cleanup", "cutoff_time", cutoffTime.Format(time.DateTime), "retain_days", days)

	// 分批查询并删除，避免一次性加载过多数据
	const batchSize = 100
	for {
		var items []*Violation
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Violation().Find(ctx, &items, &pager,
			orm.Where("detected_at < ?", orm.Time{Time: cutoffTime}),
		)
		if err != nil {
			slog.Error("failed to query expired violations", "err", err)
			break
		}
		if len(items) == 0 {
			break
		}

		imagePaths := make(map[string]struct{})
		ids := make([]int64, 0, len(items))
		for _, v := range items {
			ids = append(ids, v.ID)
			for _, p := range []string{v.RiderImagePath, v.PlateImagePath} {
				if p != "" {
					imagePaths[p] = struct{}{}
				}
			}
		}

		for p := range imagePaths {
			fullPath := c.evidencePath(p)
			if err := os.Remove(fullPath); err != nil {
				if !os.IsNotExist(err) {
					slog.Warn("failed to delete evidence image", "path", fullPath, "err", err)
				}
			} else {
				filesDeleted++
			}
		}

		err = c.store.Violation().Session(ctx, func(tx *gorm.DB) error {
			return tx.Where("id IN ?", ids).Delete(&Violation{}).Error
		})
		if err != nil {
			slog.Warn("failed to batch delete violations", "count", len(ids), "err", err)
			break
		}
		deleted += len(ids)
	}

	if c.evidenceDir != "" {
		cleanupEmptyDirs(c.evidenceDir)
	}

	slog.Info("violation cleanup completed",
		"violations_deleted", deleted,
		"files_deleted", filesDeleted,
	)
	return deleted, filesDeleted
}

func (c Core) evidencePath(p string) string {
	if filepath.IsAbs(p) || c.evidenceDir == "" {
		return p
	}
	return filepath.Join(c.evidenceDir, p)
}

// cleanupEmptyDirs 递归删除空目录
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subDir := filepath.Join(dir, entry.Name())
		cleanupEmptyDirs(subDir)

		subEntries, err := os.ReadDir(subDir)
		if err == nil && len(subEntries) == 0 {
			if err := os.Remove(subDir); err == nil {
				slog.Debug("removed empty directory", "path", subDir)
			}
		}
	}
}
