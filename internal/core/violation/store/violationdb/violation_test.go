package violationdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// 内存库每个连接独立
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newCore(t *testing.T, opts ...violation.Option) violation.Core {
	return violation.NewCore(NewDB(newSQLite(t)).AutoMigrate(true), opts...)
}

func addViolation(t *testing.T, core violation.Core, code, plate string, detectedAt time.Time) *violation.Violation {
	t.Helper()
	v, err := core.AddViolation(context.Background(), &violation.AddViolationInput{
		Code:                code,
		ViolationType:       violation.CategoryNoHelmet,
		PlateNumber:         plate,
		CameraID:            "CAM-WA-001",
		DetectionConfidence: 0.91,
		DetectedAt:          orm.Time{Time: detectedAt},
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestAddAndGet(t *testing.T) {
	core := newCore(t)
	v := addViolation(t, core, "VL-20250101-00000001", "ABC-1234", time.Now())
	if v.ID == 0 {
		t.Fatal("expect id")
	}
	if v.Status != violation.StatusPending {
		t.Fatalf("status = %s", v.Status)
	}

	got, err := core.GetViolation(context.Background(), v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != v.Code || got.PlateNumber != "ABC-1234" || got.DetectionConfidence != 0.91 {
		t.Fatalf("got %+v", got)
	}

	if _, err := core.GetViolation(context.Background(), v.ID+100); err == nil {
		t.Fatal("expect not found")
	}
}

func TestCheckRecentDuplicate(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	addViolation(t, core, "VL-1", "ABC-1234", time.Now().Add(-10*time.Second))
	addViolation(t, core, "VL-2", "OLD-0001", time.Now().Add(-2*time.Minute))

	cases := []struct {
		plate string
		want  bool
	}{
		{"ABC-1234", true},
		{"OLD-0001", false},
		{"NEW-9999", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := core.CheckRecentDuplicate(ctx, tc.plate, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("plate %q: got %v want %v", tc.plate, got, tc.want)
		}
	}
}

func TestFindViolations(t *testing.T) {
	core := newCore(t)
	now := time.Now()
	addViolation(t, core, "VL-1", "AAA", now.Add(-3*time.Minute))
	addViolation(t, core, "VL-2", "BBB", now.Add(-2*time.Minute))
	addViolation(t, core, "VL-3", "AAA", now.Add(-1*time.Minute))

	items, total, err := core.FindViolations(context.Background(), &violation.FindViolationInput{
		PagerFilter: web.PagerFilter{Page: 1, Size: 10},
		PlateNumber: "AAA",
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	// 按采集时间倒序
	if items[0].Code != "VL-3" {
		t.Fatalf("first = %s", items[0].Code)
	}

	items, total, err = core.FindViolations(context.Background(), &violation.FindViolationInput{
		PagerFilter: web.PagerFilter{Page: 1, Size: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("paged total=%d len=%d", total, len(items))
	}
}

func TestCleanupExpired(t *testing.T) {
	dir := t.TempDir()
	core := newCore(t, violation.WithEvidenceDir(dir))
	ctx := context.Background()

	rel := filepath.Join("faces", "20240101", "VL-OLD.jpg")
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := core.AddViolation(ctx, &violation.AddViolationInput{
		Code:           "VL-OLD",
		PlateNumber:    "OLD",
		RiderImagePath: rel,
		DetectedAt:     orm.Time{Time: time.Now().AddDate(0, 0, -10)},
	})
	if err != nil {
		t.Fatal(err)
	}
	addViolation(t, core, "VL-NEW", "NEW", time.Now())

	deleted, files := core.CleanupExpired(ctx, 7)
	if deleted != 1 || files != 1 {
		t.Fatalf("deleted=%d files=%d", deleted, files)
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Fatal("evidence file must be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "faces")); !os.IsNotExist(err) {
		t.Fatal("empty directories must be removed")
	}

	n, err := core.CountSince(ctx, time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("remaining = %d", n)
	}
}

func TestDel(t *testing.T) {
	db := newSQLite(t)
	store := NewDB(db).AutoMigrate(true)
	core := violation.NewCore(store)
	addViolation(t, core, "VL-1", "AAA", time.Now())

	if _, err := store.Violation().Del(context.Background()); err == nil {
		t.Fatal("delete without condition must fail")
	}
	n, err := store.Violation().Del(context.Background(), orm.Where("code = ?", "VL-1"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("affected = %d", n)
	}
}
