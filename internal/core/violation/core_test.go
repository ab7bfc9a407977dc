package violation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gowvp/icapture/pkg/retry"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

type flakyStore struct {
	failures int
	err      error
	adds     int
	stored   []*Violation
}

func (f *flakyStore) Violation() ViolationStorer { return f }

func (f *flakyStore) Find(context.Context, *[]*Violation, orm.Pager, ...orm.QueryOption) (int64, error) {
	return 0, nil
}

func (f *flakyStore) Get(context.Context, *Violation, ...orm.QueryOption) error { return nil }

func (f *flakyStore) Add(_ context.Context, v *Violation) error {
	f.adds++
	if f.adds <= f.failures {
		return f.err
	}
	v.ID = int64(len(f.stored) + 1)
	f.stored = append(f.stored, v)
	return nil
}

func (f *flakyStore) Count(context.Context, ...orm.QueryOption) (int64, error) {
	f.adds++
	if f.adds <= f.failures {
		return 0, f.err
	}
	return int64(len(f.stored)), nil
}

func (f *flakyStore) Del(context.Context, ...orm.QueryOption) (int64, error) { return 0, nil }

func (f *flakyStore) Session(context.Context, ...func(*gorm.DB) error) error { return nil }

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy(nil)
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestAddViolationRetriesTransient(t *testing.T) {
	store := &flakyStore{failures: 2, err: retry.MarkTransient(errors.New("connection reset"))}
	core := NewCore(store, WithRetry(noSleepPolicy()))

	v, err := core.AddViolation(context.Background(), &AddViolationInput{Code: "VL-1", PlateNumber: "ABC"})
	if err != nil {
		t.Fatal(err)
	}
	if store.adds != 3 || v.ID != 1 || v.Code != "VL-1" {
		t.Fatalf("adds=%d v=%+v", store.adds, v)
	}
	if v.DetectedAt.IsZero() || v.Status != StatusPending {
		t.Fatalf("defaults not applied: %+v", v)
	}
}

func TestAddViolationExhausted(t *testing.T) {
	store := &flakyStore{failures: 10, err: retry.MarkTransient(errors.New("connection reset"))}
	core := NewCore(store, WithRetry(noSleepPolicy()))

	_, err := core.AddViolation(context.Background(), &AddViolationInput{Code: "VL-1"})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v", err)
	}
	if store.adds != retry.DefaultMaxRetries {
		t.Fatalf("adds = %d", store.adds)
	}
}

func TestAddViolationPermanent(t *testing.T) {
	store := &flakyStore{failures: 10, err: errors.New("UNIQUE constraint failed: violations.code")}
	core := NewCore(store, WithRetry(noSleepPolicy()))

	_, err := core.AddViolation(context.Background(), &AddViolationInput{Code: "VL-1"})
	if err == nil || errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("err = %v", err)
	}
	if store.adds != 1 {
		t.Fatalf("permanent error must not be retried, adds = %d", store.adds)
	}
}

func TestCheckRecentDuplicateRetries(t *testing.T) {
	store := &flakyStore{failures: 1, err: retry.MarkTransient(errors.New("bad connection"))}
	core := NewCore(store, WithRetry(noSleepPolicy()))

	dup, err := core.CheckRecentDuplicate(context.Background(), "ABC", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Fatal("empty store must not report duplicate")
	}
	if store.adds != 2 {
		t.Fatalf("calls = %d", store.adds)
	}
}
