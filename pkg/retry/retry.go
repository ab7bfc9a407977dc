// Package retry 提供区分瞬时/永久错误的指数退避重试
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 500 * time.Millisecond
)

// ErrExhausted 重试次数耗尽，与底层错误区分
var ErrExhausted = errors.New("retry exhausted")

// Class 错误分类
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// ExhaustedError 记录最后一次失败原因
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Policy 重试策略
// MaxRetries 为总尝试次数，第 n 次失败后等待 BaseDelay*2^(n-1)
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Classify 为空时仅识别 Transient 包装的错误
	Classify func(error) Class
	// Sleep 测试时替换
	Sleep func(context.Context, time.Duration) error
	Name  string
}

// DefaultPolicy 3 次尝试，基础延迟 500ms
func DefaultPolicy(classify func(error) Class) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Classify:   classify,
	}
}

func (p Policy) classify(err error) Class {
	if IsTransient(err) {
		return Transient
	}
	if p.Classify == nil {
		return Permanent
	}
	return p.Classify(err)
}

// Delay 返回第 attempt 次 (从 0 开始) 失败后的等待时长
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << attempt
}

// Do 执行 fn，瞬时错误按指数退避重试，永久错误立即返回
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("retry succeeded", "name", p.Name, "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err
		if p.classify(err) == Permanent {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		slog.Warn("transient error, retrying",
			"name", p.Name,
			"attempt", attempt+1,
			"max", attempts,
			"delay", delay,
			"err", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	slog.Error("retry exhausted", "name", p.Name, "attempts", attempts, "err", lastErr)
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Sleep 可被 ctx 打断的等待
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// MarkTransient 显式标记可重试错误
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient 是否被 MarkTransient 标记过
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}
