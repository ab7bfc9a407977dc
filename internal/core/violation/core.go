package violation

import (
	"github.com/gowvp/icapture/pkg/retry"
)

// Storer data persistence
type Storer interface {
	Violation() ViolationStorer
}

// Core business domain
type Core struct {
	store       Storer
	retry       retry.Policy
	evidenceDir string
}

type Option func(*Core)

// WithRetry 写入与去重查询使用的重试策略
func WithRetry(p retry.Policy) Option {
	return func(c *Core) {
		c.retry = p
	}
}

// WithEvidenceDir 证据图根目录，清理过期记录时使用
func WithEvidenceDir(dir string) Option {
	return func(c *Core) {
		c.evidenceDir = dir
	}
}

// NewCore create business domain
func NewCore(store Storer, opts ...Option) Core {
	c := Core{store: store, retry: retry.DefaultPolicy(nil)}
	for _, opt := range opts {
		opt(&c)
	}
	if c.retry.Name == "" {
		c.retry.Name = "violation"
	}
	return c
}
