package violation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// 判定原因
const (
	ReasonNoRule    = "no rule matched"
	ReasonPending   = "verification pending"
	ReasonDuplicate = "duplicate"
	ReasonConfirmed = "violation confirmed"
)

const (
	DefaultRequiredFrames     = 3
	DefaultVerificationWindow = 5 * time.Second
	DefaultDuplicateWindow    = 60 * time.Second
)

// DuplicateChecker 持久化层去重查询，覆盖进程重启前记录的违章
type DuplicateChecker interface {
	CheckRecentDuplicate(ctx context.Context, identifier string, window time.Duration) (bool, error)
}

// Decision 判定结果，仅 ShouldLog 为 true 时 Code/Category 有值
type Decision struct {
	ShouldLog   bool   `json:"should_log"`
	Reason      string `json:"reason"`
	Code        string `json:"code,omitempty"`
	Category    string `json:"category,omitempty"`
	TrackingKey string `json:"tracking_key"`
}

// EngineConfig 判定参数
type EngineConfig struct {
	Rules              []Rule
	RequiredFrames     int
	VerificationWindow time.Duration
	DuplicateWindow    time.Duration
}

func (c *EngineConfig) defaults() {
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
	if c.RequiredFrames <= 0 {
		c.RequiredFrames = DefaultRequiredFrames
	}
	if c.VerificationWindow <= 0 {
		c.VerificationWindow = DefaultVerificationWindow
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
}

// EngineStats 单调递增计数
type EngineStats struct {
	TotalDetections     uint64 `json:"total_detections"`
	ViolationsLogged    uint64 `json:"violations_logged"`
	DuplicatesPrevented uint64 `json:"duplicates_prevented"`
	VerificationPending uint64 `json:"verification_pending"`
	NoRuleMatched       uint64 `json:"no_rule_matched"`
	Confirmed           uint64 `json:"confirmed"`
}

type engineCounters struct {
	total, logged, duplicates, pending, noRule, confirmed atomic.Uint64
}

// history 每个跟踪键最近 N 次检测时间
type history struct {
	stamps   []time.Time
	lastSeen time.Time
}

func (h *history) push(t time.Time, capacity int) {
	if len(h.stamps) == capacity {
		copy(h.stamps, h.stamps[1:])
		h.stamps = h.stamps[:capacity-1]
	}
	h.stamps = append(h.stamps, t)
	h.lastSeen = t
}

// verified 满 N 帧且首尾跨度小于窗口
func (h *history) verified(capacity int, window time.Duration) bool {
	if len(h.stamps) < capacity {
		return false
	}
	return h.stamps[len(h.stamps)-1].Sub(h.stamps[0]) < window
}

// Engine 违章判定：规则 -> 多帧校验 -> 去重 -> 生成编号
type Engine struct {
	cfg     EngineConfig
	checker DuplicateChecker
	newCode func(time.Time) string
	log     *slog.Logger

	mu        sync.Mutex
	histories map[string]*history
	recent    map[string]time.Time // identifier -> 最近记录时间
	checking  map[string]struct{}  // 正在查询持久化层的 identifier

	counters engineCounters
}

type EngineOption func(*Engine)

// WithDuplicateChecker 注入持久化去重
func WithDuplicateChecker(c DuplicateChecker) EngineOption {
	return func(e *Engine) {
		e.checker = c
	}
}

// WithCodeGenerator 替换违章编号生成
func WithCodeGenerator(fn func(time.Time) string) EngineOption {
	return func(e *Engine) {
		e.newCode = fn
	}
}

// NewEngine 创建判定引擎
func NewEngine(cfg EngineConfig, opts ...EngineOption) *Engine {
	cfg.defaults()
	e := Engine{
		cfg:       cfg,
		newCode:   NewCode,
		log:       slog.With("module", "violation"),
		histories: make(map[string]*history),
		recent:    make(map[string]time.Time),
		checking:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.log.Info("violation engine initialized",
		"rules", len(cfg.Rules),
		"required_frames", cfg.RequiredFrames,
		"verification_window", cfg.VerificationWindow,
		"duplicate_window", cfg.DuplicateWindow,
	)
	return &e
}

// Config 返回生效的配置
func (e *Engine) Config() EngineConfig {
	return e.cfg
}

// Evaluate 判定一次检测，否定结果通过 Decision 返回而非 error
func (e *Engine) Evaluate(ctx context.Context, d *Detection) Decision {
	e.counters.total.Add(1)

	rule, ok := matchRule(e.cfg.Rules, d)
	key := d.TrackingKey()
	if !ok {
		e.counters.noRule.Add(1)
		return Decision{Reason: ReasonNoRule, TrackingKey: key}
	}

	e.mu.Lock()
	h, ok := e.histories[key]
	if !ok {
		h = &history{stamps: make([]time.Time, 0, e.cfg.RequiredFrames)}
		e.histories[key] = h
	}
	h.push(d.Timestamp, e.cfg.RequiredFrames)
	if !h.verified(e.cfg.RequiredFrames, e.cfg.VerificationWindow) {
		e.mu.Unlock()
		return e.pending(key)
	}

	// 无车牌无法去重，确认后清空历史，下一次需重新累积
	if !d.HasIdentifier() {
		delete(e.histories, key)
		e.mu.Unlock()
		return e.confirm(key, rule, d)
	}

	id := d.Identifier
	if last, ok := e.recent[id]; ok && d.Timestamp.Sub(last) < e.cfg.DuplicateWindow {
		delete(e.histories, key)
		e.mu.Unlock()
		return e.duplicate(key, "memory")
	}
	if e.checker == nil {
		e.mu.Unlock()
		return e.confirm(key, rule, d)
	}
	// 同一车牌的持久化查询进行中，本次视为待校验
	if _, busy := e.checking[id]; busy {
		e.mu.Unlock()
		return e.pending(key)
	}
	e.checking[id] = struct{}{}
	e.mu.Unlock()

	dup, err := e.checker.CheckRecentDuplicate(ctx, id, e.cfg.DuplicateWindow)
	if err != nil {
		e.log.WarnContext(ctx, "persistent duplicate check failed", "identifier", id, "err", err)
	}

	e.mu.Lock()
	delete(e.checking, id)
	if dup {
		delete(e.histories, key)
		if last, ok := e.recent[id]; !ok || d.Timestamp.After(last) {
			e.recent[id] = d.Timestamp
		}
	}
	e.mu.Unlock()

	if dup {
		return e.duplicate(key, "store")
	}
	return e.confirm(key, rule, d)
}

func (e *Engine) pending(key string) Decision {
	e.counters.pending.Add(1)
	return Decision{Reason: ReasonPending, TrackingKey: key}
}

func (e *Engine) duplicate(key, layer string) Decision {
	e.counters.duplicates.Add(1)
	e.log.Debug("duplicate violation prevented", "key", key, "layer", layer)
	return Decision{Reason: ReasonDuplicate, TrackingKey: key}
}

func (e *Engine) confirm(key string, rule Rule, d *Detection) Decision {
	e.counters.confirmed.Add(1)
	return Decision{
		ShouldLog:   true,
		Reason:      ReasonConfirmed,
		Code:        e.newCode(d.Timestamp),
		Category:    rule.Category,
		TrackingKey: key,
	}
}

// MarkLogged 持久化成功后回调，写入去重缓存
func (e *Engine) MarkLogged(identifier string, at time.Time) {
	e.counters.logged.Add(1)
	if identifier == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.recent[identifier]; !ok || at.After(last) {
		e.recent[identifier] = at
	}
}

// Reset 清空跟踪键的校验历史，写库失败后需重新累积 N 帧才会再次确认
func (e *Engine) Reset(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.histories, key)
}

// Sweep 清理闲置的校验历史和过期的去重缓存
func (e *Engine) Sweep(now time.Time) (histories, cached int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, h := range e.histories {
		if now.Sub(h.lastSeen) > e.cfg.VerificationWindow {
			delete(e.histories, k)
			histories++
		}
	}
	for k, t := range e.recent {
		if now.Sub(t) > e.cfg.DuplicateWindow {
			delete(e.recent, k)
			cached++
		}
	}
	return
}

// Tracked 当前跟踪键与去重缓存数量
func (e *Engine) Tracked() (histories, cached int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.histories), len(e.recent)
}

// Stats 计数快照
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		TotalDetections:     e.counters.total.Load(),
		ViolationsLogged:    e.counters.logged.Load(),
		DuplicatesPrevented: e.counters.duplicates.Load(),
		VerificationPending: e.counters.pending.Load(),
		NoRuleMatched:       e.counters.noRule.Load(),
		Confirmed:           e.counters.confirmed.Load(),
	}
}

// NewCode 生成违章编号 VL-YYYYMMDD-XXXXXXXX
func NewCode(t time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("VL-%s-%s", t.Format("20060102"), strings.ToUpper(id[:8]))
}
