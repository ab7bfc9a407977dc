package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
)

// 阶段名
const (
	StageCapture     = "capture"
	StageInference   = "inference"
	StagePersistence = "persistence"
)

// stageStats 每个阶段的处理计数与最后一次错误
type stageStats struct {
	name      string
	processed atomic.Uint64
	errors    atomic.Uint64

	mu          sync.Mutex
	lastErrorAt time.Time
	lastError   string
}

func newStageStats(name string) *stageStats {
	return &stageStats{name: name}
}

func (s *stageStats) done() {
	s.processed.Add(1)
	stageProcessedTotal.WithLabelValues(s.name).Inc()
}

func (s *stageStats) fail(err string) {
	s.errors.Add(1)
	stageErrorsTotal.WithLabelValues(s.name).Inc()
	s.mu.Lock()
	s.lastErrorAt = time.Now()
	s.lastError = err
	s.mu.Unlock()
}

// StageStats 阶段统计快照
type StageStats struct {
	Processed   uint64     `json:"processed"`
	Errors      uint64     `json:"errors"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *stageStats) snapshot() StageStats {
	out := StageStats{
		Processed: s.processed.Load(),
		Errors:    s.errors.Load(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastErrorAt.IsZero() {
		t := s.lastErrorAt
		out.LastErrorAt = &t
		out.LastError = s.lastError
	}
	return out
}

// ThroughputStats 持久化阶段的结果分布
type ThroughputStats struct {
	Persisted      uint64 `json:"persisted"`
	PersistFailed  uint64 `json:"persist_failed"`
	Throttled      uint64 `json:"throttled"`
	EvidenceFailed uint64 `json:"evidence_failed"`
}

// Status 流水线状态快照
type Status struct {
	Running          bool                  `json:"running"`
	StartedAt        *time.Time            `json:"started_at,omitempty"`
	InferenceQueue   QueueStats            `json:"inference_queue"`
	PersistenceQueue QueueStats            `json:"persistence_queue"`
	Sync             framesync.Stats       `json:"sync"`
	Engine           violation.EngineStats `json:"engine"`
	Stages           map[string]StageStats `json:"stages"`
	Throughput       ThroughputStats       `json:"throughput"`
}
