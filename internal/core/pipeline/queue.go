package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue 有界 FIFO 队列
// 采集阶段使用 PushDropOldest，推理阶段使用 TryPush
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	notify  chan struct{}
	dropped atomic.Uint64
}

// NewQueue 创建容量为 capacity 的队列
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) pushLocked(v T) {
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return v
}

// PushDropOldest 队列满时丢弃最旧元素后写入，返回是否发生丢弃
func (q *Queue[T]) PushDropOldest(v T) bool {
	q.mu.Lock()
	dropped := q.size == len(q.items)
	if dropped {
		q.popLocked()
		q.dropped.Add(1)
	}
	q.pushLocked(v)
	q.mu.Unlock()
	q.signal()
	return dropped
}

// TryPush 队列满时丢弃新元素，返回是否写入
func (q *Queue[T]) TryPush(v T) bool {
	q.mu.Lock()
	if q.size == len(q.items) {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	q.pushLocked(v)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue[T]) tryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		var zero T
		return zero, false
	}
	v := q.popLocked()
	if q.size > 0 {
		q.signal()
	}
	return v, true
}

// Pop 最多等待 timeout，超时或 ctx 结束返回 false
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := q.tryPop(); ok {
		return v, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-timer.C:
			return q.tryPop()
		case <-q.notify:
			if v, ok := q.tryPop(); ok {
				return v, true
			}
		}
	}
}

// Len 当前长度
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap 容量
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// Dropped 因背压丢弃的累计数量
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Clear 清空队列，返回丢弃的元素数
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	for q.size > 0 {
		q.popLocked()
	}
	q.head = 0
	return n
}

// QueueStats 队列快照
type QueueStats struct {
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
	Dropped uint64 `json:"dropped"`
}

// Stats 快照
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{Len: q.Len(), Cap: q.Cap(), Dropped: q.Dropped()}
}
