package framesync

// frameRing 定长环形缓冲，按写入顺序排列 (0 为最旧)
type frameRing struct {
	buf        []TimestampedFrame
	head, size int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{buf: make([]TimestampedFrame, capacity)}
}

func (r *frameRing) Len() int { return r.size }

func (r *frameRing) Cap() int { return len(r.buf) }

func (r *frameRing) idx(i int) int { return (r.head + i) % len(r.buf) }

func (r *frameRing) at(i int) *TimestampedFrame { return &r.buf[r.idx(i)] }

// push 追加到尾部，满时覆盖最旧帧并返回 true
func (r *frameRing) push(f TimestampedFrame) bool {
	overflow := r.size == len(r.buf)
	if overflow {
		r.popFront()
	}
	r.buf[r.idx(r.size)] = f
	r.size++
	return overflow
}

func (r *frameRing) front() *TimestampedFrame {
	if r.size == 0 {
		return nil
	}
	return r.at(0)
}

func (r *frameRing) back() *TimestampedFrame {
	if r.size == 0 {
		return nil
	}
	return r.at(r.size - 1)
}

func (r *frameRing) popFront() {
	if r.size == 0 {
		return
	}
	r.buf[r.head] = TimestampedFrame{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
}

func (r *frameRing) popBack() {
	if r.size == 0 {
		return
	}
	r.buf[r.idx(r.size-1)] = TimestampedFrame{}
	r.size--
}

// removeAt 删除第 i 个元素，后续元素前移
func (r *frameRing) removeAt(i int) {
	if i < 0 || i >= r.size {
		return
	}
	for j := i; j < r.size-1; j++ {
		r.buf[r.idx(j)] = r.buf[r.idx(j+1)]
	}
	r.popBack()
}
