package pipeline

import (
	"context"
	"time"
)

// captureLoop 按 CaptureFPS 拉取两路帧并配对，配对结果写入推理队列
// 推理队列满时丢弃最旧帧对，保证推理总是处理最新画面
func (p *Pipeline) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(p.cfg.CaptureFPS))
	defer ticker.Stop()

	for p.running(ctx) {
		p.iterate(p.capture, p.captureOnce)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) captureOnce() error {
	for _, id := range [...]string{p.cfg.PrimaryID, p.cfg.SecondaryID} {
		if id == "" {
			continue
		}
		if raw, ok := p.camera.PullFrame(id); ok {
			p.sync.AddFrame(raw, id)
		}
	}

	pair, ok := p.sync.GetSynchronizedPair(0)
	if !ok {
		return nil
	}
	if pair.Synchronized {
		framePairsTotal.WithLabelValues("synchronized").Inc()
	} else {
		framePairsTotal.WithLabelValues("degraded").Inc()
	}

	if p.inferenceQ.PushDropOldest(pair) {
		queueDroppedTotal.WithLabelValues(StageInference).Inc()
	}
	queueDepth.WithLabelValues(StageInference).Set(float64(p.inferenceQ.Len()))
	return nil
}
