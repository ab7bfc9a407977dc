package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
)

// inferenceLoop 从推理队列取帧对，检测违章并补充车牌
// 持久化队列满时丢弃新结果
func (p *Pipeline) inferenceLoop(ctx context.Context) {
	for p.running(ctx) {
		pair, ok := p.inferenceQ.Pop(ctx, p.cfg.QueueTimeout)
		if !ok {
			continue
		}
		queueDepth.WithLabelValues(StageInference).Set(float64(p.inferenceQ.Len()))
		p.iterate(p.inference, func() error {
			return p.infer(ctx, pair)
		})
	}
}

func (p *Pipeline) infer(ctx context.Context, pair *framesync.FramePair) error {
	start := time.Now()
	res, err := p.detector.Detect(ctx, pair.Primary)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if !res.HasViolation {
		inferenceDuration.Observe(time.Since(start).Seconds())
		return nil
	}

	d := violation.Detection{
		Category:   res.Best.Category,
		Confidence: res.Best.Confidence,
		BBox:       res.Best.BBox,
		Timestamp:  pair.Timestamp,
		CameraID:   pair.Primary.SourceID,
	}

	// 识别失败不影响检测结果，按无车牌继续
	if pair.HasSecondary() && p.recognizer != nil {
		rr, err := p.recognizer.Recognize(ctx, pair.Secondary, "", false)
		if err != nil {
			p.inference.fail("recognize: " + err.Error())
			p.log.Warn("plate recognize failed", "err", err)
		} else if rr.Identifier != "" {
			d.Identifier = rr.Identifier
			d.IdentifierConfidence = rr.Confidence
		}
	}

	elapsed := time.Since(start)
	inferenceDuration.Observe(elapsed.Seconds())

	result := AIResult{Detection: &d, Pair: pair, ProcessingTime: elapsed}
	if !p.persistQ.TryPush(&result) {
		queueDroppedTotal.WithLabelValues(StagePersistence).Inc()
		p.log.Debug("persistence queue full, result dropped", "category", d.Category, "key", d.TrackingKey())
	}
	queueDepth.WithLabelValues(StagePersistence).Set(float64(p.persistQ.Len()))
	return nil
}
