package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/ixugo/goddd/pkg/orm"
)

// persistenceLoop 判定、限流、保存证据并写库
func (p *Pipeline) persistenceLoop(ctx context.Context) {
	for p.running(ctx) {
		res, ok := p.persistQ.Pop(ctx, p.cfg.QueueTimeout)
		if !ok {
			p.maybeSweep()
			continue
		}
		queueDepth.WithLabelValues(StagePersistence).Set(float64(p.persistQ.Len()))
		p.iterate(p.persistence, func() error {
			return p.persist(ctx, res)
		})

		if n := p.results.Add(1); n%uint64(p.cfg.StatsEvery) == 0 {
			p.logStats()
		}
		p.maybeSweep()
	}
}

// maybeSweep 按 SweepInterval 清理判定引擎中过期的跟踪记录
func (p *Pipeline) maybeSweep() {
	now := time.Now()
	last := p.lastSweep.Load()
	if now.UnixNano()-last < int64(p.cfg.SweepInterval) {
		return
	}
	if !p.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	histories, cached := p.engine.Sweep(now)
	if histories > 0 || cached > 0 {
		p.log.Debug("engine sweep", "histories", histories, "cached", cached)
	}
}

func (p *Pipeline) persist(ctx context.Context, res *AIResult) error {
	d := res.Detection
	dec := p.engine.Evaluate(ctx, d)
	decisionsTotal.WithLabelValues(dec.Reason).Inc()
	if !dec.ShouldLog {
		return nil
	}

	if p.limiter != nil && !p.limiter.Allow() {
		p.throttled.Add(1)
		p.log.Warn("violation throttled", "code", dec.Code, "key", dec.TrackingKey, "limit_per_min", p.cfg.MaxViolationsPerMin)
		return nil
	}

	start := time.Now()
	defer func() {
		persistDuration.Observe(time.Since(start).Seconds())
	}()

	in := violation.AddViolationInput{
		Code:                dec.Code,
		ViolationType:       dec.Category,
		PlateNumber:         d.Identifier,
		CameraID:            d.CameraID,
		CameraLocation:      p.cfg.CameraLocation,
		DetectionConfidence: d.Confidence,
		OCRConfidence:       d.IdentifierConfidence,
		Synchronized:        res.Pair.Synchronized,
		DetectedAt:          orm.Time{Time: d.Timestamp},
	}
	if !res.Pair.Synchronized {
		in.Notes = "secondary frame unavailable"
	}

	if p.evidence != nil {
		ev, err := p.evidence.CaptureAndSave(ctx, res.Pair.Primary, d.BBox, dec.Code)
		if err != nil {
			p.evidenceFailed.Add(1)
			p.log.Warn("evidence capture failed", "code", dec.Code, "err", err)
		} else {
			in.RiderImagePath = ev.SavedPath
			in.QualityScore = ev.QualityScore
		}
	}

	if d.HasIdentifier() && res.Pair.HasSecondary() && p.recognizer != nil {
		rr, err := p.recognizer.Recognize(ctx, res.Pair.Secondary, dec.Code, true)
		if err != nil {
			p.evidenceFailed.Add(1)
			p.log.Warn("plate evidence failed", "code", dec.Code, "err", err)
		} else {
			in.PlateImagePath = rr.SavedPath
		}
	}

	v, err := p.recorder.AddViolation(ctx, &in)
	if err != nil {
		p.persistFailed.Add(1)
		// 编号随记录失效，证据图不再有引用；跟踪键重新累积校验帧
		if p.evidence != nil {
			if derr := p.evidence.Discard(in.RiderImagePath, in.PlateImagePath); derr != nil {
				p.log.Warn("discard evidence failed", "code", dec.Code, "err", derr)
			}
		}
		p.engine.Reset(dec.TrackingKey)
		return fmt.Errorf("persist violation %s: %w", dec.Code, err)
	}

	p.engine.MarkLogged(d.Identifier, d.Timestamp)
	p.persisted.Add(1)
	p.log.Info("violation logged",
		"id", v.ID,
		"code", v.Code,
		"type", v.ViolationType,
		"plate", v.PlateNumber,
		"synchronized", v.Synchronized,
		"processing_ms", res.ProcessingTime.Milliseconds(),
	)
	return nil
}
