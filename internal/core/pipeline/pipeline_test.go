package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/stretchr/testify/require"
)

const (
	primaryID   = "CAM-WA-001"
	secondaryID = "CAM-PL-001"
)

type fakeCamera struct{}

func (fakeCamera) PullFrame(string) (framesync.RawFrame, bool) {
	return framesync.RawFrame{Data: make([]byte, 6), Width: 2, Height: 2}, true
}

type fakeDetector struct {
	calls      atomic.Int32
	panicFirst atomic.Bool
}

func (f *fakeDetector) Detect(context.Context, *framesync.TimestampedFrame) (DetectResult, error) {
	if f.calls.Add(1) == 1 && f.panicFirst.Load() {
		panic("model crashed")
	}
	return DetectResult{
		HasViolation: true,
		Best:         Detection{Category: violation.CategoryNoHelmet, Confidence: 0.9, BBox: violation.BBox{X2: 2, Y2: 2}},
	}, nil
}

type fakeRecognizer struct {
	plate string
}

func (f fakeRecognizer) Recognize(_ context.Context, _ *framesync.TimestampedFrame, code string, persist bool) (RecognizeResult, error) {
	r := RecognizeResult{Identifier: f.plate, Confidence: 0.8}
	if persist {
		r.SavedPath = "plates/" + code + ".jpg"
	}
	return r, nil
}

type fakeEvidence struct {
	mu        sync.Mutex
	discarded []string
}

func (*fakeEvidence) CaptureAndSave(_ context.Context, _ *framesync.TimestampedFrame, _ violation.BBox, code string) (EvidenceResult, error) {
	return EvidenceResult{SavedPath: "faces/" + code + ".jpg", QualityScore: 0.7}, nil
}

func (f *fakeEvidence) Discard(paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, paths...)
	return nil
}

func (f *fakeEvidence) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.discarded...)
}

type fakeRecorder struct {
	mu    sync.Mutex
	items []violation.AddViolationInput
	calls int
	err   error
}

func (f *fakeRecorder) AddViolation(_ context.Context, in *violation.AddViolationInput) (*violation.Violation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.items = append(f.items, *in)
	return &violation.Violation{ID: int64(len(f.items)), Code: in.Code, ViolationType: in.ViolationType, PlateNumber: in.PlateNumber}, nil
}

func (f *fakeRecorder) snapshot() (calls int, items []violation.AddViolationInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]violation.AddViolationInput(nil), f.items...)
}

func newTestPipeline(cfg Config, det Detector, rec Recorder, opts ...Option) (*Pipeline, *violation.Engine) {
	cfg.PrimaryID = primaryID
	cfg.SecondaryID = secondaryID
	if cfg.CaptureFPS == 0 {
		cfg.CaptureFPS = 100
	}
	cfg.QueueTimeout = 20 * time.Millisecond
	syncer := framesync.NewSynchronizer(framesync.Config{PrimaryID: primaryID, SecondaryID: secondaryID})
	engine := violation.NewEngine(violation.EngineConfig{})
	return New(cfg, fakeCamera{}, syncer, det, engine, rec, opts...), engine
}

func TestPipelineLogsOncePerPlate(t *testing.T) {
	rec := fakeRecorder{}
	p, engine := newTestPipeline(Config{CameraLocation: "Gate 1"}, &fakeDetector{}, &rec,
		WithRecognizer(fakeRecognizer{plate: "ABC123"}),
		WithEvidence(&fakeEvidence{}),
	)
	require.NoError(t, p.Start())
	defer p.Stop(time.Second)

	require.Eventually(t, func() bool {
		_, items := rec.snapshot()
		return len(items) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// 去重窗口内同一车牌不再写入
	require.Eventually(t, func() bool {
		return engine.Stats().DuplicatesPrevented >= 3
	}, 3*time.Second, 10*time.Millisecond)
	_, items := rec.snapshot()
	require.Len(t, items, 1)

	got := items[0]
	require.Equal(t, violation.CategoryNoHelmet, got.ViolationType)
	require.Equal(t, "ABC123", got.PlateNumber)
	require.Equal(t, primaryID, got.CameraID)
	require.Equal(t, "Gate 1", got.CameraLocation)
	require.True(t, got.Synchronized)
	require.Equal(t, "faces/"+got.Code+".jpg", got.RiderImagePath)
	require.Equal(t, "plates/"+got.Code+".jpg", got.PlateImagePath)
	require.InDelta(t, 0.8, got.OCRConfidence, 1e-9)
	require.False(t, got.DetectedAt.IsZero())

	st := p.Status()
	require.True(t, st.Running)
	require.NotNil(t, st.StartedAt)
	require.EqualValues(t, 1, st.Throughput.Persisted)
	require.EqualValues(t, 1, st.Engine.ViolationsLogged)
}

func TestPipelinePersistFailureKeepsRetrying(t *testing.T) {
	rec := fakeRecorder{err: errors.New("db down")}
	ev := fakeEvidence{}
	p, engine := newTestPipeline(Config{}, &fakeDetector{}, &rec,
		WithRecognizer(fakeRecognizer{plate: "ABC123"}),
		WithEvidence(&ev),
	)
	require.NoError(t, p.Start())
	defer p.Stop(time.Second)

	// 写库失败不写入去重缓存，后续检测仍会再次尝试
	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return calls >= 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Zero(t, engine.Stats().ViolationsLogged)

	// 每次写库失败后重新累积校验帧，而不是每帧都写一组证据图
	calls, _ := rec.snapshot()
	require.GreaterOrEqual(t, engine.Stats().VerificationPending, uint64(2*calls))

	// 写库失败的证据图被删除
	require.Eventually(t, func() bool {
		return len(ev.snapshot()) >= 4
	}, 3*time.Second, 10*time.Millisecond)
	discarded := ev.snapshot()
	require.Contains(t, discarded[0], "faces/")
	require.Contains(t, discarded[1], "plates/")

	st := p.Status()
	require.GreaterOrEqual(t, st.Throughput.PersistFailed, uint64(2))
	require.GreaterOrEqual(t, st.Stages[StagePersistence].Errors, uint64(2))
	require.NotNil(t, st.Stages[StagePersistence].LastErrorAt)
}

func TestPipelineRecoversFromPanic(t *testing.T) {
	det := fakeDetector{}
	det.panicFirst.Store(true)
	rec := fakeRecorder{}
	p, _ := newTestPipeline(Config{}, &det, &rec)
	require.NoError(t, p.Start())
	defer p.Stop(time.Second)

	require.Eventually(t, func() bool {
		_, items := rec.snapshot()
		return len(items) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	st := p.Status()
	require.EqualValues(t, 1, st.Stages[StageInference].Errors)
	require.Contains(t, st.Stages[StageInference].LastError, "model crashed")
}

func TestPipelineThrottle(t *testing.T) {
	rec := fakeRecorder{}
	// 无车牌时每累积 3 帧确认一次，由限流控制写入数量
	p, engine := newTestPipeline(Config{MaxViolationsPerMin: 1}, &fakeDetector{}, &rec)
	require.NoError(t, p.Start())
	defer p.Stop(time.Second)

	require.Eventually(t, func() bool {
		return p.Status().Throughput.Throttled >= 2
	}, 3*time.Second, 10*time.Millisecond)

	_, items := rec.snapshot()
	require.Len(t, items, 1)
	require.Empty(t, items[0].PlateNumber)
	require.EqualValues(t, 1, engine.Stats().ViolationsLogged)
}

func TestPipelineStartStop(t *testing.T) {
	rec := fakeRecorder{}
	p, _ := newTestPipeline(Config{}, &fakeDetector{}, &rec)

	require.NoError(t, p.Stop(time.Second), "stop before start")
	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Start(), ErrRunning)

	start := time.Now()
	require.NoError(t, p.Stop(2*time.Second))
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, p.Running())

	st := p.Status()
	require.False(t, st.Running)
	require.Nil(t, st.StartedAt)
	require.Zero(t, st.InferenceQueue.Len)
	require.Zero(t, st.PersistenceQueue.Len)

	// 可再次启动
	require.NoError(t, p.Start())
	require.True(t, p.Running())
	require.NoError(t, p.Stop(2*time.Second))
}
