package rpc

import (
	"context"
	"encoding/json"
	"image/jpeg"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/gowvp/icapture/pkg/ffwork"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func testFrame() *framesync.TimestampedFrame {
	return &framesync.TimestampedFrame{
		Data:      make([]byte, ffwork.FrameSize(16, 8)),
		Width:     16,
		Height:    8,
		Timestamp: time.Now(),
		SourceID:  "CAM-PL-001",
	}
}

type fakeSaver struct {
	bbox violation.BBox
	code string
}

func (f *fakeSaver) SavePlate(_ context.Context, _ *framesync.TimestampedFrame, bbox violation.BBox, code string) (pipeline.EvidenceResult, error) {
	f.bbox, f.code = bbox, code
	return pipeline.EvidenceResult{SavedPath: "plates/20250301/" + code + ".jpg"}, nil
}

func newAnalysisServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /detect", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "image/jpeg" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		if _, err := jpeg.DecodeConfig(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"has_violation": true,
			"best": map[string]any{
				"category":   "no_helmet",
				"confidence": 0.91,
				"bbox":       map[string]int{"x1": 1, "y1": 2, "x2": 10, "y2": 7},
			},
		})
	})
	mux.HandleFunc("POST /recognize", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Camera-ID") != "CAM-PL-001" {
			http.Error(w, "missing camera", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"identifier": " abc123 ",
			"confidence": 0.77,
			"bbox":       map[string]int{"x1": 2, "y1": 2, "x2": 12, "y2": 6},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalysisDetect(t *testing.T) {
	srv := newAnalysisServer(t)
	cli := NewAnalysisClient(srv.URL+"/", time.Second, nil)
	defer cli.Close()

	res, err := cli.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.True(t, res.HasViolation)
	require.Equal(t, "no_helmet", res.Best.Category)
	require.InDelta(t, 0.91, res.Best.Confidence, 1e-9)
	require.Equal(t, violation.BBox{X1: 1, Y1: 2, X2: 10, Y2: 7}, res.Best.BBox)
}

func TestAnalysisRecognize(t *testing.T) {
	srv := newAnalysisServer(t)
	saver := fakeSaver{}
	cli := NewAnalysisClient(srv.URL, time.Second, &saver)

	// 推理阶段只识别不保存
	res, err := cli.Recognize(context.Background(), testFrame(), "", false)
	require.NoError(t, err)
	require.Equal(t, "ABC123", res.Identifier)
	require.Empty(t, res.SavedPath)
	require.Empty(t, saver.code)

	res, err = cli.Recognize(context.Background(), testFrame(), "VL-20250301-ABCDEF12", true)
	require.NoError(t, err)
	require.Equal(t, "plates/20250301/VL-20250301-ABCDEF12.jpg", res.SavedPath)
	require.Equal(t, violation.BBox{X1: 2, Y1: 2, X2: 12, Y2: 6}, saver.bbox)
}

func TestAnalysisErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	cli := NewAnalysisClient(srv.URL, time.Second, nil)

	_, err := cli.Detect(context.Background(), testFrame())
	require.ErrorContains(t, err, "503")
	require.ErrorContains(t, err, "model not loaded")

	_, err = cli.Detect(context.Background(), nil)
	require.Error(t, err)

	bad := testFrame()
	bad.Data = bad.Data[:4]
	_, err = cli.Recognize(context.Background(), bad, "", false)
	require.Error(t, err)
}

func TestHealthProbe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	probe, err := NewHealthProbe(lis.Addr().String(), "")
	require.NoError(t, err)
	defer probe.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ok, err := probe.Check(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	ok, err = probe.Check(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}
