// Package rpc 外部检测/识别服务客户端
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gowvp/icapture/internal/core/framesync"
	"github.com/gowvp/icapture/internal/core/pipeline"
	"github.com/gowvp/icapture/internal/core/violation"
	"github.com/gowvp/icapture/pkg/ffwork"
)

const uploadQuality = 90

var (
	_ pipeline.Detector   = (*AnalysisClient)(nil)
	_ pipeline.Recognizer = (*AnalysisClient)(nil)
)

// PlateSaver 保存车牌证据图
type PlateSaver interface {
	SavePlate(ctx context.Context, frame *framesync.TimestampedFrame, bbox violation.BBox, code string) (pipeline.EvidenceResult, error)
}

// AnalysisClient 以 JPEG 上传帧，调用 /detect 与 /recognize
type AnalysisClient struct {
	url   string
	cli   *http.Client
	saver PlateSaver
}

type recognizeResponse struct {
	Identifier string         `json:"identifier"`
	Confidence float64        `json:"confidence"`
	BBox       violation.BBox `json:"bbox"`
}

// NewAnalysisClient 创建客户端，saver 为 nil 时不保存车牌图
func NewAnalysisClient(url string, timeout time.Duration, saver PlateSaver) *AnalysisClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AnalysisClient{
		url:   strings.TrimRight(url, "/"),
		saver: saver,
		cli: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        30,
				MaxIdleConnsPerHost: 30,
				MaxConnsPerHost:     100,
			},
		},
	}
}

// Detect implements pipeline.Detector.
func (a *AnalysisClient) Detect(ctx context.Context, frame *framesync.TimestampedFrame) (pipeline.DetectResult, error) {
	var out pipeline.DetectResult
	err := a.postFrame(ctx, "/detect", frame, nil, &out)
	return out, err
}

// Recognize implements pipeline.Recognizer.
// persist 为 true 且识别出车牌时，按服务返回的车牌框保存证据图
func (a *AnalysisClient) Recognize(ctx context.Context, frame *framesync.TimestampedFrame, contextCode string, persist bool) (pipeline.RecognizeResult, error) {
	var resp recognizeResponse
	headers := map[string]string{}
	if contextCode != "" {
		headers["X-Violation-Code"] = contextCode
	}
	if err := a.postFrame(ctx, "/recognize", frame, headers, &resp); err != nil {
		return pipeline.RecognizeResult{}, err
	}

	out := pipeline.RecognizeResult{
		Identifier: strings.ToUpper(strings.TrimSpace(resp.Identifier)),
		Confidence: resp.Confidence,
	}
	if !persist || out.Identifier == "" || a.saver == nil {
		return out, nil
	}
	ev, err := a.saver.SavePlate(ctx, frame, resp.BBox, contextCode)
	if err != nil {
		return out, fmt.Errorf("save plate: %w", err)
	}
	out.SavedPath = ev.SavedPath
	return out, nil
}

func (a *AnalysisClient) postFrame(ctx context.Context, path string, frame *framesync.TimestampedFrame, headers map[string]string, out any) error {
	if frame == nil {
		return fmt.Errorf("frame is nil")
	}
	img, err := ffwork.YCbCr(frame.Data, frame.Width, frame.Height)
	if err != nil {
		return err
	}
	var body bytes.Buffer
	if err := ffwork.EncodeJPEG(&body, img, uploadQuality); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+path, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Camera-ID", frame.SourceID)
	req.Header.Set("X-Frame-Timestamp", fmt.Sprint(frame.Timestamp.UnixMilli()))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("analysis %s failed with status %d: %s", path, resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Close 关闭空闲连接
func (a *AnalysisClient) Close() {
	a.cli.CloseIdleConnections()
}
