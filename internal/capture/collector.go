package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"multicam/internal/camera"
	"multicam/internal/metrics"
)

// DefaultFrameTimeout は1フレームの取得を待つ上限
const DefaultFrameTimeout = 2 * time.Second

// CollectorConfig はCollectorの設定
type CollectorConfig struct {
	PixelFormat camera.PixelFormat
	Timeout     time.Duration
	Snapshots   *SnapshotWriter // nilなら静止画を保存しない
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Collector は1台のカメラから1フレームを取得して変換する
type Collector struct {
	format    camera.PixelFormat
	timeout   time.Duration
	snapshots *SnapshotWriter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	written map[int]string // この実行で保存した静止画
}

// NewCollector は新しいCollectorを作成する
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.PixelFormat == 0 {
		cfg.PixelFormat = camera.PixelFormatBayerRG8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFrameTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Collector{
		format:    cfg.PixelFormat,
		timeout:   cfg.Timeout,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "collector"),
		written:   make(map[int]string),
	}
}

// Collect は指定番号のフレームを1枚取得し、変換したFrameを返す
//
// 不完全フレームとタイムアウトは ErrIncompleteFrame、変換失敗は *ConversionError を返す。
// どちらも呼び出し側はスキップして次の番号に進めばよい。
// ctx自体がキャンセルされた場合だけ ctx.Err() を返す。
func (c *Collector) Collect(ctx context.Context, h *camera.Handle, index int) (*camera.Frame, error) {
	fctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	img, err := h.Device().NextImage(fctx)
	c.metrics.ObserveRetrieval(h.Index, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		timeout := errors.Is(err, context.DeadlineExceeded)
		result := metrics.ResultIncomplete
		if timeout {
			result = metrics.ResultTimeout
		}
		c.metrics.Frame(h.Index, result)
		return nil, &IncompleteFrameError{Camera: h.Index, Index: index, Timeout: timeout, Err: err}
	}
	defer img.Release()

	if img.Incomplete() {
		c.metrics.Frame(h.Index, metrics.ResultIncomplete)
		return nil, &IncompleteFrameError{Camera: h.Index, Index: index, Status: img.Status()}
	}

	frame, err := img.Convert(c.format)
	if err != nil {
		c.metrics.Frame(h.Index, metrics.ResultConversion)
		return nil, &ConversionError{Camera: h.Index, Index: index, Err: err}
	}
	frame.CameraIndex = h.Index
	frame.Index = index
	if frame.Timestamp.IsZero() {
		frame.Timestamp = start
	}
	h.Touch()
	c.metrics.Frame(h.Index, metrics.ResultCollected)

	if index == 0 && c.snapshots != nil {
		path, err := c.snapshots.Write(frame)
		if err != nil {
			c.logger.Warn("静止画の保存に失敗しました", "camera", h.Index, "error", err)
		} else {
			c.mu.Lock()
			c.written[h.Index] = path
			c.mu.Unlock()
			c.logger.Info("静止画を保存しました", "camera", h.Index, "path", path)
		}
	}

	return frame, nil
}

// SnapshotPath はこの実行で保存したカメラの静止画パスを返す。保存していなければ空文字
//
// 以前の実行で残ったファイルは返さない
func (c *Collector) SnapshotPath(cameraIndex int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written[cameraIndex]
}

// resetSnapshots は前回の実行で保存した静止画の記録を消す
func (c *Collector) resetSnapshots() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.written)
}
