package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"multicam/internal/camera"
	"multicam/internal/metrics"
	"multicam/internal/video"
)

// Options は1回の実行の設定
type Options struct {
	Frames           int         // カメラごとの目標フレーム数
	Codec            video.Codec // 書き出すコーデック
	DefaultFrameRate float64     // カメラからフレームレートを読めなかったときの値
	ExportWorkers    int         // 同時に書き出すカメラ数
}

// CameraResult は1台のカメラの実行結果
type CameraResult struct {
	Index     int     `json:"index"`
	Serial    string  `json:"serial"`
	FrameRate float64 `json:"frame_rate"`
	Stats     Stats   `json:"stats"`
	Snapshot  string  `json:"snapshot,omitempty"`
	Video     string  `json:"video,omitempty"`
	Error     string  `json:"error,omitempty"`

	Err error `json:"-"`
}

// Result は実行全体の結果
type Result struct {
	SessionID string         `json:"session_id"`
	Codec     string         `json:"codec"`
	Frames    int            `json:"frames"`
	Cameras   []CameraResult `json:"cameras"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Success は全カメラの書き出しが成功したかを返す
func (r *Result) Success() bool {
	if len(r.Cameras) == 0 {
		return false
	}
	for _, c := range r.Cameras {
		if c.Err != nil {
			return false
		}
	}
	return true
}

// Runner は列挙から書き出しまでの1回の実行を行う
type Runner struct {
	system    camera.System
	collector *Collector
	exporter  *video.Exporter
	tracker   *Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
}

// NewRunner は新しいRunnerを作成する
func NewRunner(system camera.System, collector *Collector, exporter *video.Exporter, tracker *Tracker, m *metrics.Metrics, logger *slog.Logger, opts Options) *Runner {
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExportWorkers <= 0 {
		opts.ExportWorkers = 1
	}
	return &Runner{
		system:    system,
		collector: collector,
		exporter:  exporter,
		tracker:   tracker,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Tracker は実行状態のTrackerを返す
func (r *Runner) Tracker() *Tracker { return r.tracker }

// Run はカメラを開始してフレームを収集し、全カメラを停止してから書き出す
//
// 列挙・初期化・設定の失敗は実行全体を中断する。
// 書き出しの失敗はカメラごとに結果へ記録し、他のカメラは続行する。
func (r *Runner) Run(ctx context.Context) (result *Result, err error) {
	session := camera.NewSession(r.system, r.logger)
	logger := r.logger.With("session_id", session.ID())
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("セッションの終了でエラーが発生しました", "error", cerr)
		}
		r.tracker.finish(err)
	}()

	// 書き出せないと分かるのは撮影後では遅いので、カメラを開く前に確かめる
	if err := r.exporter.CheckOutputDir(); err != nil {
		return nil, err
	}
	r.collector.resetSnapshots()

	handles, err := session.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	r.tracker.begin(session.ID(), handles, r.opts.Frames)
	logger.Info("カメラを検出しました", "count", len(handles), "sdk", r.system.LibraryVersion())

	if err := session.StartAll(ctx); err != nil {
		return nil, err
	}
	r.metrics.SetCamerasActive(len(handles))

	result = &Result{
		SessionID: session.ID(),
		Codec:     r.opts.Codec.String(),
		Frames:    r.opts.Frames,
		StartedAt: time.Now(),
	}

	coordinator := NewCoordinator(r.collector, r.opts.Frames, r.tracker, r.metrics, logger)
	buffers, acqErr := coordinator.Acquire(ctx, handles)

	// 書き出し前に全カメラの取得を止める
	stopErr := session.StopAll()
	r.metrics.SetCamerasActive(0)
	if stopErr != nil {
		logger.Warn("取得の停止でエラーが発生しました", "error", stopErr)
	}
	if acqErr != nil {
		logger.Warn("収集が中断されたため、集めたフレームだけを書き出します", "error", acqErr)
	}

	r.tracker.setPhase(PhaseExporting)
	result.Cameras = r.exportAll(handles, buffers)
	result.Duration = time.Since(result.StartedAt)

	for _, c := range result.Cameras {
		if c.Err != nil {
			logger.Error("動画の書き出しに失敗しました", "camera", c.Index, "serial", c.Serial, "error", c.Err)
		}
	}
	if acqErr != nil {
		return result, acqErr
	}
	if !result.Success() {
		return result, fmt.Errorf("%d台中%d台の書き出しに失敗しました", len(result.Cameras), failedCount(result.Cameras))
	}
	return result, nil
}

// exportAll はカメラごとに書き出す。1台の失敗は他のカメラに影響しない
func (r *Runner) exportAll(handles []*camera.Handle, buffers []*FrameBuffer) []CameraResult {
	stats := r.tracker.Stats()
	results := make([]CameraResult, len(handles))

	var g errgroup.Group
	g.SetLimit(r.opts.ExportWorkers)
	for slot, h := range handles {
		results[slot] = CameraResult{
			Index:     h.Index,
			Serial:    h.Serial,
			FrameRate: r.frameRate(h),
			Snapshot:  r.collector.SnapshotPath(h.Index),
		}
		if slot < len(stats) {
			results[slot].Stats = stats[slot]
		}

		var frames []*camera.Frame
		if slot < len(buffers) && buffers[slot] != nil {
			frames = buffers[slot].Drain()
		}

		g.Go(func() error {
			res := &results[slot]
			path, err := r.exporter.Run(video.Job{
				Handle:    h,
				Frames:    frames,
				Codec:     r.opts.Codec,
				FrameRate: res.FrameRate,
			})
			res.Video, res.Err = path, err
			if err != nil {
				res.Error = err.Error()
			}
			r.metrics.Export(r.opts.Codec.String(), exportResult(err))
			r.tracker.addVideo(VideoStatus{
				Camera:   h.Index,
				Serial:   h.Serial,
				Codec:    r.opts.Codec.String(),
				Path:     path,
				Frames:   len(frames),
				Snapshot: res.Snapshot,
				Error:    res.Error,
			})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) frameRate(h *camera.Handle) float64 {
	if h.FrameRate > 0 {
		return h.FrameRate
	}
	return r.opts.DefaultFrameRate
}

func exportResult(err error) string {
	if err == nil {
		return "success"
	}
	var exportErr *video.ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Kind.String()
	}
	return "error"
}

func failedCount(cameras []CameraResult) int {
	n := 0
	for _, c := range cameras {
		if c.Err != nil {
			n++
		}
	}
	return n
}
