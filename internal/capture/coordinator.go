package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"multicam/internal/camera"
	"multicam/internal/metrics"
)

// Coordinator は全カメラのフレーム収集をフレーム番号ごとに揃えて進める
//
// カメラごとに1つのgoroutineが取得期間中ずっと動き、容量1のチャネルで
// 番号を受け取る。全カメラがその番号を報告するまで次の番号は配らない。
type Coordinator struct {
	collector *Collector
	frames    int
	tracker   *Tracker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCoordinator は新しいCoordinatorを作成する
func NewCoordinator(collector *Collector, frames int, tracker *Tracker, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		collector: collector,
		frames:    frames,
		tracker:   tracker,
		metrics:   m,
		logger:    logger.With("component", "coordinator"),
	}
}

// Acquire は取得開始済みのカメラから目標数のフレームを収集する
//
// 戻り値のバッファはhandlesと同じ順序で、全タスクの終了後に返す。
// 1フレームの失敗は記録してスキップし、ctxのキャンセルだけがエラーになる。
// キャンセル時もそれまでに集めたバッファは返す。
func (c *Coordinator) Acquire(ctx context.Context, handles []*camera.Handle) ([]*FrameBuffer, error) {
	if len(handles) == 0 {
		return nil, camera.ErrNoDevicesFound
	}

	buffers := make([]*FrameBuffer, len(handles))
	ticks := make([]chan int, len(handles))
	reports := make(chan int, len(handles))

	c.tracker.attach(handles, c.frames)

	g, gctx := errgroup.WithContext(ctx)
	for slot, h := range handles {
		buf := NewFrameBuffer(h.Index, c.frames)
		tick := make(chan int, 1)
		buffers[slot] = buf
		ticks[slot] = tick

		g.Go(func() error {
			return c.run(gctx, slot, h, buf, tick, reports)
		})
	}

	c.metrics.SetTarget(c.frames)
	c.logger.Info("フレーム収集を開始します", "cameras", len(handles), "frames", c.frames)

	dispatchErr := c.dispatch(gctx, ticks, reports)
	for _, tick := range ticks {
		close(tick)
	}

	err := g.Wait()
	if err == nil {
		err = dispatchErr
	}
	if err != nil {
		return buffers, fmt.Errorf("フレーム収集を中断しました: %w", err)
	}

	for _, buf := range buffers {
		c.logger.Info("フレーム収集が完了しました", "camera", buf.Camera(), "frames", buf.Len())
	}
	return buffers, nil
}

// dispatch はフレーム番号を全カメラに配り、全員の報告を待ってから次に進む
func (c *Coordinator) dispatch(ctx context.Context, ticks []chan int, reports <-chan int) error {
	for index := 0; index < c.frames; index++ {
		for _, tick := range ticks {
			select {
			case tick <- index:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for range ticks {
			select {
			case <-reports:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.metrics.SetIndex(index)
		c.tracker.complete(index)
		if (index+1)%100 == 0 {
			c.logger.Debug("フレーム番号が完了しました", "index", index)
		}
	}
	return nil
}

// run は1台のカメラの収集タスク。バッファはこのタスクだけが書き込む
func (c *Coordinator) run(ctx context.Context, slot int, h *camera.Handle, buf *FrameBuffer, tick <-chan int, reports chan<- int) error {
	for index := range tick {
		frame, err := c.collector.Collect(ctx, h, index)
		switch {
		case err == nil:
			if aerr := buf.Append(frame); aerr != nil {
				return aerr
			}
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrIncompleteFrame):
			c.logger.Warn("不完全なフレームをスキップしました", "camera", h.Index, "index", index, "error", err)
		default:
			c.logger.Warn("フレームをスキップしました", "camera", h.Index, "index", index, "error", err)
		}
		c.tracker.record(slot, frame, err)

		select {
		case reports <- slot:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
