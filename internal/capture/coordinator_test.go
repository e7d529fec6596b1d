package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multicam/internal/camera"
	"multicam/internal/logging"
	"multicam/internal/metrics"
	"multicam/internal/video"
)

func TestCoordinator_Acquire(t *testing.T) {
	const frames = 6
	sys := camera.NewMockSystem(3, 8, 8)
	sys.Device(1).SetIncomplete(2, 4)
	sys.Device(2).SetConvertFailure(0)
	_, handles := startedHandles(t, sys)

	tracker := NewTracker()
	collector := NewCollector(CollectorConfig{Logger: logging.Discard()})
	coordinator := NewCoordinator(collector, frames, tracker, metrics.New(), logging.Discard())

	buffers, err := coordinator.Acquire(context.Background(), handles)
	require.NoError(t, err)
	require.Len(t, buffers, 3)

	assert.Equal(t, frames, buffers[0].Len())
	assert.Equal(t, frames-2, buffers[1].Len())
	assert.Equal(t, frames-1, buffers[2].Len())

	for i, buf := range buffers {
		assert.Equal(t, i, buf.Camera())
		assert.LessOrEqual(t, buf.Len(), frames)
		last := -1
		for _, f := range buf.Frames() {
			assert.Equal(t, i, f.CameraIndex, "フレームは所有カメラのバッファにだけ入る")
			assert.Greater(t, f.Index, last, "取得順に並ぶ")
			last = f.Index
		}
		calls := sys.Device(i).Calls()
		assert.Equal(t, frames, calls.NextImage)
		assert.Equal(t, calls.NextImage, calls.Released)
	}

	stats := tracker.Stats()
	assert.Equal(t, Stats{Collected: frames}, stats[0])
	assert.Equal(t, Stats{Collected: frames - 2, Incomplete: 2}, stats[1])
	assert.Equal(t, Stats{Collected: frames - 1, ConversionErrors: 1}, stats[2])

	status := tracker.Status()
	assert.Equal(t, frames, status.Completed)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)

	latest, ok := tracker.Latest(1)
	require.True(t, ok)
	assert.Equal(t, frames-1, latest.Index)
	assert.Equal(t, 1, latest.CameraIndex)
	_, ok = tracker.Latest(7)
	assert.False(t, ok)
}

func TestCoordinator_PerIndexBarrier(t *testing.T) {
	const frames = 10
	sys := camera.NewMockSystem(4, 4, 4)
	_, handles := startedHandles(t, sys)

	tracker := NewTracker()
	var mu sync.Mutex
	var violations []string
	tracker.OnProgress(func(completed, _ int) {
		mu.Lock()
		defer mu.Unlock()
		// 番号が完了した時点で、どのカメラもちょうどその数だけ取得している
		for i := range handles {
			if got := sys.Device(i).Calls().NextImage; got != completed {
				violations = append(violations, fmt.Sprintf("camera %d: %d != %d", i, got, completed))
			}
		}
	})

	collector := NewCollector(CollectorConfig{Logger: logging.Discard()})
	coordinator := NewCoordinator(collector, frames, tracker, nil, logging.Discard())
	_, err := coordinator.Acquire(context.Background(), handles)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violations)
}

func TestCoordinator_StalledCameraDoesNotBlockRun(t *testing.T) {
	const frames = 4
	sys := camera.NewMockSystem(2, 4, 4)
	sys.Device(1).SetStall(1)
	_, handles := startedHandles(t, sys)

	tracker := NewTracker()
	collector := NewCollector(CollectorConfig{Timeout: 20 * time.Millisecond, Logger: logging.Discard()})
	coordinator := NewCoordinator(collector, frames, tracker, nil, logging.Discard())

	buffers, err := coordinator.Acquire(context.Background(), handles)
	require.NoError(t, err)
	assert.Equal(t, frames, buffers[0].Len())
	assert.Equal(t, frames-1, buffers[1].Len())

	stats := tracker.Stats()
	assert.Equal(t, 1, stats[1].Timeouts)
	assert.Equal(t, 1, stats[1].Incomplete)
}

func TestCoordinator_Cancel(t *testing.T) {
	sys := camera.NewMockSystem(2, 4, 4)
	sys.Device(0).SetStall(3)
	_, handles := startedHandles(t, sys)

	ctx, cancel := context.WithCancel(context.Background())
	tracker := NewTracker()
	tracker.OnProgress(func(completed, _ int) {
		if completed == 3 {
			cancel()
		}
	})

	collector := NewCollector(CollectorConfig{Timeout: time.Minute, Logger: logging.Discard()})
	coordinator := NewCoordinator(collector, 100, tracker, nil, logging.Discard())

	buffers, err := coordinator.Acquire(ctx, handles)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, buffers, 2)
	assert.Equal(t, 3, buffers[0].Len())
	assert.LessOrEqual(t, buffers[1].Len(), 4)
}

func TestCoordinator_NoHandles(t *testing.T) {
	coordinator := NewCoordinator(NewCollector(CollectorConfig{}), 1, nil, nil, logging.Discard())
	_, err := coordinator.Acquire(context.Background(), nil)
	assert.ErrorIs(t, err, camera.ErrNoDevicesFound)
}

type runnerFixture struct {
	sys      *camera.MockSystem
	dir      string
	tracker  *Tracker
	runner   *Runner
	exporter *video.Exporter
}

func newRunnerFixture(t *testing.T, cameras, frames int, codec video.Codec, encoder string) *runnerFixture {
	t.Helper()
	return newRunnerFixtureIn(t, t.TempDir(), cameras, frames, codec, encoder)
}

func newRunnerFixtureIn(t *testing.T, dir string, cameras, frames int, codec video.Codec, encoder string) *runnerFixture {
	t.Helper()
	sys := camera.NewMockSystem(cameras, 16, 12)

	snapshots, err := NewSnapshotWriter(dir, SnapshotJPEG, 0)
	require.NoError(t, err)
	factory, err := video.NewRecorderFactory(encoder)
	require.NoError(t, err)

	logger := logging.Discard()
	m := metrics.New()
	tracker := NewTracker()
	collector := NewCollector(CollectorConfig{Snapshots: snapshots, Metrics: m, Logger: logger})
	exporter := video.NewExporter(dir, video.DefaultParams(), factory, logger)
	runner := NewRunner(sys, collector, exporter, tracker, m, logger, Options{
		Frames:           frames,
		Codec:            codec,
		DefaultFrameRate: 30,
		ExportWorkers:    2,
	})
	return &runnerFixture{sys: sys, dir: dir, tracker: tracker, runner: runner, exporter: exporter}
}

func TestRunner_Run(t *testing.T) {
	fx := newRunnerFixture(t, 2, 5, video.CodecMJPG, video.EncoderNative)
	fx.sys.Device(0).SetFrameRate(12.5)
	fx.sys.Device(1).SetFailFrameRate(camera.ErrNodeUnavailable)

	result, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success())
	require.Len(t, result.Cameras, 2)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "MJPG", result.Codec)

	assert.InDelta(t, 12.5, result.Cameras[0].FrameRate, 1e-9)
	assert.InDelta(t, 30.0, result.Cameras[1].FrameRate, 1e-9, "読めない場合は既定のフレームレート")

	for i, c := range result.Cameras {
		assert.Equal(t, fx.exporter.FileName(c.Serial, video.CodecMJPG), c.Video)
		assert.Equal(t, filepath.Join(fx.dir, fmt.Sprintf("snapshot_cam_%d.jpg", i)), c.Snapshot)
		assert.Equal(t, 5, c.Stats.Collected)

		info, err := video.Probe(c.Video)
		require.NoError(t, err)
		assert.Equal(t, 5, info.Frames)

		calls := fx.sys.Device(i).Calls()
		assert.Equal(t, 1, calls.Init)
		assert.Equal(t, 1, calls.DeInit)
		assert.Equal(t, 1, calls.Begin)
		assert.Equal(t, 1, calls.End)
	}
	assert.Equal(t, 1, fx.sys.ReleaseCount())

	status := fx.tracker.Status()
	assert.Equal(t, PhaseDone, status.Phase)
	assert.Len(t, fx.tracker.Videos(), 2)
}

func TestRunner_NoDevices(t *testing.T) {
	fx := newRunnerFixture(t, 0, 5, video.CodecMJPG, video.EncoderNative)

	result, err := fx.runner.Run(context.Background())
	assert.ErrorIs(t, err, camera.ErrNoDevicesFound)
	assert.Nil(t, result)
	assert.Equal(t, 1, fx.sys.ReleaseCount())
	assert.Equal(t, PhaseFailed, fx.tracker.Status().Phase)
}

func TestRunner_ConfigurationFailureAbortsRun(t *testing.T) {
	fx := newRunnerFixture(t, 4, 5, video.CodecMJPG, video.EncoderNative)
	fx.sys.Device(2).SetFailMode(camera.ErrNodeNotWritable)

	result, err := fx.runner.Run(context.Background())
	var cfgErr *camera.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 2, cfgErr.Index)
	assert.Nil(t, result)

	for i := 0; i <= 2; i++ {
		assert.Equal(t, 1, fx.sys.Device(i).Calls().DeInit, "camera %d", i)
		assert.Zero(t, fx.sys.Device(i).Calls().NextImage, "camera %d", i)
	}
	assert.Zero(t, fx.sys.Device(3).Calls().Init)

	entries, err := os.ReadDir(fx.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "中断時は何も書き出さない")
}

func TestRunner_ExportFailureIsIsolated(t *testing.T) {
	// native はH264に対応しないので全カメラの書き出しが失敗する
	fx := newRunnerFixture(t, 2, 3, video.CodecH264, video.EncoderNative)
	fx.sys.Device(1).SetIncomplete(0, 1, 2)

	result, err := fx.runner.Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success())

	assert.True(t, video.IsExportKind(result.Cameras[0].Err, video.ExportOpenFailed))
	assert.True(t, video.IsExportKind(result.Cameras[1].Err, video.ExportEmpty))

	// 静止画は書き出しの結果に関係なく残る
	assert.FileExists(t, filepath.Join(fx.dir, "snapshot_cam_0.jpg"))
	assert.Equal(t, filepath.Join(fx.dir, "snapshot_cam_0.jpg"), result.Cameras[0].Snapshot)
	// 先頭フレームが不完全だったカメラは静止画なし
	assert.Empty(t, result.Cameras[1].Snapshot)
	assert.NoFileExists(t, fx.exporter.FileName(result.Cameras[1].Serial, video.CodecH264))

	for i := 0; i < 2; i++ {
		assert.Equal(t, 1, fx.sys.Device(i).Calls().DeInit)
	}
	assert.Equal(t, PhaseFailed, fx.tracker.Status().Phase)
}

func TestRunner_UnwritableOutputDirAbortsBeforeInit(t *testing.T) {
	// 出力先が通常のファイルなのでディレクトリを作れない
	file := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	fx := newRunnerFixtureIn(t, file, 2, 3, video.CodecMJPG, video.EncoderNative)

	result, err := fx.runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)

	for i := 0; i < 2; i++ {
		calls := fx.sys.Device(i).Calls()
		assert.Zero(t, calls.Init, "camera %d", i)
		assert.Zero(t, calls.NextImage, "camera %d", i)
	}
	assert.Equal(t, PhaseFailed, fx.tracker.Status().Phase)
}

func TestRunner_SnapshotFromEarlierRunIsNotReported(t *testing.T) {
	dir := t.TempDir()

	first := newRunnerFixtureIn(t, dir, 1, 3, video.CodecMJPG, video.EncoderNative)
	result, err := first.runner.Run(context.Background())
	require.NoError(t, err)
	snapshot := filepath.Join(dir, "snapshot_cam_0.jpg")
	require.Equal(t, snapshot, result.Cameras[0].Snapshot)

	// 2回目は先頭フレームが不完全なので静止画を保存しない
	second := newRunnerFixtureIn(t, dir, 1, 3, video.CodecMJPG, video.EncoderNative)
	second.sys.Device(0).SetIncomplete(0)
	result, err = second.runner.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, snapshot, "前回の静止画は残っている")
	assert.Empty(t, result.Cameras[0].Snapshot)
	require.Len(t, second.tracker.Videos(), 1)
	assert.Empty(t, second.tracker.Videos()[0].Snapshot)
}

func TestResult_Success(t *testing.T) {
	assert.False(t, (&Result{}).Success())
	assert.True(t, (&Result{Cameras: []CameraResult{{}, {}}}).Success())
	assert.False(t, (&Result{Cameras: []CameraResult{{}, {Err: errors.New("x")}}}).Success())
}
