package capture

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"multicam/internal/camera"
	"multicam/internal/logging"
)

// startedHandles はモックカメラを列挙して取得開始まで進める
func startedHandles(t *testing.T, sys *camera.MockSystem) (*camera.Session, []*camera.Handle) {
	t.Helper()
	ctx := context.Background()
	session := camera.NewSession(sys, logging.Discard())
	handles, err := session.Enumerate(ctx)
	require.NoError(t, err)
	require.NoError(t, session.StartAll(ctx))
	t.Cleanup(func() {
		_ = session.StopAll()
		_ = session.Close()
	})
	return session, handles
}

func TestCollector_Collect(t *testing.T) {
	sys := camera.NewMockSystem(1, 8, 6)
	_, handles := startedHandles(t, sys)
	collector := NewCollector(CollectorConfig{PixelFormat: camera.PixelFormatRGB8, Logger: logging.Discard()})

	frame, err := collector.Collect(context.Background(), handles[0], 7)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.CameraIndex)
	assert.Equal(t, 7, frame.Index)
	assert.Equal(t, 8, frame.Width)
	assert.Equal(t, 6, frame.Height)
	assert.Equal(t, camera.PixelFormatRGB8, frame.Format)
	assert.False(t, frame.Timestamp.IsZero())
	assert.Equal(t, 1, sys.Device(0).Calls().Released)
}

func TestCollector_SkipsAndAlwaysReleases(t *testing.T) {
	testCases := []struct {
		name         string
		setup        func(d *camera.MockDevice)
		check        func(t *testing.T, err error)
		wantReleased int
	}{
		{
			name:  "不完全なフレーム",
			setup: func(d *camera.MockDevice) { d.SetIncomplete(0) },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrIncompleteFrame)
				var incomplete *IncompleteFrameError
				require.ErrorAs(t, err, &incomplete)
				assert.False(t, incomplete.Timeout)
				assert.Equal(t, 1, incomplete.Status)
			},
			wantReleased: 1,
		},
		{
			name:  "変換失敗",
			setup: func(d *camera.MockDevice) { d.SetConvertFailure(0) },
			check: func(t *testing.T, err error) {
				var conv *ConversionError
				require.ErrorAs(t, err, &conv)
				assert.Equal(t, 0, conv.Camera)
				assert.NotErrorIs(t, err, ErrIncompleteFrame)
			},
			wantReleased: 1,
		},
		{
			name:  "タイムアウト",
			setup: func(d *camera.MockDevice) { d.SetStall(0) },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrIncompleteFrame)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				var incomplete *IncompleteFrameError
				require.ErrorAs(t, err, &incomplete)
				assert.True(t, incomplete.Timeout)
			},
			wantReleased: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sys := camera.NewMockSystem(1, 4, 4)
			tc.setup(sys.Device(0))
			_, handles := startedHandles(t, sys)
			collector := NewCollector(CollectorConfig{Timeout: 20 * time.Millisecond, Logger: logging.Discard()})

			frame, err := collector.Collect(context.Background(), handles[0], 0)
			assert.Nil(t, frame)
			tc.check(t, err)
			assert.Equal(t, tc.wantReleased, sys.Device(0).Calls().Released)
		})
	}
}

func TestCollector_CancelledContext(t *testing.T) {
	sys := camera.NewMockSystem(1, 4, 4)
	sys.Device(0).SetStall(0)
	_, handles := startedHandles(t, sys)
	collector := NewCollector(CollectorConfig{Timeout: time.Minute, Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collector.Collect(ctx, handles[0], 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrIncompleteFrame)
}

func TestCollector_SnapshotOnlyForFirstIndex(t *testing.T) {
	dir := t.TempDir()
	snapshots, err := NewSnapshotWriter(dir, SnapshotPNG, 0)
	require.NoError(t, err)

	sys := camera.NewMockSystem(2, 8, 8)
	_, handles := startedHandles(t, sys)
	collector := NewCollector(CollectorConfig{Snapshots: snapshots, Logger: logging.Discard()})

	for _, h := range handles {
		for index := 0; index < 3; index++ {
			_, err := collector.Collect(context.Background(), h, index)
			require.NoError(t, err)
		}
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.FileExists(t, filepath.Join(dir, "snapshot_cam_0.png"))
	assert.FileExists(t, filepath.Join(dir, "snapshot_cam_1.png"))
	assert.Equal(t, filepath.Join(dir, "snapshot_cam_1.png"), collector.SnapshotPath(1))

	// 次の実行では、ファイルが残っていても保存するまでパスを返さない
	collector.resetSnapshots()
	assert.Empty(t, collector.SnapshotPath(1))
	assert.FileExists(t, filepath.Join(dir, "snapshot_cam_1.png"))
}

func TestSnapshotWriter_Formats(t *testing.T) {
	frame, err := camera.ConvertImage(camera.TestPattern(64, 32, 0, 0), camera.PixelFormatBayerRG8)
	require.NoError(t, err)
	frame.CameraIndex = 3

	testCases := []struct {
		format   string
		maxWidth int
		ext      string
		decode   func(f *os.File) (image.Image, error)
		wantW    int
	}{
		{format: "", ext: "jpg", decode: func(f *os.File) (image.Image, error) { return jpeg.Decode(f) }, wantW: 64},
		{format: SnapshotPNG, ext: "png", decode: func(f *os.File) (image.Image, error) { return png.Decode(f) }, wantW: 64},
		{format: SnapshotBMP, ext: "bmp", decode: func(f *os.File) (image.Image, error) { return bmp.Decode(f) }, wantW: 64},
		{format: SnapshotPNG, maxWidth: 16, ext: "png", decode: func(f *os.File) (image.Image, error) { return png.Decode(f) }, wantW: 16},
	}

	for _, tc := range testCases {
		t.Run(tc.ext, func(t *testing.T) {
			w, err := NewSnapshotWriter(t.TempDir(), tc.format, tc.maxWidth)
			require.NoError(t, err)

			path, err := w.Write(frame)
			require.NoError(t, err)
			assert.Equal(t, "snapshot_cam_3."+tc.ext, filepath.Base(path))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer func() {
				_ = f.Close()
			}()
			img, err := tc.decode(f)
			require.NoError(t, err)
			assert.Equal(t, tc.wantW, img.Bounds().Dx())
		})
	}

	_, err = NewSnapshotWriter(t.TempDir(), "tiff", 0)
	assert.Error(t, err)
}

func TestFrameBuffer(t *testing.T) {
	buf := NewFrameBuffer(1, 4)
	assert.Equal(t, 1, buf.Camera())

	require.NoError(t, buf.Append(&camera.Frame{CameraIndex: 1, Index: 0}))
	require.NoError(t, buf.Append(&camera.Frame{CameraIndex: 1, Index: 1}))
	assert.Error(t, buf.Append(&camera.Frame{CameraIndex: 2, Index: 2}))
	assert.Equal(t, 2, buf.Len())

	frames := buf.Drain()
	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0].Index)
	assert.Equal(t, 1, frames[1].Index)

	assert.Nil(t, buf.Drain())
	assert.Equal(t, 0, buf.Len())
	assert.True(t, errors.Is(buf.Append(&camera.Frame{CameraIndex: 1}), ErrBufferDrained))
}
