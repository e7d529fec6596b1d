package video

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multicam/internal/camera"
)

func testFrames(t *testing.T, n, w, h int) []*camera.Frame {
	t.Helper()
	frames := make([]*camera.Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := camera.ConvertImage(camera.TestPattern(w, h, 0, i), camera.PixelFormatRGB8)
		require.NoError(t, err)
		f.Index = i
		frames = append(frames, f)
	}
	return frames
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecorder はffmpegなしでRecorderの呼び出しを記録する
type fakeRecorder struct {
	opened    Option
	appended  int
	closed    int
	failAt    int
	failClose error
}

func (r *fakeRecorder) Open(path string, opt Option) error {
	if err := opt.Validate(); err != nil {
		return err
	}
	r.opened = opt
	return os.WriteFile(path, []byte("fake"), 0644)
}

func (r *fakeRecorder) Append(*camera.Frame) error {
	if r.failAt > 0 && r.appended+1 == r.failAt {
		return errors.New("encoder rejected frame")
	}
	r.appended++
	return nil
}

func (r *fakeRecorder) Close() error {
	r.closed++
	return r.failClose
}

func fakeFactory(rec *fakeRecorder) RecorderFactory {
	return func(Codec) (Recorder, error) { return rec, nil }
}

func TestParseCodec(t *testing.T) {
	testCases := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{in: "Uncompressed", want: CodecUncompressed},
		{in: "mjpeg", want: CodecMJPG},
		{in: "MJPG", want: CodecMJPG},
		{in: " h264 ", want: CodecH264},
		{in: "vp9", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCodec(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOptionValidate(t *testing.T) {
	testCases := []struct {
		name    string
		opt     Option
		wantErr bool
	}{
		{name: "非圧縮", opt: AVIOption{FrameRate: 30}},
		{name: "非圧縮 フレームレートなし", opt: AVIOption{}, wantErr: true},
		{name: "MJPG", opt: MJPGOption{FrameRate: 30, Quality: 30}},
		{name: "MJPG 品質なし", opt: MJPGOption{FrameRate: 30}, wantErr: true},
		{name: "MJPG 品質範囲外", opt: MJPGOption{FrameRate: 30, Quality: 101}, wantErr: true},
		{name: "H264", opt: H264Option{FrameRate: 30, Bitrate: 5000000, Width: 64, Height: 48}},
		{name: "H264 ビットレートなし", opt: H264Option{FrameRate: 30, Width: 64, Height: 48}, wantErr: true},
		{name: "H264 サイズなし", opt: H264Option{FrameRate: 30, Bitrate: 5000000}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opt.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMissingOption)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestBuildOption_H264TakesSizeFromFirstFrame(t *testing.T) {
	frames := testFrames(t, 1, 40, 20)
	opt, err := BuildOption(CodecH264, 25, DefaultParams(), frames[0])
	require.NoError(t, err)

	h264, ok := opt.(H264Option)
	require.True(t, ok)
	assert.Equal(t, 40, h264.Width)
	assert.Equal(t, 20, h264.Height)
	assert.Equal(t, 5000000, h264.Bitrate)
	assert.NoError(t, h264.Validate())
}

func TestAVIWriter_RoundTrip(t *testing.T) {
	testCases := []struct {
		name        string
		opt         Option
		handler     string
		compression string
	}{
		{name: "Uncompressed", opt: AVIOption{FrameRate: 30}, handler: "DIB ", compression: "RGB"},
		{name: "MJPG", opt: MJPGOption{FrameRate: 15, Quality: 30}, handler: "MJPG", compression: "MJPG"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out.avi")
			w := NewAVIWriter()
			require.NoError(t, w.Open(path, tc.opt))
			for _, f := range testFrames(t, 5, 33, 17) {
				require.NoError(t, w.Append(f))
			}
			require.NoError(t, w.Close())

			info, err := Probe(path)
			require.NoError(t, err)
			assert.Equal(t, 5, info.Frames)
			assert.Equal(t, 33, info.Width)
			assert.Equal(t, 17, info.Height)
			assert.InDelta(t, tc.opt.Rate(), info.FrameRate, 0.01)
			assert.Equal(t, tc.handler, info.Handler)
			assert.Equal(t, tc.compression, info.Compression)
		})
	}
}

func TestAVIWriter_UncompressedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.avi")
	w := NewAVIWriter()
	require.NoError(t, w.Open(path, AVIOption{FrameRate: 30}))
	for _, f := range testFrames(t, 2, 5, 3) {
		require.NoError(t, w.Append(f))
	}
	require.NoError(t, w.Close())

	st, err := os.Stat(path)
	require.NoError(t, err)
	// ヘッダー + 2チャンク(8+16*3) + idx1(8+32)
	frame := int64(8 + dibStride(5)*3)
	assert.Equal(t, int64(aviHeaderSize)+2*frame+8+32, st.Size())
}

func TestAVIWriter_Errors(t *testing.T) {
	dir := t.TempDir()

	w := NewAVIWriter()
	assert.ErrorIs(t, w.Open(filepath.Join(dir, "h264.avi"), H264Option{FrameRate: 30, Bitrate: 1, Width: 2, Height: 2}), ErrUnsupportedCodec)
	assert.ErrorIs(t, w.Open(filepath.Join(dir, "bad.avi"), MJPGOption{FrameRate: 30}), ErrMissingOption)
	_, err := os.Stat(filepath.Join(dir, "bad.avi"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, w.Open(filepath.Join(dir, "size.avi"), AVIOption{FrameRate: 30}))
	require.NoError(t, w.Append(testFrames(t, 1, 8, 8)[0]))
	assert.Error(t, w.Append(testFrames(t, 1, 4, 4)[0]))
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestProbe_NotAVI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.avi")
	require.NoError(t, os.WriteFile(path, []byte("not a riff file at all"), 0644))
	_, err := Probe(path)
	assert.ErrorIs(t, err, ErrNotAVI)
}

func TestNewRecorderFactory(t *testing.T) {
	auto, err := NewRecorderFactory(EncoderAuto)
	require.NoError(t, err)
	rec, err := auto(CodecMJPG)
	require.NoError(t, err)
	assert.IsType(t, &AVIWriter{}, rec)
	rec, err = auto(CodecH264)
	require.NoError(t, err)
	assert.IsType(t, &FFmpegRecorder{}, rec)

	native, err := NewRecorderFactory(EncoderNative)
	require.NoError(t, err)
	_, err = native(CodecH264)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = NewRecorderFactory("gstreamer")
	assert.Error(t, err)
}

func TestFFmpegRecorder_Args(t *testing.T) {
	r := NewFFmpegRecorder()
	r.path = "/tmp/out.avi"
	r.width, r.height = 64, 48
	r.opt = H264Option{FrameRate: 30, Bitrate: 5000000, Width: 64, Height: 48}

	args := r.args()
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "5000000")
	assert.Contains(t, args, "64x48")
	assert.Equal(t, "/tmp/out.avi", args[len(args)-1])

	r.opt = MJPGOption{FrameRate: 30, Quality: 100}
	assert.Contains(t, r.args(), "mjpeg")
	assert.Equal(t, "2", qualityToQScale(100))
	assert.Equal(t, "31", qualityToQScale(1))
}

func TestExporter_H264(t *testing.T) {
	dir := t.TempDir()
	rec := &fakeRecorder{}
	exporter := NewExporter(dir, DefaultParams(), fakeFactory(rec), testLogger())
	h := &camera.Handle{Index: 0, Serial: "12345"}

	path, err := exporter.Export(h, testFrames(t, 3, 64, 48), CodecH264, 30)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SaveToAvi-H264-12345.avi"), path)
	assert.FileExists(t, path)
	assert.Equal(t, 3, rec.appended)
	assert.Equal(t, 1, rec.closed)

	opt, ok := rec.opened.(H264Option)
	require.True(t, ok)
	assert.Equal(t, 64, opt.Width)
	assert.Equal(t, 48, opt.Height)
}

func TestExporter_EmptyBufferCreatesNoFile(t *testing.T) {
	dir := t.TempDir()
	rec := &fakeRecorder{}
	exporter := NewExporter(dir, DefaultParams(), fakeFactory(rec), testLogger())
	h := &camera.Handle{Index: 1, Serial: "EMPTY"}

	_, err := exporter.Export(h, nil, CodecMJPG, 30)
	assert.True(t, IsExportKind(err, ExportEmpty))
	assert.NoFileExists(t, exporter.FileName("EMPTY", CodecMJPG))
	assert.Nil(t, rec.opened)
}

func TestExporter_MissingOption(t *testing.T) {
	dir := t.TempDir()
	rec := &fakeRecorder{}
	exporter := NewExporter(dir, Params{Quality: 30}, fakeFactory(rec), testLogger())
	h := &camera.Handle{Index: 0, Serial: "NOBITRATE"}

	_, err := exporter.Export(h, testFrames(t, 2, 8, 8), CodecH264, 30)
	assert.True(t, IsExportKind(err, ExportOpenFailed))
	assert.ErrorIs(t, err, ErrMissingOption)
	assert.NoFileExists(t, exporter.FileName("NOBITRATE", CodecH264))

	_, err = exporter.Export(h, testFrames(t, 2, 8, 8), CodecMJPG, 0)
	assert.True(t, IsExportKind(err, ExportOpenFailed))
}

func TestExporter_AppendFailure(t *testing.T) {
	rec := &fakeRecorder{failAt: 2}
	exporter := NewExporter(t.TempDir(), DefaultParams(), fakeFactory(rec), testLogger())
	h := &camera.Handle{Index: 2, Serial: "BROKEN"}

	_, err := exporter.Export(h, testFrames(t, 3, 8, 8), CodecMJPG, 30)
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, ExportAppendFailed, exportErr.Kind)
	assert.Equal(t, 2, exportErr.Camera)
	assert.Equal(t, 1, rec.closed)

	rec = &fakeRecorder{failClose: errors.New("finalize")}
	exporter = NewExporter(t.TempDir(), DefaultParams(), fakeFactory(rec), testLogger())
	_, err = exporter.Export(h, testFrames(t, 1, 8, 8), CodecMJPG, 30)
	assert.True(t, IsExportKind(err, ExportAppendFailed))
}

func TestExporter_ReExportOverwrites(t *testing.T) {
	dir := t.TempDir()
	factory, err := NewRecorderFactory(EncoderNative)
	require.NoError(t, err)
	exporter := NewExporter(dir, DefaultParams(), factory, testLogger())
	h := &camera.Handle{Index: 0, Serial: "SIM00000"}
	frames := testFrames(t, 4, 16, 16)

	first, err := exporter.Export(h, frames, CodecMJPG, 30)
	require.NoError(t, err)
	second, err := exporter.Export(h, frames, CodecMJPG, 30)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	info, err := Probe(second)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Frames)
}

// requireFFmpegEncoder はffmpegと指定エンコーダーがなければテストをスキップする
func requireFFmpegEncoder(t *testing.T, encoder string) {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpegがインストールされていません")
	}
	out, err := exec.Command(path, "-hide_banner", "-encoders").Output()
	if err != nil || !strings.Contains(string(out), encoder) {
		t.Skipf("ffmpegに%sエンコーダーがありません", encoder)
	}
}

func TestExporter_H264WithFFmpeg(t *testing.T) {
	requireFFmpegEncoder(t, "libx264")

	dir := t.TempDir()
	factory, err := NewRecorderFactory(EncoderFFmpeg)
	require.NoError(t, err)
	exporter := NewExporter(dir, DefaultParams(), factory, testLogger())
	h := &camera.Handle{Index: 0, Serial: "X264"}

	path, err := exporter.Export(h, testFrames(t, 3, 64, 48), CodecH264, 30)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SaveToAvi-H264-X264.avi"), path)

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Frames)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
}

func TestFFmpegRecorder_AppendAfterProcessExit(t *testing.T) {
	bin, err := exec.LookPath("true")
	if err != nil {
		t.Skip("trueコマンドがありません")
	}

	// 入力を読まずに終了するプロセスへ書き込むと、パイプのエラーになる
	r := NewFFmpegRecorder()
	r.binary = bin
	require.NoError(t, r.Open(filepath.Join(t.TempDir(), "out.avi"), MJPGOption{FrameRate: 30, Quality: 30}))

	frame := testFrames(t, 1, 512, 512)[0]
	assert.Error(t, r.Append(frame))
	_ = r.Close()
	assert.Nil(t, r.cmd)
}

func TestExporter_CheckOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	exporter := NewExporter(dir, DefaultParams(), fakeFactory(&fakeRecorder{}), testLogger())
	require.NoError(t, exporter.CheckOutputDir())
	assert.DirExists(t, dir)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "確認用ファイルは残さない")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	exporter = NewExporter(file, DefaultParams(), fakeFactory(&fakeRecorder{}), testLogger())
	assert.Error(t, exporter.CheckOutputDir())
}
