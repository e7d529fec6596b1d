package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"multicam/internal/camera"
)

// FFmpegRecorder は生フレームをffmpegの標準入力に流して動画を作る
type FFmpegRecorder struct {
	binary string
	path   string
	opt    Option
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr lockedBuffer
	width  int
	height int
}

// NewFFmpegRecorder は新しいFFmpegRecorderを作成する
func NewFFmpegRecorder() *FFmpegRecorder {
	return &FFmpegRecorder{binary: "ffmpeg"}
}

// Open はオプションを検証する。H264は幅・高さが決まっているのでここでプロセスを起動する
func (r *FFmpegRecorder) Open(path string, opt Option) error {
	if r.cmd != nil {
		return errors.New("ffmpegは既に起動しています")
	}
	if err := opt.Validate(); err != nil {
		return err
	}
	r.path = path
	r.opt = opt

	if o, ok := opt.(H264Option); ok {
		return r.start(o.Width, o.Height)
	}
	return nil
}

// Append はフレームをRGB24でffmpegに書き込む
func (r *FFmpegRecorder) Append(f *camera.Frame) error {
	if r.opt == nil {
		return errors.New("ffmpegレコーダーが開かれていません")
	}
	if r.cmd == nil {
		if err := r.start(f.Width, f.Height); err != nil {
			return err
		}
	}
	if f.Width != r.width || f.Height != r.height {
		return fmt.Errorf("フレームサイズが一致しません: %dx%d (期待値 %dx%d)", f.Width, f.Height, r.width, r.height)
	}
	if _, err := r.stdin.Write(f.RGB()); err != nil {
		return fmt.Errorf("ffmpegへの書き込みに失敗: %w (output: %s)", err, r.stderr.String())
	}
	return nil
}

// Close は入力を閉じてffmpegの終了を待つ
func (r *FFmpegRecorder) Close() error {
	if r.cmd == nil {
		return nil
	}
	defer func() {
		r.cmd = nil
		r.stdin = nil
	}()

	_ = r.stdin.Close()
	if err := r.cmd.Wait(); err != nil {
		return fmt.Errorf("動画の書き出しに失敗: %w (output: %s)", err, r.stderr.String())
	}
	return nil
}

func (r *FFmpegRecorder) start(width, height int) error {
	r.width, r.height = width, height
	r.stderr.Reset()

	cmd := exec.Command(r.binary, r.args()...)
	// ffmpegの標準エラーはexecのgoroutineが書き込む
	cmd.Stderr = &r.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpegの入力パイプ作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}
	r.cmd = cmd
	r.stdin = stdin
	return nil
}

func (r *FFmpegRecorder) args() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", r.width, r.height),
		"-r", strconv.FormatFloat(r.opt.Rate(), 'f', -1, 64),
		"-i", "-",
	}

	switch o := r.opt.(type) {
	case MJPGOption:
		args = append(args,
			"-c:v", "mjpeg",
			"-q:v", qualityToQScale(o.Quality),
			"-pix_fmt", "yuvj420p",
		)
	case H264Option:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "fast",
			"-b:v", strconv.Itoa(o.Bitrate),
			"-pix_fmt", "yuv420p",
		)
	default:
		args = append(args,
			"-c:v", "rawvideo",
			"-pix_fmt", "bgr24",
		)
	}

	return append(args,
		"-f", "avi",
		"-y", // 上書き許可
		r.path,
	)
}

// qualityToQScale はMJPG品質(1-100)をffmpegの -q:v (31-2) に変換する
func qualityToQScale(quality int) string {
	q := 31 - (quality-1)*29/99
	if q < 2 {
		q = 2
	}
	if q > 31 {
		q = 31
	}
	return strconv.Itoa(q)
}

// ValidateFFmpeg はFFmpegが利用可能かチェックする
func ValidateFFmpeg(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("FFmpegが見つかりません。インストールしてください: %w", err)
	}

	return nil
}

// lockedBuffer は書き込み中でも読めるbytes.Buffer
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Reset() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}
