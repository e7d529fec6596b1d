package capture

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"multicam/internal/camera"
)

// 静止画の形式
const (
	SnapshotJPEG = "jpeg"
	SnapshotPNG  = "png"
	SnapshotBMP  = "bmp"
)

// SnapshotWriter は各カメラの先頭フレームを確認用の静止画として保存する
type SnapshotWriter struct {
	dir      string
	format   string
	quality  int
	maxWidth int
}

// NewSnapshotWriter は新しいSnapshotWriterを作成する
// maxWidth が0より大きい場合、それより幅の広い画像は縮小して保存する
func NewSnapshotWriter(dir, format string, maxWidth int) (*SnapshotWriter, error) {
	format = strings.ToLower(format)
	switch format {
	case "", "jpg", SnapshotJPEG:
		format = SnapshotJPEG
	case SnapshotPNG, SnapshotBMP:
	default:
		return nil, fmt.Errorf("サポートされていない静止画形式: %s", format)
	}
	return &SnapshotWriter{
		dir:      dir,
		format:   format,
		quality:  90,
		maxWidth: maxWidth,
	}, nil
}

// Path はカメラ番号に対応する静止画のパスを返す
func (w *SnapshotWriter) Path(cameraIndex int) string {
	ext := w.format
	if ext == SnapshotJPEG {
		ext = "jpg"
	}
	return filepath.Join(w.dir, fmt.Sprintf("snapshot_cam_%d.%s", cameraIndex, ext))
}

// Write はフレームを静止画として保存し、そのパスを返す
func (w *SnapshotWriter) Write(f *camera.Frame) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("静止画ディレクトリの作成に失敗: %w", err)
	}

	path := w.Path(f.CameraIndex)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("静止画ファイルの作成に失敗: %w", err)
	}

	if err := w.encode(out, w.scale(f.Image())); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("静止画のエンコードに失敗: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("静止画ファイルのクローズに失敗: %w", err)
	}
	return path, nil
}

func (w *SnapshotWriter) encode(out io.Writer, img image.Image) error {
	switch w.format {
	case SnapshotPNG:
		return png.Encode(out, img)
	case SnapshotBMP:
		return bmp.Encode(out, img)
	default:
		return jpeg.Encode(out, img, &jpeg.Options{Quality: w.quality})
	}
}

func (w *SnapshotWriter) scale(img image.Image) image.Image {
	b := img.Bounds()
	if w.maxWidth <= 0 || b.Dx() <= w.maxWidth {
		return img
	}
	height := b.Dy() * w.maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w.maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
