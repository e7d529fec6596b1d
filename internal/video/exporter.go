package video

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"multicam/internal/camera"
)

// ExportErrorKind は書き出し失敗の種類
type ExportErrorKind int

const (
	// ExportEmpty はバッファが空でファイルを作らなかった
	ExportEmpty ExportErrorKind = iota
	// ExportOpenFailed はオプション検証またはファイル作成に失敗した
	ExportOpenFailed
	// ExportAppendFailed はフレーム追加またはファイル確定に失敗した
	ExportAppendFailed
)

func (k ExportErrorKind) String() string {
	switch k {
	case ExportEmpty:
		return "empty"
	case ExportOpenFailed:
		return "open_failed"
	case ExportAppendFailed:
		return "append_failed"
	default:
		return "unknown"
	}
}

// ExportError はカメラ単位の書き出しエラー
type ExportError struct {
	Kind   ExportErrorKind
	Camera int
	Serial string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	switch e.Kind {
	case ExportEmpty:
		return fmt.Sprintf("カメラ %d (%s): 保存する画像がありません", e.Camera, e.Serial)
	case ExportOpenFailed:
		return fmt.Sprintf("カメラ %d (%s): 動画ファイルを開けません (%s): %v", e.Camera, e.Serial, e.Path, e.Err)
	default:
		return fmt.Sprintf("カメラ %d (%s): 動画への追加に失敗 (%s): %v", e.Camera, e.Serial, e.Path, e.Err)
	}
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsExportKind はerrが指定種類のExportErrorか判定する
func IsExportKind(err error, kind ExportErrorKind) bool {
	var exportErr *ExportError
	return errors.As(err, &exportErr) && exportErr.Kind == kind
}

// Job は1台分の書き出し要求。書き出しの間だけ存在する
type Job struct {
	Handle    *camera.Handle
	Frames    []*camera.Frame
	Codec     Codec
	FrameRate float64
}

// Exporter はフレームバッファを動画ファイルに書き出す
type Exporter struct {
	outputDir   string
	params      Params
	newRecorder RecorderFactory
	logger      *slog.Logger
}

// NewExporter は新しいExporterを作成する
func NewExporter(outputDir string, params Params, factory RecorderFactory, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		outputDir:   outputDir,
		params:      params,
		newRecorder: factory,
		logger:      logger,
	}
}

// FileName はシリアル番号とコーデックから出力パスを決める
func (e *Exporter) FileName(serial string, codec Codec) string {
	return filepath.Join(e.outputDir, fmt.Sprintf("SaveToAvi-%s-%s.avi", codec, serial))
}

// CheckOutputDir は出力ディレクトリを作成し、書き込めるか確かめる。
// 撮影後に書き出せないと分かっても手遅れなので、カメラを開く前に呼ぶ
func (e *Exporter) CheckOutputDir() error {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗 (%s): %w", e.outputDir, err)
	}
	f, err := os.CreateTemp(e.outputDir, ".multicam-*")
	if err != nil {
		return fmt.Errorf("出力ディレクトリに書き込めません (%s): %w", e.outputDir, err)
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("出力ディレクトリの確認用ファイルを削除できません (%s): %w", name, err)
	}
	return nil
}

// Run はJobを書き出す
func (e *Exporter) Run(job Job) (string, error) {
	return e.Export(job.Handle, job.Frames, job.Codec, job.FrameRate)
}

// Export はフレームを取得順に1本の動画にまとめる。同じ入力なら同じパスを上書きする
func (e *Exporter) Export(h *camera.Handle, frames []*camera.Frame, codec Codec, frameRate float64) (string, error) {
	path := e.FileName(h.Serial, codec)
	fail := func(kind ExportErrorKind, err error) (string, error) {
		return "", &ExportError{Kind: kind, Camera: h.Index, Serial: h.Serial, Path: path, Err: err}
	}

	if len(frames) == 0 {
		e.logger.Warn("保存する画像がありません", "camera", h.Index, "serial", h.Serial)
		return fail(ExportEmpty, nil)
	}

	opt, err := BuildOption(codec, frameRate, e.params, frames[0])
	if err != nil {
		return fail(ExportOpenFailed, err)
	}
	if err := opt.Validate(); err != nil {
		return fail(ExportOpenFailed, err)
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return fail(ExportOpenFailed, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err))
	}

	rec, err := e.newRecorder(codec)
	if err != nil {
		return fail(ExportOpenFailed, err)
	}
	if err := rec.Open(path, opt); err != nil {
		return fail(ExportOpenFailed, err)
	}

	e.logger.Info("動画の書き出しを開始します",
		"camera", h.Index, "serial", h.Serial, "codec", codec.String(),
		"frames", len(frames), "frame_rate", frameRate, "path", path)

	for i, f := range frames {
		if err := rec.Append(f); err != nil {
			_ = rec.Close()
			return fail(ExportAppendFailed, fmt.Errorf("フレーム %d: %w", i, err))
		}
		e.logger.Debug("画像を追加しました", "camera", h.Index, "frame", f.Index, "position", i)
	}

	if err := rec.Close(); err != nil {
		return fail(ExportAppendFailed, err)
	}

	e.logger.Info("動画を保存しました", "camera", h.Index, "serial", h.Serial, "path", path)
	return path, nil
}
