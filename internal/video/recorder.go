package video

import (
	"errors"
	"fmt"
	"strings"

	"multicam/internal/camera"
)

// Recorder は動画コンテナへの書き込み口
type Recorder interface {
	// Open はオプションを検証して出力ファイルを開く
	Open(path string, opt Option) error

	// Append はフレームを1枚追加する
	Append(f *camera.Frame) error

	// Close はファイルを確定して閉じる
	Close() error
}

// RecorderFactory はコーデックに応じたRecorderを作る
type RecorderFactory func(codec Codec) (Recorder, error)

// Encoder の種類
const (
	EncoderAuto   = "auto"
	EncoderNative = "native"
	EncoderFFmpeg = "ffmpeg"
)

// ErrUnsupportedCodec はRecorderがコーデックに対応していないことを表す
var ErrUnsupportedCodec = errors.New("このエンコーダーはコーデックに対応していません")

// NewRecorderFactory はエンコーダー名からRecorderFactoryを作る
// auto は非圧縮・MJPGをnative、H264をffmpegで書き出す
func NewRecorderFactory(encoder string) (RecorderFactory, error) {
	switch strings.ToLower(encoder) {
	case "", EncoderAuto:
		return func(codec Codec) (Recorder, error) {
			if codec == CodecH264 {
				return NewFFmpegRecorder(), nil
			}
			return NewAVIWriter(), nil
		}, nil
	case EncoderNative:
		return func(codec Codec) (Recorder, error) {
			if codec == CodecH264 {
				return nil, fmt.Errorf("%w: native/%s", ErrUnsupportedCodec, codec)
			}
			return NewAVIWriter(), nil
		}, nil
	case EncoderFFmpeg:
		return func(Codec) (Recorder, error) {
			return NewFFmpegRecorder(), nil
		}, nil
	default:
		return nil, fmt.Errorf("不明なエンコーダー: %s", encoder)
	}
}
