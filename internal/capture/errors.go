package capture

import (
	"errors"
	"fmt"
)

// ErrIncompleteFrame はフレームが不完全で破棄されたことを表す。収集は続行する
var ErrIncompleteFrame = errors.New("不完全なフレームです")

// IncompleteFrameError は破棄したフレームの詳細
type IncompleteFrameError struct {
	Camera  int
	Index   int
	Status  int
	Timeout bool  // 取得がタイムアウトした
	Err     error // 取得時のエラー
}

func (e *IncompleteFrameError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("カメラ %d フレーム %d: 取得がタイムアウトしました", e.Camera, e.Index)
	case e.Err != nil:
		return fmt.Sprintf("カメラ %d フレーム %d: 取得に失敗: %v", e.Camera, e.Index, e.Err)
	default:
		return fmt.Sprintf("カメラ %d フレーム %d: 不完全なフレーム (status %d)", e.Camera, e.Index, e.Status)
	}
}

func (e *IncompleteFrameError) Is(target error) bool {
	return target == ErrIncompleteFrame
}

func (e *IncompleteFrameError) Unwrap() error {
	return e.Err
}

// ConversionError はピクセルフォーマット変換の失敗。収集は続行する
type ConversionError struct {
	Camera int
	Index  int
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("カメラ %d フレーム %d: 変換に失敗: %v", e.Camera, e.Index, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
