package capture

import (
	"errors"
	"fmt"

	"multicam/internal/camera"
)

// ErrBufferDrained は書き出し済みのバッファへの操作を表す
var ErrBufferDrained = errors.New("フレームバッファは既に書き出し済みです")

// FrameBuffer は1台のカメラのフレームを取得順に保持する
// 収集中はそのカメラのタスクだけが追加する
type FrameBuffer struct {
	camera  int
	frames  []*camera.Frame
	drained bool
}

// NewFrameBuffer は新しいFrameBufferを作成する
func NewFrameBuffer(cameraIndex, capacity int) *FrameBuffer {
	return &FrameBuffer{
		camera: cameraIndex,
		frames: make([]*camera.Frame, 0, capacity),
	}
}

// Camera はバッファを所有するカメラ番号を返す
func (b *FrameBuffer) Camera() int { return b.camera }

// Append はフレームを末尾に追加する
func (b *FrameBuffer) Append(f *camera.Frame) error {
	if b.drained {
		return ErrBufferDrained
	}
	if f.CameraIndex != b.camera {
		return fmt.Errorf("カメラ %d のフレームはカメラ %d のバッファに追加できません", f.CameraIndex, b.camera)
	}
	b.frames = append(b.frames, f)
	return nil
}

// Len は保持しているフレーム数を返す
func (b *FrameBuffer) Len() int { return len(b.frames) }

// Frames は保持しているフレームを返す。呼び出し側は変更しないこと
func (b *FrameBuffer) Frames() []*camera.Frame { return b.frames }

// Drain はフレームを取り出してバッファを空にする。2回目以降はnilを返す
func (b *FrameBuffer) Drain() []*camera.Frame {
	if b.drained {
		return nil
	}
	b.drained = true
	frames := b.frames
	b.frames = nil
	return frames
}
