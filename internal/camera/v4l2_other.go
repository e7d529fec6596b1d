//go:build !linux

package camera

import (
	"context"
	"errors"
)

// V4L2Config はV4L2バックエンドの設定
type V4L2Config struct {
	Devices []string
	Width   int
	Height  int
	FPS     int
}

// V4L2System はLinux以外では利用できない
type V4L2System struct{}

// NewV4L2System はLinux以外ではデバイスを列挙できないSystemを返す
func NewV4L2System(_ Discovery, _ V4L2Config) *V4L2System { return &V4L2System{} }

func (s *V4L2System) LibraryVersion() string { return "v4l2/unsupported" }

func (s *V4L2System) Cameras(_ context.Context) ([]Device, error) {
	return nil, errors.New("V4L2バックエンドはLinuxのみ対応しています")
}

func (s *V4L2System) Release() error { return nil }
