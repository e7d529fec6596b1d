//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// V4L2Config はV4L2バックエンドの設定
type V4L2Config struct {
	Devices []string // 空の場合は自動検出
	Width   int
	Height  int
	FPS     int
}

// V4L2System はgo4vlを使ってUSBカメラからMJPEGフレームを取得する
type V4L2System struct {
	discovery Discovery
	config    V4L2Config
}

// NewV4L2System は新しいV4L2Systemを作成する
func NewV4L2System(discovery Discovery, config V4L2Config) *V4L2System {
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}
	return &V4L2System{discovery: discovery, config: config}
}

// LibraryVersion はバックエンド名を返す
func (s *V4L2System) LibraryVersion() string { return "v4l2/go4vl" }

// Cameras は設定されたデバイス、または検出したデバイスを返す
func (s *V4L2System) Cameras(ctx context.Context) ([]Device, error) {
	paths := s.config.Devices
	if len(paths) == 0 {
		found, err := s.discovery.ScanDevices(ctx)
		if err != nil {
			return nil, err
		}
		paths = found
	}

	devices := make([]Device, 0, len(paths))
	for _, path := range paths {
		info, err := s.discovery.GetDeviceInfo(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("デバイス情報の取得に失敗 (%s): %w", path, err)
		}
		devices = append(devices, &v4l2Device{info: *info, config: s.config})
	}
	return devices, nil
}

// Release は何もしない。デバイスは各 DeInit で閉じる
func (s *V4L2System) Release() error { return nil }

type v4l2Device struct {
	info   DeviceInfo
	config V4L2Config

	mu     sync.Mutex
	dev    *device.Device
	format v4l2.PixFormat
	cancel context.CancelFunc
}

func (d *v4l2Device) Info() DeviceInfo { return d.info }

func (d *v4l2Device) Init(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev != nil {
		return ErrDeviceBusy
	}

	opts := []device.Option{
		device.WithBufferSize(4),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(d.config.Width),
			Height:      uint32(d.config.Height),
		}),
	}
	if d.config.FPS > 0 {
		opts = append(opts, device.WithFPS(uint32(d.config.FPS)))
	}

	dev, err := device.Open(d.info.Device, opts...)
	if err != nil {
		return fmt.Errorf("%s を開けません: %w", d.info.Device, err)
	}
	format, err := dev.GetPixFormat()
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("ピクセルフォーマットの取得に失敗: %w", err)
	}

	d.dev = dev
	d.format = format
	return nil
}

func (d *v4l2Device) DeInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return ErrNotInitialized
	}
	err := d.dev.Close()
	d.dev = nil
	return err
}

// SetAcquisitionMode はストリーミングI/Oが常に連続取得のため、それ以外を拒否する
func (d *v4l2Device) SetAcquisitionMode(mode AcquisitionMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return ErrNodeUnavailable
	}
	if mode != AcquisitionContinuous {
		return ErrNodeNotWritable
	}
	return nil
}

func (d *v4l2Device) AcquisitionFrameRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return 0, ErrNotInitialized
	}
	fps, err := d.dev.GetFrameRate()
	if err != nil {
		return 0, err
	}
	return float64(fps), nil
}

func (d *v4l2Device) BeginAcquisition(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev == nil {
		return ErrNotInitialized
	}
	// ストリームは EndAcquisition まで続くため、呼び出し元のctxとは切り離す
	streamCtx, cancel := context.WithCancel(context.Background())
	if err := d.dev.Start(streamCtx); err != nil {
		cancel()
		return err
	}
	d.cancel = cancel
	return nil
}

func (d *v4l2Device) EndAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel == nil {
		return ErrNotAcquiring
	}
	d.cancel()
	d.cancel = nil
	return d.dev.Stop()
}

func (d *v4l2Device) NextImage(ctx context.Context) (Image, error) {
	d.mu.Lock()
	dev := d.dev
	format := d.format
	d.mu.Unlock()

	if dev == nil {
		return nil, ErrNotInitialized
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-dev.GetOutput():
		if !ok {
			return nil, errors.New("ストリームが終了しました")
		}
		// ドライバーのバッファは再利用されるためコピーする
		data := make([]byte, len(frame))
		copy(data, frame)
		return &v4l2Image{
			data:   data,
			width:  int(format.Width),
			height: int(format.Height),
		}, nil
	}
}

type v4l2Image struct {
	data   []byte
	width  int
	height int
}

func (i *v4l2Image) Width() int  { return i.width }
func (i *v4l2Image) Height() int { return i.height }

// Incomplete は空バッファ、またはJPEGヘッダーが読めないフレームを不完全とみなす
func (i *v4l2Image) Incomplete() bool {
	if len(i.data) == 0 {
		return true
	}
	_, err := jpeg.DecodeConfig(bytes.NewReader(i.data))
	return err != nil
}

func (i *v4l2Image) Status() int {
	if i.Incomplete() {
		return 1
	}
	return 0
}

func (i *v4l2Image) Convert(format PixelFormat) (*Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(i.data))
	if err != nil {
		return nil, fmt.Errorf("MJPEGのデコードに失敗: %w", err)
	}
	return ConvertImage(img, format)
}

func (i *v4l2Image) Release() { i.data = nil }
