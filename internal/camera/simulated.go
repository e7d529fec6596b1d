package camera

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SimulatedConfig はシミュレーションカメラの設定
type SimulatedConfig struct {
	Count          int     // カメラ台数
	Width          int     // 画像幅
	Height         int     // 画像高さ
	FrameRate      float64 // フレームレート (Hz)
	IncompleteRate float64 // 不完全フレームの発生率 (0-1)
	StallRate      float64 // フレームが届かずタイムアウトまで止まる率 (0-1)
	Seed           int64   // 乱数シード
}

// SimulatedSystem はテストパターンを出力する仮想カメラ群
type SimulatedSystem struct {
	config  SimulatedConfig
	devices []Device
}

// NewSimulatedSystem は新しいSimulatedSystemを作成する
func NewSimulatedSystem(config SimulatedConfig) *SimulatedSystem {
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	s := &SimulatedSystem{config: config}
	for i := 0; i < config.Count; i++ {
		s.devices = append(s.devices, &simulatedDevice{
			index:  i,
			config: config,
			rng:    rand.New(rand.NewSource(config.Seed + int64(i))),
		})
	}
	return s
}

// LibraryVersion はシミュレーターのバージョンを返す
func (s *SimulatedSystem) LibraryVersion() string { return "simulated-1.0.0" }

// Cameras は仮想カメラ一覧を返す
func (s *SimulatedSystem) Cameras(_ context.Context) ([]Device, error) {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

// Release は何もしない
func (s *SimulatedSystem) Release() error { return nil }

type simulatedDevice struct {
	index  int
	config SimulatedConfig

	mu          sync.Mutex
	rng         *rand.Rand
	initialized bool
	mode        AcquisitionMode
	limiter     *rate.Limiter
	seq         int
}

func (d *simulatedDevice) Info() DeviceInfo {
	return DeviceInfo{
		Device:       fmt.Sprintf("sim://%d", d.index),
		Name:         fmt.Sprintf("シミュレーションカメラ %d", d.index),
		Driver:       "simulated",
		SerialNumber: fmt.Sprintf("SIM%05d", 10000+d.index),
		Vendor:       "multicam",
		Model:        "TestPattern",
		Resolutions:  []Resolution{{Width: d.config.Width, Height: d.config.Height}},
		Formats:      []string{"RGB8"},
	}
}

func (d *simulatedDevice) Init(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return ErrDeviceBusy
	}
	d.initialized = true
	return nil
}

func (d *simulatedDevice) DeInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	d.initialized = false
	d.limiter = nil
	return nil
}

func (d *simulatedDevice) SetAcquisitionMode(mode AcquisitionMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNodeUnavailable
	}
	d.mode = mode
	return nil
}

func (d *simulatedDevice) AcquisitionFrameRate() (float64, error) {
	return d.config.FrameRate, nil
}

func (d *simulatedDevice) BeginAcquisition(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	d.limiter = rate.NewLimiter(rate.Limit(d.config.FrameRate), 1)
	return nil
}

func (d *simulatedDevice) EndAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiter == nil {
		return ErrNotAcquiring
	}
	d.limiter = nil
	return nil
}

func (d *simulatedDevice) NextImage(ctx context.Context) (Image, error) {
	d.mu.Lock()
	limiter := d.limiter
	if limiter == nil {
		d.mu.Unlock()
		return nil, ErrNotAcquiring
	}
	seq := d.seq
	d.seq++
	incomplete := d.config.IncompleteRate > 0 && d.rng.Float64() < d.config.IncompleteRate
	stall := d.config.StallRate > 0 && d.rng.Float64() < d.config.StallRate
	d.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	// センサーの露光周期を模してフレームレートで待つ。
	// 待ち時間が期限を超えても、期限が来るまでは待ってからタイムアウトを返す
	r := limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			r.Cancel()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &simulatedImage{
		pattern:    TestPattern(d.config.Width, d.config.Height, d.index, seq),
		width:      d.config.Width,
		height:     d.config.Height,
		incomplete: incomplete,
	}, nil
}

type simulatedImage struct {
	pattern    *image.RGBA
	width      int
	height     int
	incomplete bool
}

func (i *simulatedImage) Width() int       { return i.width }
func (i *simulatedImage) Height() int      { return i.height }
func (i *simulatedImage) Incomplete() bool { return i.incomplete }

func (i *simulatedImage) Status() int {
	if i.incomplete {
		return 1
	}
	return 0
}

func (i *simulatedImage) Convert(format PixelFormat) (*Frame, error) {
	if i.pattern == nil {
		return nil, ErrEmptyImage
	}
	return ConvertImage(i.pattern, format)
}

func (i *simulatedImage) Release() { i.pattern = nil }
