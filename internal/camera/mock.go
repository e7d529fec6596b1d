package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockSystem はテスト用のモックSystem実装
type MockSystem struct {
	mu       sync.Mutex
	devices  []*MockDevice
	released int
	version  string
}

// NewMockSystem は指定台数のモックカメラを持つMockSystemを作成する
func NewMockSystem(count, width, height int) *MockSystem {
	m := &MockSystem{version: "mock-1.0.0"}
	for i := 0; i < count; i++ {
		m.devices = append(m.devices, NewMockDevice(i, width, height))
	}
	return m
}

// LibraryVersion はモックのバージョンを返す
func (m *MockSystem) LibraryVersion() string { return m.version }

// Cameras はモックデバイス一覧を返す
func (m *MockSystem) Cameras(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

// Release は解放回数を記録する
func (m *MockSystem) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

// ReleaseCount はReleaseが呼ばれた回数を返す
func (m *MockSystem) ReleaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Device は指定番号のモックデバイスを返す
func (m *MockSystem) Device(i int) *MockDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[i]
}

// MockCalls はモックデバイスへの呼び出し回数
type MockCalls struct {
	Init      int
	DeInit    int
	SetMode   int
	Begin     int
	End       int
	NextImage int
	Released  int
}

// MockDevice はテスト用のモックDevice実装
type MockDevice struct {
	mu        sync.Mutex
	info      DeviceInfo
	width     int
	height    int
	frameRate float64
	calls     MockCalls
	seq       int
	mode      AcquisitionMode

	// テスト制御用
	failInit    error
	failMode    error
	failBegin   error
	failRate    error
	incomplete  map[int]bool
	stall       map[int]bool
	convertFail map[int]bool
}

// NewMockDevice は新しいMockDeviceを作成する
func NewMockDevice(index, width, height int) *MockDevice {
	return &MockDevice{
		info: DeviceInfo{
			Device:       fmt.Sprintf("mock://%d", index),
			Name:         fmt.Sprintf("テストカメラ %d", index+1),
			Driver:       "mock",
			SerialNumber: fmt.Sprintf("MOCK%04d", index),
			Vendor:       "mock",
			Model:        "mock",
			Formats:      []string{"RGB8"},
		},
		width:       width,
		height:      height,
		frameRate:   30,
		incomplete:  make(map[int]bool),
		stall:       make(map[int]bool),
		convertFail: make(map[int]bool),
	}
}

// Info はデバイス情報を返す
func (d *MockDevice) Info() DeviceInfo { return d.info }

// Init はモックの初期化を行う
func (d *MockDevice) Init(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.Init++
	return d.failInit
}

// DeInit はモックの解放を行う
func (d *MockDevice) DeInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.DeInit++
	return nil
}

// SetAcquisitionMode は取得モードを記録する
func (d *MockDevice) SetAcquisitionMode(mode AcquisitionMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.SetMode++
	if d.failMode != nil {
		return d.failMode
	}
	d.mode = mode
	return nil
}

// AcquisitionFrameRate は設定されたフレームレートを返す
func (d *MockDevice) AcquisitionFrameRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRate != nil {
		return 0, d.failRate
	}
	return d.frameRate, nil
}

// BeginAcquisition は取得開始を記録する
func (d *MockDevice) BeginAcquisition(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.Begin++
	return d.failBegin
}

// EndAcquisition は取得停止を記録する
func (d *MockDevice) EndAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls.End++
	return nil
}

// NextImage は次のモックフレームを返す
func (d *MockDevice) NextImage(ctx context.Context) (Image, error) {
	d.mu.Lock()
	seq := d.seq
	d.seq++
	d.calls.NextImage++
	stall := d.stall[seq]
	img := &mockImage{
		device:      d,
		seq:         seq,
		width:       d.width,
		height:      d.height,
		incomplete:  d.incomplete[seq],
		convertFail: d.convertFail[seq],
	}
	d.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return img, nil
}

// Calls は呼び出し回数を返す
func (d *MockDevice) Calls() MockCalls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Mode は最後に設定された取得モードを返す
func (d *MockDevice) Mode() AcquisitionMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetFrameRate はテスト用にフレームレートを設定する
func (d *MockDevice) SetFrameRate(rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frameRate = rate
}

// SetFailInit はテスト用にInit失敗を設定する
func (d *MockDevice) SetFailInit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failInit = err
}

// SetFailMode はテスト用に取得モード設定の失敗を設定する
func (d *MockDevice) SetFailMode(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failMode = err
}

// SetFailBegin はテスト用に取得開始の失敗を設定する
func (d *MockDevice) SetFailBegin(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBegin = err
}

// SetFailFrameRate はテスト用にフレームレート取得の失敗を設定する
func (d *MockDevice) SetFailFrameRate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRate = err
}

// SetIncomplete は指定した取得順のフレームを不完全にする
func (d *MockDevice) SetIncomplete(seqs ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seqs {
		d.incomplete[s] = true
	}
}

// SetStall は指定した取得順でNextImageをタイムアウトまでブロックさせる
func (d *MockDevice) SetStall(seqs ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seqs {
		d.stall[s] = true
	}
}

// SetConvertFailure は指定した取得順のフレーム変換を失敗させる
func (d *MockDevice) SetConvertFailure(seqs ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range seqs {
		d.convertFail[s] = true
	}
}

var errMockConvert = errors.New("モック: 変換に失敗")

type mockImage struct {
	device      *MockDevice
	seq         int
	width       int
	height      int
	incomplete  bool
	convertFail bool
}

func (m *mockImage) Width() int       { return m.width }
func (m *mockImage) Height() int      { return m.height }
func (m *mockImage) Incomplete() bool { return m.incomplete }

func (m *mockImage) Status() int {
	if m.incomplete {
		return 1
	}
	return 0
}

func (m *mockImage) Convert(format PixelFormat) (*Frame, error) {
	if m.convertFail {
		return nil, errMockConvert
	}
	return ConvertImage(TestPattern(m.width, m.height, 0, m.seq), format)
}

func (m *mockImage) Release() {
	m.device.mu.Lock()
	m.device.calls.Released++
	m.device.mu.Unlock()
}
