package camera

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive    Status = "inactive"    // 未初期化
	StatusInitialized Status = "initialized" // 初期化済み（取得前）
	StatusActive      Status = "active"      // 取得中
	StatusStopped     Status = "stopped"     // 取得停止済み
	StatusError       Status = "error"       // エラーが発生
)

// AcquisitionMode は取得モードノードの値
type AcquisitionMode string

const (
	AcquisitionContinuous  AcquisitionMode = "Continuous"
	AcquisitionSingleFrame AcquisitionMode = "SingleFrame"
	AcquisitionMultiFrame  AcquisitionMode = "MultiFrame"
)

// PixelFormat は変換後フレームのピクセルフォーマット
type PixelFormat int

const (
	PixelFormatMono8 PixelFormat = iota + 1
	PixelFormatRGB8
	PixelFormatBGR8
	PixelFormatBayerRG8
)

// String はフォーマット名を返す
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatMono8:
		return "Mono8"
	case PixelFormatRGB8:
		return "RGB8"
	case PixelFormatBGR8:
		return "BGR8"
	case PixelFormatBayerRG8:
		return "BayerRG8"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(p))
	}
}

// BytesPerPixel は1画素あたりのバイト数を返す
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB8, PixelFormatBGR8:
		return 3
	case PixelFormatMono8, PixelFormatBayerRG8:
		return 1
	default:
		return 0
	}
}

// ParsePixelFormat は設定値の文字列をPixelFormatに変換する
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mono8", "gray", "grey":
		return PixelFormatMono8, nil
	case "rgb8", "rgb":
		return PixelFormatRGB8, nil
	case "bgr8", "bgr":
		return PixelFormatBGR8, nil
	case "bayerrg8", "bayer":
		return PixelFormatBayerRG8, nil
	default:
		return 0, fmt.Errorf("サポートされていないピクセルフォーマット: %s", s)
	}
}

// DeviceInfo はトランスポート層から取得できるデバイス情報
type DeviceInfo struct {
	Device       string       // デバイスパス（例: /dev/video0）
	Name         string       // デバイス名
	Driver       string       // ドライバー名
	SerialNumber string       // シリアル番号
	Vendor       string       // ベンダー名
	Model        string       // モデル名
	Resolutions  []Resolution // サポートされる解像度
	Formats      []string     // サポートされるフォーマット
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int // 幅
	Height int // 高さ
}

// Camera はHandleの読み取り専用スナップショット
type Camera struct {
	Index     int       `json:"index"`
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Device    string    `json:"device"`
	FrameRate float64   `json:"frame_rate"`
	Status    Status    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

// System はカメラSDK全体を表す。使用後は Release で解放する
type System interface {
	// LibraryVersion はSDKのバージョン文字列を返す
	LibraryVersion() string

	// Cameras は接続されているデバイスを列挙する
	Cameras(ctx context.Context) ([]Device, error)

	// Release はSDKを解放する
	Release() error
}

// Device は物理カメラ1台に対するSDK操作
type Device interface {
	Info() DeviceInfo

	// Init / DeInit はデバイスセッションを開く・閉じる
	Init(ctx context.Context) error
	DeInit() error

	// SetAcquisitionMode は取得モードノードに書き込む。
	// ノードがない場合は ErrNodeUnavailable、書き込めない場合は ErrNodeNotWritable
	SetAcquisitionMode(mode AcquisitionMode) error

	// AcquisitionFrameRate は現在のフレームレート(Hz)を返す
	AcquisitionFrameRate() (float64, error)

	BeginAcquisition(ctx context.Context) error
	EndAcquisition() error

	// NextImage は次のフレームを待つ。ctxの期限で打ち切られる
	NextImage(ctx context.Context) (Image, error)
}

// Image はSDKが所有する取得済みフレーム
type Image interface {
	Width() int
	Height() int
	Incomplete() bool
	Status() int

	// Convert は指定フォーマットに変換した独立したFrameを返す
	Convert(format PixelFormat) (*Frame, error)

	// Release はバッファをSDKに返却する。変換の成否に関わらず必ず呼ぶ
	Release()
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}
