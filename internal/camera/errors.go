package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDevicesFound はカメラが1台も検出されなかったことを表す。再試行しない
	ErrNoDevicesFound = errors.New("カメラが検出されませんでした")

	ErrNodeUnavailable    = errors.New("ノードが利用できません")
	ErrNodeNotWritable    = errors.New("ノードに書き込めません")
	ErrDeviceBusy         = errors.New("デバイスは他のセッションが使用中です")
	ErrNotInitialized     = errors.New("デバイスが初期化されていません")
	ErrAlreadyInitialized = errors.New("デバイスは既に初期化されています")
	ErrNotAcquiring       = errors.New("取得が開始されていません")
	ErrEmptyImage         = errors.New("画像サイズが0です")
	ErrSessionClosed      = errors.New("セッションは既に閉じられています")
)

// InitializationError はデバイスの初期化（または取得開始）に失敗したことを表す。実行全体を中断する
type InitializationError struct {
	Index  int
	Serial string
	Op     string
	Err    error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("カメラ %d (%s) の%sに失敗: %v", e.Index, e.Serial, e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ConfigurationError は取得モードを連続取得に設定できなかったことを表す。実行全体を中断する
type ConfigurationError struct {
	Index  int
	Serial string
	Node   string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("カメラ %d (%s) の %s を設定できません: %v", e.Index, e.Serial, e.Node, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
