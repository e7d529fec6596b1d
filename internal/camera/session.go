package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle は1台の物理カメラに対するセッション内の参照
// Index と Serial は列挙時に確定し、以降変わらない
type Handle struct {
	Index  int
	Serial string
	Name   string

	// FrameRate は StartAll で読み取った取得フレームレート (Hz)
	FrameRate float64

	device Device
	info   DeviceInfo

	mu          sync.RWMutex
	status      Status
	initialized bool
	acquiring   bool
	lastSeen    time.Time
}

// Device はSDKのデバイスを返す
func (h *Handle) Device() Device { return h.device }

// Info は列挙時に取得したデバイス情報を返す
func (h *Handle) Info() DeviceInfo { return h.info }

// Status は現在の状態を取得する
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Touch は最後にフレームを確認した時刻を更新する
func (h *Handle) Touch() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()
}

// Snapshot は現在の状態のコピーを返す
func (h *Handle) Snapshot() Camera {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Camera{
		Index:     h.Index,
		Serial:    h.Serial,
		Name:      h.Name,
		Device:    h.info.Device,
		FrameRate: h.FrameRate,
		Status:    h.status,
		LastSeen:  h.lastSeen,
	}
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Session はSystemから列挙したカメラ群のライフサイクルを管理する
type Session struct {
	system System
	logger *slog.Logger
	id     string

	mu       sync.Mutex
	handles  []*Handle
	released bool
}

// NewSession は新しいSessionを作成する
func NewSession(system System, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		system: system,
		id:     id,
		logger: logger.With("component", "session", "session_id", id),
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string { return s.id }

// Handles は列挙済みのHandle一覧を返す
func (s *Session) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Cameras は全Handleのスナップショットを返す
func (s *Session) Cameras() []Camera {
	handles := s.Handles()
	cameras := make([]Camera, 0, len(handles))
	for _, h := range handles {
		cameras = append(cameras, h.Snapshot())
	}
	return cameras
}

// Enumerate はデバイスを列挙してHandleを作成する
// 0台の場合は ErrNoDevicesFound を返し、初期化は一切行わない
func (s *Session) Enumerate(ctx context.Context) ([]*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrSessionClosed
	}

	devices, err := s.system.Cameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("デバイスの列挙に失敗: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}

	handles := make([]*Handle, 0, len(devices))
	for i, dev := range devices {
		info := dev.Info()
		serial := info.SerialNumber
		if serial == "" {
			serial = fmt.Sprintf("cam%d", i)
		}
		name := info.Name
		if name == "" {
			name = fmt.Sprintf("カメラ %d", i)
		}
		handles = append(handles, &Handle{
			Index:    i,
			Serial:   serial,
			Name:     name,
			device:   dev,
			info:     info,
			status:   StatusInactive,
			lastSeen: time.Now(),
		})
	}
	s.handles = handles

	s.logger.Info("カメラを検出しました", "count", len(handles), "library_version", s.system.LibraryVersion())
	out := make([]*Handle, len(handles))
	copy(out, handles)
	return out, nil
}

// Initialize はデバイスセッションを開く
func (s *Session) Initialize(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.initialized {
		return &InitializationError{Index: h.Index, Serial: h.Serial, Op: "初期化", Err: ErrAlreadyInitialized}
	}
	if err := h.device.Init(ctx); err != nil {
		h.status = StatusError
		return &InitializationError{Index: h.Index, Serial: h.Serial, Op: "初期化", Err: err}
	}

	h.initialized = true
	h.status = StatusInitialized
	s.logger.Debug("カメラを初期化しました", "camera", h.Index, "serial", h.Serial)
	return nil
}

// ConfigureContinuousMode は取得モードを連続取得に設定する
// 失敗はそのカメラにとって致命的で、実行全体を中断すべきエラーとなる
func (s *Session) ConfigureContinuousMode(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return &ConfigurationError{Index: h.Index, Serial: h.Serial, Node: "AcquisitionMode", Err: ErrNotInitialized}
	}
	if err := h.device.SetAcquisitionMode(AcquisitionContinuous); err != nil {
		h.status = StatusError
		return &ConfigurationError{Index: h.Index, Serial: h.Serial, Node: "AcquisitionMode", Err: err}
	}

	s.logger.Info("取得モードを連続取得に設定しました", "camera", h.Index)
	return nil
}

// BeginAcquisition は取得を開始する。EndAcquisition と対で呼ぶ
func (s *Session) BeginAcquisition(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return &InitializationError{Index: h.Index, Serial: h.Serial, Op: "取得開始", Err: ErrNotInitialized}
	}
	if h.acquiring {
		return nil
	}
	if err := h.device.BeginAcquisition(ctx); err != nil {
		h.status = StatusError
		return &InitializationError{Index: h.Index, Serial: h.Serial, Op: "取得開始", Err: err}
	}

	h.acquiring = true
	h.status = StatusActive
	s.logger.Info("取得を開始しました", "camera", h.Index)
	return nil
}

// EndAcquisition は取得を停止する
// 開始していないHandleに対しては警告のみで何もしない
func (s *Session) EndAcquisition(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.endAcquisitionLocked(h)
}

func (s *Session) endAcquisitionLocked(h *Handle) error {
	if !h.acquiring {
		s.logger.Warn("取得が開始されていないカメラの停止要求を無視します", "camera", h.Index)
		return nil
	}

	h.acquiring = false
	if err := h.device.EndAcquisition(); err != nil {
		h.status = StatusError
		return fmt.Errorf("カメラ %d の取得停止に失敗: %w", h.Index, err)
	}
	h.status = StatusStopped
	return nil
}

// Deinitialize はデバイスセッションを解放する
// 初期化に成功したHandleごとにちょうど1回だけSDKのDeInitを呼ぶ
func (s *Session) Deinitialize(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return nil
	}

	var errs []error
	if h.acquiring {
		if err := s.endAcquisitionLocked(h); err != nil {
			errs = append(errs, err)
		}
	}

	h.initialized = false
	if err := h.device.DeInit(); err != nil {
		h.status = StatusError
		errs = append(errs, fmt.Errorf("カメラ %d の解放に失敗: %w", h.Index, err))
	} else if h.status != StatusError {
		h.status = StatusInactive
	}

	s.logger.Debug("カメラを解放しました", "camera", h.Index)
	return errors.Join(errs...)
}

// StartAll は全カメラを初期化・設定し、取得を開始する
// どこかで失敗した場合は、それまでに初期化したカメラをすべて解放してからエラーを返す
func (s *Session) StartAll(ctx context.Context) error {
	for _, h := range s.Handles() {
		if err := s.startOne(ctx, h); err != nil {
			s.logger.Error("カメラの開始に失敗したため実行を中断します", "camera", h.Index, "error", err)
			if cerr := s.releaseAll(); cerr != nil {
				s.logger.Warn("中断時の解放でエラーが発生しました", "error", cerr)
			}
			return err
		}
	}
	return nil
}

func (s *Session) startOne(ctx context.Context, h *Handle) error {
	if err := s.Initialize(ctx, h); err != nil {
		return err
	}
	if err := s.ConfigureContinuousMode(h); err != nil {
		return err
	}

	rate, err := h.device.AcquisitionFrameRate()
	if err != nil {
		s.logger.Warn("フレームレートを取得できません", "camera", h.Index, "error", err)
	} else {
		h.mu.Lock()
		h.FrameRate = rate
		h.mu.Unlock()
	}

	return s.BeginAcquisition(ctx, h)
}

// StopAll は全カメラの取得を停止する
func (s *Session) StopAll() error {
	var errs []error
	for _, h := range s.Handles() {
		h.mu.RLock()
		acquiring := h.acquiring
		h.mu.RUnlock()
		if !acquiring {
			continue
		}
		if err := s.EndAcquisition(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) releaseAll() error {
	var errs []error
	for _, h := range s.Handles() {
		if err := s.Deinitialize(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close は残っている全カメラを解放し、SDKを解放する。複数回呼んでもよい
func (s *Session) Close() error {
	errs := []error{s.releaseAll()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.released = true
		if err := s.system.Release(); err != nil {
			errs = append(errs, fmt.Errorf("SDKの解放に失敗: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DescribeDevices は列挙済みカメラのトランスポート層の情報を書き出す
func (s *Session) DescribeDevices(w io.Writer) error {
	handles := s.Handles()
	if len(handles) == 0 {
		return ErrNoDevicesFound
	}

	fmt.Fprintf(w, "SDK: %s\n", s.system.LibraryVersion())
	for _, h := range handles {
		info := h.Info()
		fmt.Fprintf(w, "*** カメラ %d ***\n", h.Index)
		fmt.Fprintf(w, "  シリアル番号: %s\n", orNA(info.SerialNumber))
		fmt.Fprintf(w, "  デバイス:     %s\n", orNA(info.Device))
		fmt.Fprintf(w, "  名前:         %s\n", orNA(info.Name))
		fmt.Fprintf(w, "  ドライバー:   %s\n", orNA(info.Driver))
		fmt.Fprintf(w, "  ベンダー:     %s\n", orNA(info.Vendor))
		fmt.Fprintf(w, "  モデル:       %s\n", orNA(info.Model))
		if len(info.Formats) > 0 {
			fmt.Fprintf(w, "  フォーマット: %s\n", strings.Join(info.Formats, ", "))
		}
		for _, r := range info.Resolutions {
			fmt.Fprintf(w, "  解像度:       %dx%d\n", r.Width, r.Height)
		}
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
