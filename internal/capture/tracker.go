package capture

import (
	"errors"
	"sync"
	"time"

	"multicam/internal/camera"
)

// Phase は実行の段階
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStarting  Phase = "starting"
	PhaseAcquiring Phase = "acquiring"
	PhaseExporting Phase = "exporting"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// Stats は1台のカメラの収集結果
type Stats struct {
	Collected        int `json:"collected"`
	Incomplete       int `json:"incomplete"`
	ConversionErrors int `json:"conversion_errors"`
	Timeouts         int `json:"timeouts"`
}

// RunStatus は実行全体の状態
type RunStatus struct {
	SessionID    string    `json:"session_id"`
	Phase        Phase     `json:"phase"`
	TargetFrames int       `json:"target_frames"`
	Completed    int       `json:"completed"`
	Progress     float64   `json:"progress"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CameraStatus はカメラごとの状態
type CameraStatus struct {
	camera.Camera
	Stats Stats `json:"stats"`
}

// VideoStatus は書き出し結果
type VideoStatus struct {
	Camera   int    `json:"camera"`
	Serial   string `json:"serial"`
	Codec    string `json:"codec"`
	Path     string `json:"path,omitempty"`
	Frames   int    `json:"frames"`
	Snapshot string `json:"snapshot,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Tracker は実行中の状態を保持し、ステータスAPIに提供する
type Tracker struct {
	mu       sync.RWMutex
	status   RunStatus
	handles  []*camera.Handle
	stats    []Stats
	latest   []*camera.Frame
	videos   []VideoStatus
	progress func(completed, target int)
}

// NewTracker は新しいTrackerを作成する
func NewTracker() *Tracker {
	return &Tracker{status: RunStatus{Phase: PhaseIdle}}
}

// OnProgress はフレーム番号が完了するたびに呼ばれる関数を設定する
func (t *Tracker) OnProgress(fn func(completed, target int)) {
	t.mu.Lock()
	t.progress = fn
	t.mu.Unlock()
}

func (t *Tracker) begin(sessionID string, handles []*camera.Handle, target int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = RunStatus{
		SessionID:    sessionID,
		Phase:        PhaseStarting,
		TargetFrames: target,
		StartedAt:    time.Now(),
	}
	t.handles = handles
	t.stats = make([]Stats, len(handles))
	t.latest = make([]*camera.Frame, len(handles))
	t.videos = nil
}

// attach は収集対象のカメラを設定し、統計をリセットする
func (t *Tracker) attach(handles []*camera.Handle, target int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles = handles
	t.stats = make([]Stats, len(handles))
	t.latest = make([]*camera.Frame, len(handles))
	t.status.Phase = PhaseAcquiring
	t.status.TargetFrames = target
	t.status.Completed = 0
	t.status.Progress = 0
}

func (t *Tracker) setPhase(p Phase) {
	t.mu.Lock()
	t.status.Phase = p
	t.mu.Unlock()
}

func (t *Tracker) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FinishedAt = time.Now()
	if err != nil {
		t.status.Phase = PhaseFailed
		t.status.Error = err.Error()
		return
	}
	t.status.Phase = PhaseDone
}

func (t *Tracker) record(slot int, frame *camera.Frame, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot >= len(t.stats) {
		return
	}
	if frame != nil {
		t.latest[slot] = frame
	}
	st := &t.stats[slot]
	var incomplete *IncompleteFrameError
	var conversion *ConversionError
	switch {
	case err == nil:
		st.Collected++
	case errors.As(err, &incomplete) && incomplete.Timeout:
		st.Timeouts++
		st.Incomplete++
	case errors.As(err, &incomplete):
		st.Incomplete++
	case errors.As(err, &conversion):
		st.ConversionErrors++
	}
}

func (t *Tracker) complete(index int) {
	t.mu.Lock()
	t.status.Completed = index + 1
	if t.status.TargetFrames > 0 {
		t.status.Progress = float64(t.status.Completed) / float64(t.status.TargetFrames)
	}
	fn := t.progress
	completed, target := t.status.Completed, t.status.TargetFrames
	t.mu.Unlock()

	if fn != nil {
		fn(completed, target)
	}
}

func (t *Tracker) addVideo(v VideoStatus) {
	t.mu.Lock()
	t.videos = append(t.videos, v)
	t.mu.Unlock()
}

// Status は実行全体の状態を返す
func (t *Tracker) Status() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Cameras はカメラごとの状態を返す
func (t *Tracker) Cameras() []CameraStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CameraStatus, 0, len(t.handles))
	for i, h := range t.handles {
		out = append(out, CameraStatus{Camera: h.Snapshot(), Stats: t.stats[i]})
	}
	return out
}

// Latest は指定カメラで最後に収集したフレームを返す。Frameは変更しないこと
func (t *Tracker) Latest(cameraIndex int) (*camera.Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, h := range t.handles {
		if h.Index == cameraIndex && t.latest[i] != nil {
			return t.latest[i], true
		}
	}
	return nil, false
}

// Stats はカメラ番号順の収集結果を返す
func (t *Tracker) Stats() []Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stats, len(t.stats))
	copy(out, t.stats)
	return out
}

// Videos は書き出し結果を返す
func (t *Tracker) Videos() []VideoStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]VideoStatus, len(t.videos))
	copy(out, t.videos)
	return out
}
