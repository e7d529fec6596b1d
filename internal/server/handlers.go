package server

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/metrics"
)

const (
	previewFPS      = 10
	previewMaxWidth = 640
	previewQuality  = 75
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse は実行状態のレスポンス
type StatusResponse struct {
	capture.RunStatus
	Cameras   int       `json:"cameras"`
	Timestamp time.Time `json:"timestamp"`
}

// CamerasResponse はカメラ一覧のレスポンス
type CamerasResponse struct {
	Cameras []capture.CameraStatus `json:"cameras"`
}

// VideosResponse は書き出し結果のレスポンス
type VideosResponse struct {
	Videos []capture.VideoStatus `json:"videos"`
}

// Handler はHTTPエンドポイントの実装
type Handler struct {
	provider StatusProvider
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewHandler は新しいHandlerを作成する
func NewHandler(provider StatusProvider, m *metrics.Metrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{provider: provider, metrics: m, logger: logger}
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// GetStatus は実行状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		RunStatus: h.provider.Status(),
		Cameras:   len(h.provider.Cameras()),
		Timestamp: time.Now(),
	})
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *Handler) GetCameras(c *gin.Context) {
	cameras := h.provider.Cameras()
	if cameras == nil {
		cameras = []capture.CameraStatus{}
	}
	c.JSON(http.StatusOK, CamerasResponse{Cameras: cameras})
}

// GetCamera はカメラ1台の状態を返す
func (h *Handler) GetCamera(c *gin.Context) {
	cam, ok := h.lookupCamera(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cam)
}

// GetCameraSnapshot は最新フレームをJPEGで返す
func (h *Handler) GetCameraSnapshot(c *gin.Context) {
	cam, ok := h.lookupCamera(c)
	if !ok {
		return
	}
	frame, ok := h.provider.Latest(cam.Index)
	if !ok {
		abortWithError(c, http.StatusServiceUnavailable, "frame_not_available", "まだフレームを取得していません")
		return
	}
	data, err := encodePreview(frame)
	if err != nil {
		h.logger.Error("プレビューのエンコードに失敗しました", "camera", cam.Index, "error", err)
		abortWithError(c, http.StatusInternalServerError, "encode_failed", "画像のエンコードに失敗しました")
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// GetCameraStream はMJPEGストリーミングエンドポイントの実装
func (h *Handler) GetCameraStream(c *gin.Context) {
	cam, ok := h.lookupCamera(c)
	if !ok {
		return
	}
	h.streamMJPEG(c, cam.Index)
}

// GetVideos は書き出し結果一覧を返す
func (h *Handler) GetVideos(c *gin.Context) {
	videos := h.provider.Videos()
	if videos == nil {
		videos = []capture.VideoStatus{}
	}
	c.JSON(http.StatusOK, VideosResponse{Videos: videos})
}

// Metrics はPrometheus形式のメトリクスを返す
func (h *Handler) Metrics(c *gin.Context) {
	if h.metrics == nil {
		abortWithError(c, http.StatusNotFound, "metrics_disabled", "メトリクスは無効です")
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Root はルートパスのハンドラ
func (h *Handler) Root(c *gin.Context) {
	status := h.provider.Status()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>multicam - マルチカメラ撮影</title>
</head>
<body>
    <h1>multicam マルチカメラ撮影</h1>
    <p>状態: %s (%d / %d)</p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>カメラ一覧: <a href="/api/cameras">/api/cameras</a></p>
    <p>動画: <a href="/api/videos">/api/videos</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`, status.Phase, status.Completed, status.TargetFrames)
}

// lookupCamera はパスパラメータのカメラ番号を解決する。見つからなければレスポンスを書いてfalseを返す
func (h *Handler) lookupCamera(c *gin.Context) (capture.CameraStatus, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid_camera_index", "カメラ番号が不正です")
		return capture.CameraStatus{}, false
	}
	for _, cam := range h.provider.Cameras() {
		if cam.Index == index {
			return cam, true
		}
	}
	abortWithError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
	return capture.CameraStatus{}, false
}

// streamMJPEG は最新フレームをMJPEGストリームとして配信する。
// 実行が終わると最後のフレームを送ってから終了する
func (h *Handler) streamMJPEG(c *gin.Context, cameraIndex int) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	ctx := c.Request.Context()
	limiter := rate.NewLimiter(rate.Limit(previewFPS), 1)

	var last *camera.Frame
	for {
		if err := limiter.Wait(ctx); err != nil {
			// クライアントが切断された
			return
		}

		finished := isFinished(h.provider.Status().Phase)
		frame, ok := h.provider.Latest(cameraIndex)
		if !ok || frame == last {
			if finished {
				return
			}
			continue
		}
		last = frame

		data, err := encodePreview(frame)
		if err != nil {
			h.logger.Warn("プレビューのエンコードに失敗しました", "camera", cameraIndex, "error", err)
			continue
		}

		if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
			return
		}
		if _, err := writer.Write(data); err != nil {
			return
		}
		if _, err := writer.Write([]byte("\r\n")); err != nil {
			return
		}
		writer.Flush()

		if finished {
			return
		}
	}
}

func isFinished(p capture.Phase) bool {
	return p == capture.PhaseDone || p == capture.PhaseFailed
}

// encodePreview はフレームを縮小してJPEGにする
func encodePreview(f *camera.Frame) ([]byte, error) {
	var img image.Image = f.Image()
	if b := img.Bounds(); b.Dx() > previewMaxWidth {
		h := b.Dy() * previewMaxWidth / b.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, previewMaxWidth, max(h, 1)))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func abortWithError(c *gin.Context, code int, kind, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:     kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}
