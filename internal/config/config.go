package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"multicam/internal/camera"
	"multicam/internal/logging"
	"multicam/internal/video"
)

// カメラのバックエンド
const (
	BackendSimulated = "sim"
	BackendV4L2      = "v4l2"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Capture CaptureConfig  `yaml:"capture"`
	Camera  CameraConfig   `yaml:"camera"`
	Video   VideoConfig    `yaml:"video"`
	Server  ServerConfig   `yaml:"server"`
	Log     logging.Config `yaml:"log"`
}

// CaptureConfig はフレーム収集の設定
type CaptureConfig struct {
	Frames           int           `yaml:"frames"`             // カメラごとの目標フレーム数
	FrameTimeout     time.Duration `yaml:"frame_timeout"`      // 1フレームの取得待ちの上限
	OutputDir        string        `yaml:"output_dir"`         // 動画と静止画の出力先
	PixelFormat      string        `yaml:"pixel_format"`       // 変換後のピクセルフォーマット
	SnapshotFormat   string        `yaml:"snapshot_format"`    // jpeg / png / bmp
	SnapshotMaxWidth int           `yaml:"snapshot_max_width"` // 0なら縮小しない
	ExportWorkers    int           `yaml:"export_workers"`     // 同時に書き出すカメラ数
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 終了待ちの上限
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend"` // sim / v4l2

	// v4l2で使うデバイス。空なら自動検出する
	Devices []CameraDevice `yaml:"devices"`

	// デフォルト設定
	DefaultFPS    float64 `yaml:"default_fps"`    // フレームレートを読めないときの値 (fps)
	DefaultWidth  int     `yaml:"default_width"`  // 画像幅
	DefaultHeight int     `yaml:"default_height"` // 画像高さ

	Simulated SimulatedConfig `yaml:"simulated"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	Name   string `yaml:"name"`   // カメラ名
	Device string `yaml:"device"` // デバイスパス (例: /dev/video0)
}

// SimulatedConfig はシミュレーションカメラの設定
type SimulatedConfig struct {
	Count          int     `yaml:"count"`           // 台数
	FrameRate      float64 `yaml:"frame_rate"`      // フレームレート
	IncompleteRate float64 `yaml:"incomplete_rate"` // 不完全フレームの割合 (0-1)
	StallRate      float64 `yaml:"stall_rate"`      // タイムアウトするフレームの割合 (0-1)
	Seed           int64   `yaml:"seed"`            // 乱数シード
}

// VideoConfig は動画書き出しの設定
type VideoConfig struct {
	Codec       string `yaml:"codec"`        // Uncompressed / MJPG / H264
	Encoder     string `yaml:"encoder"`      // auto / native / ffmpeg
	MJPGQuality int    `yaml:"mjpg_quality"` // MJPG品質 (1-100)
	H264Bitrate int    `yaml:"h264_bitrate"` // H264ビットレート (bps)
}

// Default はデフォルト設定を返す
func Default() *Config {
	params := video.DefaultParams()
	return &Config{
		Capture: CaptureConfig{
			Frames:         500,
			FrameTimeout:   2 * time.Second,
			OutputDir:      ".",
			PixelFormat:    camera.PixelFormatBayerRG8.String(),
			SnapshotFormat: "jpeg",
			ExportWorkers:  2,
		},
		Camera: CameraConfig{
			Backend:       BackendSimulated,
			Devices:       []CameraDevice{},
			DefaultFPS:    15,
			DefaultWidth:  1280,
			DefaultHeight: 720,
			Simulated: SimulatedConfig{
				Count:     2,
				FrameRate: 30,
			},
		},
		Video: VideoConfig{
			Codec:       video.CodecMJPG.String(),
			Encoder:     video.EncoderAuto,
			MJPGQuality: params.Quality,
			H264Bitrate: params.Bitrate,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load は設定を読み込む
// デフォルト値に設定ファイル（指定時）と環境変数を順に重ね、最後に検証する
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := decode(bytes.NewReader(data), cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// loadDotEnv は .env があれば環境変数に読み込む。既存の環境変数は上書きしない
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%s の読み込みに失敗: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.Capture.Frames, err = getEnvAsIntOrDefault("MULTICAM_FRAMES", cfg.Capture.Frames)
	if err != nil {
		return err
	}
	cfg.Capture.FrameTimeout, err = getEnvAsDurationOrDefault("MULTICAM_FRAME_TIMEOUT", cfg.Capture.FrameTimeout)
	if err != nil {
		return err
	}
	cfg.Server.Port, err = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	if err != nil {
		return err
	}
	cfg.Capture.OutputDir = getEnvOrDefault("MULTICAM_OUTPUT_DIR", cfg.Capture.OutputDir)
	cfg.Video.Codec = getEnvOrDefault("MULTICAM_CODEC", cfg.Video.Codec)
	cfg.Video.Encoder = getEnvOrDefault("MULTICAM_ENCODER", cfg.Video.Encoder)
	cfg.Camera.Backend = getEnvOrDefault("MULTICAM_BACKEND", cfg.Camera.Backend)
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Capture.Frames < 1 {
		return fmt.Errorf("無効なフレーム数: %d", c.Capture.Frames)
	}
	if c.Capture.FrameTimeout <= 0 {
		return fmt.Errorf("無効なフレーム取得タイムアウト: %s", c.Capture.FrameTimeout)
	}
	if c.Capture.OutputDir == "" {
		return errors.New("出力ディレクトリが設定されていません")
	}
	if _, err := camera.ParsePixelFormat(c.Capture.PixelFormat); err != nil {
		return err
	}
	switch strings.ToLower(c.Capture.SnapshotFormat) {
	case "jpeg", "jpg", "png", "bmp":
	default:
		return fmt.Errorf("サポートされていない静止画形式: %s", c.Capture.SnapshotFormat)
	}

	switch c.Camera.Backend {
	case BackendSimulated:
		if c.Camera.Simulated.Count < 0 {
			return fmt.Errorf("無効なシミュレーションカメラ台数: %d", c.Camera.Simulated.Count)
		}
		if c.Camera.Simulated.IncompleteRate < 0 || c.Camera.Simulated.IncompleteRate > 1 {
			return fmt.Errorf("無効な不完全フレーム率: %v", c.Camera.Simulated.IncompleteRate)
		}
		if c.Camera.Simulated.StallRate < 0 || c.Camera.Simulated.StallRate > 1 {
			return fmt.Errorf("無効なタイムアウト率: %v", c.Camera.Simulated.StallRate)
		}
	case BackendV4L2:
	default:
		return fmt.Errorf("不明なカメラバックエンド: %s", c.Camera.Backend)
	}
	if c.Camera.DefaultFPS <= 0 {
		return fmt.Errorf("無効なデフォルトFPS: %v", c.Camera.DefaultFPS)
	}

	if _, err := video.ParseCodec(c.Video.Codec); err != nil {
		return err
	}
	if _, err := video.NewRecorderFactory(c.Video.Encoder); err != nil {
		return err
	}
	if c.Video.MJPGQuality < 1 || c.Video.MJPGQuality > 100 {
		return fmt.Errorf("無効なMJPG品質: %d", c.Video.MJPGQuality)
	}
	if c.Video.H264Bitrate <= 0 {
		return fmt.Errorf("無効なH264ビットレート: %d", c.Video.H264Bitrate)
	}

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

// Codec は設定されたコーデックを返す
func (c *Config) Codec() video.Codec {
	codec, _ := video.ParseCodec(c.Video.Codec)
	return codec
}

// PixelFormat は設定されたピクセルフォーマットを返す
func (c *Config) PixelFormat() camera.PixelFormat {
	format, _ := camera.ParsePixelFormat(c.Capture.PixelFormat)
	return format
}

// VideoParams はコーデック固有の設定を返す
func (c *Config) VideoParams() video.Params {
	return video.Params{
		Quality: c.Video.MJPGQuality,
		Bitrate: c.Video.H264Bitrate,
	}
}

// DevicePaths はv4l2で使うデバイスパスを返す
func (c *Config) DevicePaths() []string {
	paths := make([]string, 0, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		if d.Device != "" {
			paths = append(paths, d.Device)
		}
	}
	return paths
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が整数ではありません: %q", key, value)
	}
	return intVal, nil
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("環境変数 %s が時間ではありません: %q", key, value)
	}
	return d, nil
}
