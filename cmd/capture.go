package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"multicam/internal/camera"
	"multicam/internal/capture"
	"multicam/internal/config"
	"multicam/internal/metrics"
	"multicam/internal/server"
	"multicam/internal/video"
)

// captureOptions はcaptureコマンドのフラグ
type captureOptions struct {
	Frames      int
	Codec       string
	Encoder     string
	OutputDir   string
	Backend     string
	Serve       bool
	KeepServing bool
	NoProgress  bool
}

var captureOpts captureOptions

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "全カメラで撮影し、カメラごとの動画を書き出す",
	Long: `接続されたカメラをすべて初期化して連続取得を開始し、
フレーム番号ごとに全カメラから1枚ずつ収集します。
全カメラを停止した後、カメラごとに1本のAVIファイルを書き出します。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := captureOpts.apply(cfg); err != nil {
			return err
		}
		return runCapture(cmd.Context(), cfg, logger, captureOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := captureCmd.Flags()
	f.IntVarP(&captureOpts.Frames, "frames", "n", 0, "カメラごとのフレーム数 (既定: 設定ファイル)")
	f.StringVar(&captureOpts.Codec, "codec", "", "コーデック (Uncompressed, MJPG, H264)")
	f.StringVar(&captureOpts.Encoder, "encoder", "", "エンコーダー (auto, native, ffmpeg)")
	f.StringVarP(&captureOpts.OutputDir, "output", "o", "", "出力ディレクトリ")
	f.StringVar(&captureOpts.Backend, "backend", "", "カメラバックエンド (sim, v4l2)")
	f.BoolVar(&captureOpts.Serve, "serve", false, "撮影中にステータスサーバーを起動する")
	f.BoolVar(&captureOpts.KeepServing, "keep-serving", false, "撮影後もCtrl+Cまでステータスサーバーを動かし続ける")
	f.BoolVar(&captureOpts.NoProgress, "no-progress", false, "進捗バーを表示しない")
	rootCmd.AddCommand(captureCmd)
}

// apply はフラグの値で設定を上書きして検証し直す
func (o captureOptions) apply(cfg *config.Config) error {
	if o.Frames != 0 {
		cfg.Capture.Frames = o.Frames
	}
	if o.Codec != "" {
		cfg.Video.Codec = o.Codec
	}
	if o.Encoder != "" {
		cfg.Video.Encoder = o.Encoder
	}
	if o.OutputDir != "" {
		cfg.Capture.OutputDir = o.OutputDir
	}
	if o.Backend != "" {
		cfg.Camera.Backend = o.Backend
	}
	return cfg.Validate()
}

// newSystem は設定されたバックエンドのカメラSDKを作成する
func newSystem(cfg *config.Config) (camera.System, error) {
	switch cfg.Camera.Backend {
	case config.BackendSimulated:
		sim := cfg.Camera.Simulated
		return camera.NewSimulatedSystem(camera.SimulatedConfig{
			Count:          sim.Count,
			Width:          cfg.Camera.DefaultWidth,
			Height:         cfg.Camera.DefaultHeight,
			FrameRate:      sim.FrameRate,
			IncompleteRate: sim.IncompleteRate,
			StallRate:      sim.StallRate,
			Seed:           sim.Seed,
		}), nil
	case config.BackendV4L2:
		return camera.NewV4L2System(camera.NewLinuxDiscovery(), camera.V4L2Config{
			Devices: cfg.DevicePaths(),
			Width:   cfg.Camera.DefaultWidth,
			Height:  cfg.Camera.DefaultHeight,
			FPS:     int(cfg.Camera.DefaultFPS),
		}), nil
	default:
		return nil, fmt.Errorf("不明なカメラバックエンド: %s", cfg.Camera.Backend)
	}
}

// pipeline は1回の撮影に必要な部品
type pipeline struct {
	runner  *capture.Runner
	tracker *capture.Tracker
	metrics *metrics.Metrics
}

// newPipeline は設定から収集・書き出しの部品を組み立てる
func newPipeline(cfg *config.Config, system camera.System, logger *slog.Logger) (*pipeline, error) {
	snapshots, err := capture.NewSnapshotWriter(cfg.Capture.OutputDir, cfg.Capture.SnapshotFormat, cfg.Capture.SnapshotMaxWidth)
	if err != nil {
		return nil, err
	}
	factory, err := video.NewRecorderFactory(cfg.Video.Encoder)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	tracker := capture.NewTracker()
	collector := capture.NewCollector(capture.CollectorConfig{
		PixelFormat: cfg.PixelFormat(),
		Timeout:     cfg.Capture.FrameTimeout,
		Snapshots:   snapshots,
		Metrics:     m,
		Logger:      logger,
	})
	exporter := video.NewExporter(cfg.Capture.OutputDir, cfg.VideoParams(), factory, logger)
	runner := capture.NewRunner(system, collector, exporter, tracker, m, logger, capture.Options{
		Frames:           cfg.Capture.Frames,
		Codec:            cfg.Codec(),
		DefaultFrameRate: cfg.Camera.DefaultFPS,
		ExportWorkers:    cfg.Capture.ExportWorkers,
	})
	return &pipeline{runner: runner, tracker: tracker, metrics: m}, nil
}

// needsFFmpeg は書き出しにffmpegを使う設定か判定する
func needsFFmpeg(cfg *config.Config) bool {
	switch cfg.Video.Encoder {
	case video.EncoderFFmpeg:
		return true
	case video.EncoderAuto, "":
		return cfg.Codec() == video.CodecH264
	default:
		return false
	}
}

func runCapture(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts captureOptions, out io.Writer) error {
	// 撮影後に書き出せないと分かっている場合は開始しない
	if needsFFmpeg(cfg) {
		if err := video.ValidateFFmpeg(ctx); err != nil {
			return err
		}
	}

	system, err := newSystem(cfg)
	if err != nil {
		return err
	}
	p, err := newPipeline(cfg, system, logger)
	if err != nil {
		return err
	}

	if !opts.NoProgress {
		bar := progressbar.NewOptions(cfg.Capture.Frames,
			progressbar.OptionSetDescription("撮影中"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		p.tracker.OnProgress(func(completed, _ int) {
			_ = bar.Set(completed)
		})
		defer func() {
			_ = bar.Finish()
		}()
	}

	var srvErr chan error
	var stopServer context.CancelFunc = func() {}
	if opts.Serve {
		srvCtx, cancel := context.WithCancel(context.Background())
		stopServer = cancel
		srv := server.New(cfg, p.tracker, p.metrics, logger)
		srvErr = make(chan error, 1)
		go func() {
			srvErr <- srv.Start(srvCtx)
		}()
	}

	result, runErr := p.runner.Run(ctx)
	if result != nil {
		printSummary(out, result)
	}

	if opts.Serve {
		if opts.KeepServing && ctx.Err() == nil {
			logger.Info("撮影が終わりました。Ctrl+Cでサーバーを停止します")
			select {
			case <-ctx.Done():
			case err := <-srvErr:
				stopServer()
				return errors.Join(runErr, err)
			}
		}
		stopServer()
		if err := <-srvErr; err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// printSummary はカメラごとの結果を表にして出力する
func printSummary(w io.Writer, result *capture.Result) {
	fmt.Fprintf(w, "セッション %s: %s, %dフレーム, %s\n",
		result.SessionID, result.Codec, result.Frames, result.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CAMERA\tSERIAL\tFPS\tCOLLECTED\tINCOMPLETE\tVIDEO\tERROR")
	for _, c := range result.Cameras {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%d\t%d\t%s\t%s\n",
			c.Index, c.Serial, c.FrameRate, c.Stats.Collected, c.Stats.Incomplete,
			orDash(c.Video), orDash(c.Error))
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
