package cmd

import (
	"github.com/spf13/cobra"
)

var serveOpts captureOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "ステータスサーバーを起動して撮影する",
	Long: `captureと同じ撮影を行い、その間と撮影後もステータスサーバーで
進み具合・カメラごとの統計・書き出し結果・プレビューを公開します。
Ctrl+Cで停止します。`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := serveOpts.apply(cfg); err != nil {
			return err
		}
		if host, _ := cmd.Flags().GetString("host"); host != "" {
			cfg.Server.Host = host
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Server.Port = port
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		serveOpts.Serve = true
		serveOpts.KeepServing = true
		return runCapture(cmd.Context(), cfg, logger, serveOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&serveOpts.Frames, "frames", "n", 0, "カメラごとのフレーム数 (既定: 設定ファイル)")
	f.StringVar(&serveOpts.Codec, "codec", "", "コーデック (Uncompressed, MJPG, H264)")
	f.StringVarP(&serveOpts.OutputDir, "output", "o", "", "出力ディレクトリ")
	f.StringVar(&serveOpts.Backend, "backend", "", "カメラバックエンド (sim, v4l2)")
	f.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	f.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
	serveOpts.NoProgress = true
	rootCmd.AddCommand(serveCmd)
}
