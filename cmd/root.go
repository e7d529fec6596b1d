// Package cmd はmulticamコマンドの実装です
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"multicam/internal/config"
	"multicam/internal/logging"
)

// Version はアプリケーションのバージョン
const Version = "0.1.0"

var (
	// configPath は設定ファイルのパス。空ならデフォルトと環境変数だけを使う
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "multicam",
	Short:         "複数カメラで同時に撮影して動画に書き出す",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute はルートコマンドを実行する
func Execute() {
	// Ctrl+C (SIGINT) と SIGTERM で中断する
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "設定ファイル (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "ログ形式 (text, json)")
}

// loadConfig は設定を読み込み、共通フラグを反映してロガーを用意する
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, logger, nil
}
