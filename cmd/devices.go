package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"multicam/internal/camera"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "接続されているカメラとデバイス情報を表示する",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		system, err := newSystem(cfg)
		if err != nil {
			return err
		}

		session := camera.NewSession(system, logger)
		defer func() {
			if err := session.Close(); err != nil {
				logger.Warn("セッションの終了でエラーが発生しました", "error", err)
			}
		}()

		handles, err := session.Enumerate(cmd.Context())
		if err != nil {
			return fmt.Errorf("カメラの列挙に失敗しました: %w", err)
		}
		logger.Debug("カメラを検出しました", "count", len(handles))
		return session.DescribeDevices(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
