package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"multicam/internal/video"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE...",
	Short: "書き出したAVIファイルのヘッダーを表示する",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(cmd.OutOrStdout(), args, inspectJSON)
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "JSONで出力する")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(w io.Writer, paths []string, asJSON bool) error {
	infos := make([]*video.Info, 0, len(paths))
	for _, path := range paths {
		info, err := video.Probe(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		infos = append(infos, info)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tRESOLUTION\tFRAMES\tFPS\tHANDLER\tCOMPRESSION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%dx%d\t%d\t%.2f\t%s\t%s\n",
			info.Path, info.Size, info.Width, info.Height, info.Frames, info.FrameRate,
			info.Handler, info.Compression)
	}
	return tw.Flush()
}
