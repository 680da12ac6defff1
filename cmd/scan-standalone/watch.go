package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scan a directory of frames until a barcode is found",
	Long: `Scan a directory of frames until a barcode is found.

Image files in --dir are replayed in name order as camera frames, and the
directory is re-read on every pass so files can be dropped in while the
scan runs. The first barcode allowed by --formats ends the scan.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		r, err := loadRunner()
		if err != nil {
			return err
		}
		defer r.Shutdown(r.Config().ShutdownTimeout())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := r.Start(ctx); err != nil {
			return err
		}
		st, err := r.Await(ctx)
		if err != nil {
			return errors.Wrap(err, "scan did not finish")
		}

		switch s := st.(type) {
		case pipeline.Succeeded:
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Barcode.Symbology.DisplayName(), s.Barcode.Value)
			return nil
		case pipeline.Fatal:
			for _, hint := range pipeline.Hints(s.Cause) {
				fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", hint)
			}
			return errors.Newf("scan failed: %s", s.Reason())
		default:
			return errors.Newf("unexpected state %s", st.Kind())
		}
	},
}

func init() {
	watchCmd.Flags().String("dir", "", "directory of frame images (default from camera.source_dir)")
	watchCmd.Flags().String("lens", "", "lens facing: back or front")
	watchCmd.Flags().Int("interval-ms", 0, "delay between frames")
	watchCmd.Flags().Float64("max-fps", 0, "analysis rate limit, 0 for none")
	watchCmd.Flags().Duration("timeout", 30*time.Second, "give up after this long, 0 to wait forever")
	cobra.CheckErr(v.BindPFlag("camera.source_dir", watchCmd.Flags().Lookup("dir")))
	cobra.CheckErr(v.BindPFlag("camera.lens", watchCmd.Flags().Lookup("lens")))
	cobra.CheckErr(v.BindPFlag("camera.frame_interval_ms", watchCmd.Flags().Lookup("interval-ms")))
	cobra.CheckErr(v.BindPFlag("camera.max_analysis_fps", watchCmd.Flags().Lookup("max-fps")))
}
