package main

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-scan-pipeline/pkg/pipeline"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <image>...",
	Short: "Recognize barcodes in still image files",
	Long: `Recognize barcodes in still image files.

EXIF orientation is applied before recognition. Each file prints one line
per barcode; files without a barcode print "(none)". The allowlist from
--formats filters the output.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRunner()
		if err != nil {
			return err
		}
		defer r.Shutdown(r.Config().ShutdownTimeout())

		formats, err := r.Config().FormatSet()
		if err != nil {
			return err
		}

		failed := 0
		for _, path := range args {
			if err := decodeFile(cmd.Context(), cmd.OutOrStdout(), r, formats, path); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed++
			}
		}
		if failed > 0 {
			return errors.Newf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

type imageDecoder interface {
	DecodeImage(ctx context.Context, img image.Image, rotation int) (pipeline.Outcome, error)
}

func decodeFile(ctx context.Context, w io.Writer, d imageDecoder, formats pipeline.FormatSet, path string) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrap(err, "open image")
	}

	out, err := d.DecodeImage(ctx, img, 0)
	if err != nil {
		return err
	}
	if out.Kind == pipeline.OutcomeFailed {
		return errors.Wrap(out.Err, "recognition failed")
	}

	printed := 0
	for _, b := range out.Barcodes {
		if !formats.Contains(b.Symbology) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", path, b.Symbology.DisplayName(), b.Value)
		printed++
	}
	if printed == 0 {
		fmt.Fprintf(w, "%s\t(none)\n", path)
	}
	return nil
}
