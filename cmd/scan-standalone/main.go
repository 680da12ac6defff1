// Standalone scanner for quick testing. Frames come from a directory of
// images and no server is started.
package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-scan-pipeline/internal/config"
	"github.com/tendant/simple-scan-pipeline/internal/logger"
	"github.com/tendant/simple-scan-pipeline/pkg/runner"
)

var (
	v          = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "scan-standalone",
	Short: "Recognize barcodes from image files or a frame directory",
	Long: `scan-standalone runs the scan pipeline in-process.

Commands:
  decode - Recognize barcodes in still image files
  watch  - Scan a directory of frames until a barcode is found

Examples:
  scan-standalone decode label.png shelf.jpg
  scan-standalone watch --dir ./frames --formats product
  SCAN_CAMERA_LENS=front scan-standalone watch --dir ./frames`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return errors.Wrapf(err, "failed to read config file %s", configFile)
			}
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := v.GetString("log.level")
		if verbose {
			level = "debug"
		}
		return logger.Initialize(v.GetBool("log.json"), level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringSlice("formats", nil, "allowed symbologies or a preset (all, product, 1d, 2d)")
	rootCmd.PersistentFlags().Bool("try-harder", true, "slower, more thorough recognition")
	cobra.CheckErr(v.BindPFlag("scanner.formats", rootCmd.PersistentFlags().Lookup("formats")))
	cobra.CheckErr(v.BindPFlag("decode.try_harder", rootCmd.PersistentFlags().Lookup("try-harder")))

	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadRunner builds a runner from flags, environment and config file
func loadRunner() (*runner.Runner, error) {
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	return runner.New(cfg, runner.Options{Logger: logger.ComponentLogger("pipeline")})
}

func main() {
	_ = godotenv.Load()

	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
