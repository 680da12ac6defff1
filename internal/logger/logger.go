// Package logger configures the process-wide zap logger and hands out
// named component loggers.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging
const (
	FieldSessionID = "session_id"
	FieldBindingID = "binding_id"
	FieldComponent = "component"
	FieldState     = "state"
	FieldFrom      = "from"
	FieldTo        = "to"
	FieldFrameSeq  = "frame_seq"
	FieldDevice    = "device"
	FieldLens      = "lens"
	FieldOutcome   = "outcome"
	FieldSymbology = "symbology"
	FieldCount     = "count"
	FieldDuration  = "duration_ms"
	FieldKey       = "key"
	FieldAddress   = "address"
	FieldError     = "error"
)

// Logger is the global logger. It is a no-op until Initialize is called.
var Logger *zap.SugaredLogger

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize sets up the global logger. JSON output is meant for
// machine consumption; otherwise a console encoder is used. Both write to
// stderr, leaving stdout to command output.
func Initialize(jsonOutput bool, level string) error {
	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	var zapLogger *zap.Logger
	if jsonOutput {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		var err error
		zapLogger, err = config.Build()
		if err != nil {
			return err
		}
	} else {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zapLogger = zap.New(
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(encoderCfg),
				zapcore.Lock(os.Stderr),
				lvl,
			),
		)
	}

	Logger = zapLogger.Sugar()
	return nil
}

// ComponentLogger returns a named logger for a component. Prefer passing
// the result to constructors over using the global directly.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = Logger.Sync()
}
