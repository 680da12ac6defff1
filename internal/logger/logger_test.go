package logger

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	defer func() { Logger = zap.NewNop().Sugar() }()

	require.NoError(t, Initialize(true, "debug"))
	assert.True(t, Logger.Desugar().Core().Enabled(zap.DebugLevel))

	require.NoError(t, Initialize(false, "warn"))
	assert.False(t, Logger.Desugar().Core().Enabled(zap.InfoLevel))
	assert.True(t, Logger.Desugar().Core().Enabled(zap.WarnLevel))

	require.NoError(t, Initialize(false, ""))
	assert.True(t, Logger.Desugar().Core().Enabled(zap.InfoLevel))

	assert.Error(t, Initialize(false, "loud"))
}

func TestComponentLogger(t *testing.T) {
	assert.NotNil(t, ComponentLogger("camera"))
	assert.NotPanics(t, Sync)
}

// capture swaps stdout and stderr for pipes while fn runs
func capture(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outW, errW
	func() {
		defer func() { os.Stdout, os.Stderr = origOut, origErr }()
		fn()
	}()

	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())
	outData, err := io.ReadAll(outR)
	require.NoError(t, err)
	errData, err := io.ReadAll(errR)
	require.NoError(t, err)
	return string(outData), string(errData)
}

func TestInitialize_WritesToStderr(t *testing.T) {
	defer func() { Logger = zap.NewNop().Sugar() }()

	for _, jsonOutput := range []bool{false, true} {
		stdout, stderr := capture(t, func() {
			require.NoError(t, Initialize(jsonOutput, "info"))
			Logger.Infow("frame dropped", FieldFrameSeq, 9)
			Sync()
		})
		assert.Empty(t, stdout, "json=%v", jsonOutput)
		assert.Contains(t, stderr, "frame dropped", "json=%v", jsonOutput)
	}
}
