package pipeline

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(Idle{}))
	assert.False(t, IsTerminal(RequestingPermission{}))
	assert.False(t, IsTerminal(Scanning{}))
	assert.True(t, IsTerminal(Succeeded{}))
	assert.True(t, IsTerminal(Fatal{}))
}

func TestViewOf(t *testing.T) {
	v := ViewOf(Succeeded{Barcode: Barcode{Value: "ABC123", Symbology: SymbologyQRCode}})
	assert.Equal(t, StateSucceeded, v.State)
	assert.Equal(t, "ABC123", v.Value)
	assert.Equal(t, "QR_CODE", v.Symbology)
	assert.Equal(t, "QR Code", v.DisplayName)

	v = ViewOf(Fatal{Cause: &DecodeError{Err: errors.New("network timeout")}})
	assert.Equal(t, StateFatal, v.State)
	assert.Equal(t, "network timeout", v.Reason)
	assert.Empty(t, v.Hints)

	v = ViewOf(Fatal{})
	assert.Equal(t, "unknown error", v.Reason)

	assert.Equal(t, StateView{State: StateScanning}, ViewOf(Scanning{}))
}

func TestPermissionError(t *testing.T) {
	soft := NewPermissionError(false, "camera")
	assert.Equal(t, "permission denied", soft.Error())
	assert.True(t, IsPermissionDenied(soft))
	assert.False(t, IsPermanentlyDenied(soft))
	assert.Empty(t, Hints(soft))

	hard := errors.Wrap(NewPermissionError(true, "camera", "microphone"), "acquire permissions")
	assert.True(t, IsPermissionDenied(hard))
	assert.True(t, IsPermanentlyDenied(hard))
	assert.NotEmpty(t, Hints(hard))

	var pe *PermissionError
	assert.True(t, errors.As(hard, &pe))
	assert.Equal(t, []string{"camera", "microphone"}, pe.Permissions)

	assert.Equal(t, "permission denied", Fatal{Cause: NewPermissionError(true)}.Reason())
	assert.Nil(t, Hints(nil))
}

func TestBindError(t *testing.T) {
	cause := errors.New("in use by another app")
	err := errors.Wrap(&BindError{Kind: BindBindingConflict, Err: cause}, "bind")

	assert.True(t, IsBindError(err, BindBindingConflict))
	assert.False(t, IsBindError(err, BindDeviceUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "camera binding conflict: in use by another app")

	assert.Equal(t, "camera device unavailable", (&BindError{Kind: BindDeviceUnavailable}).Error())
}

func TestDecodeError(t *testing.T) {
	cause := errors.New("model not loaded")
	err := &DecodeError{Err: cause}
	assert.Equal(t, "model not loaded", err.Error())
	assert.True(t, IsDecodeError(errors.Wrap(err, "frame 3")))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "decode failed", (&DecodeError{}).Error())
	assert.False(t, IsDecodeError(cause))
}
