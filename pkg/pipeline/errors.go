package pipeline

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// PermissionError reports that a required permission was not granted.
// Permanent means the platform will not show another system prompt and the
// user has to grant it from the settings screen.
type PermissionError struct {
	Permissions []string
	Permanent   bool
}

func (e *PermissionError) Error() string {
	return "permission denied"
}

// NewPermissionError builds a permission error; the permanent variant
// carries a user hint about settings navigation.
func NewPermissionError(permanent bool, permissions ...string) error {
	err := errors.WithDetailf(&PermissionError{Permissions: permissions, Permanent: permanent},
		"denied: %s", strings.Join(permissions, ", "))
	if permanent {
		return errors.WithHint(err, "grant the permission from the application settings, then retry")
	}
	return err
}

// IsPermissionDenied reports whether err is a permission error of either kind
func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsPermanentlyDenied reports whether err is a permanent permission error
func IsPermanentlyDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe) && pe.Permanent
}

// BindErrorKind classifies camera binding failures
type BindErrorKind int

// BindErrorKind constants
const (
	BindDeviceUnavailable BindErrorKind = iota + 1
	BindBindingConflict
)

func (k BindErrorKind) String() string {
	switch k {
	case BindDeviceUnavailable:
		return "device unavailable"
	case BindBindingConflict:
		return "binding conflict"
	default:
		return "bind error"
	}
}

// BindError reports a camera binding failure
type BindError struct {
	Kind BindErrorKind
	Err  error
}

func (e *BindError) Error() string {
	if e.Err == nil {
		return "camera " + e.Kind.String()
	}
	return "camera " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// IsBindError reports whether err is a bind error of the given kind
func IsBindError(err error, kind BindErrorKind) bool {
	var be *BindError
	return errors.As(err, &be) && be.Kind == kind
}

// DecodeError reports a recognizer failure. Its message is the cause's
// message so hosts can show it unchanged.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "decode failed"
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a recognizer failure
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Hints returns user-facing hints attached to err
func Hints(err error) []string {
	if err == nil {
		return nil
	}
	return errors.GetAllHints(err)
}
