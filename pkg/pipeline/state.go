package pipeline

// StateKind names a scan state variant
type StateKind string

// StateKind constants
const (
	StateIdle                 StateKind = "idle"
	StateRequestingPermission StateKind = "requesting_permission"
	StateScanning             StateKind = "scanning"
	StateSucceeded            StateKind = "succeeded"
	StateFatal                StateKind = "fatal"
)

// State is the scan pipeline state. The variants are Idle,
// RequestingPermission, Scanning, Succeeded and Fatal; match with a type
// switch.
type State interface {
	Kind() StateKind
	isState()
}

// Idle is the initial state and the state after Reset
type Idle struct{}

// RequestingPermission is active while required permissions are negotiated
type RequestingPermission struct{}

// Scanning is active while the camera is bound and frames are analyzed
type Scanning struct{}

// Succeeded holds the accepted barcode
type Succeeded struct {
	Barcode Barcode
}

// Fatal holds the cause that terminated the session
type Fatal struct {
	Cause error
}

func (Idle) Kind() StateKind                 { return StateIdle }
func (RequestingPermission) Kind() StateKind { return StateRequestingPermission }
func (Scanning) Kind() StateKind             { return StateScanning }
func (Succeeded) Kind() StateKind            { return StateSucceeded }
func (Fatal) Kind() StateKind                { return StateFatal }

func (Idle) isState()                 {}
func (RequestingPermission) isState() {}
func (Scanning) isState()             {}
func (Succeeded) isState()            {}
func (Fatal) isState()                {}

// Reason returns the human-readable cause
func (f Fatal) Reason() string {
	if f.Cause == nil {
		return "unknown error"
	}
	return f.Cause.Error()
}

// IsTerminal reports whether only Reset can leave the state
func IsTerminal(s State) bool {
	switch s.(type) {
	case Succeeded, Fatal:
		return true
	default:
		return false
	}
}

// StateView is the JSON form of a State
type StateView struct {
	State       StateKind `json:"state"`
	Value       string    `json:"value,omitempty"`
	Symbology   string    `json:"symbology,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Hints       []string  `json:"hints,omitempty"`
}

// ViewOf converts a state for JSON transport
func ViewOf(s State) StateView {
	view := StateView{State: s.Kind()}
	switch st := s.(type) {
	case Succeeded:
		view.Value = st.Barcode.Value
		view.Symbology = st.Barcode.Symbology.String()
		view.DisplayName = st.Barcode.Symbology.DisplayName()
	case Fatal:
		view.Reason = st.Reason()
		view.Hints = Hints(st.Cause)
	case Idle, RequestingPermission, Scanning:
	}
	return view
}

// PermissionView is the JSON form of one permission's status
type PermissionView struct {
	Permission string `json:"permission"`
	Status     string `json:"status"`
}

// ScanStatus is what a host reports about the scan session
type ScanStatus struct {
	SessionID   string           `json:"session_id,omitempty"`
	Permissions []PermissionView `json:"permissions,omitempty"`
	StateView
}
