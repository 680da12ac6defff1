// Package permission tracks the grant status of the capabilities the scan
// pipeline needs.
//
// The tracker caches statuses and only touches the platform on Evaluate,
// Refresh and Request. Permanent denial is inferred from the platform's
// rationale flag: not granted and no rationale to show means the platform
// will not prompt again. The flag is a heuristic, so callers keep a manual
// retry path open.
package permission

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Status is the grant status of one permission
type Status int

// Status constants
const (
	StatusUnknown Status = iota
	StatusGranted
	StatusDeniedSoft
	StatusDeniedPermanent
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDeniedSoft:
		return "denied"
	case StatusDeniedPermanent:
		return "denied_permanent"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Requirement is one required permission and its current status
type Requirement struct {
	Permission string `json:"permission"`
	Status     Status `json:"status"`
}

// Platform is the host's permission service
type Platform interface {
	// Check reports whether the permission is currently granted
	Check(ctx context.Context, permission string) (bool, error)

	// ShouldShowRationale reports whether the platform wants an explanation
	// shown before the permission is requested again
	ShouldShowRationale(ctx context.Context, permission string) (bool, error)

	// Request shows the system prompt for the permissions and returns the
	// grant result per permission
	Request(ctx context.Context, permissions []string) (map[string]bool, error)
}

// Tracker holds the cached status of a fixed list of permissions
type Tracker struct {
	platform    Platform
	permissions []string
	logger      *zap.SugaredLogger

	mu     sync.RWMutex
	states map[string]Requirement
}

// NewTracker creates a tracker for the given permissions. Statuses start
// as Unknown until the first Refresh.
func NewTracker(platform Platform, permissions []string, logger *zap.SugaredLogger) *Tracker {
	perms := dedupe(permissions)
	states := make(map[string]Requirement, len(perms))
	for _, p := range perms {
		states[p] = Requirement{Permission: p, Status: StatusUnknown}
	}
	return &Tracker{
		platform:    platform,
		permissions: perms,
		logger:      logger,
		states:      states,
	}
}

// Permissions returns the tracked permission identifiers
func (t *Tracker) Permissions() []string {
	out := make([]string, len(t.permissions))
	copy(out, t.permissions)
	return out
}

// Evaluate queries the platform for one permission. Query failures
// yield DeniedSoft so the user can still be prompted.
func (t *Tracker) Evaluate(ctx context.Context, permission string) Requirement {
	granted, err := t.platform.Check(ctx, permission)
	if err != nil {
		t.logger.Warnw("Permission check failed", "permission", permission, "error", err)
		return t.store(Requirement{Permission: permission, Status: StatusDeniedSoft})
	}
	return t.store(t.classify(ctx, permission, granted))
}

// EvaluateAll evaluates each permission in order
func (t *Tracker) EvaluateAll(ctx context.Context, permissions []string) []Requirement {
	out := make([]Requirement, 0, len(permissions))
	for _, p := range permissions {
		out = append(out, t.Evaluate(ctx, p))
	}
	return out
}

// Refresh re-evaluates every tracked permission
func (t *Tracker) Refresh(ctx context.Context) []Requirement {
	return t.EvaluateAll(ctx, t.permissions)
}

// Snapshot returns the cached statuses without querying the platform
func (t *Tracker) Snapshot() []Requirement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Requirement, 0, len(t.permissions))
	for _, p := range t.permissions {
		out = append(out, t.states[p])
	}
	return out
}

// Request prompts for every tracked permission that is not granted and
// folds the prompt result into the cache. The returned error is the
// platform's prompt failure; statuses are still updated (as DeniedSoft).
func (t *Tracker) Request(ctx context.Context) ([]Requirement, error) {
	var missing []string
	for _, r := range t.Snapshot() {
		if r.Status != StatusGranted {
			missing = append(missing, r.Permission)
		}
	}
	if len(missing) == 0 {
		return t.Snapshot(), nil
	}

	t.logger.Infow("Requesting permissions", "permissions", missing)

	results, err := t.platform.Request(ctx, missing)
	if err != nil {
		t.logger.Warnw("Permission request failed", "permissions", missing, "error", err)
		for _, p := range missing {
			t.store(Requirement{Permission: p, Status: StatusDeniedSoft})
		}
		return t.Snapshot(), err
	}

	for _, p := range missing {
		t.store(t.classify(ctx, p, results[p]))
	}
	return t.Snapshot(), nil
}

// classify turns a grant flag plus the rationale flag into a status
func (t *Tracker) classify(ctx context.Context, permission string, granted bool) Requirement {
	if granted {
		return Requirement{Permission: permission, Status: StatusGranted}
	}

	rationale, err := t.platform.ShouldShowRationale(ctx, permission)
	if err != nil {
		t.logger.Warnw("Rationale check failed", "permission", permission, "error", err)
		return Requirement{Permission: permission, Status: StatusDeniedSoft}
	}
	if rationale {
		return Requirement{Permission: permission, Status: StatusDeniedSoft}
	}
	return Requirement{Permission: permission, Status: StatusDeniedPermanent}
}

func (t *Tracker) store(r Requirement) Requirement {
	t.mu.Lock()
	t.states[r.Permission] = r
	t.mu.Unlock()
	return r
}

// AllGranted reports whether every requirement is granted.
// An empty list counts as granted.
func AllGranted(reqs []Requirement) bool {
	for _, r := range reqs {
		if r.Status != StatusGranted {
			return false
		}
	}
	return true
}

// AnyPermanentlyDenied reports whether any requirement is permanently denied
func AnyPermanentlyDenied(reqs []Requirement) bool {
	for _, r := range reqs {
		if r.Status == StatusDeniedPermanent {
			return true
		}
	}
	return false
}

// Denied returns the identifiers of requirements that are not granted
func Denied(reqs []Requirement) []string {
	var out []string
	for _, r := range reqs {
		if r.Status != StatusGranted {
			out = append(out, r.Permission)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
