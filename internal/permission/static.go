package permission

import (
	"context"
	"sync"
)

// StaticPlatform answers permission queries from a fixed grant list.
// Headless hosts have no system prompt; Request grants nothing new and
// denied permissions report no rationale, so they read as permanent.
type StaticPlatform struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewStaticPlatform creates a platform that grants exactly the listed permissions
func NewStaticPlatform(granted []string) *StaticPlatform {
	m := make(map[string]bool, len(granted))
	for _, p := range granted {
		m[p] = true
	}
	return &StaticPlatform{granted: m}
}

// Grant marks a permission as granted, as if changed from settings
func (p *StaticPlatform) Grant(permission string) {
	p.mu.Lock()
	p.granted[permission] = true
	p.mu.Unlock()
}

// Revoke removes a grant
func (p *StaticPlatform) Revoke(permission string) {
	p.mu.Lock()
	delete(p.granted, permission)
	p.mu.Unlock()
}

// Check implements Platform
func (p *StaticPlatform) Check(_ context.Context, permission string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[permission], nil
}

// ShouldShowRationale implements Platform
func (p *StaticPlatform) ShouldShowRationale(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// Request implements Platform
func (p *StaticPlatform) Request(_ context.Context, permissions []string) (map[string]bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(permissions))
	for _, perm := range permissions {
		out[perm] = p.granted[perm]
	}
	return out, nil
}
