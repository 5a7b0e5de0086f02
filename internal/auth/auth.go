// Package auth gates who may trigger manual sync or resolve conflicts.
// The replication core only asks yes/no questions; role policy lives with
// the caller.
package auth

// Actor identifies the person or process asking for a gated action.
type Actor struct {
	ID   string
	Role string
}

// Authorizer answers capability checks for the sync engine.
type Authorizer interface {
	CanTriggerManualSync(actor Actor) bool
	CanResolveConflict(actor Actor) bool
}

// RoleAuthorizer is a static role-to-capability table, enough for a
// terminal that provisions its roles from config.
type RoleAuthorizer struct {
	ManualSyncRoles      map[string]bool
	ResolveConflictRoles map[string]bool
}

// NewRoleAuthorizer grants manual sync to the given roles and conflict
// resolution to supervisors only.
func NewRoleAuthorizer(manualSync, resolve []string) *RoleAuthorizer {
	a := &RoleAuthorizer{
		ManualSyncRoles:      make(map[string]bool),
		ResolveConflictRoles: make(map[string]bool),
	}
	for _, r := range manualSync {
		a.ManualSyncRoles[r] = true
	}
	for _, r := range resolve {
		a.ResolveConflictRoles[r] = true
	}
	return a
}

func (a *RoleAuthorizer) CanTriggerManualSync(actor Actor) bool {
	return a.ManualSyncRoles[actor.Role]
}

func (a *RoleAuthorizer) CanResolveConflict(actor Actor) bool {
	return a.ResolveConflictRoles[actor.Role]
}

// AllowAll is a permissive authorizer for unattended terminal agents.
type AllowAll struct{}

func (AllowAll) CanTriggerManualSync(Actor) bool { return true }
func (AllowAll) CanResolveConflict(Actor) bool   { return true }
