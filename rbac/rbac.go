// Copyright 2026 The MySQL MCP Gateway Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rbac implements in-memory role-based access control with role
// inheritance. Permission keys are bare verbs ("SELECT") or scoped to a
// table ("SELECT:users"); a bare grant implies every scope of the verb.
package rbac

import (
	"fmt"
	"strings"
	"sync"
)

// Role is a named permission set with an optional parent whose permissions
// it inherits.
type Role struct {
	ID          string
	Name        string
	Permissions map[string]bool
	ParentID    string
}

// User maps an identity to its roles.
type User struct {
	ID      string
	Name    string
	RoleIDs []string
	Enabled bool
}

// Authorizer holds the RBAC graph. The read path serves from a memoized
// per-user permission closure; any mutation invalidates the memo.
type Authorizer struct {
	mu    sync.RWMutex
	roles map[string]*Role
	users map[string]*User

	// memo caches the effective permission set per user id. Guarded by mu;
	// rebuilt lazily on Check.
	memo map[string]map[string]bool
}

func New() *Authorizer {
	return &Authorizer{
		roles: make(map[string]*Role),
		users: make(map[string]*User),
		memo:  make(map[string]map[string]bool),
	}
}

// AddRole registers a role. The id must be unique.
func (a *Authorizer) AddRole(id, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.roles[id]; exists {
		return fmt.Errorf("role %q already exists", id)
	}
	a.roles[id] = &Role{ID: id, Name: name, Permissions: make(map[string]bool)}
	a.invalidateLocked()
	return nil
}

// RemoveRole deletes a role and detaches it from users and children.
func (a *Authorizer) RemoveRole(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.roles[id]; !exists {
		return fmt.Errorf("role %q does not exist", id)
	}
	delete(a.roles, id)
	for _, r := range a.roles {
		if r.ParentID == id {
			r.ParentID = ""
		}
	}
	for _, u := range a.users {
		kept := u.RoleIDs[:0]
		for _, rid := range u.RoleIDs {
			if rid != id {
				kept = append(kept, rid)
			}
		}
		u.RoleIDs = kept
	}
	a.invalidateLocked()
	return nil
}

// AssignPermission grants a permission key to a role.
func (a *Authorizer) AssignPermission(roleID, permission string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	role, ok := a.roles[roleID]
	if !ok {
		return fmt.Errorf("role %q does not exist", roleID)
	}
	role.Permissions[normalizePermission(permission)] = true
	a.invalidateLocked()
	return nil
}

// RevokePermission removes a permission key from a role.
func (a *Authorizer) RevokePermission(roleID, permission string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	role, ok := a.roles[roleID]
	if !ok {
		return fmt.Errorf("role %q does not exist", roleID)
	}
	delete(role.Permissions, normalizePermission(permission))
	a.invalidateLocked()
	return nil
}

// SetInheritance makes child inherit from parent. The edge is rejected if
// it would close a cycle. An empty parent clears the edge.
func (a *Authorizer) SetInheritance(childID, parentID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	child, ok := a.roles[childID]
	if !ok {
		return fmt.Errorf("role %q does not exist", childID)
	}
	if parentID == "" {
		child.ParentID = ""
		a.invalidateLocked()
		return nil
	}
	if _, ok := a.roles[parentID]; !ok {
		return fmt.Errorf("role %q does not exist", parentID)
	}
	// Walk up from the proposed parent; reaching the child means a cycle.
	for cur := parentID; cur != ""; {
		if cur == childID {
			return fmt.Errorf("inheritance %s -> %s would create a cycle", childID, parentID)
		}
		next, ok := a.roles[cur]
		if !ok {
			break
		}
		cur = next.ParentID
	}
	child.ParentID = parentID
	a.invalidateLocked()
	return nil
}

// AddUser registers a user, enabled by default.
func (a *Authorizer) AddUser(id, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.users[id]; exists {
		return fmt.Errorf("user %q already exists", id)
	}
	a.users[id] = &User{ID: id, Name: name, Enabled: true}
	return nil
}

// AssignRole adds a role to a user.
func (a *Authorizer) AssignRole(userID, roleID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[userID]
	if !ok {
		return fmt.Errorf("user %q does not exist", userID)
	}
	if _, ok := a.roles[roleID]; !ok {
		return fmt.Errorf("role %q does not exist", roleID)
	}
	for _, rid := range user.RoleIDs {
		if rid == roleID {
			return nil
		}
	}
	user.RoleIDs = append(user.RoleIDs, roleID)
	a.invalidateLocked()
	return nil
}

// SetEnabled flips a user's enabled flag.
func (a *Authorizer) SetEnabled(userID string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[userID]
	if !ok {
		return fmt.Errorf("user %q does not exist", userID)
	}
	user.Enabled = enabled
	a.invalidateLocked()
	return nil
}

// Check reports whether the user holds the permission. Missing or disabled
// users always fail closed.
func (a *Authorizer) Check(userID, permission string) bool {
	permission = normalizePermission(permission)

	a.mu.RLock()
	user, ok := a.users[userID]
	if !ok || !user.Enabled {
		a.mu.RUnlock()
		return false
	}
	if set, ok := a.memo[userID]; ok {
		a.mu.RUnlock()
		return holds(set, permission)
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	// Re-check under the write lock; another goroutine may have built it.
	user, ok = a.users[userID]
	if !ok || !user.Enabled {
		return false
	}
	set, ok := a.memo[userID]
	if !ok {
		set = a.effectiveLocked(user)
		a.memo[userID] = set
	}
	return holds(set, permission)
}

// effectiveLocked unions the user's role permission sets, closed under
// parent inheritance.
func (a *Authorizer) effectiveLocked(user *User) map[string]bool {
	set := make(map[string]bool)
	seen := make(map[string]bool)
	for _, rid := range user.RoleIDs {
		for cur := rid; cur != "" && !seen[cur]; {
			seen[cur] = true
			role, ok := a.roles[cur]
			if !ok {
				break
			}
			for p := range role.Permissions {
				set[p] = true
			}
			cur = role.ParentID
		}
	}
	return set
}

func (a *Authorizer) invalidateLocked() {
	a.memo = make(map[string]map[string]bool)
}

func holds(set map[string]bool, permission string) bool {
	if set["*"] || set[permission] {
		return true
	}
	// A bare verb grant implies every scope of that verb.
	if i := strings.IndexByte(permission, ':'); i > 0 {
		return set[permission[:i]]
	}
	return false
}

func normalizePermission(p string) string {
	return strings.ToUpper(strings.TrimSpace(p))
}
