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

package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	a := New()
	require.NoError(t, a.AddRole("reader", "Read-only role"))
	require.NoError(t, a.AssignPermission("reader", "SELECT"))
	require.NoError(t, a.AddUser("alice", "Alice"))
	require.NoError(t, a.AssignRole("alice", "reader"))
	return a
}

func TestCheckBareVerbImpliesScoped(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.True(t, a.Check("alice", "SELECT"))
	assert.True(t, a.Check("alice", "SELECT:users"))
	assert.False(t, a.Check("alice", "INSERT"))
	assert.False(t, a.Check("alice", "INSERT:users"))
}

func TestCheckScopedGrantDoesNotWiden(t *testing.T) {
	a := New()
	require.NoError(t, a.AddRole("narrow", ""))
	require.NoError(t, a.AssignPermission("narrow", "UPDATE:orders"))
	require.NoError(t, a.AddUser("bob", ""))
	require.NoError(t, a.AssignRole("bob", "narrow"))

	assert.True(t, a.Check("bob", "UPDATE:orders"))
	assert.False(t, a.Check("bob", "UPDATE"))
	assert.False(t, a.Check("bob", "UPDATE:users"))
}

func TestCheckWildcard(t *testing.T) {
	a := New()
	require.NoError(t, a.AddRole("admin", ""))
	require.NoError(t, a.AssignPermission("admin", "*"))
	require.NoError(t, a.AddUser("root", ""))
	require.NoError(t, a.AssignRole("root", "admin"))

	assert.True(t, a.Check("root", "DROP:anything"))
	assert.True(t, a.Check("root", "SELECT"))
}

func TestCheckNormalizesPermission(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.True(t, a.Check("alice", "select"))
	assert.True(t, a.Check("alice", "  Select:Users "))
}

func TestCheckUnknownOrDisabledUser(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.False(t, a.Check("mallory", "SELECT"))

	require.NoError(t, a.SetEnabled("alice", false))
	assert.False(t, a.Check("alice", "SELECT"))

	require.NoError(t, a.SetEnabled("alice", true))
	assert.True(t, a.Check("alice", "SELECT"))
}

func TestInheritanceUnionsParentChain(t *testing.T) {
	a := New()
	require.NoError(t, a.AddRole("base", ""))
	require.NoError(t, a.AddRole("mid", ""))
	require.NoError(t, a.AddRole("top", ""))
	require.NoError(t, a.AssignPermission("base", "SELECT"))
	require.NoError(t, a.AssignPermission("mid", "INSERT"))
	require.NoError(t, a.AssignPermission("top", "DELETE"))
	require.NoError(t, a.SetInheritance("mid", "base"))
	require.NoError(t, a.SetInheritance("top", "mid"))
	require.NoError(t, a.AddUser("carol", ""))
	require.NoError(t, a.AssignRole("carol", "top"))

	assert.True(t, a.Check("carol", "SELECT"))
	assert.True(t, a.Check("carol", "INSERT"))
	assert.True(t, a.Check("carol", "DELETE"))
	assert.False(t, a.Check("carol", "DROP"))
}

func TestSetInheritanceRejectsCycle(t *testing.T) {
	a := New()
	require.NoError(t, a.AddRole("a", ""))
	require.NoError(t, a.AddRole("b", ""))
	require.NoError(t, a.AddRole("c", ""))
	require.NoError(t, a.SetInheritance("b", "a"))
	require.NoError(t, a.SetInheritance("c", "b"))

	assert.Error(t, a.SetInheritance("a", "c"))
	assert.Error(t, a.SetInheritance("a", "a"))

	// Clearing the edge is always allowed.
	assert.NoError(t, a.SetInheritance("b", ""))
}

func TestRevokeInvalidatesMemoizedClosure(t *testing.T) {
	a := newTestAuthorizer(t)
	require.True(t, a.Check("alice", "SELECT"))

	require.NoError(t, a.RevokePermission("reader", "SELECT"))
	assert.False(t, a.Check("alice", "SELECT"))
}

func TestRemoveRoleDetachesUsersAndChildren(t *testing.T) {
	a := newTestAuthorizer(t)
	require.NoError(t, a.AddRole("child", ""))
	require.NoError(t, a.SetInheritance("child", "reader"))

	require.NoError(t, a.RemoveRole("reader"))

	assert.False(t, a.Check("alice", "SELECT"))
	assert.Error(t, a.RemoveRole("reader"))
	// The child survives with the edge cleared.
	assert.NoError(t, a.SetInheritance("child", ""))
}

func TestDuplicateRoleAndUser(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.Error(t, a.AddRole("reader", ""))
	assert.Error(t, a.AddUser("alice", ""))
	// Re-assigning an already held role is a no-op, not an error.
	assert.NoError(t, a.AssignRole("alice", "reader"))
}

func TestAssignRoleValidatesBothSides(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.Error(t, a.AssignRole("nobody", "reader"))
	assert.Error(t, a.AssignRole("alice", "missing"))
	assert.Error(t, a.AssignPermission("missing", "SELECT"))
	assert.Error(t, a.RevokePermission("missing", "SELECT"))
}
