// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package roles_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/services/roles"
	"codeberg.org/capsera/capsera/internal/testutil"
)

func TestBuiltin(t *testing.T) {
	catalog, err := roles.Builtin()
	require.NoError(t, err)

	admin, ok := catalog.Lookup(roles.Admin)
	require.True(t, ok)
	assert.Equal(t, 0, admin.Priority)
	assert.Contains(t, admin.Permissions, roles.PermMaintenanceManage)

	defs := catalog.Definitions()
	require.Len(t, defs, 3)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Priority, defs[i].Priority)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := roles.Parse([]byte("roles: ["))
	assert.Error(t, err)

	_, err = roles.Parse([]byte("roles:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate role")

	_, err = roles.Parse([]byte("roles:\n  - priority: 1\n"))
	assert.ErrorContains(t, err, "without name")
}

func TestHasPermission(t *testing.T) {
	catalog, err := roles.Builtin()
	require.NoError(t, err)

	assert.True(t, catalog.HasPermission("admin", roles.PermArchiveManage))
	assert.True(t, catalog.HasPermission("moderator", roles.PermModerationReview))
	assert.False(t, catalog.HasPermission("viewer", roles.PermArchiveManage))
	assert.False(t, catalog.HasPermission("ghost", roles.PermUsersRead))

	wildcard, err := roles.Parse([]byte("roles:\n  - name: root\n    permissions: ['*']\n"))
	require.NoError(t, err)
	assert.True(t, wildcard.HasPermission("root", "anything"))
}

func TestEnsure_Idempotent(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	ctx := context.Background()
	catalog, err := roles.Builtin()
	require.NoError(t, err)

	first, err := catalog.Ensure(ctx, repo, roles.Admin)
	require.NoError(t, err)
	assert.Contains(t, first.Permissions, roles.PermUsersRead)

	second, err := catalog.Ensure(ctx, repo, roles.Admin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnsure_Unknown(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	catalog, err := roles.Builtin()
	require.NoError(t, err)

	_, err = catalog.Ensure(context.Background(), repo, "ghost")

	assert.ErrorIs(t, err, roles.ErrUnknownRole)
}
