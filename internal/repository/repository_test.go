// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/capsera/capsera/internal/testutil"
)

func TestNew(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	assert.NotNil(t, repo)
	assert.NotNil(t, repo.DB())
}

func TestPing(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	require.NoError(t, repo.Ping(context.Background()))
}
