package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/testutil"
)

func TestDeploymentRepository_Save(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestDeploymentRepository_Save")
	defer cleanup()

	repo := NewDeploymentRepository(db)
	ctx := context.Background()

	saved, err := repo.Save(ctx, domain.Deployment{Name: "cf"})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, "cf", saved.Name)

	saved.Name = "cf-renamed"
	updated, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, "cf-renamed", updated.Name)

	_, err = repo.Save(ctx, domain.Deployment{Name: "cf-renamed"})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.Save(ctx, domain.Deployment{})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestDeploymentRepository_FindOrCreate(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestDeploymentRepository_FindOrCreate")
	defer cleanup()

	repo := NewDeploymentRepository(db)
	ctx := context.Background()

	first, err := repo.FindOrCreate(ctx, "cf")
	require.NoError(t, err)

	second, err := repo.FindOrCreate(ctx, "cf")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeploymentRepository_DeleteByID(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestDeploymentRepository_DeleteByID")
	defer cleanup()

	repo := NewDeploymentRepository(db)
	ctx := context.Background()

	d, err := repo.Save(ctx, domain.Deployment{Name: "cf"})
	require.NoError(t, err)
	testutil.InsertInstance(t, db, d.ID, "web", 0, "z1")

	require.NoError(t, repo.DeleteByID(ctx, d.ID))

	_, err = repo.FindByID(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, testutil.CountRows(t, db, "instances"), "instances cascade with their deployment")

	err = repo.DeleteByID(ctx, d.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindByName(ctx, "cf")
	assert.ErrorIs(t, err, ErrNotFound)
}
