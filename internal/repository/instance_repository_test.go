package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/testutil"
)

func TestInstanceRepository_Save(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestInstanceRepository_Save")
	defer cleanup()

	repo := NewInstanceRepository(db)
	ctx := context.Background()
	depID := testutil.InsertDeployment(t, db, "cf")

	saved, err := repo.Save(ctx, domain.Instance{DeploymentID: depID, Job: "web", Index: 0, AvailabilityZone: "z1"})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.NotEmpty(t, saved.UUID)
	assert.Equal(t, "web/0", saved.Name())
	assert.Equal(t, "z1", saved.AvailabilityZone)
	assert.Empty(t, saved.VMExtensions())

	saved.Ignore = true
	saved.SetVMExtensions([]string{"lb"})
	updated, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	assert.True(t, updated.Ignore)
	assert.Equal(t, []string{"lb"}, updated.VMExtensions())

	_, err = repo.Save(ctx, domain.Instance{DeploymentID: depID, Job: "web", Index: 0})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.Save(ctx, domain.Instance{Job: "web"})
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = repo.Save(ctx, domain.Instance{ID: 99999, DeploymentID: depID, Job: "web"})
	assert.ErrorIs(t, err, ErrNotFound)

	byUUID, err := repo.FindByUUID(ctx, saved.UUID)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byUUID.ID)
}

func TestInstanceRepository_FindByDeployment(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestInstanceRepository_FindByDeployment")
	defer cleanup()

	repo := NewInstanceRepository(db)
	ctx := context.Background()
	depID := testutil.InsertDeployment(t, db, "cf")
	otherID := testutil.InsertDeployment(t, db, "other")

	web1 := testutil.InsertInstance(t, db, depID, "web", 1, "z2")
	web0 := testutil.InsertInstance(t, db, depID, "web", 0, "z1")
	testutil.InsertInstance(t, db, depID, "api", 0, "z1")
	testutil.InsertInstance(t, db, otherID, "web", 0, "z1")

	testutil.InsertDisk(t, db, web0, "disk-0")
	_, err := db.Exec("INSERT INTO ip_addresses (address_str, network_name, static, instance_id) VALUES (?, ?, ?, ?)",
		"10.0.0.10/32", "default", true, web1)
	require.NoError(t, err)

	instances, err := repo.FindByDeployment(ctx, depID)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, "api/0", instances[0].Name())
	assert.Equal(t, "web/0", instances[1].Name())
	assert.Equal(t, "web/1", instances[2].Name())

	assert.True(t, instances[1].HasPersistentDisk())
	assert.Equal(t, "disk-0", instances[1].PersistentDisks[0].DiskCID)
	assert.False(t, instances[2].HasPersistentDisk())
	require.Len(t, instances[2].IPAddresses, 1)
	assert.Equal(t, "10.0.0.10/32", instances[2].IPAddresses[0].Address)

	empty, err := repo.FindByDeployment(ctx, 99999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInstanceRepository_ListIndexes(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestInstanceRepository_ListIndexes")
	defer cleanup()

	repo := NewInstanceRepository(db)
	ctx := context.Background()
	depID := testutil.InsertDeployment(t, db, "cf")

	for _, idx := range []int{3, 0, 1} {
		testutil.InsertInstance(t, db, depID, "web", idx, "")
	}
	testutil.InsertInstance(t, db, depID, "api", 2, "")

	indexes, err := repo.ListIndexes(ctx, depID, "web")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, indexes)

	indexes, err = repo.ListIndexes(ctx, depID, "missing")
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestInstanceRepository_UpdatePlacementAndReassign(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestInstanceRepository_UpdatePlacementAndReassign")
	defer cleanup()

	repo := NewInstanceRepository(db)
	ctx := context.Background()
	depID := testutil.InsertDeployment(t, db, "cf")
	id := testutil.InsertInstance(t, db, depID, "old-web", 4, "z1")
	testutil.InsertInstance(t, db, depID, "web", 0, "z1")

	require.NoError(t, repo.UpdatePlacement(ctx, id, "z2", "large", []string{"lb", "public"}))
	inst, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "z2", inst.AvailabilityZone)
	assert.Equal(t, "large", inst.VMType)
	assert.Equal(t, []string{"lb", "public"}, inst.VMExtensions())

	require.NoError(t, repo.Reassign(ctx, id, "web", 1))
	inst, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "web/1", inst.Name())

	assert.ErrorIs(t, repo.Reassign(ctx, id, "web", 0), ErrDuplicate)
	assert.ErrorIs(t, repo.UpdatePlacement(ctx, 99999, "z1", "", nil), ErrNotFound)
	assert.ErrorIs(t, repo.Reassign(ctx, 99999, "web", 5), ErrNotFound)
}

func TestInstanceRepository_DeleteByID(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestInstanceRepository_DeleteByID")
	defer cleanup()

	repo := NewInstanceRepository(db)
	ctx := context.Background()
	depID := testutil.InsertDeployment(t, db, "cf")
	id := testutil.InsertInstance(t, db, depID, "web", 0, "")
	testutil.InsertDisk(t, db, id, "disk-0")

	_, err := repo.FindByID(ctx, id)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByID(ctx, id))
	assert.Equal(t, 0, testutil.CountRows(t, db, "persistent_disks"))

	_, err = repo.FindByID(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.DeleteByID(ctx, id), ErrNotFound)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
