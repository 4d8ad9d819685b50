package repository

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
	"github.com/jbweber/homelab/placer/internal/testutil"
)

func TestOrphanedVMRepository(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestOrphanedVMRepository")
	defer cleanup()

	repo := NewOrphanedVMRepository(db)
	ctx := context.Background()

	vm, err := repo.Save(ctx, domain.OrphanedVM{CID: "vm-1", DeploymentName: "cf", InstanceName: "web/0", AvailabilityZone: "z1"})
	require.NoError(t, err)
	assert.NotZero(t, vm.ID)
	assert.NotEmpty(t, vm.OrphanedAt)

	_, err = repo.Save(ctx, vm)
	assert.ErrorIs(t, err, ErrInvalidEntity)
	_, err = repo.Save(ctx, domain.OrphanedVM{InstanceName: "web/1"})
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = repo.Save(ctx, domain.OrphanedVM{CID: "vm-2", DeploymentName: "other", InstanceName: "api/0"})
	require.NoError(t, err)

	cf, err := repo.FindByDeploymentName(ctx, "cf")
	require.NoError(t, err)
	require.Len(t, cf, 1)
	assert.Equal(t, "vm-1", cf[0].CID)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestOrphanedVMRepository_DeleteReleasesIPs(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestOrphanedVMRepository_DeleteReleasesIPs")
	defer cleanup()

	ctx := context.Background()
	repo := NewOrphanedVMRepository(db)
	ips := NewIPRepository(db)
	depID := testutil.InsertDeployment(t, db, "cf")
	instID := testutil.InsertInstance(t, db, depID, "web", 0, "")

	inst := &domain.Instance{ID: instID, Job: "web", Index: 0}
	network := &domain.Network{Name: "default", Type: domain.NetworkTypeManual}
	_, err := ips.Add(ctx, domain.NewStaticReservation(inst, network, netip.MustParseAddr("10.0.0.5")))
	require.NoError(t, err)

	vm, err := repo.Save(ctx, domain.OrphanedVM{CID: "vm-1", DeploymentName: "cf", InstanceName: "web/0"})
	require.NoError(t, err)
	_, err = ips.TransferToOrphanedVM(ctx, instID, vm.ID)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByID(ctx, vm.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "ip_addresses"))

	assert.ErrorIs(t, repo.DeleteByID(ctx, vm.ID), ErrNotFound)
	_, err = repo.FindByID(ctx, vm.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
