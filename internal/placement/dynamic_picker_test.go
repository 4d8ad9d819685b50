package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
)

func dynamicGroup(n int) *domain.InstanceGroup {
	net := &domain.Network{Name: "default", Type: domain.NetworkTypeDynamic}
	return instanceGroup(n, &domain.JobNetwork{Name: "default", Network: net})
}

func pick(t *testing.T, group *domain.InstanceGroup, azs []*domain.AvailabilityZone, desired []*domain.DesiredInstance, existing ...*domain.Instance) []*InstancePlan {
	t.Helper()
	plans, err := NewPicker(group, azs, nil, nil).PlaceAndMatchIn(desired, existing)
	require.NoError(t, err)
	return plans
}

func TestDynamicPicker_NoZones(t *testing.T) {
	group := dynamicGroup(3)
	desired := desiredFor(group, 3)
	e0 := existingInstance(0, "", "disk0")
	e1 := existingInstance(1, "")

	plans := pick(t, group, nil, desired, e0, e1)

	require.Len(t, plans, 3)
	assert.Equal(t, []*domain.Instance{e0, e1}, existingOf(existingPlans(plans)))
	require.Len(t, newPlans(plans), 1)
	assert.Nil(t, newPlans(plans)[0].Desired.AZ)
	assert.Empty(t, obsoleteInstances(plans))
}

func TestDynamicPicker_EmptyZoneListBehavesLikeNoZones(t *testing.T) {
	group := dynamicGroup(2)
	e0 := existingInstance(0, "", "disk0")

	plans := pick(t, group, []*domain.AvailabilityZone{}, desiredFor(group, 2), e0)

	assert.Equal(t, []*domain.Instance{e0}, existingOf(existingPlans(plans)))
	assert.Len(t, newPlans(plans), 1)
	assert.Empty(t, obsoleteInstances(plans))
}

func TestDynamicPicker_PrefersLowerIndexes(t *testing.T) {
	group := dynamicGroup(1)
	e1 := existingInstance(1, "")
	e0 := existingInstance(0, "")

	plans := pick(t, group, nil, desiredFor(group, 1), e1, e0)

	assert.Equal(t, []*domain.Instance{e0}, existingOf(existingPlans(plans)))
	assert.Equal(t, []*domain.Instance{e1}, obsoleteInstances(plans))
}

func TestDynamicPicker_Balance(t *testing.T) {
	tests := []struct {
		name         string
		azs          []string
		desired      int
		existing     func() []*domain.Instance
		wantExisting []int // indexes of existing instances, in plan order
		wantNew      []string
		wantObsolete []int
	}{
		{
			name:    "instance in removed zone becomes obsolete",
			azs:     []string{"1", "2"},
			desired: 3,
			existing: func() []*domain.Instance {
				return []*domain.Instance{existingInstance(0, "1"), existingInstance(1, "2"), existingInstance(2, "3")}
			},
			wantExisting: []int{0, 1},
			wantNew:      []string{"1"},
			wantObsolete: []int{2},
		},
		{
			name:    "keeps lowest indexes in a zone",
			azs:     []string{"1"},
			desired: 3,
			existing: func() []*domain.Instance {
				return []*domain.Instance{existingInstance(2, "1"), existingInstance(0, "1"), existingInstance(1, "2")}
			},
			wantExisting: []int{0, 2},
			wantNew:      []string{"1"},
			wantObsolete: []int{1},
		},
		{
			name:    "spreads over a new zone",
			azs:     []string{"1", "2", "3"},
			desired: 5,
			existing: func() []*domain.Instance {
				return []*domain.Instance{
					existingInstance(0, "1"), existingInstance(1, "1"), existingInstance(2, "1"),
					existingInstance(3, "2"), existingInstance(4, "2"),
				}
			},
			wantExisting: []int{0, 3, 1, 4},
			wantNew:      []string{"3"},
			wantObsolete: []int{2},
		},
		{
			name:    "crowded zone gives up instances",
			azs:     []string{"1", "2", "3"},
			desired: 5,
			existing: func() []*domain.Instance {
				return []*domain.Instance{
					existingInstance(0, "1"), existingInstance(1, "1"), existingInstance(2, "1"),
					existingInstance(3, "1"), existingInstance(4, "2"),
				}
			},
			wantExisting: []int{0, 4, 1},
			wantNew:      []string{"3", "2"},
			wantObsolete: []int{2, 3},
		},
		{
			name:    "most populated zone is preferred on ties",
			azs:     []string{"1", "2", "3"},
			desired: 4,
			existing: func() []*domain.Instance {
				return []*domain.Instance{existingInstance(0, "1"), existingInstance(1, "2"), existingInstance(2, "2")}
			},
			wantExisting: []int{1, 0, 2},
			wantNew:      []string{"3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := dynamicGroup(tt.desired)
			plans := pick(t, group, zones(tt.azs...), desiredFor(group, tt.desired), tt.existing()...)

			var gotExisting []int
			for _, p := range existingPlans(plans) {
				gotExisting = append(gotExisting, p.Existing.Index)
				assert.Equal(t, p.Existing.AvailabilityZone, p.AZName(), "existing instances stay in their zone")
			}
			var gotObsolete []int
			for _, inst := range obsoleteInstances(plans) {
				gotObsolete = append(gotObsolete, inst.Index)
			}

			assert.Equal(t, tt.wantExisting, gotExisting)
			assert.Equal(t, tt.wantNew, planZones(newPlans(plans)))
			assert.Equal(t, tt.wantObsolete, gotObsolete)
		})
	}
}

func TestDynamicPicker_PersistentDisks(t *testing.T) {
	t.Run("disk in undesired zone is not kept", func(t *testing.T) {
		group := dynamicGroup(2)
		z1 := existingInstance(0, "1", "disk0")
		z66 := existingInstance(1, "66", "disk1")

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 2), z1, z66)

		assert.Equal(t, []*domain.Instance{z1}, existingOf(existingPlans(plans)))
		assert.Equal(t, []string{"2"}, planZones(newPlans(plans)))
		assert.Equal(t, []*domain.Instance{z66}, obsoleteInstances(plans))
	})

	t.Run("instances with disks are not moved", func(t *testing.T) {
		group := dynamicGroup(2)
		e0 := existingInstance(0, "1", "disk0")
		e1 := existingInstance(1, "1", "disk1")
		e1.PersistentDisks[0].Active = false

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 2), e0, e1)

		assert.Equal(t, []*domain.Instance{e0, e1}, existingOf(existingPlans(plans)))
		assert.Empty(t, newPlans(plans))
		assert.Empty(t, obsoleteInstances(plans))
	})

	t.Run("instance without disk is rebalanced", func(t *testing.T) {
		group := dynamicGroup(2)
		e0 := existingInstance(0, "1")
		e1 := existingInstance(1, "1", "disk1")

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 2), e0, e1)

		assert.Equal(t, []*domain.Instance{e1}, existingOf(existingPlans(plans)))
		assert.Equal(t, []string{"2"}, planZones(newPlans(plans)))
		assert.Equal(t, []*domain.Instance{e0}, obsoleteInstances(plans))
	})

	t.Run("scale down keeps the lowest index", func(t *testing.T) {
		group := dynamicGroup(1)
		e0 := existingInstance(0, "1", "disk0")
		e1 := existingInstance(1, "1", "disk1")

		plans := pick(t, group, zones("1"), desiredFor(group, 1), e0, e1)

		assert.Equal(t, []*domain.Instance{e0}, existingOf(existingPlans(plans)))
		assert.Equal(t, []*domain.Instance{e1}, obsoleteInstances(plans))
	})

	t.Run("removed zone is rebalanced over the rest", func(t *testing.T) {
		group := dynamicGroup(6)
		var existing []*domain.Instance
		for i, az := range []string{"1", "1", "2", "2", "3", "3"} {
			existing = append(existing, existingInstance(i, az, "disk"))
		}

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 6), existing...)

		assert.Equal(t, existing[:4], existingOf(existingPlans(plans)))
		assert.Equal(t, []string{"1", "2"}, planZones(newPlans(plans)))
		assert.Equal(t, existing[4:], obsoleteInstances(plans))
	})

	t.Run("added zone gets the new instance", func(t *testing.T) {
		group := dynamicGroup(3)
		e0 := existingInstance(0, "1", "disk0")
		e1 := existingInstance(1, "1", "disk1")

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 3), e0, e1)

		assert.Equal(t, []*domain.Instance{e0, e1}, existingOf(existingPlans(plans)))
		assert.Equal(t, []string{"2"}, planZones(newPlans(plans)))
	})
}

func TestDynamicPicker_IgnoredInstances(t *testing.T) {
	t.Run("ignored instances are placed first", func(t *testing.T) {
		group := dynamicGroup(2)
		e0 := existingInstance(0, "1", "disk0")
		e1 := existingInstance(1, "1")
		e1.Ignore = true

		plans := pick(t, group, zones("1", "2"), desiredFor(group, 2), e0, e1)

		assert.Equal(t, []*domain.Instance{e1, e0}, existingOf(existingPlans(plans)))
		assert.Empty(t, obsoleteInstances(plans))
	})

	t.Run("zone removed under an ignored instance", func(t *testing.T) {
		group := dynamicGroup(2)
		e0 := existingInstance(0, "1")
		e0.Ignore = true

		_, err := NewPicker(group, zones("2"), nil, nil).PlaceAndMatchIn(desiredFor(group, 2), []*domain.Instance{e0})
		require.ErrorIs(t, err, domain.ErrDeploymentIgnoredInstancesModified)
		assert.EqualError(t, err, `Instance Group 'fake-instance-group' no longer contains AZs ["1"] where ignored instance(s) exist.`)
	})

	t.Run("deleting an ignored instance", func(t *testing.T) {
		group := dynamicGroup(0)
		e0 := existingInstance(0, "1")
		e0.Ignore = true

		_, err := NewPicker(group, zones("1"), nil, nil).PlaceAndMatchIn(nil, []*domain.Instance{e0})
		require.ErrorIs(t, err, domain.ErrDeploymentIgnoredInstancesDeletion)
		assert.EqualError(t, err, "Instance Group 'fake-instance-group' has 1 ignored instance(s). 0 instance(s) of that instance group were requested. Deleting ignored instances is not allowed.")
	})

	t.Run("network change under an ignored instance", func(t *testing.T) {
		n := manual("a", subnet(t, "192.168.1.0/24", []string{"1"}))
		group := instanceGroup(1, &domain.JobNetwork{Name: "a", Network: n})
		e0 := withIPs(existingInstance(0, "1"), "b:10.10.1.10")
		e0.Ignore = true

		_, err := NewPicker(group, zones("1"), nil, nil).PlaceAndMatchIn(desiredFor(group, 1), []*domain.Instance{e0})
		require.ErrorIs(t, err, domain.ErrDeploymentIgnoredInstancesModified)
		assert.Contains(t, err.Error(), "an attempt was made to modify the networks")
	})
}

func TestDynamicPicker_NetworkPlans(t *testing.T) {
	n := manual("a", subnet(t, "192.168.1.0/24", []string{"1"}, "192.168.1.200"))
	group := instanceGroup(2, &domain.JobNetwork{Name: "a", Network: n})
	e0 := withIPs(existingInstance(0, "1"), "a:192.168.1.20")
	e1 := withIPs(existingInstance(1, "1"), "a:192.168.1.200")

	plans := pick(t, group, zones("1"), desiredFor(group, 2), e0, e1)

	require.Len(t, existingPlans(plans), 2)
	assert.Equal(t, []string{"192.168.1.20"}, planIPs(plans[0]), "dynamic address is kept")
	assert.Empty(t, planIPs(plans[1]), "address from the static pool is not reused dynamically")
	for _, p := range plans {
		require.Len(t, p.NetworkPlans, 1)
		assert.Equal(t, domain.ReservationDynamic, p.NetworkPlans[0].Reservation.Type)
	}
}

type pickLast struct{ calls [][]string }

func (p *pickLast) Pick(azs []*domain.AvailabilityZone) *domain.AvailabilityZone {
	var names []string
	for _, az := range azs {
		names = append(names, az.Name)
	}
	p.calls = append(p.calls, names)
	return azs[len(azs)-1]
}

func TestDynamicPicker_TieStrategy(t *testing.T) {
	group := dynamicGroup(1)
	tie := &pickLast{}

	plans, err := NewPicker(group, zones("1", "2"), tie, nil).PlaceAndMatchIn(desiredFor(group, 1), nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"1", "2"}}, tie.calls)
	assert.Equal(t, []string{"2"}, planZones(newPlans(plans)))
}
