package manifest

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/placer/internal/domain"
)

const simpleManifest = `
name: simple
azs:
  - name: z1
  - name: z2
networks:
  - name: private
    subnets:
      - range: 192.168.1.0/24
        gateway: 192.168.1.1
        reserved: 192.168.1.2 - 192.168.1.9
        static: [192.168.1.10 - 192.168.1.12, 192.168.1.20]
        az: z1
        dns: [8.8.8.8]
      - range: 192.168.2.0/24
        gateway: 192.168.2.1
        azs: [z2]
        prefix: 28
  - name: public
    type: vip
    subnets:
      - static: 10.0.0.1 - 10.0.0.2
  - name: cloud
    type: dynamic
instance_groups:
  - name: web
    instances: 2
    azs: [z1, z2]
    vm_type: small
    vm_extensions: [lb]
    persistent_disk: 1024
    networks:
      - name: private
        static_ips: [192.168.1.10, 192.168.1.11]
        default: [dns, gateway]
      - name: public
`

func TestParseAndBuild(t *testing.T) {
	m, err := Parse([]byte(simpleManifest))
	require.NoError(t, err)
	assert.Equal(t, "simple", m.Name)
	assert.Equal(t, StringList{"192.168.1.2 - 192.168.1.9"}, m.Networks[0].Subnets[0].Reserved)

	d, err := m.Build()
	require.NoError(t, err)
	require.Len(t, d.AZs, 2)
	require.Len(t, d.Networks, 3)

	private := d.Network("private")
	require.NotNil(t, private)
	assert.Equal(t, domain.NetworkTypeManual, private.Type)
	require.Len(t, private.Subnets, 2)

	first := private.Subnets[0]
	assert.Equal(t, "192.168.1.0/24", first.Range.String())
	assert.Equal(t, "192.168.1.1", first.Gateway.String())
	assert.Equal(t, []string{"z1"}, first.AZNames)
	assert.Equal(t, []string{"8.8.8.8"}, first.DNS)
	assert.True(t, first.IsReserved(netip.MustParseAddr("192.168.1.5")))
	assert.Len(t, first.Static, 4)
	assert.True(t, first.IsStatic(netip.MustParseAddr("192.168.1.20")))
	assert.Equal(t, 32, first.BlockBits())

	second := private.Subnets[1]
	assert.Equal(t, []string{"z2"}, second.AZNames)
	assert.Equal(t, 28, second.BlockBits())

	public := d.Network("public")
	require.NotNil(t, public)
	assert.Equal(t, domain.NetworkTypeVIP, public.Type)
	assert.Len(t, public.Subnets[0].Static, 2)

	assert.Equal(t, domain.NetworkTypeDynamic, d.Network("cloud").Type)

	require.Len(t, d.InstanceGroups, 1)
	web := d.InstanceGroups[0]
	assert.Equal(t, 2, web.Instances)
	assert.Equal(t, "small", web.VMType)
	assert.Equal(t, []string{"lb"}, web.VMExtensions)
	assert.Equal(t, 1024, web.PersistentDiskSize)
	require.Len(t, web.Networks, 2)
	assert.Same(t, private, web.Networks[0].Network)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.1.10"), netip.MustParseAddr("192.168.1.11")}, web.Networks[0].StaticIPs)
	assert.Equal(t, []string{"dns", "gateway"}, web.Networks[0].Default)
	assert.True(t, web.HasStaticNetworks())

	azs := d.AZsFor(web)
	require.Len(t, azs, 2)
	assert.Equal(t, "z1", azs[0].Name)
	assert.Nil(t, d.AZsFor(&domain.InstanceGroup{}))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yml")
	require.NoError(t, os.WriteFile(path, []byte(simpleManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "simple", m.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "failed to read manifest")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "empty",
			doc:     "",
			wantMsg: "empty document",
		},
		{
			name:    "unknown key",
			doc:     "name: x\nnetworkz: []\n",
			wantMsg: "networkz",
		},
		{
			name:    "missing name",
			doc:     "networks: [{name: a}]\n",
			wantMsg: "'name' is required",
		},
		{
			name:    "bad network type",
			doc:     "name: x\nnetworks: [{name: a, type: bridge}]\n",
			wantMsg: "'networks[0].type' must be one of [manual dynamic vip], got 'bridge'",
		},
		{
			name:    "duplicate network names",
			doc:     "name: x\nnetworks: [{name: a}, {name: a}]\n",
			wantMsg: "'networks' has duplicate names",
		},
		{
			name:    "bad dns",
			doc:     "name: x\nnetworks: [{name: a, type: dynamic, subnets: [{dns: [nope]}]}]\n",
			wantMsg: "'networks[0].subnets[0].dns[0]' must be an IP address",
		},
		{
			name:    "group without networks",
			doc:     "name: x\nnetworks: [{name: a}]\ninstance_groups: [{name: web, instances: 1}]\n",
			wantMsg: "'instance_groups[0].networks' is required",
		},
		{
			name:    "negative instances",
			doc:     "name: x\nnetworks: [{name: a}]\ninstance_groups: [{name: web, instances: -1, networks: [{name: a}]}]\n",
			wantMsg: "'instance_groups[0].instances' must be at least 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func manualManifest(subnet string) string {
	return "name: x\nazs: [{name: z1}]\nnetworks:\n  - name: net_a\n    subnets:\n      - " + subnet + "\n"
}

func TestBuild_SubnetValidation(t *testing.T) {
	tests := []struct {
		name    string
		subnet  string
		kind    error
		wantMsg string
	}{
		{
			name:    "missing range",
			subnet:  "{gateway: 192.168.0.1}",
			kind:    domain.ErrNetworkInvalidRange,
			wantMsg: "Network 'net_a' subnet is missing a range",
		},
		{
			name:   "invalid range",
			subnet: "{range: 192.168.0.0/33, gateway: 192.168.0.1}",
			kind:   domain.ErrNetworkInvalidRange,
		},
		{
			name:    "missing gateway",
			subnet:  "{range: 192.168.0.0/24}",
			kind:    domain.ErrNetworkInvalidGateway,
			wantMsg: "Network 'net_a' subnet is missing a gateway",
		},
		{
			name:    "gateway is a block",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254/30}",
			kind:    domain.ErrNetworkInvalidGateway,
			wantMsg: "Network 'net_a' gateway must be a single IP",
		},
		{
			name:    "gateway outside range",
			subnet:  "{range: 192.168.0.0/24, gateway: 190.168.0.254}",
			kind:    domain.ErrNetworkInvalidGateway,
			wantMsg: "Network 'net_a' gateway must be inside the range",
		},
		{
			name:    "gateway is network id",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.0}",
			kind:    domain.ErrNetworkInvalidGateway,
			wantMsg: "Network 'net_a' gateway can't be the network id",
		},
		{
			name:    "gateway is broadcast",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.255}",
			kind:    domain.ErrNetworkInvalidGateway,
			wantMsg: "Network 'net_a' gateway can't be the broadcast IP",
		},
		{
			name:    "reserved outside range",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254, reserved: 192.167.0.5 - 192.168.0.10}",
			kind:    domain.ErrNetworkReservedIPOutOfRange,
			wantMsg: "Reserved IP '192.167.0.5' is out of network 'net_a' range",
		},
		{
			name:    "static outside range",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254, static: 192.167.0.5 - 192.168.0.10}",
			kind:    domain.ErrNetworkStaticIPOutOfRange,
			wantMsg: "Static IP '192.167.0.5' is out of network 'net_a' range",
		},
		{
			name:    "static in reserved range",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254, reserved: 192.168.0.5 - 192.168.0.10, static: 192.168.0.5}",
			kind:    domain.ErrNetworkStaticIPOutOfRange,
			wantMsg: "Static IP '192.168.0.5' is in network 'net_a' reserved range",
		},
		{
			name:   "prefix shorter than range",
			subnet: "{range: 192.168.0.0/24, gateway: 192.168.0.254, prefix: 16}",
			kind:   domain.ErrNetworkInvalidProperty,
		},
		{
			name:   "prefix longer than address",
			subnet: "{range: 192.168.0.0/24, gateway: 192.168.0.254, prefix: 33}",
			kind:   domain.ErrNetworkInvalidProperty,
		},
		{
			name:    "az and azs",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254, az: z1, azs: [z1]}",
			kind:    domain.ErrNetworkInvalidProperty,
			wantMsg: "Network 'net_a' contains both 'az' and 'azs'. Choose one.",
		},
		{
			name:    "unknown az",
			subnet:  "{range: 192.168.0.0/24, gateway: 192.168.0.254, az: z9}",
			kind:    domain.ErrNetworkSubnetUnknownAvailabilityZone,
			wantMsg: "Network 'net_a' refers to an unknown availability zone 'z9'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(manualManifest(tt.subnet)))
			require.NoError(t, err)

			_, err = m.Build()
			require.ErrorIs(t, err, tt.kind)
			if tt.wantMsg != "" {
				assert.EqualError(t, err, tt.wantMsg)
			}
		})
	}
}

func TestBuild_ReservedMayCoverGatewayAndBroadcast(t *testing.T) {
	m, err := Parse([]byte(manualManifest(
		"{range: 192.168.0.0/24, gateway: 192.168.0.1, reserved: [192.168.0.0, 192.168.0.1, 192.168.0.255]}")))
	require.NoError(t, err)

	d, err := m.Build()
	require.NoError(t, err)
	assert.Len(t, d.Networks[0].Subnets[0].Reserved, 3)
}

func TestBuild_InstanceGroupReferences(t *testing.T) {
	base := "name: x\nazs: [{name: z1}]\nnetworks: [{name: cloud, type: dynamic}]\n"

	t.Run("unknown az", func(t *testing.T) {
		m, err := Parse([]byte(base + "instance_groups: [{name: web, instances: 1, azs: [z2], networks: [{name: cloud}]}]\n"))
		require.NoError(t, err)
		_, err = m.Build()
		require.ErrorIs(t, err, domain.ErrJobInvalidAvailabilityZone)
		assert.EqualError(t, err, "Instance group 'web' references unknown availability zone 'z2'")
	})

	t.Run("unknown network", func(t *testing.T) {
		m, err := Parse([]byte(base + "instance_groups: [{name: web, instances: 1, networks: [{name: private}]}]\n"))
		require.NoError(t, err)
		_, err = m.Build()
		require.ErrorIs(t, err, ErrInvalidManifest)
		assert.Contains(t, err.Error(), "unknown network 'private'")
	})

	t.Run("no azs", func(t *testing.T) {
		m, err := Parse([]byte(base + "instance_groups: [{name: web, instances: 1, networks: [{name: cloud}]}]\n"))
		require.NoError(t, err)
		d, err := m.Build()
		require.NoError(t, err)
		assert.Nil(t, d.InstanceGroups[0].AZNames)
		assert.False(t, d.InstanceGroups[0].HasStaticNetworks())
	})
}
