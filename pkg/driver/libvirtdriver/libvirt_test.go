package libvirtdriver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infraguys/genesis-compute/pkg/types"
)

func TestParseSpecReadsEveryField(t *testing.T) {
	pool := &types.MachinePool{DriverSpec: map[string]any{
		"uri":       "qemu:///system",
		"socket":    "/tmp/libvirt-sock",
		"pool":      "default",
		"pool_path": "/var/lib/libvirt/images",
		"network":   "genesis-net",
	}}

	spec, err := parseSpec(pool)
	require.NoError(t, err)
	require.Equal(t, "qemu:///system", spec.URI)
	require.Equal(t, "/tmp/libvirt-sock", spec.Socket)
	require.Equal(t, "default", spec.Pool)
	require.Equal(t, "/var/lib/libvirt/images", spec.PoolPath)
	require.Equal(t, "genesis-net", spec.Network)
}

func TestParseSpecToleratesMissingFields(t *testing.T) {
	spec, err := parseSpec(&types.MachinePool{})
	require.NoError(t, err)
	require.Equal(t, Spec{}, spec)
}

func TestDiskDeviceIndexMapsToVirtioLetters(t *testing.T) {
	require.Equal(t, "vda", diskDeviceIndex(0))
	require.Equal(t, "vdb", diskDeviceIndex(1))
	require.Equal(t, "vdc", diskDeviceIndex(2))
}

func TestDomainXMLRendersCoresRamAndImage(t *testing.T) {
	m := &types.Machine{Base: types.Base{UUID: "m-1"}, Name: "vm-1", Cores: 4, RAM: 4096, Image: "ubuntu-22.04"}
	xml, err := domainXML(m)
	require.NoError(t, err)
	require.Contains(t, xml, "<uuid>m-1</uuid>")
	require.Contains(t, xml, "<genesis:vcpu>4</genesis:vcpu>")
	require.Contains(t, xml, "<genesis:mem>4096</genesis:mem>")
	require.Contains(t, xml, "<genesis:image>ubuntu-22.04</genesis:image>")
}

func TestDiskXMLUsesVolumeIndexForDevice(t *testing.T) {
	v := &types.MachineVolume{Base: types.Base{UUID: "v-1"}, Index: 1}
	xml, err := diskXML(v, "/var/lib/libvirt/images")
	require.NoError(t, err)
	require.Contains(t, xml, `file="/var/lib/libvirt/images/v-1.qcow2"`)
	require.Contains(t, xml, `dev="vdb"`)
	require.True(t, strings.Contains(xml, `type="qcow2"`))
}

func TestIfaceXMLRendersMACAndNetwork(t *testing.T) {
	p := &types.Port{MAC: "aa:bb:cc:dd:ee:ff"}
	xml, err := ifaceXML(p, "genesis-net")
	require.NoError(t, err)
	require.Contains(t, xml, `address="aa:bb:cc:dd:ee:ff"`)
	require.Contains(t, xml, `network="genesis-net"`)
}

func TestVolumeXMLRendersNameAndCapacity(t *testing.T) {
	v := &types.MachineVolume{Base: types.Base{UUID: "v-2"}, Size: 20}
	xml, err := volumeXML(v)
	require.NoError(t, err)
	require.Contains(t, xml, "<name>v-2</name>")
	require.Contains(t, xml, `<capacity unit="G">20</capacity>`)
}
