package libvirtdriver

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/infraguys/genesis-compute/pkg/types"
)

// domainTemplate is a minimal q35/KVM guest, enough to boot the images this
// driver cares about. The genesis:genesis metadata element records the
// cores/ram/image the domain was defined with; this driver does not read
// it back.
const domainTemplate = `<domain type="kvm">
  <name>{{.Name}}</name>
  <uuid>{{.UUID}}</uuid>
  <metadata>
    <genesis:genesis xmlns:genesis="https://github.com/infraguys">
      <genesis:vcpu>{{.Cores}}</genesis:vcpu>
      <genesis:mem>{{.RAM}}</genesis:mem>
      <genesis:image>{{.Image}}</genesis:image>
    </genesis:genesis>
  </metadata>
  <memory unit="MiB">{{.RAM}}</memory>
  <currentMemory unit="MiB">{{.RAM}}</currentMemory>
  <vcpu placement="static">{{.Cores}}</vcpu>
  <os>
    <type arch="x86_64" machine="q35">hvm</type>
    <boot dev="network"/>
    <boot dev="hd"/>
  </os>
  <features>
    <acpi/>
    <apic/>
  </features>
  <cpu mode="host-passthrough"/>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
  </devices>
</domain>
`

const diskTemplate = `<disk type="{{.SourceType}}" device="disk">
  <driver name="qemu" type="{{.Format}}" discard="unmap"/>
  <source {{.SourceAttr}}="{{.SourcePath}}"/>
  <target dev="{{.Device}}" bus="virtio"/>
</disk>
`

const ifaceTemplate = `<interface type="network">
  <mac address="{{.MAC}}"/>
  <source network="{{.Network}}"/>
  <model type="virtio"/>
</interface>
`

const volTemplate = `<volume>
  <name>{{.Name}}</name>
  <capacity unit="G">{{.SizeGB}}</capacity>
  <allocation>0</allocation>
  <target>
    <format type="qcow2"/>
  </target>
</volume>
`

func render(tmplText string, data any) (string, error) {
	tmpl, err := template.New("xml").Parse(tmplText)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func domainXML(machine *types.Machine) (string, error) {
	return render(domainTemplate, struct {
		Name  string
		UUID  string
		Cores int
		RAM   int
		Image string
	}{
		Name:  machine.Name,
		UUID:  machine.UUID,
		Cores: machine.Cores,
		RAM:   machine.RAM,
		Image: machine.Image,
	})
}

// diskDeviceIndex maps a volume's index (§3's disk_spec.index) to a virtio
// device letter: 0 -> vda, 1 -> vdb, and so on.
func diskDeviceIndex(index int) string {
	return fmt.Sprintf("vd%c", 'a'+byte(index))
}

func diskXML(volume *types.MachineVolume, poolPath string) (string, error) {
	path := fmt.Sprintf("%s/%s.qcow2", poolPath, volume.UUID)
	return render(diskTemplate, struct {
		SourceType string
		Format     string
		SourceAttr string
		SourcePath string
		Device     string
	}{
		SourceType: "file",
		Format:     "qcow2",
		SourceAttr: "file",
		SourcePath: path,
		Device:     diskDeviceIndex(volume.Index),
	})
}

func ifaceXML(port *types.Port, network string) (string, error) {
	return render(ifaceTemplate, struct {
		MAC     string
		Network string
	}{MAC: port.MAC, Network: network})
}

func volumeXML(volume *types.MachineVolume) (string, error) {
	return render(volTemplate, struct {
		Name   string
		SizeGB int
	}{Name: volume.UUID, SizeGB: volume.Size})
}
