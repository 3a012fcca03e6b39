package boot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/infraguys/genesis-compute/pkg/types"
)

func TestScriptNetwork(t *testing.T) {
	c := DefaultConfig("10.0.0.1", "http://10.0.0.1:8090")
	s := c.Script(types.BootNetwork)
	assert.Contains(t, s, "kernel tftp://10.0.0.1/bios/vmlinuz gc_base_url=http://10.0.0.1:8090")
	assert.Contains(t, s, "initrd tftp://10.0.0.1/bios/initrd.img")
}

func TestScriptHD(t *testing.T) {
	c := DefaultConfig("10.0.0.1", "http://10.0.0.1:8090")
	s := c.Script(types.BootHD0)
	assert.Contains(t, s, "0x80")

	s3 := c.Script(types.BootHD3)
	assert.Contains(t, s3, "0x83")
}

func TestScriptCDROMTreatedAsNetwork(t *testing.T) {
	c := DefaultConfig("10.0.0.1", "http://10.0.0.1:8090")
	s := c.Script(types.BootCDROM)
	assert.True(t, strings.HasPrefix(s, "#!ipxe\nkernel"))
}
