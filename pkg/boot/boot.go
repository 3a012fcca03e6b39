package boot

import (
	"fmt"

	"github.com/infraguys/genesis-compute/pkg/types"
)

// Config holds the per-deployment pieces of a rendered iPXE script: where
// to fetch the network-boot kernel/initrd from, and the control-plane's
// own base URL, passed to the kernel as gc_base_url (§4.8).
type Config struct {
	TFTPHost string // host:port serving kernel/initrd over TFTP
	BaseURL  string // e.g. http://10.0.0.1:8090
}

// DefaultConfig returns TFTP-based defaults pointing at host.
func DefaultConfig(host, baseURL string) Config {
	return Config{TFTPHost: host, BaseURL: baseURL}
}

// NetworkScript renders the default netboot script: fetch kernel+initrd
// and pass the control-plane URL as a kernel parameter.
func (c Config) NetworkScript() string {
	return fmt.Sprintf(
		"#!ipxe\nkernel tftp://%s/bios/vmlinuz gc_base_url=%s\ninitrd tftp://%s/bios/initrd.img\nboot\n",
		c.TFTPHost, c.BaseURL, c.TFTPHost,
	)
}

// HDScript renders a script that instructs iPXE to sanboot from drive
// 0x80+n.
func (c Config) HDScript(n int) string {
	return fmt.Sprintf("#!ipxe\nsanboot --no-describe --drive 0x%x\n", 0x80+n)
}

// Script renders the iPXE script for boot. cdrom is treated as network
// for now (§4.8); any boot value this package doesn't recognise falls
// back to network too, since that is also the no-match-found response
// §4.8 specifies for autodiscovery.
func (c Config) Script(b types.Boot) string {
	if n, ok := b.HDDriveIndex(); ok {
		return c.HDScript(n)
	}
	return c.NetworkScript()
}
