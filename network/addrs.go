//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import "net"

// localNonLoopbackAddresses returns every address bound to any local
// interface, excluding loopback, so a NAT-PMP/PCP/UPnP client can tell a
// gateway which local address to map a port against.
// IPv4 and IPv6 results are both included, undistinguished and
// unordered; a caller choosing a protocol driver's socket family filters
// afterward.
func localNonLoopbackAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			out = append(out, ip.String())
		}
	}
	return out, nil
}
