//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package network

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveUDPSockaddr parses "host:port" (host may be empty) into a
// unix.Sockaddr and the address family to create the socket with.
func resolveUDPSockaddr(address string) (unix.Sockaddr, int, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve udp address %q: %w", address, err)
	}
	return ipToSockaddr(udpAddr.IP, udpAddr.Port)
}

// resolveTCPSockaddr parses "host:port" into a unix.Sockaddr and family.
// An empty host resolves to the wildcard address for dual-stack default
// (IPv4) binding.
func resolveTCPSockaddr(address string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve tcp address %q: %w", address, err)
	}
	return ipToSockaddr(tcpAddr.IP, tcpAddr.Port)
}

func ipToSockaddr(ip net.IP, port int) (unix.Sockaddr, int, error) {
	if ip == nil || ip.IsUnspecified() || ip.To4() != nil {
		var addr [4]byte
		if v4 := ip.To4(); v4 != nil {
			copy(addr[:], v4)
		}
		return &unix.SockaddrInet4{Port: port, Addr: addr}, unix.AF_INET, nil
	}
	var addr [16]byte
	copy(addr[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: addr}, unix.AF_INET6, nil
}

// sockaddrToHostPort renders a unix.Sockaddr back to a "host:port" string
// for inclusion in read notifications.
func sockaddrToHostPort(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", v.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return net.JoinHostPort(ip.String(), fmt.Sprintf("%d", v.Port))
	default:
		return ""
	}
}

func localSockaddr(fd int) string {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return ""
	}
	return sockaddrToHostPort(sa)
}
