// Package netaddr wraps an IPv4/IPv6 socket address as an immutable value
// type, mirroring InetAddress's role as a POD endpoint wrapper.
package netaddr

import (
	"fmt"
	"net"
	"strconv"
)

// Addr is a value type wrapping an IPv4 or IPv6 endpoint. It is immutable
// after construction except for SetPortNetEndian.
type Addr struct {
	ip            net.IP
	port          uint16
	isIPv6        bool
	isUnspecified bool
}

// New constructs a listening endpoint for the given port, optionally bound
// to loopback only, and optionally as an IPv6 endpoint.
func New(port uint16, loopbackOnly, ipv6 bool) Addr {
	var ip net.IP
	switch {
	case ipv6 && loopbackOnly:
		ip = net.IPv6loopback
	case ipv6:
		ip = net.IPv6unspecified
	case loopbackOnly:
		ip = net.IPv4(127, 0, 0, 1)
	default:
		ip = net.IPv4zero
	}
	return Addr{ip: ip, port: port, isIPv6: ipv6}
}

// FromIPPort constructs an endpoint from an explicit IP literal and port.
func FromIPPort(ip string, port uint16) (Addr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Addr{}, fmt.Errorf("netaddr: invalid IP %q", ip)
	}
	is6 := parsed.To4() == nil
	return Addr{ip: parsed, port: port, isIPv6: is6}, nil
}

// FromSockaddr wraps a net.Addr obtained from a raw syscall accept/connect,
// as done when accepting new connections.
func FromSockaddr(a net.Addr) Addr {
	switch v := a.(type) {
	case *net.TCPAddr:
		return Addr{ip: v.IP, port: uint16(v.Port), isIPv6: v.IP.To4() == nil}
	case *net.UDPAddr:
		return Addr{ip: v.IP, port: uint16(v.Port), isIPv6: v.IP.To4() == nil}
	default:
		return Addr{isUnspecified: true}
	}
}

// Unspecified returns the zero-value, not-yet-initialized endpoint.
func Unspecified() Addr {
	return Addr{isUnspecified: true}
}

// ToIP returns the IP portion as a string.
func (a Addr) ToIP() string {
	if a.ip == nil {
		return ""
	}
	return a.ip.String()
}

// ToIPPort returns "ip:port".
func (a Addr) ToIPPort() string {
	return net.JoinHostPort(a.ToIP(), strconv.Itoa(int(a.port)))
}

// ToPort returns the port number.
func (a Addr) ToPort() uint16 { return a.port }

// IsIPv6 reports whether this endpoint is an IPv6 endpoint.
func (a Addr) IsIPv6() bool { return a.isIPv6 }

// IsUnspecified reports whether the endpoint has not been initialized.
func (a Addr) IsUnspecified() bool { return a.isUnspecified }

// IsLoopback reports whether the endpoint's IP is a loopback address.
func (a Addr) IsLoopback() bool {
	return a.ip != nil && a.ip.IsLoopback()
}

// IsIntranet reports whether the endpoint's IP is within the private
// (RFC1918 / link-local / loopback) address space.
func (a Addr) IsIntranet() bool {
	if a.ip == nil {
		return false
	}
	if a.ip.IsLoopback() || a.ip.IsLinkLocalUnicast() {
		return true
	}
	ip4 := a.ip.To4()
	if ip4 == nil {
		return false
	}
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	default:
		return false
	}
}

// SetPortNetEndian replaces the port, the one permitted post-construction
// mutation.
func (a *Addr) SetPortNetEndian(port uint16) { a.port = port }

// TCPAddr converts to the standard library's net.TCPAddr, for use with
// syscall-level socket operations.
func (a Addr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.ip, Port: int(a.port)}
}

// Equal reports whether two endpoints denote the same IP and port, used by
// the connector's self-connect detection.
func (a Addr) Equal(other Addr) bool {
	return a.port == other.port && a.ip.Equal(other.ip)
}

func (a Addr) String() string { return a.ToIPPort() }
