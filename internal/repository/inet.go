package repository

import (
	"net"
	"net/netip"

	"github.com/sqlc-dev/pqtype"
)

// InetFromAddr converts a host address to an INET value with a full mask.
func InetFromAddr(addr netip.Addr) pqtype.Inet {
	addr = addr.Unmap()
	bits := addr.BitLen()
	return pqtype.Inet{
		IPNet: net.IPNet{
			IP:   net.IP(addr.AsSlice()),
			Mask: net.CIDRMask(bits, bits),
		},
		Valid: true,
	}
}

// AddrFromInet extracts the host address from an INET value.
func AddrFromInet(in pqtype.Inet) (netip.Addr, bool) {
	if !in.Valid {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(in.IPNet.IP)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
