package tftp

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// TID is a transfer identifier: the (IP, port) pair that names one
// endpoint of one transfer (RFC 1350 section 4). Datagrams arriving
// from any TID other than the one latched as a transfer's peer are
// ignored (spec §3, "TID pinning").
type TID struct {
	IP   string
	Port int
}

func tidFromAddr(addr net.Addr) (TID, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return TID{}, errors.Errorf("tftp: not a UDP address: %v", addr)
	}
	if ip4 := udpAddr.IP.To4(); ip4 != nil {
		return TID{IP: ip4.String(), Port: udpAddr.Port}, nil
	}
	return TID{}, errors.Errorf("tftp: unsupported address family: %v (IPv6 is not implemented)", udpAddr.IP)
}

// UDPAddr resolves t back to a *net.UDPAddr for sending.
func (t TID) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(t.IP), Port: t.Port}
}

func (t TID) String() string {
	return net.JoinHostPort(t.IP, strconv.Itoa(t.Port))
}
