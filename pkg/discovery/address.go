package discovery

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
)

// PeerAddress is an IPv4 address and TCP port.
type PeerAddress struct {
	IP   uint32
	Port uint16
}

// CandidateEntry records that Addr was advertised as a member of the
// stream's swarm.
type CandidateEntry struct {
	StreamHash string
	Addr       PeerAddress
}

// ParseIPv4 accepts dotted-decimal IPv4 only. Host names and IPv6 forms are
// rejected.
func ParseIPv4(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("parse ip %q: %w", s, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("parse ip %q: not an IPv4 address", s)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// ParsePeerAddress parses "a.b.c.d:port".
func ParsePeerAddress(s string) (PeerAddress, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: %w", s, err)
	}
	addr, ok := PeerAddressFrom(ap)
	if !ok {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: not an IPv4 address", s)
	}
	return addr, nil
}

func MustParsePeerAddress(s string) PeerAddress {
	addr, err := ParsePeerAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

func PeerAddressFrom(ap netip.AddrPort) (PeerAddress, bool) {
	if !ap.Addr().Is4() {
		return PeerAddress{}, false
	}
	b := ap.Addr().As4()
	return PeerAddress{IP: binary.BigEndian.Uint32(b[:]), Port: ap.Port()}, true
}

func (a PeerAddress) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a.IP)
	return netip.AddrFrom4(b)
}

func (a PeerAddress) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.Addr(), a.Port)
}

func (a PeerAddress) String() string {
	return a.Addr().String() + ":" + strconv.Itoa(int(a.Port))
}

func (e CandidateEntry) String() string {
	return e.StreamHash + "@" + e.Addr.String()
}
