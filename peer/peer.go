// Package peer defines peer addresses and the compact peer list encoding
// returned by trackers (BEP 23).
package peer

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// compact entry sizes: 4-byte IPv4 or 16-byte IPv6, then a big-endian port
const (
	v4Size = net.IPv4len + 2
	v6Size = net.IPv6len + 2
)

// ErrMalformed is returned for compact peer lists of invalid length.
var ErrMalformed = errors.New("malformed compact peer list")

// Peer is the address of a remote peer.
type Peer struct {
	IP   net.IP
	Port uint16
}

// String returns the peer address in host:port form.
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Unmarshal parses a compact IPv4 peer list: 6 bytes per peer,
// 4 for the address and 2 for the port, both big endian.
func Unmarshal(peersBin []byte) ([]Peer, error) {
	return unmarshal(peersBin, v4Size)
}

// UnmarshalV6 parses a compact IPv6 peer list (18 bytes per peer).
func UnmarshalV6(peersBin []byte) ([]Peer, error) {
	return unmarshal(peersBin, v6Size)
}

func unmarshal(peersBin []byte, size int) ([]Peer, error) {
	if len(peersBin)%size != 0 {
		return nil, errors.Wrapf(ErrMalformed, "length %d is not a multiple of %d", len(peersBin), size)
	}
	peers := make([]Peer, len(peersBin)/size)
	for i := range peers {
		entry := peersBin[i*size : (i+1)*size]
		ip := make(net.IP, size-2)
		copy(ip, entry)
		peers[i].IP = ip
		peers[i].Port = binary.BigEndian.Uint16(entry[size-2:])
	}
	return peers, nil
}
