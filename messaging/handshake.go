package messaging

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Protocol is the protocol string exchanged in the handshake.
const Protocol = "BitTorrent protocol"

// HandshakeSize is the total length of a handshake message:
// 1 length byte, the protocol string, 8 reserved bytes and two 20 byte ids.
const HandshakeSize = 1 + len(Protocol) + 8 + 20 + 20

// ErrHandshake is returned when the remote handshake is truncated,
// carries the wrong protocol string or the wrong info hash.
var ErrHandshake = errors.New("handshake failed")

// Handshake builds the 68 byte handshake message for a torrent.
// The reserved bytes are left zero: no extensions are advertised.
func Handshake(infoHash, peerID [20]byte) []byte {
	res := make([]byte, HandshakeSize)
	res[0] = byte(len(Protocol))
	cursor := 1
	cursor += copy(res[cursor:], Protocol)
	cursor += 8 // reserved
	cursor += copy(res[cursor:], infoHash[:])
	copy(res[cursor:], peerID[:])
	return res
}

// ReadHandshake reads and verifies the remote handshake.
// The protocol string and info hash must match; the remote peer id is
// returned but not checked against anything.
func ReadHandshake(r io.Reader, infoHash [20]byte) (peerID [20]byte, err error) {
	buf := make([]byte, HandshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return peerID, errors.Wrap(ErrHandshake, err.Error())
	}
	if buf[0] != byte(len(Protocol)) || string(buf[1:1+len(Protocol)]) != Protocol {
		return peerID, errors.Wrapf(ErrHandshake, "unexpected protocol %q", buf[:1+len(Protocol)])
	}
	theirHash := buf[1+len(Protocol)+8 : 1+len(Protocol)+8+20]
	if !bytes.Equal(theirHash, infoHash[:]) {
		return peerID, errors.Wrapf(ErrHandshake, "info hash mismatch: got %x", theirHash)
	}
	copy(peerID[:], buf[1+len(Protocol)+8+20:])
	return peerID, nil
}
