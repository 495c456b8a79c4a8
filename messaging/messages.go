// Package messaging implements the BitTorrent peer wire format:
// the 68 byte handshake and the length-prefixed messages that follow it.
package messaging

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ID identifies the type of a peer message.
type ID uint8

const (
	MChoke ID = iota
	MUnchoke
	MInterested
	MNotInterested
	MHave
	MBitfield
	MRequest
	MPiece
	MCancel
)

// maxMessageSize bounds a single frame: a piece message is at most a
// 16 KiB block plus its 9 byte header, and bitfields of any realistic
// torrent stay far below this.
const maxMessageSize = 1 << 17

// ErrProtocol is returned for malformed framing or payloads.
var ErrProtocol = errors.New("peer protocol error")

// Message is a peer message: its id and payload.
// A nil *Message stands for a keep-alive.
type Message struct {
	ID      ID
	Payload []byte
}

// Serialize returns the wire form of the message:
// a 4 byte big-endian length prefix, the id byte and the payload.
// A nil message serializes to the 4 zero bytes of a keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	length := uint32(len(m.Payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf, length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// Read reads one frame from the connection.
// It returns nil without error for a keep-alive.
func Read(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageSize {
		return nil, errors.Wrapf(ErrProtocol, "frame of %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &Message{
		ID:      ID(buf[0]),
		Payload: buf[1:],
	}, nil
}

// Interested returns an interested message.
func Interested() *Message {
	return &Message{ID: MInterested}
}

// NotInterested returns a not-interested message.
func NotInterested() *Message {
	return &Message{ID: MNotInterested}
}

// Choke returns a choke message.
func Choke() *Message {
	return &Message{ID: MChoke}
}

// Unchoke returns an unchoke message.
func Unchoke() *Message {
	return &Message{ID: MUnchoke}
}

// Have returns a have message for a piece index.
func Have(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: MHave, Payload: payload}
}

// Request returns a request message for a block.
func Request(index, begin, length int) *Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return &Message{ID: MRequest, Payload: payload}
}

// Cancel returns a cancel message for a block.
func Cancel(index, begin, length int) *Message {
	msg := Request(index, begin, length)
	msg.ID = MCancel
	return msg
}

// ParseHave parses the piece index out of a have message.
func ParseHave(msg *Message) (int, error) {
	if msg.ID != MHave {
		return 0, errors.Wrapf(ErrProtocol, "expected have, got id %d", msg.ID)
	}
	if len(msg.Payload) != 4 {
		return 0, errors.Wrapf(ErrProtocol, "have payload of %d bytes", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// ParsePiece parses a piece message into its index, block offset and data.
func ParsePiece(msg *Message) (index, begin int, block []byte, err error) {
	if msg.ID != MPiece {
		return 0, 0, nil, errors.Wrapf(ErrProtocol, "expected piece, got id %d", msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, errors.Wrapf(ErrProtocol, "piece payload of %d bytes", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	return index, begin, msg.Payload[8:], nil
}
