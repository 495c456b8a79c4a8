// Package client maintains a session with a single remote peer:
// it dials, performs the handshake, learns which pieces the peer claims
// and exchanges wire messages on its behalf.
package client

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/goleech/leech/messaging"
	"github.com/goleech/leech/peer"
	"github.com/goleech/leech/utils"
)

// DefaultDialTimeout bounds the TCP connect to a peer.
const DefaultDialTimeout = 3 * time.Second

// setupTimeout bounds the handshake and claim-set exchange.
const setupTimeout = 30 * time.Second

// ErrNoPieces is returned when a peer completes the handshake but
// advertises nothing we could request.
var ErrNoPieces = errors.New("peer claims no pieces")

// Client is an established session with one peer.
// It is owned by a single worker goroutine and is not safe for
// concurrent use.
type Client struct {
	Conn net.Conn
	// Choked reports whether the remote is currently choking us.
	Choked   bool
	Bitfield utils.Bitfield
	peer     peer.Peer
}

// New dials a peer, exchanges handshakes and waits for the peer to
// advertise its pieces through a bitfield or a first have message.
// On return the session has announced interest and only waits to be
// unchoked. The connection is closed on any setup error.
func New(p peer.Peer, infoHash, peerID [20]byte, numPieces int, dialTimeout time.Duration) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", p.String(), dialTimeout)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Conn:   conn,
		Choked: true,
		peer:   p,
	}
	if err := c.setup(infoHash, peerID, numPieces); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) setup(infoHash, peerID [20]byte, numPieces int) error {
	c.Conn.SetDeadline(time.Now().Add(setupTimeout))
	defer c.Conn.SetDeadline(time.Time{})

	if _, err := c.Conn.Write(messaging.Handshake(infoHash, peerID)); err != nil {
		return errors.Wrap(messaging.ErrHandshake, err.Error())
	}
	remoteID, err := messaging.ReadHandshake(c.Conn, infoHash)
	if err != nil {
		return err
	}
	logrus.Debugf("peer %s: handshake ok, id %q", c.peer, remoteID[:8])

	if err := c.readClaims(numPieces); err != nil {
		return err
	}
	if !c.Bitfield.Any() {
		return ErrNoPieces
	}

	_, err = c.Conn.Write(messaging.Interested().Serialize())
	return err
}

// readClaims reads messages until the peer has claimed at least one
// piece, through a bitfield message or an initial have.
func (c *Client) readClaims(numPieces int) error {
	for {
		msg, err := messaging.Read(c.Conn)
		if err != nil {
			return err
		}
		if msg == nil { // keep-alive
			continue
		}
		switch msg.ID {
		case messaging.MBitfield:
			if len(msg.Payload)*8 < numPieces {
				return errors.Wrapf(messaging.ErrProtocol,
					"bitfield of %d bytes for %d pieces", len(msg.Payload), numPieces)
			}
			c.Bitfield = utils.Bitfield(msg.Payload)
			return nil
		case messaging.MHave:
			index, err := messaging.ParseHave(msg)
			if err != nil {
				return err
			}
			c.Bitfield = make(utils.Bitfield, (numPieces+7)/8)
			c.Bitfield.Set(index)
			return nil
		case messaging.MChoke:
			c.Choked = true
		case messaging.MUnchoke:
			c.Choked = false
		default:
			// peers may send anything before their claims; ignore it
		}
	}
}

// Read returns the next message from the peer, updating the choke and
// claim state as a side effect. It returns nil for a keep-alive.
func (c *Client) Read() (*messaging.Message, error) {
	msg, err := messaging.Read(c.Conn)
	if err != nil || msg == nil {
		return msg, err
	}
	switch msg.ID {
	case messaging.MChoke:
		c.Choked = true
	case messaging.MUnchoke:
		c.Choked = false
	case messaging.MHave:
		index, err := messaging.ParseHave(msg)
		if err != nil {
			return nil, err
		}
		c.Bitfield.Set(index)
	}
	return msg, nil
}

// HasPiece reports whether the peer claims a piece.
func (c *Client) HasPiece(index int) bool {
	return c.Bitfield.Get(index)
}

// SendRequest requests a block of a piece.
func (c *Client) SendRequest(index, begin, length int) error {
	_, err := c.Conn.Write(messaging.Request(index, begin, length).Serialize())
	return err
}

// SendHave tells the peer we acquired a piece.
func (c *Client) SendHave(index int) error {
	_, err := c.Conn.Write(messaging.Have(index).Serialize())
	return err
}

// Addr returns the remote peer address.
func (c *Client) Addr() peer.Peer {
	return c.peer
}

// Close closes the connection to the peer.
func (c *Client) Close() error {
	return c.Conn.Close()
}
