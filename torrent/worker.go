package torrent

import (
	"bytes"
	"crypto/sha1"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/goleech/leech/client"
	"github.com/goleech/leech/messaging"
	"github.com/goleech/leech/peer"
)

const (
	// BlockSize is the transfer unit within a piece: 16 KiB, the largest
	// request remote peers are guaranteed to serve.
	BlockSize = 1 << 14
	// MaxBacklog is the number of block requests kept in flight on one
	// connection.
	MaxBacklog = 5
)

// worker runs one peer session: it pulls pieces from the queue, puts
// back the ones this peer cannot serve and exits on the first failure,
// requeueing whatever it was working on.
func (t *Torrent) worker(p peer.Peer, workQueue chan *pieceWork, results chan<- *pieceResult, done <-chan struct{}) {
	c, err := client.New(p, t.InfoHash, t.PeerID, len(t.PieceHashes), t.DialTimeout)
	if err != nil {
		logrus.Debugf("peer %s: %v", p, err)
		return
	}
	defer c.Close()
	logrus.Debugf("peer %s: connected", p)

	for {
		var pw *pieceWork
		select {
		case <-done:
			return
		case pw = <-workQueue:
		}

		if !c.HasPiece(pw.index) {
			requeue(workQueue, done, pw)
			continue
		}

		data, err := t.attemptDownloadPiece(c, pw)
		if err != nil {
			logrus.Debugf("peer %s: piece %d: %v", p, pw.index, err)
			requeue(workQueue, done, pw)
			return
		}
		if err := checkIntegrity(pw, data); err != nil {
			logrus.Debugf("peer %s: %v", p, err)
			requeue(workQueue, done, pw)
			return
		}

		c.SendHave(pw.index)
		select {
		case results <- &pieceResult{pw.index, data}:
		case <-done:
			return
		}
	}
}

// requeue puts a piece back on the queue. The queue is buffered for the
// full piece count so the send cannot block for long, but a finished
// coordinator must still be able to release the worker.
func requeue(workQueue chan<- *pieceWork, done <-chan struct{}, pw *pieceWork) {
	select {
	case workQueue <- pw:
	case <-done:
	}
}

// pieceProgress tracks one piece being assembled from a session.
type pieceProgress struct {
	index      int
	client     *client.Client
	buf        []byte
	downloaded int
	requested  int
	backlog    int
}

// attemptDownloadPiece downloads a single piece over an established
// session, pipelining up to MaxBacklog block requests. The whole piece
// must arrive within PieceTimeout.
func (t *Torrent) attemptDownloadPiece(c *client.Client, pw *pieceWork) ([]byte, error) {
	state := pieceProgress{
		index:  pw.index,
		client: c,
		buf:    make([]byte, pw.length),
	}

	timeout := t.PieceTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.Conn.SetDeadline(time.Now().Add(timeout))
	defer c.Conn.SetDeadline(time.Time{})

	for state.downloaded < pw.length {
		// while unchoked, keep the request pipeline full; while choked,
		// just keep reading until the peer unchokes or the deadline hits
		if !c.Choked {
			for state.backlog < MaxBacklog && state.requested < pw.length {
				blockSize := BlockSize
				if pw.length-state.requested < blockSize {
					blockSize = pw.length - state.requested
				}
				if err := c.SendRequest(pw.index, state.requested, blockSize); err != nil {
					return nil, err
				}
				state.backlog++
				state.requested += blockSize
			}
		}
		if err := state.readMessage(); err != nil {
			return nil, err
		}
	}
	return state.buf, nil
}

// readMessage consumes one message, accounting received blocks.
// Choke, unchoke and have are already folded into the session state by
// the client.
func (state *pieceProgress) readMessage() error {
	msg, err := state.client.Read()
	if err != nil {
		return err
	}
	if msg == nil || msg.ID != messaging.MPiece {
		return nil
	}

	index, begin, block, err := messaging.ParsePiece(msg)
	if err != nil {
		return err
	}
	if index != state.index {
		// block of a piece we abandoned earlier; drop it
		return nil
	}
	if begin+len(block) > len(state.buf) {
		return errors.Wrapf(messaging.ErrProtocol,
			"block [%d, %d) outside piece of %d bytes", begin, begin+len(block), len(state.buf))
	}
	state.downloaded += copy(state.buf[begin:], block)
	state.backlog--
	return nil
}

// checkIntegrity verifies a downloaded piece against its expected hash.
func checkIntegrity(pw *pieceWork, data []byte) error {
	hash := sha1.Sum(data)
	if !bytes.Equal(hash[:], pw.hash[:]) {
		return errors.Wrapf(ErrHashMismatch, "piece %d: expected %x, got %x", pw.index, pw.hash, hash)
	}
	return nil
}
