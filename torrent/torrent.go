// Package torrent drives the download of a single torrent: it spreads
// piece work over one worker per peer, collects verified pieces and
// assembles them into the destination file.
package torrent

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/goleech/leech/config"
	"github.com/goleech/leech/metainfo"
	"github.com/goleech/leech/peer"
)

// progress is logged every notificationStep percent
const notificationStep = 5

var (
	// ErrNoPeers is returned when there is no peer to download from.
	ErrNoPeers = errors.New("no peers")
	// ErrStalled is returned when every worker exited with pieces
	// still outstanding.
	ErrStalled = errors.New("download stalled")
	// ErrHashMismatch is returned for a piece whose SHA-1 does not match
	// the metainfo. It is local to a worker and never fatal by itself.
	ErrHashMismatch = errors.New("piece hash mismatch")
)

// Torrent is a download run: the payload layout, the peers to pull it
// from and the run's tunables.
type Torrent struct {
	Peers       []peer.Peer
	PeerID      [20]byte
	InfoHash    [20]byte
	PieceHashes [][20]byte
	PieceLength int
	Length      int
	Name        string

	// MaxPeers caps the worker count; zero means one worker per peer.
	MaxPeers     int
	DialTimeout  time.Duration
	PieceTimeout time.Duration
	// OnProgress, when set, is called after every completed piece.
	OnProgress func(done, total int)
}

// pieceWork is one entry of the shared work queue.
type pieceWork struct {
	index  int
	hash   [20]byte
	length int
}

// pieceResult is a downloaded and verified piece.
type pieceResult struct {
	index int
	data  []byte
}

// New assembles a download run from a parsed metainfo and a peer list.
func New(m *metainfo.Metainfo, peers []peer.Peer, peerID [20]byte, cfg *config.Config) *Torrent {
	if cfg == nil {
		cfg = &config.DefaultConfig
	}
	return &Torrent{
		Peers:        peers,
		PeerID:       peerID,
		InfoHash:     m.InfoHash,
		PieceHashes:  m.PieceHashes,
		PieceLength:  m.PieceLength,
		Length:       m.Length,
		Name:         m.Name,
		MaxPeers:     cfg.MaxPeers,
		DialTimeout:  cfg.DialTimeout.Std(),
		PieceTimeout: cfg.PieceTimeout.Std(),
	}
}

// NewPeerID generates the peer id for one run: the client prefix
// followed by 12 random bytes.
func NewPeerID() ([20]byte, error) {
	id := [20]byte{'-', 'L', 'E', '0', '0', '0', '1', '-'}
	_, err := rand.Read(id[8:])
	return id, err
}

// Download retrieves the whole payload into memory.
// A payload without pieces returns an empty buffer whatever the peer list.
// Otherwise it returns ErrNoPeers without trying anything when the peer
// list is empty, and ErrStalled when all workers die with pieces
// outstanding.
func (t *Torrent) Download() ([]byte, error) {
	numPieces := len(t.PieceHashes)
	buf := make([]byte, t.Length)
	if numPieces == 0 {
		return buf, nil
	}
	if len(t.Peers) == 0 {
		return nil, ErrNoPeers
	}

	// every piece goes through the queue exactly once at a time, so the
	// buffer is large enough for requeues never to block
	workQueue := make(chan *pieceWork, numPieces)
	results := make(chan *pieceResult)
	// closed by the coordinator once the download is complete; workers
	// observe it instead of a closed queue
	done := make(chan struct{})
	defer close(done)

	for index, hash := range t.PieceHashes {
		workQueue <- &pieceWork{index, hash, t.pieceSize(index)}
	}

	peers := t.Peers
	if t.MaxPeers > 0 && len(peers) > t.MaxPeers {
		peers = peers[:t.MaxPeers]
	}
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p peer.Peer) {
			defer wg.Done()
			t.worker(p, workQueue, results, done)
		}(p)
	}
	// with an unbuffered results channel a worker can only exit after
	// its last result was received, so once this fires nothing is in
	// flight anymore
	exited := make(chan struct{})
	go func() {
		wg.Wait()
		close(exited)
	}()

	logrus.Infof("Downloading %s: %d pieces from %d peers", t.Name, numPieces, len(peers))

	completed := 0
	nextNotification := notificationStep
	for completed < numPieces {
		select {
		case res := <-results:
			begin, end := t.pieceBounds(res.index)
			copy(buf[begin:end], res.data)
			completed++

			if t.OnProgress != nil {
				t.OnProgress(completed, numPieces)
			}
			logrus.Debugf("Downloaded piece %d (%d/%d)", res.index, completed, numPieces)
			for p := float64(completed) / float64(numPieces) * 100; p >= float64(nextNotification); nextNotification += notificationStep {
				logrus.Infof("Progress %d%% (%d/%d pieces)", nextNotification, completed, numPieces)
			}
		case <-exited:
			return nil, errors.Wrapf(ErrStalled, "%d of %d pieces outstanding", numPieces-completed, numPieces)
		}
	}
	return buf, nil
}

// DownloadToFile retrieves the payload and writes it to path.
// The bytes go to a temporary file first and are renamed into place, so
// a partial download is never mistaken for a complete one.
func (t *Torrent) DownloadToFile(path string) error {
	buf, err := t.Download()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".leech-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	logrus.Infof("Saved %s (%d bytes)", path, len(buf))
	return nil
}

func (t *Torrent) pieceBounds(index int) (begin, end int) {
	begin = index * t.PieceLength
	end = begin + t.PieceLength
	if end > t.Length {
		end = t.Length
	}
	return begin, end
}

func (t *Torrent) pieceSize(index int) int {
	begin, end := t.pieceBounds(index)
	return end - begin
}
