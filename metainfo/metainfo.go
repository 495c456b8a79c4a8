// Package metainfo parses torrent files into an immutable descriptor:
// tracker URLs, info hash, piece layout and total length.
// Only single file torrents are supported.
package metainfo

import (
	"crypto/sha1"
	"net/url"
	"os"

	"github.com/pkg/errors"

	"github.com/goleech/leech/bencode"
)

var (
	// ErrUnsupported is returned for multi-file torrents.
	ErrUnsupported = errors.New("unsupported torrent")
	// ErrMissingField is returned when a required key is absent.
	ErrMissingField = errors.New("missing field in torrent file")
)

const hashLen = 20

// Metainfo is the parsed descriptor of a torrent file.
type Metainfo struct {
	// Announce holds the tracker URLs to try, in order.
	// It is built from announce-list when present, announce otherwise.
	Announce []*url.URL
	// InfoHash is the SHA-1 of the bencoded info dictionary exactly as it
	// appeared in the file.
	InfoHash    [20]byte
	Name        string
	PieceLength int
	Length      int
	PieceHashes [][20]byte
}

// Open reads and parses the torrent file at path.
func Open(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses the raw bytes of a torrent file.
func Parse(data []byte) (*Metainfo, error) {
	top, err := bencode.Decode(data)
	if err != nil {
		return nil, err
	}
	if top.Kind != bencode.KindDict {
		return nil, errors.Wrap(bencode.ErrMalformed, "torrent file is not a dictionary")
	}

	announce, err := parseAnnounce(top)
	if err != nil {
		return nil, err
	}

	info, ok := top.Dict["info"]
	if !ok || info.Kind != bencode.KindDict {
		return nil, errors.Wrap(ErrMissingField, "info")
	}
	if _, multi := info.Dict["files"]; multi {
		return nil, errors.Wrap(ErrUnsupported, "multi-file torrent")
	}

	m := &Metainfo{
		Announce: announce,
		// Hashing the raw span keeps the hash identical to the file even
		// if a re-encode would not be byte for byte equal.
		InfoHash: sha1.Sum(info.RawBytes()),
	}

	name, ok := info.Dict["name"]
	if !ok || name.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrMissingField, "info.name")
	}
	m.Name = name.Str

	pieceLen, ok := info.Dict["piece length"]
	if !ok || pieceLen.Kind != bencode.KindInt {
		return nil, errors.Wrap(ErrMissingField, "info.piece length")
	}
	if pieceLen.Int <= 0 {
		return nil, errors.Wrapf(bencode.ErrMalformed, "piece length %d", pieceLen.Int)
	}
	m.PieceLength = int(pieceLen.Int)

	length, ok := info.Dict["length"]
	if !ok || length.Kind != bencode.KindInt {
		return nil, errors.Wrap(ErrMissingField, "info.length")
	}
	if length.Int < 0 {
		return nil, errors.Wrapf(bencode.ErrMalformed, "length %d", length.Int)
	}
	m.Length = int(length.Int)

	pieces, ok := info.Dict["pieces"]
	if !ok || pieces.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrMissingField, "info.pieces")
	}
	if m.PieceHashes, err = splitHashes(pieces.Str); err != nil {
		return nil, err
	}

	expected := (m.Length + m.PieceLength - 1) / m.PieceLength
	if len(m.PieceHashes) != expected {
		return nil, errors.Wrapf(bencode.ErrMalformed,
			"%d piece hashes for %d bytes in pieces of %d", len(m.PieceHashes), m.Length, m.PieceLength)
	}
	return m, nil
}

// parseAnnounce builds the tracker list from announce and announce-list.
// announce-list entries take precedence when any of them parse (BEP 12).
func parseAnnounce(top *bencode.Value) ([]*url.URL, error) {
	announce, ok := top.Dict["announce"]
	if !ok || announce.Kind != bencode.KindString {
		return nil, errors.Wrap(ErrMissingField, "announce")
	}
	u, err := url.Parse(announce.Str)
	if err != nil {
		return nil, errors.Wrapf(bencode.ErrMalformed, "announce url %q", announce.Str)
	}
	urls := []*url.URL{u}

	list, ok := top.Dict["announce-list"]
	if !ok || list.Kind != bencode.KindList {
		return urls, nil
	}
	var fromList []*url.URL
	for _, tier := range list.List {
		if tier.Kind != bencode.KindList {
			continue
		}
		for _, entry := range tier.List {
			if entry.Kind != bencode.KindString || entry.Str == "" {
				continue
			}
			parsed, err := url.Parse(entry.Str)
			if err != nil {
				continue
			}
			fromList = append(fromList, parsed)
		}
	}
	if len(fromList) > 0 {
		return fromList, nil
	}
	return urls, nil
}

func splitHashes(pieces string) ([][20]byte, error) {
	if len(pieces)%hashLen != 0 {
		return nil, errors.Wrapf(bencode.ErrMalformed, "pieces length %d is not a multiple of %d", len(pieces), hashLen)
	}
	hashes := make([][20]byte, len(pieces)/hashLen)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*hashLen:(i+1)*hashLen])
	}
	return hashes, nil
}

// NumPieces returns the number of pieces of the payload.
func (m *Metainfo) NumPieces() int {
	return len(m.PieceHashes)
}

// PieceBounds returns the byte range [begin, end) of a piece
// within the payload. The last piece may be shorter than PieceLength.
func (m *Metainfo) PieceBounds(index int) (begin, end int) {
	begin = index * m.PieceLength
	end = begin + m.PieceLength
	if end > m.Length {
		end = m.Length
	}
	return begin, end
}

// PieceSize returns the length in bytes of a piece.
func (m *Metainfo) PieceSize(index int) int {
	begin, end := m.PieceBounds(index)
	return end - begin
}
