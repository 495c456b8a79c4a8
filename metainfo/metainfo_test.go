package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/goleech/leech/bencode"
)

// buildTorrent assembles the bencoded bytes of a single file torrent and
// returns them along with the raw info dictionary span.
func buildTorrent(announce, name string, pieceLength, length, numPieces int) ([]byte, string) {
	pieces := strings.Repeat("a", 20*numPieces)
	info := fmt.Sprintf("d6:lengthi%de4:name%d:%s12:piece lengthi%de6:pieces%d:%se",
		length, len(name), name, pieceLength, len(pieces), pieces)
	file := fmt.Sprintf("d8:announce%d:%s4:info%se", len(announce), announce, info)
	return []byte(file), info
}

func TestParse(t *testing.T) {
	data, info := buildTorrent("http://tracker.example.com/announce", "payload.bin", 16384, 100, 1)
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Announce) != 1 || m.Announce[0].String() != "http://tracker.example.com/announce" {
		t.Errorf("Unexpected announce %v", m.Announce)
	}
	if m.Name != "payload.bin" {
		t.Errorf("Expected name payload.bin, got %s", m.Name)
	}
	if m.PieceLength != 16384 || m.Length != 100 {
		t.Errorf("Unexpected layout: piece length %d, length %d", m.PieceLength, m.Length)
	}
	if m.NumPieces() != 1 {
		t.Fatalf("Expected 1 piece, got %d", m.NumPieces())
	}
	if m.PieceHashes[0] != [20]byte([]byte(strings.Repeat("a", 20))) {
		t.Errorf("Unexpected piece hash %v", m.PieceHashes[0])
	}
	if expected := sha1.Sum([]byte(info)); m.InfoHash != expected {
		t.Errorf("Expected info hash %x, got %x", expected, m.InfoHash)
	}
}

func TestParseDeterministic(t *testing.T) {
	data, _ := buildTorrent("http://t/a", "f", 1<<18, 5<<18, 5)
	first, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if first.InfoHash != second.InfoHash {
		t.Errorf("Info hash is not deterministic: %x vs %x", first.InfoHash, second.InfoHash)
	}
}

func TestPieceCountArithmetic(t *testing.T) {
	for _, c := range []struct {
		pieceLength, length, numPieces int
	}{
		{16384, 100, 1},
		{16384, 16384, 1},
		{16384, 16385, 2},
		{16384, 4 * 16384, 4},
		{1 << 20, 0, 0},
	} {
		data, _ := buildTorrent("http://t/a", "f", c.pieceLength, c.length, c.numPieces)
		m, err := Parse(data)
		if err != nil {
			t.Fatalf("%+v: %v", c, err)
		}
		expected := (c.length + c.pieceLength - 1) / c.pieceLength
		if m.NumPieces() != expected {
			t.Errorf("%+v: expected %d pieces, got %d", c, expected, m.NumPieces())
		}
	}

	// a wrong hash count must be rejected
	data, _ := buildTorrent("http://t/a", "f", 16384, 100, 3)
	if _, err := Parse(data); !errors.Is(err, bencode.ErrMalformed) {
		t.Errorf("Expected ErrMalformed for a bad hash count, got %v", err)
	}
}

func TestParseMissingFields(t *testing.T) {
	for _, c := range []struct {
		name string
		data string
	}{
		{"announce", "d4:infod6:lengthi0e4:name1:f12:piece lengthi1e6:pieces0:ee"},
		{"info", "d8:announce8:http://te"},
		{"info.name", "d8:announce8:http://t4:infod6:lengthi0e12:piece lengthi1e6:pieces0:ee"},
		{"info.length", "d8:announce8:http://t4:infod4:name1:f12:piece lengthi1e6:pieces0:ee"},
		{"info.piece length", "d8:announce8:http://t4:infod6:lengthi0e4:name1:f6:pieces0:ee"},
		{"info.pieces", "d8:announce8:http://t4:infod6:lengthi0e4:name1:f12:piece lengthi1eee"},
	} {
		_, err := Parse([]byte(c.data))
		if !errors.Is(err, ErrMissingField) {
			t.Errorf("%s: expected ErrMissingField, got %v", c.name, err)
		}
	}
}

func TestParseMultiFile(t *testing.T) {
	data := "d8:announce8:http://t4:infod5:filesld6:lengthi5e4:pathl1:feee4:name1:f12:piece lengthi1e6:pieces0:ee"
	_, err := Parse([]byte(data))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for a multi-file torrent, got %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"not bencode",
		"i42e", // not a dictionary
		// pieces not a multiple of 20
		"d8:announce8:http://t4:infod6:lengthi1e4:name1:f12:piece lengthi1e6:pieces5:aaaaaee",
		// zero piece length
		"d8:announce8:http://t4:infod6:lengthi1e4:name1:f12:piece lengthi0e6:pieces0:ee",
	} {
		_, err := Parse([]byte(data))
		if !errors.Is(err, bencode.ErrMalformed) {
			t.Errorf("%q: expected ErrMalformed, got %v", data, err)
		}
	}
}

func TestParseAnnounceList(t *testing.T) {
	// announce-list takes precedence over announce
	data := "d8:announce10:http://one13:announce-listll10:http://twoel12:http://threeee4:infod6:lengthi0e4:name1:f12:piece lengthi1e6:pieces0:ee"
	m, err := Parse([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Announce) != 2 {
		t.Fatalf("Expected 2 trackers, got %d", len(m.Announce))
	}
	if m.Announce[0].String() != "http://two" || m.Announce[1].String() != "http://three" {
		t.Errorf("Unexpected tracker list %v", m.Announce)
	}
}

func TestPieceBounds(t *testing.T) {
	data, _ := buildTorrent("http://t/a", "f", 16384, 3*16384+100, 4)
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if size := m.PieceSize(0); size != 16384 {
		t.Errorf("Expected piece 0 of 16384 bytes, got %d", size)
	}
	if size := m.PieceSize(3); size != 100 {
		t.Errorf("Expected last piece of 100 bytes, got %d", size)
	}
	begin, end := m.PieceBounds(3)
	if begin != 3*16384 || end != 3*16384+100 {
		t.Errorf("Unexpected bounds [%d, %d)", begin, end)
	}
}
