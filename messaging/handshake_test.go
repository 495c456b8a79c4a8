package messaging

import (
	"bytes"
	"errors"
	"testing"
)

func TestHandshake(t *testing.T) {
	infoHash := [20]byte{'m', 'e', 't', 'a', 'd', 'a', 't', 'a', ' ', 'f', 'o', 'r', ' ', 't', 'o', 'r', 'r', 'e', 'n', 't'}
	id := [20]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}
	handshake := Handshake(infoHash, id)
	if len(handshake) != 68 {
		t.Fatalf("Expected a handshake of 68 bytes, got %d", len(handshake))
	}
	expected := append(
		append(
			[]byte{'\x13',
				'B', 'i', 't', 'T', 'o', 'r', 'r', 'e', 'n', 't', ' ', 'p', 'r', 'o', 't', 'o', 'c', 'o', 'l',
				'\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00', '\x00'},
			infoHash[:]...),
		id[:]...)
	if !bytes.Equal(handshake, expected) {
		t.Errorf("Expected handshake\n%v but got\n%v instead", expected, handshake)
	}
}

func TestReadHandshake(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	remoteID := [20]byte{'r', 'e', 'm', 'o', 't', 'e'}
	peerID, err := ReadHandshake(bytes.NewReader(Handshake(infoHash, remoteID)), infoHash)
	if err != nil {
		t.Fatal(err)
	}
	if peerID != remoteID {
		t.Errorf("Expected peer id %v, got %v", remoteID, peerID)
	}
}

func TestReadHandshakeMismatch(t *testing.T) {
	infoHash := [20]byte{1, 2, 3}
	other := [20]byte{4, 5, 6}
	id := [20]byte{}

	// wrong info hash
	_, err := ReadHandshake(bytes.NewReader(Handshake(other, id)), infoHash)
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("Expected ErrHandshake for an info hash mismatch, got %v", err)
	}

	// wrong protocol string
	bad := Handshake(infoHash, id)
	bad[1] = 'X'
	_, err = ReadHandshake(bytes.NewReader(bad), infoHash)
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("Expected ErrHandshake for a protocol mismatch, got %v", err)
	}

	// truncated
	_, err = ReadHandshake(bytes.NewReader(Handshake(infoHash, id)[:40]), infoHash)
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("Expected ErrHandshake for a truncated handshake, got %v", err)
	}
}
