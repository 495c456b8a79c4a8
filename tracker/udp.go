package tracker

import (
	"encoding/binary"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/goleech/leech/peer"
)

// actions of the UDP tracker protocol (BEP 15)
const (
	actionConnect uint32 = iota
	actionAnnounce
	actionScrape
	actionError
)

const (
	udpProtocolID uint64 = 0x41727101980
	// udpMaxRetries bounds the connect attempts; the deadline doubles
	// on each retry.
	udpMaxRetries = 3
)

// announceUDP runs the connect/announce exchange against a UDP tracker.
func announceUDP(u *url.URL, req *Request) (*Response, error) {
	addr, err := net.ResolveUDPAddr(u.Scheme, u.Host)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	conn, err := net.DialUDP(u.Scheme, nil, addr)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer conn.Close()

	for try := 0; try < udpMaxRetries; try++ {
		conn.SetDeadline(time.Now().Add(req.timeout() * (1 << try)))
		connID, err := udpConnect(conn)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, err
		}
		return udpAnnounce(conn, connID, req, u.Scheme == "udp6")
	}
	return nil, errors.Wrapf(ErrUnreachable, "timed out after %d retries", udpMaxRetries)
}

// udpConnect performs the connect exchange and returns the connection ID.
func udpConnect(conn *net.UDPConn) (uint64, error) {
	transactionID := rand.Uint32()
	udpReq := make([]byte, 16)
	binary.BigEndian.PutUint64(udpReq, udpProtocolID)
	binary.BigEndian.PutUint32(udpReq[8:], actionConnect)
	binary.BigEndian.PutUint32(udpReq[12:], transactionID)

	if _, err := conn.Write(udpReq); err != nil {
		return 0, err
	}

	res := make([]byte, 16)
	n, err := conn.Read(res)
	if err != nil {
		return 0, err
	}
	if n != 16 {
		return 0, errors.Wrapf(ErrMalformed, "connect response of %d bytes", n)
	}
	if action := binary.BigEndian.Uint32(res); action != actionConnect {
		return 0, errors.Wrapf(ErrMalformed, "connect response action %d", action)
	}
	if txID := binary.BigEndian.Uint32(res[4:8]); txID != transactionID {
		return 0, errors.Wrap(ErrMalformed, "transaction id mismatch")
	}
	return binary.BigEndian.Uint64(res[8:]), nil
}

// udpAnnounce sends the 98 byte announce request and parses the peer list.
func udpAnnounce(conn *net.UDPConn, connID uint64, req *Request, ipv6 bool) (*Response, error) {
	transactionID := rand.Uint32()
	udpReq := make([]byte, 98)
	binary.BigEndian.PutUint64(udpReq, connID)
	binary.BigEndian.PutUint32(udpReq[8:], actionAnnounce)
	binary.BigEndian.PutUint32(udpReq[12:], transactionID)
	copy(udpReq[16:], req.InfoHash[:])
	copy(udpReq[36:], req.PeerID[:])
	binary.BigEndian.PutUint64(udpReq[56:], 0)                // downloaded
	binary.BigEndian.PutUint64(udpReq[64:], uint64(req.Left)) // left
	binary.BigEndian.PutUint64(udpReq[72:], 0)                // uploaded
	binary.BigEndian.PutUint32(udpReq[80:], 0)                // event: none
	binary.BigEndian.PutUint32(udpReq[84:], 0)                // IP address
	binary.BigEndian.PutUint32(udpReq[88:], rand.Uint32())    // key
	binary.BigEndian.PutUint32(udpReq[92:], 0xFFFFFFFF)       // num_want: all
	binary.BigEndian.PutUint16(udpReq[96:], req.Port)

	if _, err := conn.Write(udpReq); err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}

	res := make([]byte, 1500)
	n, err := conn.Read(res)
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	if n < 8 {
		return nil, errors.Wrapf(ErrMalformed, "announce response of %d bytes", n)
	}
	res = res[:n]

	if action := binary.BigEndian.Uint32(res); action != actionAnnounce {
		if action == actionError {
			return nil, errors.Wrapf(ErrRejected, "%s", res[8:])
		}
		return nil, errors.Wrapf(ErrMalformed, "announce response action %d", action)
	}
	if n < 20 {
		return nil, errors.Wrapf(ErrMalformed, "announce response of %d bytes", n)
	}
	if txID := binary.BigEndian.Uint32(res[4:8]); txID != transactionID {
		return nil, errors.Wrap(ErrMalformed, "transaction id mismatch")
	}

	parse, size := peer.Unmarshal, 6
	if ipv6 {
		parse, size = peer.UnmarshalV6, 18
	}
	// the datagram may carry padding past the last whole entry
	data := res[20:]
	peers, err := parse(data[:len(data)-len(data)%size])
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return &Response{
		Interval: int(binary.BigEndian.Uint32(res[8:12])),
		Peers:    peers,
	}, nil
}
