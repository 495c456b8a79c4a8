// Package tracker implements announce clients for HTTP(S) and UDP trackers.
// A single announce per run retrieves the peer list; the returned interval
// is parsed but not acted upon.
package tracker

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/goleech/leech/peer"
)

var (
	// ErrUnreachable is returned when no tracker could be reached.
	ErrUnreachable = errors.New("tracker unreachable")
	// ErrRejected is returned for a non-2xx status or a failure reason body.
	ErrRejected = errors.New("tracker rejected announce")
	// ErrMalformed is returned for response bodies that cannot be parsed.
	ErrMalformed = errors.New("malformed tracker response")
)

// DefaultTimeout bounds a single HTTP announce request.
const DefaultTimeout = 15 * time.Second

// Request carries the announce parameters shared by all tracker schemes.
type Request struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	// Left is the number of bytes this client still needs.
	Left    int
	Timeout time.Duration
}

func (r *Request) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Response is a successful announce: the re-announce interval in seconds
// and the returned peer list, possibly empty.
type Response struct {
	Interval int
	Peers    []peer.Peer
}

// Announce walks the tracker list in order and returns the first
// successful response. URLs with unsupported schemes are skipped.
func Announce(trackers []*url.URL, req *Request) (*Response, error) {
	var lastErr error
	for _, u := range trackers {
		var res *Response
		var err error
		switch u.Scheme {
		case "http", "https":
			res, err = announceHTTP(u, req)
		case "udp", "udp4", "udp6":
			res, err = announceUDP(u, req)
		default:
			logrus.Debugf("tracker %s: skipping unsupported scheme", u)
			continue
		}
		if err == nil {
			logrus.Debugf("tracker %s: %d peers, interval %ds", u.Host, len(res.Peers), res.Interval)
			return res, nil
		}
		logrus.Debugf("tracker %s: %v", u.Host, err)
		lastErr = err
	}
	if lastErr == nil {
		return nil, errors.Wrap(ErrUnreachable, "no usable tracker url")
	}
	return nil, lastErr
}

// announceHTTP performs the blocking GET announce against one tracker.
func announceHTTP(u *url.URL, req *Request) (*Response, error) {
	client := &http.Client{Timeout: req.timeout()}
	res, err := client.Get(buildAnnounceURL(u, req))
	if err != nil {
		return nil, errors.Wrap(ErrUnreachable, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, errors.Wrapf(ErrRejected, "status %s", res.Status)
	}

	body, err := bencode.Decode(res.Body)
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return parseResponse(body)
}

// buildAnnounceURL builds the announce URL for one tracker.
// info_hash and peer_id are raw bytes and must be percent-encoded
// ourselves: url.Values would encode spaces as '+'.
func buildAnnounceURL(u *url.URL, req *Request) string {
	params := url.Values{
		"port":       []string{strconv.Itoa(int(req.Port))},
		"uploaded":   []string{"0"},
		"downloaded": []string{"0"},
		"left":       []string{strconv.Itoa(req.Left)},
		"compact":    []string{"1"},
	}
	announce := *u
	announce.RawQuery = params.Encode() +
		"&info_hash=" + percentEncode(req.InfoHash[:]) +
		"&peer_id=" + percentEncode(req.PeerID[:])
	return announce.String()
}

// percentEncode encodes raw bytes per RFC 3986: every byte is
// percent-encoded unless it is unreserved.
func percentEncode(b []byte) string {
	res := make([]byte, 0, 3*len(b))
	for _, v := range b {
		if v >= 'a' && v <= 'z' || v >= 'A' && v <= 'Z' || v >= '0' && v <= '9' ||
			v == '-' || v == '_' || v == '.' || v == '~' {
			res = append(res, v)
			continue
		}
		res = append(res, fmt.Sprintf("%%%02X", v)...)
	}
	return string(res)
}

// parseResponse interprets a decoded announce body.
// peers comes as a compact byte string or, as a fallback, a list of
// dictionaries with ip and port keys.
func parseResponse(body interface{}) (*Response, error) {
	dict, ok := body.(map[string]interface{})
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "response is not a dictionary")
	}
	if reason, ok := dict["failure reason"].(string); ok {
		return nil, errors.Wrap(ErrRejected, reason)
	}

	res := &Response{}
	if interval, ok := dict["interval"].(int64); ok {
		res.Interval = int(interval)
	}

	rawPeers, ok := dict["peers"]
	if !ok {
		return nil, errors.Wrap(ErrMalformed, "response has no peers key")
	}
	switch peers := rawPeers.(type) {
	case string:
		parsed, err := peer.Unmarshal([]byte(peers))
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		res.Peers = parsed
	case []interface{}:
		for _, entry := range peers {
			p, ok := parseDictPeer(entry)
			if !ok {
				return nil, errors.Wrap(ErrMalformed, "bad peer dictionary")
			}
			res.Peers = append(res.Peers, p)
		}
	default:
		return nil, errors.Wrap(ErrMalformed, "peers is neither a string nor a list")
	}

	// optional compact IPv6 peers
	if peers6, ok := dict["peers6"].(string); ok {
		parsed, err := peer.UnmarshalV6([]byte(peers6))
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		res.Peers = append(res.Peers, parsed...)
	}
	return res, nil
}

func parseDictPeer(entry interface{}) (peer.Peer, bool) {
	dict, ok := entry.(map[string]interface{})
	if !ok {
		return peer.Peer{}, false
	}
	ipStr, ok := dict["ip"].(string)
	if !ok {
		return peer.Peer{}, false
	}
	port, ok := dict["port"].(int64)
	if !ok || port < 0 || port > 65535 {
		return peer.Peer{}, false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return peer.Peer{}, false
	}
	return peer.Peer{IP: ip, Port: uint16(port)}, true
}
