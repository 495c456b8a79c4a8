package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/goleech/leech/config"
	"github.com/goleech/leech/metainfo"
	"github.com/goleech/leech/torrent"
	"github.com/goleech/leech/tracker"
)

const version = "0.1.0"

// exit codes of the leech binary
const (
	exitTorrent  = 1 // malformed or unsupported torrent, I/O error
	exitTracker  = 2 // tracker failure
	exitDownload = 3 // stalled download or no peers
)

func usage() {
	fmt.Printf(`%s -t <torrent-file> -f <destination>

    -t torrent-file    Path of the torrent file
    -f destination     Path the downloaded payload is written to
    -c config-file     Optional: path of a YAML config file
    -V, --version      Print the version and exit

    The LEECH_LOG environment variable selects the log level
    (debug, info, warn, error).
`, os.Args[0])
	os.Exit(2)
}

func main() {
	var torrentPath, destPath, configPath string
	var showVersion bool
	flag.Usage = usage
	flag.StringVar(&torrentPath, "t", "", "")
	flag.StringVar(&destPath, "f", "", "")
	flag.StringVar(&configPath, "c", "", "")
	flag.BoolVar(&showVersion, "V", false, "")
	flag.BoolVar(&showVersion, "version", false, "")
	flag.Parse()

	if showVersion {
		fmt.Printf("leech %s\n", version)
		return
	}
	if torrentPath == "" || destPath == "" {
		usage()
	}

	setupLogging()

	if err := run(torrentPath, destPath, configPath); err != nil {
		logrus.Error(err)
		os.Exit(exitCode(err))
	}
}

func setupLogging() {
	if level := os.Getenv("LEECH_LOG"); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			logrus.Warnf("LEECH_LOG: unknown level %q", level)
			return
		}
		logrus.SetLevel(parsed)
	}
}

func run(torrentPath, destPath, configPath string) error {
	cfg := &config.DefaultConfig
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	m, err := metainfo.Open(torrentPath)
	if err != nil {
		return err
	}
	logrus.Infof("Loaded %s: %d bytes in %d pieces of %d", m.Name, m.Length, m.NumPieces(), m.PieceLength)

	// nothing to download and nothing to ask a tracker for
	if m.Length == 0 {
		return os.WriteFile(destPath, nil, 0644)
	}

	id, err := torrent.NewPeerID()
	if err != nil {
		return err
	}

	res, err := tracker.Announce(m.Announce, &tracker.Request{
		InfoHash: m.InfoHash,
		PeerID:   id,
		Port:     cfg.Port,
		Left:     m.Length,
		Timeout:  cfg.TrackerTimeout.Std(),
	})
	if err != nil {
		return err
	}
	logrus.Infof("Tracker returned %d peers", len(res.Peers))
	if len(res.Peers) == 0 {
		return torrent.ErrNoPeers
	}

	return torrent.New(m, res.Peers, id, cfg).DownloadToFile(destPath)
}

// exitCode classifies an error into the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, tracker.ErrUnreachable),
		errors.Is(err, tracker.ErrRejected),
		errors.Is(err, tracker.ErrMalformed):
		return exitTracker
	case errors.Is(err, torrent.ErrNoPeers),
		errors.Is(err, torrent.ErrStalled):
		return exitDownload
	default:
		return exitTorrent
	}
}
