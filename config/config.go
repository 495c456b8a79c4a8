// Package config holds the runtime tunables of the client.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like "3s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config collects the knobs of a download run.
type Config struct {
	// Port is the port reported to trackers. No listener is opened on it.
	Port uint16 `yaml:"port"`
	// MaxPeers caps the number of concurrent peer connections.
	// Zero means one worker per peer the tracker returned.
	MaxPeers int `yaml:"max_peers"`
	// DialTimeout bounds the TCP connect to a peer.
	DialTimeout Duration `yaml:"dial_timeout"`
	// PieceTimeout bounds the download of a single piece from one peer.
	PieceTimeout Duration `yaml:"piece_timeout"`
	// TrackerTimeout bounds a single tracker announce request.
	TrackerTimeout Duration `yaml:"tracker_timeout"`
}

// DefaultConfig is the configuration used when no file overrides it.
var DefaultConfig = Config{
	Port:           6881,
	DialTimeout:    Duration(3 * time.Second),
	PieceTimeout:   Duration(30 * time.Second),
	TrackerTimeout: Duration(15 * time.Second),
}

// Load reads a YAML config file over the defaults.
// A missing file is not an error: the defaults are returned.
func Load(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, errors.Wrapf(err, "config file %s", filename)
	}
	return &c, nil
}
