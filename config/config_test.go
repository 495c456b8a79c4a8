package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if *c != DefaultConfig {
		t.Errorf("Expected the defaults, got %+v", c)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leech.yml")
	data := "port: 6889\nmax_peers: 10\ndial_timeout: 5s\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 6889 {
		t.Errorf("Expected port 6889, got %d", c.Port)
	}
	if c.MaxPeers != 10 {
		t.Errorf("Expected max_peers 10, got %d", c.MaxPeers)
	}
	if c.DialTimeout.Std() != 5*time.Second {
		t.Errorf("Expected dial timeout 5s, got %s", c.DialTimeout.Std())
	}
	// untouched keys keep their defaults
	if c.PieceTimeout != DefaultConfig.PieceTimeout {
		t.Errorf("Expected default piece timeout, got %s", c.PieceTimeout.Std())
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leech.yml")
	if err := os.WriteFile(path, []byte("dial_timeout: fast\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for an unparseable duration")
	}
}
