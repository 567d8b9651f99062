package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Topology.NumZones < 1 {
		t.Fatalf("numZones default")
	}
}

func TestLoadHuJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "strata.hujson")
	data := []byte(`{
		// comments are fine
		"dataDir": "/tmp/strata-test",
		"topology": {
			"numZones": 4,
			"cbotsPerZone": 3,
		},
		"maxFileBytes": 1048576,
	}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/strata-test" {
		t.Fatalf("dataDir = %q", cfg.DataDir)
	}
	if cfg.Topology.NumZones != 4 {
		t.Fatalf("numZones = %d", cfg.Topology.NumZones)
	}
	if cfg.Topology.CbotsPerZone != 3 {
		t.Fatalf("cbotsPerZone = %d", cfg.Topology.CbotsPerZone)
	}
	// Untouched fields keep defaults.
	if cfg.Topology.FbotsPerZone != Default().Topology.FbotsPerZone {
		t.Fatalf("fbotsPerZone should keep default")
	}
	if cfg.MaxFileBytes != 1048576 {
		t.Fatalf("maxFileBytes = %d", cfg.MaxFileBytes)
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("STRATA_NUM_ZONES", "8")
	t.Setenv("STRATA_MAX_FILE_BYTES", "2048")
	t.Setenv("STRATA_GC_AUTO", "false")
	t.Setenv("STRATA_ZONE_DIRECTORIES", "/a, /b")
	FromEnv(&cfg)
	if cfg.Topology.NumZones != 8 {
		t.Fatalf("env numZones")
	}
	if cfg.MaxFileBytes != 2048 {
		t.Fatalf("env maxFileBytes")
	}
	if cfg.GcAuto {
		t.Fatalf("env gcAuto")
	}
	if len(cfg.Topology.ZoneDirectories) != 2 || cfg.Topology.ZoneDirectories[1] != "/b" {
		t.Fatalf("env zoneDirectories: %v", cfg.Topology.ZoneDirectories)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Topology.NumZones = 0 },
		func(c *Config) { c.Topology.CbotsPerZone = -1 },
		func(c *Config) { c.MaxFileBytes = 100 },
		func(c *Config) { c.GcRatio = 1.5 },
		func(c *Config) { c.Topology.ZoneDirectories = []string{"/only-one"} },
		func(c *Config) { c.DataDir = "" },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestZoneDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	ver := cfg.Topology.Version()
	if got := cfg.ZoneDir(ver, 3); got != filepath.Join("/data", "topo_"+ver, "zone_003") {
		t.Fatalf("ZoneDir = %q", got)
	}
	cfg.Topology.ZoneDirectories = []string{"/x", "/y"}
	if got := cfg.ZoneDir(ver, 1); got != "/y" {
		t.Fatalf("override ZoneDir = %q", got)
	}
}
