package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config is the top-level engine configuration loaded from file/env.
type Config struct {
	// DataDir is the root directory; zone directories default to
	// <DataDir>/topo_<version>/zone_<i> unless ZoneDirectories overrides
	// them.
	DataDir string `json:"dataDir"`

	Topology Topology `json:"topology"`

	// MaxFileBytes is the rollover threshold for a zone's live data file.
	MaxFileBytes int64 `json:"maxFileBytes"`
	// CacheValueLimitBytes bounds cached value bytes per cache shard;
	// locations are always retained. Zero means unlimited.
	CacheValueLimitBytes int64 `json:"cacheValueLimitBytes"`

	// GcRatio is the garbage fraction at which a non-live file becomes a
	// compaction candidate.
	GcRatio float64 `json:"gcRatio"`
	// GcAuto enables automatic compaction triggering.
	GcAuto bool `json:"gcAuto"`

	// HealthIntervalMs is the supervisor ping period; HealthTimeoutMs the
	// per-ping reply deadline.
	HealthIntervalMs int `json:"healthIntervalMs"`
	HealthTimeoutMs  int `json:"healthTimeoutMs"`

	// HTTPAddr is the listen address for the command surface.
	HTTPAddr string `json:"httpAddr"`

	Log LogConfig `json:"log"`
}

// Topology holds the fields whose change requires structural migration.
type Topology struct {
	NumZones      int `json:"numZones"`
	CbotsPerZone  int `json:"cbotsPerZone"`
	FbotsPerZone  int `json:"fbotsPerZone"`
	IgbotsPerZone int `json:"igbotsPerZone"`
	RbotsPerZone  int `json:"rbotsPerZone"`
	// ZoneDirectories, when non-empty, must have exactly NumZones entries.
	// Each zone has exactly one writer-worker, which exclusively owns the
	// zone's live file.
	ZoneDirectories []string `json:"zoneDirectories"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Topology: Topology{
			NumZones:      2,
			CbotsPerZone:  2,
			FbotsPerZone:  2,
			IgbotsPerZone: 2,
			RbotsPerZone:  2,
		},
		MaxFileBytes:         64 << 20,
		CacheValueLimitBytes: 256 << 20,
		GcRatio:              0.3,
		GcAuto:               true,
		HealthIntervalMs:     5000,
		HealthTimeoutMs:      1000,
		HTTPAddr:             ":8460",
		Log:                  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a HuJSON file (JSON with comments and
// trailing commas). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	std, err := hujson.Standardize(b)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir must be set")
	}
	t := c.Topology
	for _, f := range []struct {
		name string
		v    int
	}{
		{"numZones", t.NumZones},
		{"cbotsPerZone", t.CbotsPerZone},
		{"fbotsPerZone", t.FbotsPerZone},
		{"igbotsPerZone", t.IgbotsPerZone},
		{"rbotsPerZone", t.RbotsPerZone},
	} {
		if f.v < 1 {
			return fmt.Errorf("config: topology.%s must be >= 1, got %d", f.name, f.v)
		}
	}
	if len(t.ZoneDirectories) != 0 && len(t.ZoneDirectories) != t.NumZones {
		return fmt.Errorf("config: topology.zoneDirectories has %d entries, want %d",
			len(t.ZoneDirectories), t.NumZones)
	}
	if c.MaxFileBytes < 1<<10 {
		return fmt.Errorf("config: maxFileBytes must be >= 1024, got %d", c.MaxFileBytes)
	}
	if c.CacheValueLimitBytes < 0 {
		return fmt.Errorf("config: cacheValueLimitBytes must be >= 0")
	}
	if c.GcRatio <= 0 || c.GcRatio >= 1 {
		return fmt.Errorf("config: gcRatio must be in (0, 1), got %g", c.GcRatio)
	}
	if c.HealthIntervalMs < 1 || c.HealthTimeoutMs < 1 {
		return fmt.Errorf("config: health interval and timeout must be >= 1ms")
	}
	return nil
}
