package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ChangeKind classifies the difference between two configurations.
type ChangeKind int

const (
	// ChangeNone: configurations are topologically identical and share
	// every tunable.
	ChangeNone ChangeKind = iota
	// ChangeTunable: only runtime tunables differ; workers absorb the new
	// values without structural migration.
	ChangeTunable
	// ChangeRecache: shard counts within zones differ; cache entries must
	// be redistributed but no files move.
	ChangeRecache
	// ChangeRezone: zone count or zone directories differ; data must move
	// between directories.
	ChangeRezone
)

// String returns a short name for the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeTunable:
		return "tunable"
	case ChangeRecache:
		return "recache"
	case ChangeRezone:
		return "rezone"
	default:
		return "unknown"
	}
}

// Diff classifies the change from old to new. Rezone dominates recache,
// which dominates tunable.
func Diff(old, new *Config) ChangeKind {
	ot, nt := old.Topology, new.Topology
	if ot.NumZones != nt.NumZones || !sameDirs(ot.ZoneDirectories, nt.ZoneDirectories) {
		return ChangeRezone
	}
	if ot.CbotsPerZone != nt.CbotsPerZone || ot.FbotsPerZone != nt.FbotsPerZone ||
		ot.IgbotsPerZone != nt.IgbotsPerZone || ot.RbotsPerZone != nt.RbotsPerZone {
		return ChangeRecache
	}
	if old.MaxFileBytes != new.MaxFileBytes ||
		old.CacheValueLimitBytes != new.CacheValueLimitBytes ||
		old.GcRatio != new.GcRatio ||
		old.GcAuto != new.GcAuto ||
		old.HealthIntervalMs != new.HealthIntervalMs ||
		old.HealthTimeoutMs != new.HealthTimeoutMs {
		return ChangeTunable
	}
	return ChangeNone
}

func sameDirs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Version returns a stable identifier for the topology, used to detect a
// change against the previously applied configuration across restarts.
func (t Topology) Version() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// ZoneVersion identifies only the zone layout: the zone count and any
// explicit directories. Worker-pool changes within a zone keep the same
// zone version, so a recache reuses the directories in place while a
// rezone lands in fresh ones.
func (t Topology) ZoneVersion() string {
	b, _ := json.Marshal(struct {
		NumZones int      `json:"numZones"`
		Dirs     []string `json:"dirs"`
	}{t.NumZones, t.ZoneDirectories})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
