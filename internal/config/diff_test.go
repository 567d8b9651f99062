package config

import "testing"

func TestDiffClassification(t *testing.T) {
	base := Default()

	same := base
	if got := Diff(&base, &same); got != ChangeNone {
		t.Fatalf("identical configs: got %v", got)
	}

	tunable := base
	tunable.MaxFileBytes *= 2
	tunable.GcRatio = 0.5
	if got := Diff(&base, &tunable); got != ChangeTunable {
		t.Fatalf("tunable change: got %v", got)
	}

	recache := base
	recache.Topology.CbotsPerZone++
	if got := Diff(&base, &recache); got != ChangeRecache {
		t.Fatalf("cbot count change: got %v", got)
	}

	recache2 := base
	recache2.Topology.FbotsPerZone++
	if got := Diff(&base, &recache2); got != ChangeRecache {
		t.Fatalf("fbot count change: got %v", got)
	}

	recache3 := base
	recache3.Topology.RbotsPerZone++
	recache3.Topology.IgbotsPerZone++
	if got := Diff(&base, &recache3); got != ChangeRecache {
		t.Fatalf("pool count change: got %v", got)
	}

	rezone := base
	rezone.Topology.NumZones++
	if got := Diff(&base, &rezone); got != ChangeRezone {
		t.Fatalf("zone count change: got %v", got)
	}

	// Rezone dominates even when shard counts also changed.
	both := base
	both.Topology.NumZones++
	both.Topology.CbotsPerZone++
	if got := Diff(&base, &both); got != ChangeRezone {
		t.Fatalf("combined change: got %v", got)
	}
}

func TestTopologyVersionStable(t *testing.T) {
	a := Default().Topology
	b := Default().Topology
	if a.Version() != b.Version() {
		t.Fatalf("equal topologies should share a version")
	}
	b.CbotsPerZone++
	if a.Version() == b.Version() {
		t.Fatalf("different topologies should differ in version")
	}
}

func TestZoneVersionIgnoresPoolSizes(t *testing.T) {
	a := Default().Topology
	b := Default().Topology
	b.CbotsPerZone++
	b.RbotsPerZone++
	if a.ZoneVersion() != b.ZoneVersion() {
		t.Fatalf("pool sizes must not move zone directories")
	}
	c := Default().Topology
	c.NumZones++
	if a.ZoneVersion() == c.ZoneVersion() {
		t.Fatalf("zone count change should produce new zone directories")
	}
}
