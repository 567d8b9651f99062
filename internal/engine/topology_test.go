package engine

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func putKeys(t *testing.T, eng *Engine, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%03d", i)
		require.NoError(t, eng.Put(ctx, []byte(key), []byte("value-"+key)))
	}
}

func requireKeys(t *testing.T, eng *Engine, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%03d", i)
		value, _, err := eng.Get(ctx, []byte(key))
		require.NoError(t, err, "key %s", key)
		require.Equal(t, []byte("value-"+key), value, "key %s", key)
	}
}

func TestTunableChangeKeepsTopology(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	putKeys(t, eng, 10)

	before, err := eng.DumpState(ctx)
	require.NoError(t, err)

	next := *cfg
	next.GcRatio = 0.5
	next.CacheValueLimitBytes = 1 << 20
	require.NoError(t, eng.ChangeTopology(ctx, &next))

	after, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.Equal(t, before.TopologyVersion, after.TopologyVersion)
	requireKeys(t, eng, 10)
}

func TestRecacheRedistributesShards(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	putKeys(t, eng, 50)
	require.NoError(t, eng.Delete(ctx, []byte("key007")))

	next := *cfg
	next.Topology.CbotsPerZone = 3
	next.Topology.FbotsPerZone = 2
	require.NoError(t, eng.ChangeTopology(ctx, &next))

	rep, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.Equal(t, next.Topology.Version(), rep.TopologyVersion)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key%03d", i)
		value, _, gerr := eng.Get(ctx, []byte(key))
		if i == 7 {
			require.ErrorIs(t, gerr, ErrNotFound, "tombstone must survive recache")
			continue
		}
		require.NoError(t, gerr, "key %s", key)
		require.Equal(t, []byte("value-"+key), value)
	}

	// Writes keep working on the migrated fleet.
	require.NoError(t, eng.Put(ctx, []byte("post-recache"), []byte("yes")))
	value, _, err := eng.Get(ctx, []byte("post-recache"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), value)
}

func TestRezoneMovesData(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	putKeys(t, eng, 40)

	oldDir := cfg.ZoneDir(cfg.Topology.ZoneVersion(), 0)
	_, err := os.Stat(oldDir)
	require.NoError(t, err)

	next := *cfg
	next.Topology.NumZones = 2
	require.NoError(t, eng.ChangeTopology(ctx, &next))

	rep, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.Equal(t, next.Topology.Version(), rep.TopologyVersion)
	require.Len(t, rep.Zones, 2)

	requireKeys(t, eng, 40)

	_, err = os.Stat(oldDir)
	require.True(t, os.IsNotExist(err), "old zone directory should be removed after rezone")

	require.NoError(t, eng.Put(ctx, []byte("post-rezone"), []byte("yes")))
	value, _, err := eng.Get(ctx, []byte("post-rezone"))
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), value)
}

func TestChangeTopologyRejectsInvalid(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)

	next := *cfg
	next.Topology.NumZones = 0
	require.Error(t, eng.ChangeTopology(context.Background(), &next))
}

func TestRestartUsesAppliedTopology(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()
	putKeys(t, eng, 20)

	next := *cfg
	next.Topology.CbotsPerZone = 2
	require.NoError(t, eng.ChangeTopology(ctx, &next))
	require.NoError(t, eng.Close())

	// Reopening with the stale file config starts on the applied
	// topology recorded in the catalog.
	eng2 := openTestEngine(t, cfg)
	rep, err := eng2.DumpState(ctx)
	require.NoError(t, err)
	require.Equal(t, next.Topology.Version(), rep.TopologyVersion)
	requireKeys(t, eng2, 20)
}
