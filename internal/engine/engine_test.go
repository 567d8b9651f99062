package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/strata/internal/config"
	"github.com/rzbill/strata/pkg/log"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Topology = config.Topology{
		NumZones:      1,
		CbotsPerZone:  1,
		FbotsPerZone:  1,
		IgbotsPerZone: 1,
		RbotsPerZone:  1,
	}
	cfg.HealthIntervalMs = 50
	cfg.HealthTimeoutMs = 500
	return &cfg
}

func openTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	eng, err := Open(Options{Config: cfg, Logger: log.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

// waitForState polls DumpState until pred accepts the report.
func waitForState(t *testing.T, eng *Engine, pred func(*StateReport) bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rep, err := eng.DumpState(context.Background())
		require.NoError(t, err)
		if pred(rep) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	rep, _ := eng.DumpState(context.Background())
	t.Fatalf("condition not reached; last state: %+v", rep)
}

func TestPutGetDelete(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, eng.Put(ctx, []byte("user:1"), []byte("ada")))
	value, _, err := eng.Get(ctx, []byte("user:1"))
	require.NoError(t, err)
	require.Equal(t, []byte("ada"), value)

	require.NoError(t, eng.Put(ctx, []byte("user:1"), []byte("grace")))
	value, _, err = eng.Get(ctx, []byte("user:1"))
	require.NoError(t, err)
	require.Equal(t, []byte("grace"), value)

	require.NoError(t, eng.Delete(ctx, []byte("user:1")))
	_, _, err = eng.Get(ctx, []byte("user:1"))
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent key succeeds.
	require.NoError(t, eng.Delete(ctx, []byte("never-existed")))
}

func TestGetMissingKey(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	_, _, err := eng.Get(context.Background(), []byte("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyKeyRejected(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	require.Error(t, eng.Put(context.Background(), nil, []byte("x")))
	_, _, err := eng.Get(context.Background(), nil)
	require.Error(t, err)
}

func TestRolloverOpensNewFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileBytes = 2 << 10
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	value := bytes.Repeat([]byte("v"), 512)
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("key%02d", i)
		require.NoError(t, eng.Put(ctx, []byte(key), value))
	}

	rep, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.Greater(t, len(rep.Zones[0].Files), 1, "writes past the size limit should roll the live file")

	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("key%02d", i)
		got, _, err := eng.Get(ctx, []byte(key))
		require.NoError(t, err, "key %s", key)
		require.Equal(t, value, got)
	}
}

func TestClearCacheKeepsData(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, eng.Put(ctx, []byte("k"), []byte("cached value")))
	require.NoError(t, eng.ClearCache(ctx))

	waitForState(t, eng, func(rep *StateReport) bool {
		return rep.Zones[0].CacheValueBytes == 0
	})

	// The location survives the clear; the read falls through to disk.
	value, _, err := eng.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("cached value"), value)
}

func TestRestartReplaysFromDisk(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, eng.Put(ctx, []byte("persist:1"), []byte("one")))
	require.NoError(t, eng.Put(ctx, []byte("persist:2"), []byte("two")))
	require.NoError(t, eng.Put(ctx, []byte("persist:1"), []byte("one-v2")))
	require.NoError(t, eng.Delete(ctx, []byte("persist:2")))
	require.NoError(t, eng.Close())

	eng2 := openTestEngine(t, cfg)
	value, _, err := eng2.Get(ctx, []byte("persist:1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one-v2"), value, "replay keeps the newest version")

	_, _, err = eng2.Get(ctx, []byte("persist:2"))
	require.ErrorIs(t, err, ErrNotFound, "tombstones survive restart")
}

func TestRestartWithoutIndexFiles(t *testing.T) {
	cfg := testConfig(t)
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, eng.Put(ctx, []byte("a"), []byte("alpha")))
	require.NoError(t, eng.Put(ctx, []byte("b"), []byte("beta")))
	require.NoError(t, eng.Close())

	// Drop the index files; replay must fall back to the data files and
	// regenerate them.
	zoneDir := cfg.ZoneDir(cfg.Topology.ZoneVersion(), 0)
	matches, err := filepath.Glob(filepath.Join(zoneDir, "X*.sx"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, m := range matches {
		require.NoError(t, os.Remove(m))
	}

	eng2 := openTestEngine(t, cfg)
	value, _, err := eng2.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), value)
	value, _, err = eng2.Get(ctx, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), value)

	regenerated, err := filepath.Glob(filepath.Join(zoneDir, "X*.sx"))
	require.NoError(t, err)
	require.NotEmpty(t, regenerated, "index files are regenerated from data")
}

func TestCompactionRewritesSurvivors(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileBytes = 4 << 10
	cfg.GcRatio = 0.2
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	oldValue := bytes.Repeat([]byte("A"), 1024)
	keeper := bytes.Repeat([]byte("B"), 1024)
	require.NoError(t, eng.Put(ctx, []byte("churn"), oldValue))
	require.NoError(t, eng.Put(ctx, []byte("keeper"), keeper))

	// Roll the live file so the first one becomes a compaction candidate.
	filler := bytes.Repeat([]byte("f"), 512)
	for i := 0; i < 10; i++ {
		require.NoError(t, eng.Put(ctx, []byte(fmt.Sprintf("fill%02d", i)), filler))
	}
	// Superseding churn pushes the first file over the garbage ratio.
	newValue := bytes.Repeat([]byte("C"), 64)
	require.NoError(t, eng.Put(ctx, []byte("churn"), newValue))

	waitForState(t, eng, func(rep *StateReport) bool {
		for _, f := range rep.Zones[0].Files {
			if f.GarbageBytes > 0 && f.Status != "live" {
				return false
			}
		}
		return true
	})

	got, _, err := eng.Get(ctx, []byte("keeper"))
	require.NoError(t, err)
	require.Equal(t, keeper, got, "survivors stay readable after compaction")
	got, _, err = eng.Get(ctx, []byte("churn"))
	require.NoError(t, err)
	require.Equal(t, newValue, got)

	// The superseded bytes must be physically gone from the zone.
	zoneDir := cfg.ZoneDir(cfg.Topology.ZoneVersion(), 0)
	files, err := filepath.Glob(filepath.Join(zoneDir, "D*.sd"))
	require.NoError(t, err)
	for _, f := range files {
		raw, err := os.ReadFile(f)
		require.NoError(t, err)
		require.False(t, bytes.Contains(raw, oldValue), "stale record still present in %s", f)
	}
}

func TestOverwritesRacingCompactionKeepNewest(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileBytes = 4 << 10
	cfg.GcRatio = 0.2
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	// Each round rolls more data into stale files and supersedes the hot
	// key again, so overwrites keep landing while earlier files are being
	// compacted in the background.
	filler := bytes.Repeat([]byte("f"), 512)
	var last []byte
	for i := 0; i < 30; i++ {
		require.NoError(t, eng.Put(ctx, []byte(fmt.Sprintf("fill%03d", i)), filler))
		last = append(bytes.Repeat([]byte("h"), 1536), []byte(fmt.Sprintf("hot%03d", i))...)
		require.NoError(t, eng.Put(ctx, []byte("hot"), last))
	}

	got, _, err := eng.Get(ctx, []byte("hot"))
	require.NoError(t, err)
	require.Equal(t, last, got, "an overwrite landing mid-compaction must win")

	// Accounting converges: every superseded hot version is booked as
	// garbage at its current offset and compacted away.
	waitForState(t, eng, func(rep *StateReport) bool {
		for _, f := range rep.Zones[0].Files {
			if f.GarbageBytes > 0 && f.Status != "live" {
				return false
			}
		}
		return true
	})

	for i := 0; i < 30; i++ {
		key := []byte(fmt.Sprintf("fill%03d", i))
		got, _, err := eng.Get(ctx, key)
		require.NoError(t, err, "key %s", key)
		require.Equal(t, filler, got)
	}

	// Restart replays the compacted layout; the newest version still wins.
	require.NoError(t, eng.Close())
	eng2 := openTestEngine(t, cfg)
	got, _, err = eng2.Get(ctx, []byte("hot"))
	require.NoError(t, err)
	require.Equal(t, last, got)
}

func TestSetGcControlDisablesCompaction(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxFileBytes = 4 << 10
	cfg.GcRatio = 0.2
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, eng.SetGcControl(ctx, GcControl{Enabled: false}))

	value := bytes.Repeat([]byte("x"), 1024)
	require.NoError(t, eng.Put(ctx, []byte("a"), value))
	for i := 0; i < 10; i++ {
		require.NoError(t, eng.Put(ctx, []byte(fmt.Sprintf("fill%02d", i)), value))
	}
	require.NoError(t, eng.Put(ctx, []byte("a"), []byte("tiny")))

	// Give the fleet time to (incorrectly) compact, then check garbage is
	// still in place.
	time.Sleep(300 * time.Millisecond)
	rep, err := eng.DumpState(ctx)
	require.NoError(t, err)
	var garbage uint64
	for _, f := range rep.Zones[0].Files {
		garbage += f.GarbageBytes
	}
	require.NotZero(t, garbage, "disabled compaction must leave garbage in place")

	rep2, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.False(t, rep2.GcControl.Enabled)
}

func TestDumpStateShape(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, eng.Put(ctx, []byte("k"), []byte("v")))

	rep, err := eng.DumpState(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rep.TopologyVersion)
	require.Len(t, rep.Zones, 1)
	require.Equal(t, 1, rep.Zones[0].CacheEntries)
	require.NotEmpty(t, rep.Zones[0].Files)
	require.NotEmpty(t, rep.Workers)
}

func TestOperationsAfterClose(t *testing.T) {
	eng := openTestEngine(t, testConfig(t))
	require.NoError(t, eng.Close())
	ctx := context.Background()

	require.ErrorIs(t, eng.Put(ctx, []byte("k"), []byte("v")), ErrShutdown)
	_, _, err := eng.Get(ctx, []byte("k"))
	require.ErrorIs(t, err, ErrShutdown)
	_, err = eng.DumpState(ctx)
	require.ErrorIs(t, err, ErrShutdown)
	require.NoError(t, eng.Close(), "second close is a no-op")
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Topology.NumZones = 2
	cfg.Topology.CbotsPerZone = 2
	cfg.Topology.RbotsPerZone = 2
	eng := openTestEngine(t, cfg)
	ctx := context.Background()

	const keys = 64
	errCh := make(chan error, keys)
	for i := 0; i < keys; i++ {
		go func(i int) {
			key := []byte(fmt.Sprintf("key%03d", i))
			if err := eng.Put(ctx, key, key); err != nil {
				errCh <- err
				return
			}
			value, _, err := eng.Get(ctx, key)
			if err != nil {
				errCh <- err
				return
			}
			if !bytes.Equal(value, key) {
				errCh <- fmt.Errorf("key %s: got %q", key, value)
				return
			}
			errCh <- nil
		}(i)
	}
	for i := 0; i < keys; i++ {
		require.NoError(t, <-errCh)
	}
}
