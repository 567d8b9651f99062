package engine

import (
	"time"

	"github.com/rzbill/strata/internal/store"
)

// GcControl governs compaction across all file-workers.
type GcControl struct {
	// Enabled gates compaction entirely.
	Enabled bool `json:"enabled"`
	// Auto lets garbage-ratio checks trigger compaction; when false,
	// compaction only runs when explicitly requested.
	Auto bool `json:"auto"`
}

// StateReport is the DumpState result: topology, per-zone shard sizes,
// worker health and cumulative error counters.
type StateReport struct {
	TopologyVersion string            `json:"topologyVersion"`
	GcControl       GcControl         `json:"gcControl"`
	Zones           []ZoneState       `json:"zones"`
	Workers         []WorkerHealth    `json:"workers"`
	ErrorCounts     map[string]uint64 `json:"errorCounts,omitempty"`
}

// ZoneState aggregates one zone's cache and file shards.
type ZoneState struct {
	Zone            int           `json:"zone"`
	Dir             string        `json:"dir"`
	LiveFile        store.FileNum `json:"liveFile"`
	CacheEntries    int           `json:"cacheEntries"`
	CacheValueBytes int64         `json:"cacheValueBytes"`
	Files           []FileSummary `json:"files"`
}

// FileSummary describes one data file's bookkeeping state.
type FileSummary struct {
	File         store.FileNum `json:"file"`
	Status       string        `json:"status"`
	Size         uint64        `json:"size"`
	Entries      int           `json:"entries"`
	GarbageBytes uint64        `json:"garbageBytes"`
	Readers      int           `json:"readers"`
	MovePending  int           `json:"movePending"`
}

// HealthStatus classifies a worker in the supervisor's report.
type HealthStatus string

const (
	// HealthOK: the worker answered its last ping.
	HealthOK HealthStatus = "ok"
	// HealthUnresponsive: the worker missed its ping deadline but its
	// goroutine is still running.
	HealthUnresponsive HealthStatus = "unresponsive"
	// HealthDead: the worker's goroutine has terminated.
	HealthDead HealthStatus = "dead"
)

// WorkerHealth is one worker's entry in the health report. Neither state
// triggers an automatic restart; both are operator signals.
type WorkerHealth struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	LastSeen time.Time    `json:"lastSeen"`
	Errors   uint64       `json:"errors,omitempty"`
}
