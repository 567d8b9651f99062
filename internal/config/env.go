package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays STRATA_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("STRATA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	envInt("STRATA_NUM_ZONES", &cfg.Topology.NumZones)
	envInt("STRATA_CBOTS_PER_ZONE", &cfg.Topology.CbotsPerZone)
	envInt("STRATA_FBOTS_PER_ZONE", &cfg.Topology.FbotsPerZone)
	envInt("STRATA_IGBOTS_PER_ZONE", &cfg.Topology.IgbotsPerZone)
	envInt("STRATA_RBOTS_PER_ZONE", &cfg.Topology.RbotsPerZone)
	if v := os.Getenv("STRATA_ZONE_DIRECTORIES"); v != "" {
		parts := strings.Split(v, ",")
		cfg.Topology.ZoneDirectories = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Topology.ZoneDirectories = append(cfg.Topology.ZoneDirectories, p)
			}
		}
	}
	envInt64("STRATA_MAX_FILE_BYTES", &cfg.MaxFileBytes)
	envInt64("STRATA_CACHE_VALUE_LIMIT_BYTES", &cfg.CacheValueLimitBytes)
	if v := os.Getenv("STRATA_GC_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GcRatio = f
		}
	}
	if v := os.Getenv("STRATA_GC_AUTO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.GcAuto = b
		}
	}
	envInt("STRATA_HEALTH_INTERVAL_MS", &cfg.HealthIntervalMs)
	envInt("STRATA_HEALTH_TIMEOUT_MS", &cfg.HealthTimeoutMs)
	if v := os.Getenv("STRATA_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STRATA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STRATA_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
