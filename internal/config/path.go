package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default data directory based on the host OS.
// It prefers standard locations when available and falls back to a dotdir
// in the user's home directory.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./data"
	}

	// XDG (Linux) override
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "strata")
	}

	// Common Linux/Unix system dir
	if isDir("/var/lib") {
		return "/var/lib/strata"
	}

	// macOS: ~/Library/Application Support/Strata
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Strata")
	}

	// Windows: %USERPROFILE%/AppData/Local/Strata
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Strata")
	}

	// Fallback: ~/.strata
	return filepath.Join(homeDir, ".strata")
}

// ZoneDir returns the directory for zone i under the given topology
// version, honoring explicit overrides. Versioned defaults keep a rezone's
// new directories disjoint from the old topology's.
func (c *Config) ZoneDir(version string, i int) string {
	if len(c.Topology.ZoneDirectories) > i {
		return c.Topology.ZoneDirectories[i]
	}
	return filepath.Join(c.DataDir, "topo_"+version, fmt.Sprintf("zone_%03d", i))
}

// CatalogDir returns the directory for the metadata catalog.
func (c *Config) CatalogDir() string {
	return filepath.Join(c.DataDir, "catalog")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
