package zone

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
)

// ManifestName is the per-zone manifest file name.
const ManifestName = "MANIFEST"

// Manifest records which zone a directory belongs to and the topology
// version it was created under. Consulted at startup and during rezone to
// detect directories left behind by a halted migration.
type Manifest struct {
	Zone            int       `json:"zone"`
	TopologyVersion string    `json:"topologyVersion"`
	CreatedAt       time.Time `json:"createdAt"`
}

// WriteManifest atomically writes the manifest into dir.
func WriteManifest(dir string, m Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("zone: encode manifest: %w", err)
	}
	b = append(b, '\n')
	if err := atomic.WriteFile(filepath.Join(dir, ManifestName), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("zone: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from dir. A missing manifest returns
// os.ErrNotExist.
func ReadManifest(dir string) (Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("zone: decode manifest: %w", err)
	}
	return m, nil
}
