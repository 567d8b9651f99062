// Package zone manages one zone's directory: file naming, the startup
// survey, crash-safe manifests and raw data/index file IO.
package zone

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rzbill/strata/internal/store"
)

const (
	dataSuffix  = ".sd"
	indexSuffix = ".sx"
)

// DataFileName returns the data file name for num, e.g. "D00000042.sd".
func DataFileName(num store.FileNum) string {
	return fmt.Sprintf("D%s%s", num, dataSuffix)
}

// IndexFileName returns the index file name for num, e.g. "X00000042.sx".
func IndexFileName(num store.FileNum) string {
	return fmt.Sprintf("X%s%s", num, indexSuffix)
}

// ParseDataFileName extracts the file number from a data file name.
func ParseDataFileName(name string) (store.FileNum, bool) {
	if !strings.HasPrefix(name, "D") || !strings.HasSuffix(name, dataSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "D"), dataSuffix)
	if len(digits) < 8 {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return store.FileNum(n), true
}

// DataPath returns the full path of num's data file in dir.
func DataPath(dir string, num store.FileNum) string {
	return filepath.Join(dir, DataFileName(num))
}

// IndexPath returns the full path of num's index file in dir.
func IndexPath(dir string, num store.FileNum) string {
	return filepath.Join(dir, IndexFileName(num))
}

// Ensure creates the zone directory if missing.
func Ensure(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
