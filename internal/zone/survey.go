package zone

import (
	"fmt"
	"os"
	"sort"

	"github.com/rzbill/strata/internal/store"
)

// FileInfo describes one data file found in a zone directory.
type FileInfo struct {
	Num      store.FileNum
	DataSize int64
	HasIndex bool
}

// Survey lists the zone's data files in file-number order and whether each
// has a companion index file.
func Survey(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("zone: survey %s: %w", dir, err)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		num, ok := ParseDataFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("zone: stat %s: %w", e.Name(), err)
		}
		fi := FileInfo{Num: num, DataSize: info.Size()}
		if _, err := os.Stat(IndexPath(dir, num)); err == nil {
			fi.HasIndex = true
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out, nil
}

// ChooseLive picks the live file for a freshly opened zone: the newest
// existing file is adopted when still under the rollover threshold,
// otherwise the next unused number starts a fresh file. The second return
// is the next file number a rollover should use.
func ChooseLive(files []FileInfo, maxFileBytes int64) (live store.FileNum, next store.FileNum) {
	if len(files) == 0 {
		return 1, 2
	}
	newest := files[len(files)-1]
	if newest.DataSize < maxFileBytes {
		return newest.Num, newest.Num + 1
	}
	return newest.Num + 1, newest.Num + 2
}
