package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const snapSuffix = ".snap.zst"

type DailyArchiveMeta struct {
	Day       string `json:"day"`
	Snapshot  string `json:"snapshot"`
	SavedAt   string `json:"saved_at"`
	CreatedAt string `json:"created_at"`
}

// SnapshotTime parses the <unix_ms>.snap.zst file name.
func SnapshotTime(path string) (time.Time, bool) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, snapSuffix) {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(name, snapSuffix), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// ArchiveDaily copies the first snapshot of each UTC day into `root/day_<YYYYMMDD>/`.
// It returns archived=false when that day already has one.
func ArchiveDaily(root, snapshotPath string) (day string, archivedPath string, archived bool, err error) {
	saved, ok := SnapshotTime(snapshotPath)
	if !ok {
		return "", "", false, fmt.Errorf("not a snapshot file: %s", filepath.Base(snapshotPath))
	}
	day = saved.Format("20060102")
	dir := filepath.Join(root, "day_"+day)
	if existing, _ := filepath.Glob(filepath.Join(dir, "*"+snapSuffix)); len(existing) > 0 {
		return day, existing[0], false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", false, err
	}

	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", "", false, err
	}

	meta := DailyArchiveMeta{
		Day:       day,
		Snapshot:  filepath.Base(dst),
		SavedAt:   saved.Format(time.RFC3339Nano),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}
	return day, dst, true, nil
}

// Prune removes all but the newest keep snapshots in dir.
func Prune(dir string, keep int) (removed int, err error) {
	if keep < 1 {
		keep = 1
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	type snap struct {
		path string
		at   time.Time
	}
	var snaps []snap
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if at, ok := SnapshotTime(e.Name()); ok {
			snaps = append(snaps, snap{path: filepath.Join(dir, e.Name()), at: at})
		}
	}
	if len(snaps) <= keep {
		return 0, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].at.After(snaps[j].at) })
	for _, s := range snaps[keep:] {
		if err := os.Remove(s.path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
