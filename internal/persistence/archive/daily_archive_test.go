package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSnap(t *testing.T, dir string, at time.Time, body string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%d.snap.zst", at.UnixMilli()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestArchiveDaily_FirstSnapshotPerDay(t *testing.T) {
	dir := t.TempDir()
	snaps := filepath.Join(dir, "snapshots")
	root := filepath.Join(dir, "archives")
	day := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)

	first := writeSnap(t, snaps, day, "first")
	second := writeSnap(t, snaps, day.Add(time.Hour), "second")

	d, path, ok, err := ArchiveDaily(root, first)
	if err != nil || !ok || d != "20260304" {
		t.Fatalf("archive first: day=%s ok=%v err=%v", d, ok, err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "first" {
		t.Fatalf("archived content: %q %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "meta.json")); err != nil {
		t.Fatalf("expected meta.json: %v", err)
	}

	if _, _, ok, err := ArchiveDaily(root, second); err != nil || ok {
		t.Fatalf("second snapshot of the day should be skipped: ok=%v err=%v", ok, err)
	}
	if _, _, _, err := ArchiveDaily(root, filepath.Join(snaps, "notes.txt")); err == nil {
		t.Fatalf("non-snapshot name should fail")
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, writeSnap(t, dir, base.Add(time.Duration(i)*time.Minute), "x"))
	}
	removed, err := Prune(dir, 2)
	if err != nil || removed != 3 {
		t.Fatalf("prune: removed=%d err=%v", removed, err)
	}
	for i, p := range paths {
		_, err := os.Stat(p)
		if kept := err == nil; kept != (i >= 3) {
			t.Fatalf("snapshot %d kept=%v", i, kept)
		}
	}
}
