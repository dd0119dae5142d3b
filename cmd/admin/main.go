package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"realmshard.io/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "unstick":
			unstickCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "world":
			worldCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshot files under <data>/snapshots, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		fmt.Println(name)
	}
}

// unstickCmd moves a character back to its home (or sanctuary) in the snapshot
// store and writes a new snapshot. Run it while the server is stopped.
func unstickCmd(args []string) {
	fs := flag.NewFlagSet("unstick", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	character := fs.String("character", "", "character id (required)")
	to := fs.String("to", "home", "destination: home or sanctuary")
	_ = fs.Parse(args)

	if strings.TrimSpace(*character) == "" {
		fmt.Fprintln(os.Stderr, "missing -character")
		os.Exit(2)
	}
	s, err := snapshot.Open(filepath.Join(*dataDir, "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open snapshots:", err)
		os.Exit(1)
	}
	path, loc, err := unstick(context.Background(), s, *character, *to, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "unstick:", err)
		os.Exit(1)
	}
	fmt.Printf("unstick ok: character=%s to=%s loc=%s out=%s\n", *character, *to, loc, path)
}

func unstick(ctx context.Context, s *snapshot.Store, id, to string, now time.Time) (path, loc string, err error) {
	c, ok, err := s.LoadCharacter(ctx, id)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", fmt.Errorf("character %s not found", id)
	}
	switch to {
	case "home":
		c.Location = c.Home
	case "sanctuary":
		if c.Sanctuary == nil {
			return "", "", fmt.Errorf("character %s has no sanctuary", id)
		}
		c.Location = *c.Sanctuary
	default:
		return "", "", fmt.Errorf("unknown destination %q", to)
	}
	// Whatever instance they were stuck in is gone.
	c.EphemeralExitTo = nil
	c.SavedAt = now
	if err := s.SaveCharacter(ctx, c); err != nil {
		return "", "", err
	}
	s.SetClock(func() time.Time { return now })
	path, err = s.Flush()
	if err != nil {
		return "", "", err
	}
	return path, c.Location.LOCString(), nil
}
