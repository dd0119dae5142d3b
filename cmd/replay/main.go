package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"realmshard.io/internal/persistence/snapshot"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/world"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		snapPath = flag.String("snapshot", "", "path to .snap.zst (default: latest under <data>/snapshots)")
		actor    = flag.String("actor", "", "only report this actor id (optional)")
	)
	flag.Parse()

	ticks, err := journalFiles(filepath.Join(*dataDir, "ticks"), "ticks")
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "list ticks:", err)
		os.Exit(1)
	}
	if len(ticks) > 0 {
		sum, err := checkTicks(ticks)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ticks:", err)
			os.Exit(1)
		}
		fmt.Printf("ticks first=%d last=%d entries=%d gaps=%d files=%d\n", sum.First, sum.Last, sum.Entries, sum.Gaps, len(ticks))
	}

	tps, err := journalFiles(filepath.Join(*dataDir, "teleports"), "teleports")
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "list teleports:", err)
		os.Exit(1)
	}
	hist, err := replayTeleports(tps, *actor)
	if err != nil {
		fmt.Fprintln(os.Stderr, "teleports:", err)
		os.Exit(1)
	}
	fmt.Printf("teleports ok=%d forced=%d denied=%d aborted=%d actors=%d\n",
		hist.Results[teleport.ResultOK], hist.Results[teleport.ResultForced],
		hist.Results[teleport.ResultDenied], hist.Results[teleport.ResultAborted], len(hist.Last))

	path := *snapPath
	if path == "" {
		path = snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
	}
	if path == "" {
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d saved=%s characters=%d\n", snap.Header.Version,
		time.Unix(snap.Header.SavedUnix, 0).UTC().Format(time.RFC3339), len(snap.Characters))

	mismatches := 0
	for _, c := range snap.Characters {
		if *actor != "" && c.ID != *actor {
			continue
		}
		last, ok := hist.Last[c.ID]
		if !ok || last.UnixMs > c.SavedUnixMs {
			continue
		}
		if last.ToInst != c.Location.Instance {
			mismatches++
			fmt.Printf("instance mismatch actor=%s journal=%08X snapshot=%08X last=%s\n", c.ID, last.ToInst, c.Location.Instance, last.ID)
		}
	}
	if mismatches > 0 {
		os.Exit(1)
	}
	fmt.Println("replay ok")
}

// journalFiles lists <prefix>-*.jsonl.zst under dir in hour order.
func journalFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanJournal(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return scanLines(dec, fn)
}

func scanLines(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

type tickSummary struct {
	First, Last uint64
	Entries     int
	Gaps        int
}

// checkTicks walks the tick journal and counts places where the tick counter skipped.
// A tick that goes backwards is an error.
func checkTicks(files []string) (tickSummary, error) {
	var sum tickSummary
	for _, path := range files {
		err := scanJournal(path, func(line []byte) error {
			var e world.TickLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			return sum.add(e.Tick, filepath.Base(path))
		})
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (s *tickSummary) add(tick uint64, file string) error {
	if s.Entries > 0 {
		switch {
		case tick <= s.Last:
			return fmt.Errorf("tick went backwards: %d after %d (file=%s)", tick, s.Last, file)
		case tick != s.Last+1:
			s.Gaps++
		}
	} else {
		s.First = tick
	}
	s.Last = tick
	s.Entries++
	return nil
}

type teleportHistory struct {
	Results map[teleport.Result]int
	// Last is the most recent teleport per actor that actually moved them.
	Last map[string]teleport.Entry
}

func newTeleportHistory() *teleportHistory {
	return &teleportHistory{Results: map[teleport.Result]int{}, Last: map[string]teleport.Entry{}}
}

func (h *teleportHistory) add(e teleport.Entry) {
	h.Results[e.Result]++
	if e.Result != teleport.ResultOK && e.Result != teleport.ResultForced {
		return
	}
	if prev, ok := h.Last[e.ActorID]; ok && prev.UnixMs > e.UnixMs {
		return
	}
	h.Last[e.ActorID] = e
}

func replayTeleports(files []string, actor string) (*teleportHistory, error) {
	h := newTeleportHistory()
	for _, path := range files {
		err := scanJournal(path, func(line []byte) error {
			var e teleport.Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if actor != "" && e.ActorID != actor {
				return nil
			}
			h.add(e)
			return nil
		})
		if err != nil {
			return h, err
		}
	}
	return h, nil
}
