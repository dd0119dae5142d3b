package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"

	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
)

const Version = 1

type Header struct {
	Version    int    `json:"version"`
	SavedUnix  int64  `json:"saved_unix"`
	Characters int    `json:"characters"`
	Shard      string `json:"shard,omitempty"`
}

type SnapshotV1 struct {
	Header     Header        `json:"header"`
	Characters []CharacterV1 `json:"characters"`
}

type PositionV1 struct {
	Tile     uint32     `json:"tile"`
	Pos      [3]float32 `json:"pos"`
	Rot      [4]float32 `json:"rot"` // W X Y Z
	Instance uint32     `json:"instance"`
}

type CharacterV1 struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	AccountID       uint32      `json:"account_id"`
	Role            uint8       `json:"role"`
	HomeRealm       uint16      `json:"home_realm"`
	Location        PositionV1  `json:"location"`
	Home            PositionV1  `json:"home"`
	Sanctuary       *PositionV1 `json:"sanctuary,omitempty"`
	EphemeralExitTo *PositionV1 `json:"ephemeral_exit_to,omitempty"`
	SavedUnixMs     int64       `json:"saved_unix_ms"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 64*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for humans; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d not supported", snap.Header.Version)
	}
	return snap, nil
}

// Latest returns the newest <unix_ms>.snap.zst in dir, or "" if there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestMs int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || ms > bestMs {
			bestMs = ms
			best = filepath.Join(dir, name)
		}
	}
	return best
}

// Store is a players.Store over snapshot files, used when the sqlite index is off.
// Saves land in memory; Flush writes every known character to a new snapshot.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	chars map[string]CharacterV1
	dirty bool
}

// Open loads the latest snapshot under dir, if any.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, now: time.Now, chars: map[string]CharacterV1{}}
	if path := Latest(dir); path != "" {
		snap, err := ReadSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		for _, c := range snap.Characters {
			s.chars[c.ID] = c
		}
	}
	return s, nil
}

func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chars)
}

func (s *Store) LoadCharacter(ctx context.Context, id string) (players.Character, bool, error) {
	if err := ctx.Err(); err != nil {
		return players.Character{}, false, err
	}
	s.mu.Lock()
	c, ok := s.chars[id]
	s.mu.Unlock()
	if !ok {
		return players.Character{}, false, nil
	}
	return c.Character(), true, nil
}

func (s *Store) SaveCharacter(ctx context.Context, c players.Character) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := FromCharacter(c)
	s.mu.Lock()
	s.chars[c.ID] = v
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Flush writes a snapshot if anything changed since the last one and returns its path.
func (s *Store) Flush() (string, error) {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return "", nil
	}
	ids := make([]string, 0, len(s.chars))
	for id := range s.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	snap := SnapshotV1{Characters: make([]CharacterV1, 0, len(ids))}
	for _, id := range ids {
		snap.Characters = append(snap.Characters, s.chars[id])
	}
	s.dirty = false
	s.mu.Unlock()

	now := s.now()
	snap.Header = Header{Version: Version, SavedUnix: now.Unix(), Characters: len(snap.Characters)}
	path := filepath.Join(s.dir, fmt.Sprintf("%d.snap.zst", now.UnixMilli()))
	if err := WriteSnapshot(path, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return "", err
	}
	return path, nil
}

func FromPosition(p spatial.Position) PositionV1 {
	return PositionV1{
		Tile:     p.Tile.Raw(),
		Pos:      [3]float32(p.Pos),
		Rot:      [4]float32{p.Rot.W, p.Rot.V[0], p.Rot.V[1], p.Rot.V[2]},
		Instance: p.Instance.Raw(),
	}
}

func (p PositionV1) Position() spatial.Position {
	rot := mgl32.Quat{W: p.Rot[0], V: mgl32.Vec3{p.Rot[1], p.Rot[2], p.Rot[3]}}
	return spatial.Position{Tile: spatial.FromRaw(p.Tile), Instance: spatial.InstanceID(p.Instance), Pos: mgl32.Vec3(p.Pos), Rot: rot}
}

func optional(p *spatial.Position) *PositionV1 {
	if p == nil {
		return nil
	}
	v := FromPosition(*p)
	return &v
}

func (p *PositionV1) optional() *spatial.Position {
	if p == nil {
		return nil
	}
	v := p.Position()
	return &v
}

func FromCharacter(c players.Character) CharacterV1 {
	return CharacterV1{
		ID:              c.ID,
		Name:            c.Name,
		AccountID:       c.AccountID,
		Role:            uint8(c.Role),
		HomeRealm:       c.HomeRealm,
		Location:        FromPosition(c.Location),
		Home:            FromPosition(c.Home),
		Sanctuary:       optional(c.Sanctuary),
		EphemeralExitTo: optional(c.EphemeralExitTo),
		SavedUnixMs:     c.SavedAt.UnixMilli(),
	}
}

func (c CharacterV1) Character() players.Character {
	return players.Character{
		ID:              c.ID,
		Name:            c.Name,
		AccountID:       c.AccountID,
		Role:            teleport.Role(c.Role),
		HomeRealm:       c.HomeRealm,
		Location:        c.Location.Position(),
		Home:            c.Home.Position(),
		Sanctuary:       c.Sanctuary.optional(),
		EphemeralExitTo: c.EphemeralExitTo.optional(),
		SavedAt:         time.UnixMilli(c.SavedUnixMs).UTC(),
	}
}
