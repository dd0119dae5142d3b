package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/tuning"
	"realmshard.io/internal/sim/world"
)

// SQLiteIndex is the read model: an async writer for tick and teleport journals and a
// synchronous character store.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropTeleport atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqTeleport
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	teleport teleport.Entry
}

type QueueStats struct {
	DropTickTotal     uint64
	DropTeleportTotal uint64
	QueueDepth        int
	QueueCapacity     int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			unix_ms INTEGER NOT NULL,
			inbound INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			delayed INTEGER NOT NULL,
			sessions INTEGER NOT NULL,
			world_time_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS teleports (
			id TEXT NOT NULL,
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			actor_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			result TEXT NOT NULL,
			reason TEXT,
			from_loc TEXT,
			to_loc TEXT NOT NULL,
			from_instance INTEGER NOT NULL,
			to_instance INTEGER NOT NULL,
			unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_teleports_actor ON teleports(actor_id, unix_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_teleports_result ON teleports(result, unix_ms);`,
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account_id INTEGER NOT NULL,
			role INTEGER NOT NULL,
			home_realm INTEGER NOT NULL,
			location BLOB NOT NULL,
			home BLOB NOT NULL,
			sanctuary BLOB,
			exit_to BLOB,
			saved_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		DropTickTotal:     s.dropTick.Load(),
		DropTeleportTotal: s.dropTeleport.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// The JSONL journals remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteTeleport(e teleport.Entry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	e.Normalize()
	select {
	case s.ch <- req{kind: reqTeleport, teleport: e}:
	default:
		s.dropTeleport.Add(1)
	}
	return nil
}

// UpsertConfigs stores the effective tuning and realm documents with their digests.
func (s *SQLiteIndex) UpsertConfigs(tune tuning.Tuning, realmCfg realms.Config) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		json []byte
	}
	var rows []kv
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", json: b})
	}
	if b, err := json.Marshal(realmCfg); err == nil {
		rows = append(rows, kv{name: "realms", json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO configs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		sum := sha256.Sum256(r.json)
		if _, err := stmt.Exec(r.name, hex.EncodeToString(sum[:]), string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConfigDigest returns the digest stored for a config document.
func (s *SQLiteIndex) ConfigDigest(name string) (string, error) {
	var d string
	err := s.db.QueryRow(`SELECT digest FROM configs WHERE name=?`, name).Scan(&d)
	return d, err
}

// SaveCharacter implements players.Store.
func (s *SQLiteIndex) SaveCharacter(ctx context.Context, c players.Character) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO characters(id,name,account_id,role,home_realm,location,home,sanctuary,exit_to,saved_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, int64(c.AccountID), int(c.Role), int(c.HomeRealm),
		encodePosition(c.Location), encodePosition(c.Home),
		encodeOptional(c.Sanctuary), encodeOptional(c.EphemeralExitTo),
		c.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save character %s: %w", c.ID, err)
	}
	return nil
}

// LoadCharacter implements players.Store.
func (s *SQLiteIndex) LoadCharacter(ctx context.Context, id string) (players.Character, bool, error) {
	var (
		c            players.Character
		account      int64
		role, home   int
		loc, homePos []byte
		sanct, exit  []byte
		savedAt      string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT id,name,account_id,role,home_realm,location,home,sanctuary,exit_to,saved_at FROM characters WHERE id=?`, id)
	if err := row.Scan(&c.ID, &c.Name, &account, &role, &home, &loc, &homePos, &sanct, &exit, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return players.Character{}, false, nil
		}
		return players.Character{}, false, fmt.Errorf("load character %s: %w", id, err)
	}
	c.AccountID = uint32(account)
	c.Role = teleport.Role(role)
	c.HomeRealm = uint16(home)
	var err error
	if c.Location, err = decodePosition(loc); err != nil {
		return players.Character{}, false, fmt.Errorf("load character %s location: %w", id, err)
	}
	if c.Home, err = decodePosition(homePos); err != nil {
		return players.Character{}, false, fmt.Errorf("load character %s home: %w", id, err)
	}
	if c.Sanctuary, err = decodeOptional(sanct); err != nil {
		return players.Character{}, false, fmt.Errorf("load character %s sanctuary: %w", id, err)
	}
	if c.EphemeralExitTo, err = decodeOptional(exit); err != nil {
		return players.Character{}, false, fmt.Errorf("load character %s exit point: %w", id, err)
	}
	c.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	return c, true, nil
}

// Positions are stored as the raw instance id followed by the compact encoding.
func encodePosition(p spatial.Position) []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 36), p.Instance.Raw())
	return p.AppendCompact(b, true, true)
}

func decodePosition(b []byte) (spatial.Position, error) {
	if len(b) < 4 {
		return spatial.Position{}, spatial.ErrShortPayload
	}
	p, _, err := spatial.DecodeCompact(b[4:], true, true)
	if err != nil {
		return spatial.Position{}, err
	}
	p.Instance = spatial.InstanceID(binary.LittleEndian.Uint32(b))
	return p, nil
}

func encodeOptional(p *spatial.Position) []byte {
	if p == nil {
		return nil
	}
	return encodePosition(*p)
}

func decodeOptional(b []byte) (*spatial.Position, error) {
	if len(b) == 0 {
		return nil, nil
	}
	p, err := decodePosition(b)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,unix_ms,inbound,actions,delayed,sessions,world_time_ms) VALUES(?,?,?,?,?,?,?)`)
	insertTeleport, _ := s.db.Prepare(`INSERT INTO teleports(id,actor_id,kind,result,reason,from_loc,to_loc,from_instance,to_instance,unix_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertTeleport != nil {
			_ = insertTeleport.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			e := r.tick
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(e.Tick), e.UnixMs, e.Inbound, e.Actions, e.Delayed, e.Sessions, e.WorldTimeMs,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqTeleport:
			e := r.teleport
			if insertTeleport != nil {
				if _, err := tx.Stmt(insertTeleport).Exec(
					e.ID, e.ActorID, e.Kind, string(e.Result), e.Reason,
					e.FromLoc, e.ToLoc, int64(e.FromInst), int64(e.ToInst), e.UnixMs,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		// The single connection is shared with the character store; release it when idle.
		if len(s.ch) == 0 {
			commit()
			continue
		}
		flushIfNeeded()
	}

	commit()
}
