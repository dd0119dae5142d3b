package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/realm.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor_id filter (teleports)")
	result := fs.String("result", "", "result filter (teleports): ok, denied, aborted, forced")
	_ = fs.Parse(args)

	q := "teleports"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "realm.sqlite")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, queryOpts{Limit: *limit, Actor: *actor, Result: *result}, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

type queryOpts struct {
	Limit  int
	Actor  string
	Result string
}

type teleportRow struct {
	ID       string `json:"id"`
	ActorID  string `json:"actor_id"`
	Kind     string `json:"kind"`
	Result   string `json:"result"`
	Reason   string `json:"reason,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	FromInst uint32 `json:"from_instance"`
	ToInst   uint32 `json:"to_instance"`
	UnixMs   int64  `json:"unix_ms"`
}

type characterRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID uint32 `json:"account_id"`
	Role      int    `json:"role"`
	HomeRealm int    `json:"home_realm"`
	SavedAt   string `json:"saved_at"`
}

type tickRow struct {
	Tick        uint64 `json:"tick"`
	UnixMs      int64  `json:"unix_ms"`
	Inbound     int    `json:"inbound"`
	Actions     int    `json:"actions"`
	Delayed     int    `json:"delayed"`
	Sessions    int    `json:"sessions"`
	WorldTimeMs int64  `json:"world_time_ms"`
}

type configRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

func runQuery(db *sql.DB, q string, o queryOpts, emit func(any)) error {
	switch q {
	case "teleports":
		where := []string{"1=1"}
		var args []any
		if o.Actor != "" {
			where = append(where, "actor_id=?")
			args = append(args, o.Actor)
		}
		if o.Result != "" {
			where = append(where, "result=?")
			args = append(args, o.Result)
		}
		args = append(args, o.Limit)
		rows, err := db.Query(`SELECT id,actor_id,kind,result,COALESCE(reason,''),COALESCE(from_loc,''),to_loc,from_instance,to_instance,unix_ms FROM teleports WHERE `+
			strings.Join(where, " AND ")+` ORDER BY seq DESC LIMIT ?`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r teleportRow
			if err := rows.Scan(&r.ID, &r.ActorID, &r.Kind, &r.Result, &r.Reason, &r.From, &r.To, &r.FromInst, &r.ToInst, &r.UnixMs); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	case "characters":
		rows, err := db.Query(`SELECT id,name,account_id,role,home_realm,saved_at FROM characters ORDER BY saved_at DESC LIMIT ?`, o.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r characterRow
			if err := rows.Scan(&r.ID, &r.Name, &r.AccountID, &r.Role, &r.HomeRealm, &r.SavedAt); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,unix_ms,inbound,actions,delayed,sessions,world_time_ms FROM ticks ORDER BY tick DESC LIMIT ?`, o.Limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r tickRow
			if err := rows.Scan(&r.Tick, &r.UnixMs, &r.Inbound, &r.Actions, &r.Delayed, &r.Sessions, &r.WorldTimeMs); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	case "configs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM configs ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r configRow
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return err
			}
			emit(r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query (want teleports, characters, ticks or configs)")
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
