package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"realmshard.io/internal/persistence/indexdb"
	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/tuning"
	"realmshard.io/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	teleport.Logger
	players.Store
	Close() error
	UpsertConfigs(tune tuning.Tuning, realmCfg realms.Config) error
	Stats() indexdb.QueueStats
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("REALM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "realm.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported REALM_INDEX_BACKEND: %s", backend)
	}
}
