package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/realms"
)

var errUnknownRealm = errors.New("landblock in unknown realm")

// realmLoader resolves landblock content against the realm catalog. There is no terrain
// to fetch, so a landblock is ready once its realm is known. Unknown realms fail and the
// partition manager retries them.
type realmLoader struct {
	realms *realms.Catalog
}

func (l realmLoader) LoadContent(ctx context.Context, k partition.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := l.realms.Realm(k.Instance.Realm()); !ok {
		return fmt.Errorf("%w: realm=%d lb=%04X", errUnknownRealm, k.Instance.Realm(), k.Landblock)
	}
	return nil
}

// blockStats counts landblock updates. The ticker runs on partition workers in
// parallel, so every field is atomic.
type blockStats struct {
	ticks    atomic.Uint64
	occupied atomic.Uint64
}

func (s *blockStats) tick(_ int, lb *partition.Landblock, _ time.Time) {
	s.ticks.Add(1)
	if lb.ActorCount() > 0 {
		s.occupied.Add(1)
	}
}
