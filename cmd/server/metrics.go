package main

import (
	"fmt"
	"net/http"

	"realmshard.io/internal/sim/world"
	"realmshard.io/internal/transport/ws"
)

type metricsSources struct {
	world    *world.World
	sessions func() ws.Stats
	index    runtimeIndex
	blocks   *blockStats
}

// metricsHandler writes a minimal Prometheus exposition. Every source it reads is
// safe off the tick goroutine.
func metricsHandler(src metricsSources) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		w := src.world
		open := 0
		if w.Status() == world.Open {
			open = 1
		}

		fmt.Fprintf(rw, "# HELP realmshard_world_tick Current world loop iteration.\n")
		fmt.Fprintf(rw, "# TYPE realmshard_world_tick counter\n")
		fmt.Fprintf(rw, "realmshard_world_tick %d\n", w.CurrentTick())

		fmt.Fprintf(rw, "# HELP realmshard_world_time_seconds Accumulated time spent in the world loop.\n")
		fmt.Fprintf(rw, "# TYPE realmshard_world_time_seconds counter\n")
		fmt.Fprintf(rw, "realmshard_world_time_seconds %.3f\n", w.WorldTime().Seconds())

		fmt.Fprintf(rw, "# HELP realmshard_world_open Whether the world accepts logins.\n")
		fmt.Fprintf(rw, "# TYPE realmshard_world_open gauge\n")
		fmt.Fprintf(rw, "realmshard_world_open %d\n", open)

		if src.sessions != nil {
			s := src.sessions()
			fmt.Fprintf(rw, "# HELP realmshard_sessions Current number of connected sessions.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_sessions gauge\n")
			fmt.Fprintf(rw, "realmshard_sessions %d\n", s.Sessions)

			fmt.Fprintf(rw, "# HELP realmshard_session_dropped_total Outbound messages dropped because a session fell behind.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_session_dropped_total counter\n")
			fmt.Fprintf(rw, "realmshard_session_dropped_total %d\n", s.Dropped)

			fmt.Fprintf(rw, "# HELP realmshard_session_rejected_total Handshakes rejected.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_session_rejected_total counter\n")
			fmt.Fprintf(rw, "realmshard_session_rejected_total %d\n", s.Rejected)
		}

		if src.blocks != nil {
			fmt.Fprintf(rw, "# HELP realmshard_landblock_ticks_total Landblock updates run by partition workers.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_landblock_ticks_total counter\n")
			fmt.Fprintf(rw, "realmshard_landblock_ticks_total %d\n", src.blocks.ticks.Load())

			fmt.Fprintf(rw, "# HELP realmshard_landblock_occupied_ticks_total Landblock updates with at least one actor present.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_landblock_occupied_ticks_total counter\n")
			fmt.Fprintf(rw, "realmshard_landblock_occupied_ticks_total %d\n", src.blocks.occupied.Load())
		}

		if src.index != nil {
			q := src.index.Stats()
			fmt.Fprintf(rw, "# HELP realmshard_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "realmshard_index_queue_depth %d\n", q.QueueDepth)

			fmt.Fprintf(rw, "# HELP realmshard_index_queue_capacity Index writer queue capacity.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_index_queue_capacity gauge\n")
			fmt.Fprintf(rw, "realmshard_index_queue_capacity %d\n", q.QueueCapacity)

			fmt.Fprintf(rw, "# HELP realmshard_index_dropped_total Journal rows dropped because the index queue was full.\n")
			fmt.Fprintf(rw, "# TYPE realmshard_index_dropped_total counter\n")
			fmt.Fprintf(rw, "realmshard_index_dropped_total{journal=%q} %d\n", "tick", q.DropTickTotal)
			fmt.Fprintf(rw, "realmshard_index_dropped_total{journal=%q} %d\n", "teleport", q.DropTeleportTotal)
		}
	}
}
