package teleport

import "realmshard.io/internal/sim/spatial"

type Result string

const (
	ResultOK      Result = "ok"
	ResultDenied  Result = "denied"
	ResultAborted Result = "aborted"
	ResultForced  Result = "forced"
)

// Logger receives one Entry per teleport decision. Implementations must be safe to call
// from the tick goroutine without blocking on network I/O.
type Logger interface {
	WriteTeleport(e Entry) error
}

// Entry is the journal record for one teleport attempt.
type Entry struct {
	ID       string           `json:"id"`
	ActorID  string           `json:"actor_id"`
	Kind     string           `json:"kind"`
	From     spatial.Position `json:"-"`
	To       spatial.Position `json:"-"`
	FromLoc  string           `json:"from,omitempty"`
	ToLoc    string           `json:"to"`
	FromInst uint32           `json:"from_instance"`
	ToInst   uint32           `json:"to_instance"`
	Result   Result           `json:"result"`
	Reason   string           `json:"reason,omitempty"`
	UnixMs   int64            `json:"unix_ms"`
}

// Normalize fills the string and instance columns from From and To.
func (e *Entry) Normalize() {
	if e.FromLoc == "" && !e.From.Tile.IsUndefined() {
		e.FromLoc = e.From.LOCString()
	}
	if e.ToLoc == "" {
		e.ToLoc = e.To.LOCString()
	}
	if e.FromInst == 0 {
		e.FromInst = e.From.Instance.Raw()
	}
	if e.ToInst == 0 {
		e.ToInst = e.To.Instance.Raw()
	}
}
