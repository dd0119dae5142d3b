package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"realmshard.io/internal/sim/spatial"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Tick      Tick      `yaml:"tick"`
	Teleport  Teleport  `yaml:"teleport"`
	Players   Players   `yaml:"players"`
	Partition Partition `yaml:"partition"`

	// NoLogLandblocks relocate non-privileged actors to their sanctuary on login.
	NoLogLandblocks []uint16 `yaml:"no_log_landblocks"`
}

type Tick struct {
	UpdateHz    int `yaml:"update_hz"`
	IdleSleepMs int `yaml:"idle_sleep_ms"`
	BusySleepMs int `yaml:"busy_sleep_ms"`
}

type Teleport struct {
	// MoveTooFar is the distance an actor may drift during a recall animation.
	MoveTooFar          float32 `yaml:"move_too_far"`
	ZNudge              float32 `yaml:"z_nudge"`
	MaterializePollMs   int     `yaml:"materialize_poll_ms"`
	MaterializeMaxPolls int     `yaml:"materialize_max_polls"`

	// Recall animation lengths keyed by recall kind (lifestone, hideout, marketplace, ...).
	AnimationsMs map[string]int `yaml:"animations_ms"`
}

type Players struct {
	SaveIntervalSec int `yaml:"save_interval_sec"`

	// New characters start here, in the default instance of StartRealm.
	StartTile  uint32     `yaml:"start_tile"`
	StartPos   [3]float32 `yaml:"start_pos"`
	StartRealm uint16     `yaml:"start_realm"`
}

type Partition struct {
	Workers       int `yaml:"workers"`
	IdleUnloadSec int `yaml:"idle_unload_sec"`
	LoadRetryMs   int `yaml:"load_retry_ms"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Tick:            Tick{UpdateHz: 60, IdleSleepMs: 10, BusySleepMs: 1},
		Teleport: Teleport{
			MoveTooFar:          8,
			ZNudge:              0.005,
			MaterializePollMs:   100,
			MaterializeMaxPolls: 300,
			AnimationsMs: map[string]int{
				"lifestone":   9300,
				"hideout":     9300,
				"marketplace": 14000,
			},
		},
		Players: Players{
			SaveIntervalSec: 300,
			StartTile:       0xA9B40019,
			StartPos:        [3]float32{84, 7.1, 94.005},
			StartRealm:      1,
		},
		Partition: Partition{Workers: 4, IdleUnloadSec: 300, LoadRetryMs: 1000},
	}
}

// Load reads tuning.yaml over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.Tick.UpdateHz <= 0 {
		t.Tick.UpdateHz = d.Tick.UpdateHz
	}
	if t.Tick.IdleSleepMs <= 0 {
		t.Tick.IdleSleepMs = d.Tick.IdleSleepMs
	}
	if t.Tick.BusySleepMs <= 0 {
		t.Tick.BusySleepMs = d.Tick.BusySleepMs
	}
	if t.Teleport.MoveTooFar <= 0 {
		t.Teleport.MoveTooFar = d.Teleport.MoveTooFar
	}
	if t.Teleport.ZNudge == 0 {
		t.Teleport.ZNudge = d.Teleport.ZNudge
	}
	if t.Teleport.MaterializePollMs <= 0 {
		t.Teleport.MaterializePollMs = d.Teleport.MaterializePollMs
	}
	if t.Teleport.MaterializeMaxPolls <= 0 {
		t.Teleport.MaterializeMaxPolls = d.Teleport.MaterializeMaxPolls
	}
	if t.Teleport.AnimationsMs == nil {
		t.Teleport.AnimationsMs = map[string]int{}
	}
	for k, v := range d.Teleport.AnimationsMs {
		if _, ok := t.Teleport.AnimationsMs[k]; !ok {
			t.Teleport.AnimationsMs[k] = v
		}
	}
	if t.Players.SaveIntervalSec <= 0 {
		t.Players.SaveIntervalSec = d.Players.SaveIntervalSec
	}
	if t.Players.StartTile == 0 {
		t.Players.StartTile = d.Players.StartTile
		t.Players.StartPos = d.Players.StartPos
	}
	if t.Partition.Workers <= 0 {
		t.Partition.Workers = d.Partition.Workers
	}
	if t.Partition.IdleUnloadSec <= 0 {
		t.Partition.IdleUnloadSec = d.Partition.IdleUnloadSec
	}
	if t.Partition.LoadRetryMs <= 0 {
		t.Partition.LoadRetryMs = d.Partition.LoadRetryMs
	}
}

func (t Tuning) Validate() error {
	if t.Tick.BusySleepMs > t.Tick.IdleSleepMs {
		return errors.New("tick.busy_sleep_ms must not exceed tick.idle_sleep_ms")
	}
	if t.Tick.UpdateHz > 1000 {
		return fmt.Errorf("tick.update_hz too high: %d", t.Tick.UpdateHz)
	}
	if t.Players.StartRealm > 0x7FFF {
		return fmt.Errorf("players.start_realm out of range: %d", t.Players.StartRealm)
	}
	for k, v := range t.Teleport.AnimationsMs {
		if v < 0 {
			return fmt.Errorf("teleport.animations_ms.%s must be >= 0", k)
		}
	}
	return nil
}

// Animation returns the recall animation length for kind, zero if unknown.
func (t Tuning) Animation(kind string) time.Duration {
	return time.Duration(t.Teleport.AnimationsMs[kind]) * time.Millisecond
}

func (t Tuning) MaterializePoll() time.Duration {
	return time.Duration(t.Teleport.MaterializePollMs) * time.Millisecond
}

func (t Tuning) SaveInterval() time.Duration {
	return time.Duration(t.Players.SaveIntervalSec) * time.Second
}

func (t Tuning) IdleUnload() time.Duration {
	return time.Duration(t.Partition.IdleUnloadSec) * time.Second
}

func (t Tuning) LoadRetry() time.Duration {
	return time.Duration(t.Partition.LoadRetryMs) * time.Millisecond
}

func (t Tuning) IdleSleep() time.Duration {
	return time.Duration(t.Tick.IdleSleepMs) * time.Millisecond
}

func (t Tuning) BusySleep() time.Duration {
	return time.Duration(t.Tick.BusySleepMs) * time.Millisecond
}

// StartLocation is where a character with no stored location enters the world.
func (t Tuning) StartLocation() spatial.Position {
	p := t.Players.StartPos
	return spatial.At(t.Players.StartTile, p[0], p[1], p[2], spatial.DefaultInstance(t.Players.StartRealm))
}

// IsNoLog reports whether landblock is in the no-log set.
func (t Tuning) IsNoLog(landblock uint16) bool {
	for _, lb := range t.NoLogLandblocks {
		if lb == landblock {
			return true
		}
	}
	return false
}
