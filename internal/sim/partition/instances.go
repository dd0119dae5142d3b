package partition

import (
	"fmt"

	"realmshard.io/internal/sim/spatial"
)

// Instance is the record for a temporary, rule-overridden copy of a realm.
type Instance struct {
	ID               spatial.InstanceID
	Owner            string
	Allowed          map[string]bool
	OpenToFellowship bool
	IsDuel           bool
	IsPkOnly         bool
}

func (in *Instance) IsAllowed(actorID string) bool { return in.Allowed[actorID] }

// CreateInstance registers a new ephemeral instance. The id must carry the ephemeral bit.
func (m *Manager) CreateInstance(in Instance) (*Instance, error) {
	if !in.ID.Ephemeral() {
		return nil, fmt.Errorf("instance %08X is not ephemeral", in.ID.Raw())
	}
	if _, ok := m.instances[in.ID]; ok {
		return nil, fmt.Errorf("instance %08X already exists", in.ID.Raw())
	}
	if in.Allowed == nil {
		in.Allowed = map[string]bool{}
	}
	rec := in
	m.instances[in.ID] = &rec
	m.logger.Printf("instance created id=%08X owner=%s", in.ID.Raw(), in.Owner)
	return &rec, nil
}

// Instance returns the ephemeral instance record for id.
func (m *Manager) Instance(id spatial.InstanceID) (*Instance, bool) {
	in, ok := m.instances[id]
	return in, ok
}

// RemoveInstance drops the record and every landblock loaded for it.
func (m *Manager) RemoveInstance(id spatial.InstanceID) {
	if _, ok := m.instances[id]; !ok {
		return
	}
	delete(m.instances, id)
	for k := range m.blocks {
		if k.Instance == id {
			delete(m.blocks, k)
		}
	}
	m.logger.Printf("instance removed id=%08X", id.Raw())
}
