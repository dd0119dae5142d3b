package main

import (
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/world"
)

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiTeleportLogger struct {
	a teleport.Logger
	b teleport.Logger
}

func (m multiTeleportLogger) WriteTeleport(entry teleport.Entry) error {
	if m.a != nil {
		_ = m.a.WriteTeleport(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTeleport(entry)
	}
	return nil
}
