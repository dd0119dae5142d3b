package protocol

import (
	"errors"
	"fmt"

	"realmshard.io/internal/sim/spatial"
)

// Binary frame kinds. A binary websocket message is one kind byte followed by its body.
const (
	FramePosition byte = 0x01
	FrameCompact  byte = 0x02
)

var ErrUnknownFrame = errors.New("protocol: unknown frame kind")

// PositionFrame is a flagged position update with the full tile address.
type PositionFrame struct {
	Seq      uint16
	Position spatial.WirePosition
}

// AppendPositionFrame writes kind, a little-endian sequence and the flagged position body.
func AppendPositionFrame(b []byte, seq uint16, p spatial.Position, flags spatial.PositionFlags, placementID int32) []byte {
	b = append(b, FramePosition, byte(seq), byte(seq>>8))
	return p.AppendWire(b, flags, placementID, true)
}

func AppendCompactFrame(b []byte, p spatial.Position) []byte {
	b = append(b, FrameCompact)
	return p.AppendCompact(b, true, true)
}

// DecodeFrame parses a binary message. Exactly one of the results is set.
func DecodeFrame(b []byte) (*PositionFrame, *spatial.Position, error) {
	if len(b) == 0 {
		return nil, nil, spatial.ErrShortPayload
	}
	switch b[0] {
	case FramePosition:
		if len(b) < 3 {
			return nil, nil, spatial.ErrShortPayload
		}
		seq := uint16(b[1]) | uint16(b[2])<<8
		wp, _, err := spatial.DecodeWire(b[3:], true)
		if err != nil {
			return nil, nil, fmt.Errorf("position frame: %w", err)
		}
		return &PositionFrame{Seq: seq, Position: wp}, nil, nil
	case FrameCompact:
		p, _, err := spatial.DecodeCompact(b[1:], true, true)
		if err != nil {
			return nil, nil, fmt.Errorf("compact frame: %w", err)
		}
		return nil, &p, nil
	default:
		return nil, nil, fmt.Errorf("%w: 0x%02X", ErrUnknownFrame, b[0])
	}
}
