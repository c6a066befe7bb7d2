// Package packet implements the wire framing for traitport: a slot-tagged
// envelope carrying a self-describing payload over a reliable, ordered,
// message-framed duplex byte channel.
//
// Frame format (wire):
//
//	0      3  4              8                 12
//	┌──────┬──┬───────────────┬─────────────────┬───────────────┐
//	│magic │v │  bodyLen u32  │  slotTag  u32   │ payload ...    │
//	│ tpo  │01│               │                 │ bodyLen bytes  │
//	└──────┴──┴───────────────┴─────────────────┴───────────────┘
//
// slotTag bit 31 distinguishes a response (1) from a request (0); bits 30..0
// hold the SlotId. This mirrors the teacher protocol's magic+version+length
// framing, trimmed to the fields the port protocol actually needs on the
// wire — codec selection and heartbeats are a transport/Port concern, not a
// packet field.
package packet

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic identifies a traitport frame, rejecting connections speaking some
// other protocol on the same listener.
const (
	magic0     byte = 't'
	magic1     byte = 'p'
	magic2     byte = 'o'
	version    byte = 0x01
	headerSize int  = 3 + 1 + 4 + 4 // magic + version + bodyLen + slotTag
)

// responseBit marks a SlotTag as carrying a response rather than a request.
const responseBit uint32 = 1 << 31

// SlotMask isolates the SlotId portion of a SlotTag.
const SlotMask uint32 = responseBit - 1

// Packet is the unit of transport: a slot-tagged, self-describing payload.
type Packet struct {
	SlotTag uint32
	Payload []byte
}

// IsResponse reports whether this packet carries a response (as opposed to
// a request).
func (p Packet) IsResponse() bool {
	return p.SlotTag&responseBit != 0
}

// SlotID extracts the SlotId embedded in the tag, independent of the
// request/response bit.
func (p Packet) SlotID() uint32 {
	return p.SlotTag & SlotMask
}

// NewRequestTag builds a request-tagged SlotTag for the given slot id.
func NewRequestTag(slot uint32) uint32 {
	return slot & SlotMask
}

// NewResponseTag copies the SlotId from a request's tag and flips the
// request/response bit, so a response packet echoes its request's slot.
func NewResponseTag(requestTag uint32) uint32 {
	return (requestTag & SlotMask) | responseBit
}

// NewResponseFrom builds a response Packet that echoes the SlotId of req and
// carries payload as its body.
func NewResponseFrom(req Packet, payload []byte) Packet {
	return Packet{SlotTag: NewResponseTag(req.SlotTag), Payload: payload}
}

// Encode writes a complete frame (header + payload) to w.
//
// Callers sharing one io.Writer across goroutines must serialize their own
// Encode calls (e.g. with a mutex) — Encode itself does no locking, just
// like the teacher's protocol.Encode.
func Encode(w io.Writer, p Packet) error {
	buf := make([]byte, headerSize)
	buf[0], buf[1], buf[2] = magic0, magic1, magic2
	buf[3] = version
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(p.Payload)))
	binary.BigEndian.PutUint32(buf[8:12], p.SlotTag)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if len(p.Payload) == 0 {
		return nil
	}
	_, err := w.Write(p.Payload)
	return err
}

// Decode reads one complete frame from r, blocking until the header and the
// whole body have arrived.
func Decode(r io.Reader) (Packet, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Packet{}, err
	}

	if header[0] != magic0 || header[1] != magic1 || header[2] != magic2 {
		return Packet{}, fmt.Errorf("packet: bad magic %x%x%x", header[0], header[1], header[2])
	}
	if header[3] != version {
		return Packet{}, fmt.Errorf("packet: unsupported version %d", header[3])
	}

	bodyLen := binary.BigEndian.Uint32(header[4:8])
	slotTag := binary.BigEndian.Uint32(header[8:12])

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Packet{}, err
		}
	}
	return Packet{SlotTag: slotTag, Payload: body}, nil
}
