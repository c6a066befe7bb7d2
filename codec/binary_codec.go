package codec

import (
	"encoding/binary"
	"errors"

	"traitport/envelope"
)

// BinaryCodec implements a custom binary serialization for the two payload
// shapes traitport moves over the wire: envelope.Envelope (requests) and
// envelope.Response (replies). This is the teacher's BinaryCodec
// generalized from one message shape (RPCMessage) to two, via a type
// switch, since trait-object dispatch needs a request shape and a response
// shape rather than one shared struct.
//
// Binary format for an Envelope:
//
//	┌───────────┬─────────────┬────────────┬─────────┐
//	│ Target(8) │ Selector(4) │ ArgsLen(4) │  Args   │
//	└───────────┴─────────────┴────────────┴─────────┘
//
// Binary format for a Response:
//
//	┌────────────┬─────────┬──────────────┬─────────┬──────────────┬─────────┐
//	│ResultLen(4)│ Result  │ ErrKindLen(2)│ ErrKind │ErrMsgLen(2)  │ ErrMsg  │
//	└────────────┴─────────┴──────────────┴─────────┴──────────────┴─────────┘
//
// Same rationale as the teacher's BinaryCodec: avoid JSON's field-name and
// string-escaping overhead for the envelope itself; Args/Result remain
// opaque byte blobs produced by whatever serializer the (out-of-scope) stub
// generator uses.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *envelope.Envelope:
		return encodeEnvelope(m), nil
	case *envelope.Response:
		return encodeResponse(m), nil
	default:
		return nil, errors.New("BinaryCodec: unsupported type for Encode")
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *envelope.Envelope:
		return decodeEnvelope(data, m)
	case *envelope.Response:
		return decodeResponse(data, m)
	default:
		return errors.New("BinaryCodec: unsupported type for Decode")
	}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func encodeEnvelope(m *envelope.Envelope) []byte {
	total := 8 + 4 + 4 + len(m.Args)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint64(buf[offset:offset+8], m.Target)
	offset += 8
	binary.BigEndian.PutUint32(buf[offset:offset+4], m.Selector)
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(m.Args)))
	offset += 4
	copy(buf[offset:], m.Args)

	return buf
}

func decodeEnvelope(data []byte, m *envelope.Envelope) error {
	if len(data) < 16 {
		return errors.New("BinaryCodec: envelope too short")
	}
	offset := 0
	m.Target = binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8
	m.Selector = binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	argsLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if len(data) < offset+int(argsLen) {
		return errors.New("BinaryCodec: truncated envelope args")
	}
	m.Args = append([]byte(nil), data[offset:offset+int(argsLen)]...)
	return nil
}

func encodeResponse(m *envelope.Response) []byte {
	total := 4 + len(m.Result) + 2 + len(m.ErrKind) + 2 + len(m.ErrMessage)
	buf := make([]byte, total)
	offset := 0

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(m.Result)))
	offset += 4
	copy(buf[offset:offset+len(m.Result)], m.Result)
	offset += len(m.Result)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(m.ErrKind)))
	offset += 2
	copy(buf[offset:offset+len(m.ErrKind)], m.ErrKind)
	offset += len(m.ErrKind)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(m.ErrMessage)))
	offset += 2
	copy(buf[offset:offset+len(m.ErrMessage)], m.ErrMessage)

	return buf
}

func decodeResponse(data []byte, m *envelope.Response) error {
	if len(data) < 4 {
		return errors.New("BinaryCodec: response too short")
	}
	offset := 0
	resultLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if len(data) < offset+int(resultLen)+2 {
		return errors.New("BinaryCodec: truncated response result")
	}
	m.Result = append([]byte(nil), data[offset:offset+int(resultLen)]...)
	offset += int(resultLen)

	errKindLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	if len(data) < offset+int(errKindLen)+2 {
		return errors.New("BinaryCodec: truncated response err kind")
	}
	m.ErrKind = string(data[offset : offset+int(errKindLen)])
	offset += int(errKindLen)

	errMsgLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	if len(data) < offset+int(errMsgLen) {
		return errors.New("BinaryCodec: truncated response err message")
	}
	m.ErrMessage = string(data[offset : offset+int(errMsgLen)])

	return nil
}
