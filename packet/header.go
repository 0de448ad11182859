package packet

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed wire size of Header: four big endian uint32 fields.
const HeaderSize = 16

// MaxPacketLen bounds the length field accepted from the wire.
const MaxPacketLen uint32 = 16 * 1024 * 1024 // 16 MB

type PacketType uint32

const (
	TypeInvalid   PacketType = 0
	TypeRIMPacket PacketType = 1
)

func (t PacketType) String() string {
	switch t {
	case TypeInvalid:
		return "Invalid Type"
	case TypeRIMPacket:
		return "RIM Packet"
	default:
		return "Unknown Type"
	}
}

type SubType uint32

const (
	SubTypeInvalid                SubType = 0
	SubTypeSyncRequest            SubType = 1
	SubTypeSyncAck                SubType = 2
	SubTypeApplicationDataRequest SubType = 3
	SubTypeDataPacket             SubType = 4
)

func (s SubType) String() string {
	switch s {
	case SubTypeInvalid:
		return "Invalid SubType"
	case SubTypeSyncRequest:
		return "Sync Request"
	case SubTypeSyncAck:
		return "Sync Ack"
	case SubTypeApplicationDataRequest:
		return "Application Data Request"
	case SubTypeDataPacket:
		return "Data Packet"
	default:
		return "Unknown SubType"
	}
}

// Header prefixes every packet on the wire.
// Length counts header and payload bytes.
type Header struct {
	Type     PacketType
	SubType  SubType
	Length   uint32
	Reserved uint32
}

func (h *Header) PayloadLen() uint32 {
	if h.Length < HeaderSize {
		return 0
	}
	return h.Length - HeaderSize
}

func (h *Header) String() string {
	return fmt.Sprintf("type=%s subType=%s length=%d", h.Type, h.SubType, h.Length)
}

// put writes h into buf, which must hold at least HeaderSize bytes.
func (h *Header) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.SubType))
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	binary.BigEndian.PutUint32(buf[12:16], h.Reserved)
}

// ParseHeader decodes and sanity checks the fixed header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformed, HeaderSize, len(buf))
	}

	h := Header{
		Type:     PacketType(binary.BigEndian.Uint32(buf[0:4])),
		SubType:  SubType(binary.BigEndian.Uint32(buf[4:8])),
		Length:   binary.BigEndian.Uint32(buf[8:12]),
		Reserved: binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Length < HeaderSize {
		return h, fmt.Errorf("%w: length=%d shorter than header", ErrMalformed, h.Length)
	}
	if h.Length > MaxPacketLen {
		return h, fmt.Errorf("%w: length=%d exceeds %d", ErrTooLarge, h.Length, MaxPacketLen)
	}

	return h, nil
}
