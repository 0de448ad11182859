package packet

import (
	"bytes"
	"fmt"
)

// Packet is the closed set of wire variants: *SyncRequest, *SyncAck,
// *ApplicationDataRequest and *DataPacket. Callers type switch on the
// value returned from Decode.
type Packet interface {
	Header() *Header
	String() string

	payloadLen() int
	writePayload(w *writer)
	readPayload(r *reader) error
}

func newHeader(subType SubType, payloadLen int) Header {
	return Header{
		Type:     TypeRIMPacket,
		SubType:  subType,
		Length:   uint32(HeaderSize + payloadLen),
		Reserved: 0, // field not currently used
	}
}

// Serialize writes p as header followed by payload. The payload is built
// first and the header length is back-filled once its size is known, then
// stored on p so that Header().Length always matches the bytes produced.
func Serialize(p Packet) ([]byte, error) {
	buffer := new(bytes.Buffer)
	buffer.Grow(HeaderSize + p.payloadLen())

	// placeholder for header
	var placeholder [HeaderSize]byte
	buffer.Write(placeholder[:])

	w := &writer{buf: buffer}
	p.writePayload(w)
	if w.err != nil {
		return nil, fmt.Errorf("serialize %s: %w", p.Header().SubType, w.err)
	}

	buf := buffer.Bytes()
	// do not access buffer beyond this point

	bufLen := len(buf)
	if uint64(bufLen) > uint64(MaxPacketLen) {
		return nil, fmt.Errorf("serialize %s: %w: %d bytes", p.Header().SubType, ErrTooLarge, bufLen)
	}

	h := p.Header()
	h.Length = uint32(bufLen)
	h.put(buf[0:HeaderSize])

	return buf, nil
}
