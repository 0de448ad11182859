package packet

import "fmt"

type Factory func() Packet

type registryKey struct {
	Type    PacketType
	SubType SubType
}

// registry is fixed at build time and covers every subtype
var registry = map[registryKey]Factory{
	{TypeRIMPacket, SubTypeSyncRequest}:            func() Packet { return &SyncRequest{} },
	{TypeRIMPacket, SubTypeSyncAck}:                func() Packet { return &SyncAck{} },
	{TypeRIMPacket, SubTypeApplicationDataRequest}: func() Packet { return &ApplicationDataRequest{} },
	{TypeRIMPacket, SubTypeDataPacket}:             func() Packet { return &DataPacket{} },
}

// SubTypes lists every subtype the registry can decode.
func SubTypes() []SubType {
	return []SubType{
		SubTypeSyncRequest,
		SubTypeSyncAck,
		SubTypeApplicationDataRequest,
		SubTypeDataPacket,
	}
}

func Lookup(packetType PacketType, subType SubType) (Factory, error) {
	if packetType != TypeRIMPacket {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(packetType))
	}
	f, found := registry[registryKey{packetType, subType}]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSubType, uint32(subType))
	}
	return f, nil
}

// Decode materializes the packet described by header from its payload bytes.
func Decode(header Header, payload []byte) (Packet, error) {
	if uint64(len(payload)) != uint64(header.PayloadLen()) || header.Length < HeaderSize {
		return nil, fmt.Errorf("%w: header length=%d, payload=%d bytes", ErrLengthMismatch, header.Length, len(payload))
	}

	f, err := Lookup(header.Type, header.SubType)
	if err != nil {
		return nil, err
	}

	p := f()
	err = p.readPayload(&reader{buf: payload})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", header.SubType, err)
	}
	*p.Header() = header

	return p, nil
}

// Parse decodes one complete serialized packet.
func Parse(buf []byte) (Packet, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) != uint64(h.Length) {
		return nil, fmt.Errorf("%w: header length=%d, buffer=%d bytes", ErrLengthMismatch, h.Length, len(buf))
	}
	return Decode(h, buf[HeaderSize:])
}
