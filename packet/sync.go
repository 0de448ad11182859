package packet

import "fmt"

// SyncRequest is the first packet a swap lock slave sends after connecting.
type SyncRequest struct {
	header   Header
	Hostname string
	Port     uint16
}

func NewSyncRequest(hostname string, port uint16) *SyncRequest {
	p := &SyncRequest{
		Hostname: hostname,
		Port:     port,
	}
	p.header = newHeader(SubTypeSyncRequest, p.payloadLen())
	return p
}

func (p *SyncRequest) Header() *Header {
	return &p.header
}

func (p *SyncRequest) String() string {
	return fmt.Sprintf("SyncRequest{%s, hostname=%s, port=%d}", p.header.String(), p.Hostname, p.Port)
}

func (p *SyncRequest) payloadLen() int {
	return 2 + len(p.Hostname) + 2
}

func (p *SyncRequest) writePayload(w *writer) {
	w.string(p.Hostname)
	w.uint16(p.Port)
}

func (p *SyncRequest) readPayload(r *reader) error {
	p.Hostname = r.string()
	p.Port = r.uint16()
	return r.done()
}

// SyncAck answers a SyncRequest with the responder's identity.
type SyncAck struct {
	header   Header
	Hostname string
	Port     uint16
	Ack      bool
}

func NewSyncAck(hostname string, port uint16, ack bool) *SyncAck {
	p := &SyncAck{
		Hostname: hostname,
		Port:     port,
		Ack:      ack,
	}
	p.header = newHeader(SubTypeSyncAck, p.payloadLen())
	return p
}

func (p *SyncAck) Header() *Header {
	return &p.header
}

func (p *SyncAck) String() string {
	return fmt.Sprintf("SyncAck{%s, hostname=%s, port=%d, ack=%t}", p.header.String(), p.Hostname, p.Port, p.Ack)
}

func (p *SyncAck) payloadLen() int {
	return 2 + len(p.Hostname) + 2 + 1
}

func (p *SyncAck) writePayload(w *writer) {
	w.string(p.Hostname)
	w.uint16(p.Port)
	w.bool(p.Ack)
}

func (p *SyncAck) readPayload(r *reader) error {
	p.Hostname = r.string()
	p.Port = r.uint16()
	p.Ack = r.bool()
	return r.done()
}
