package packet

import "fmt"

// ApplicationDataRequest subscribes the sender to one replicated object.
type ApplicationDataRequest struct {
	header     Header
	PluginGUID GUID
	ObjectGUID GUID
}

func NewApplicationDataRequest(pluginGUID GUID, objectGUID GUID) *ApplicationDataRequest {
	p := &ApplicationDataRequest{
		PluginGUID: pluginGUID,
		ObjectGUID: objectGUID,
	}
	p.header = newHeader(SubTypeApplicationDataRequest, p.payloadLen())
	return p
}

func (p *ApplicationDataRequest) Header() *Header {
	return &p.header
}

func (p *ApplicationDataRequest) String() string {
	return fmt.Sprintf("ApplicationDataRequest{%s, plugin=%s, object=%s}", p.header.String(), p.PluginGUID, p.ObjectGUID)
}

func (p *ApplicationDataRequest) payloadLen() int {
	return GUIDSize + GUIDSize
}

func (p *ApplicationDataRequest) writePayload(w *writer) {
	w.guid(p.PluginGUID)
	w.guid(p.ObjectGUID)
}

func (p *ApplicationDataRequest) readPayload(r *reader) error {
	p.PluginGUID = r.guid()
	p.ObjectGUID = r.guid()
	return r.done()
}

// DataPacket carries the serialized bytes of one replicated object.
// The core never interprets Data.
type DataPacket struct {
	header     Header
	PluginGUID GUID
	ObjectGUID GUID
	Data       []byte
}

func NewDataPacket(pluginGUID GUID, objectGUID GUID, data []byte) *DataPacket {
	p := &DataPacket{
		PluginGUID: pluginGUID,
		ObjectGUID: objectGUID,
		Data:       data,
	}
	p.header = newHeader(SubTypeDataPacket, p.payloadLen())
	return p
}

// SetData replaces the payload and recomputes the header length.
func (p *DataPacket) SetData(data []byte) {
	p.Data = data
	p.header.Length = uint32(HeaderSize + p.payloadLen())
}

func (p *DataPacket) Header() *Header {
	return &p.header
}

func (p *DataPacket) String() string {
	return fmt.Sprintf("DataPacket{%s, plugin=%s, object=%s, data=%d bytes}", p.header.String(), p.PluginGUID, p.ObjectGUID, len(p.Data))
}

func (p *DataPacket) payloadLen() int {
	return GUIDSize + GUIDSize + len(p.Data)
}

func (p *DataPacket) writePayload(w *writer) {
	w.guid(p.PluginGUID)
	w.guid(p.ObjectGUID)
	w.bytes(p.Data)
}

func (p *DataPacket) readPayload(r *reader) error {
	p.PluginGUID = r.guid()
	p.ObjectGUID = r.guid()
	p.Data = r.rest()
	return r.done()
}
