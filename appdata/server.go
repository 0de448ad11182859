package appdata

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/Meander-Cloud/go-cluster/metrics"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// Server publishes one ApplicationData object to the slaves that asked for it.
type Server struct {
	logPrefix string
	m         *metrics.Metrics

	guid       packet.GUID
	pluginGUID packet.GUID
	data       ApplicationData

	// only touched on render goroutine
	dataPacket *packet.DataPacket

	mutex   sync.Mutex
	clients []*network.Node
}

func NewServer(guid packet.GUID, data ApplicationData, pluginGUID packet.GUID, m *metrics.Metrics, logPrefix string) *Server {
	return &Server{
		logPrefix: logPrefix,
		m:         m,

		guid:       guid,
		pluginGUID: pluginGUID,
		data:       data,

		dataPacket: packet.NewDataPacket(pluginGUID, guid, nil),

		mutex:   sync.Mutex{},
		clients: nil,
	}
}

func (s *Server) GUID() packet.GUID {
	return s.guid
}

// DataPacket returns the packet the next Send delivers.
func (s *Server) DataPacket() *packet.DataPacket {
	return s.dataPacket
}

// UpdateLocalData serializes the object into the outgoing packet.
// invoked on render goroutine
func (s *Server) UpdateLocalData() error {
	data, err := s.data.MarshalBinary()
	if err != nil {
		err = fmt.Errorf("%s: object %s: failed to serialize, err=%w", s.logPrefix, s.guid, err)
		log.Printf("%s", err.Error())
		return err
	}

	s.dataPacket.SetData(data)
	return nil
}

// AddClient subscribes node, ignoring duplicates.
func (s *Server) AddClient(node *network.Node) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, client := range s.clients {
		if client == node {
			return false
		}
	}
	s.clients = append(s.clients, node)

	log.Printf("%s: object %s: added client %s, clients=%d", s.logPrefix, s.guid, node.Descriptor(), len(s.clients))
	return true
}

// Clients returns a snapshot of the subscribers.
func (s *Server) Clients() []*network.Node {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	clients := make([]*network.Node, len(s.clients))
	copy(clients, s.clients)
	return clients
}

// caller must hold mutex
func (s *Server) prune() {
	live := s.clients[:0]
	for _, client := range s.clients {
		if client.IsConnected() {
			live = append(live, client)
			continue
		}
		log.Printf("%s: object %s: removed client %s", s.logPrefix, s.guid, client.Descriptor())
	}
	for i := len(live); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = live
}

// Send delivers the current packet to every subscriber. A failing subscriber
// is marked disconnected and dropped on the next call, the rest still
// receive the packet. It returns the number of deliveries.
// invoked on render goroutine
func (s *Server) Send() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.prune()

	object := s.guid.String()
	sent := 0
	for _, client := range s.clients {
		err := client.Send(s.dataPacket)
		if err != nil {
			client.SetState(network.NodeStateDisconnected)
			s.m.ReplicationFailures.WithLabelValues(object).Inc()

			log.Printf("%s: object %s: lost connection to %s:%d, err=%s", s.logPrefix, s.guid, client.Hostname(), client.Port(), err.Error())
			log.Printf("%s", s.dump())
			continue
		}

		sent++
		s.m.ReplicationSends.WithLabelValues(object).Inc()
		s.m.ReplicationBytes.WithLabelValues(object).Add(float64(len(s.dataPacket.Data)))
	}
	return sent
}

func (s *Server) String() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.dump()
}

// caller must hold mutex
func (s *Server) dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: object %s, plugin %s, clients=%d", s.logPrefix, s.guid, s.pluginGUID, len(s.clients))
	for _, client := range s.clients {
		fmt.Fprintf(&b, "\n  %s", client.String())
	}
	return b.String()
}
