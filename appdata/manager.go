package appdata

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/cluster"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

const Name = "ApplicationDataManager"

var PluginGUID = packet.MustParseGUID("0b7d6c1e-92a4-4f35-8e0c-3d2f6a9b1c47")

// Manager replicates registered ApplicationData objects. On the master it
// serves them once per frame, on a slave it requests them from the master
// and applies what arrives before drawing.
type Manager struct {
	ctx       cluster.Context
	logPrefix string
	active    atomic.Bool

	mutex   sync.Mutex
	objects map[packet.GUID]ApplicationData
	servers map[packet.GUID]*Server
	staged  map[packet.GUID][]byte

	// only touched on arbiter goroutine
	masterNode *network.Node
	received   map[packet.GUID]bool
}

func NewManager(ctx cluster.Context) *Manager {
	return &Manager{
		ctx:       ctx,
		logPrefix: fmt.Sprintf("%s-AppData", ctx.Config().LogPrefix),
		active:    atomic.Bool{},

		mutex:   sync.Mutex{},
		objects: make(map[packet.GUID]ApplicationData),
		servers: make(map[packet.GUID]*Server),
		staged:  make(map[packet.GUID][]byte),

		masterNode: nil,
		received:   make(map[packet.GUID]bool),
	}
}

func (m *Manager) GUID() packet.GUID {
	return PluginGUID
}

func (m *Manager) Name() string {
	return Name
}

func (m *Manager) IsActive() bool {
	return m.active.Load()
}

// Register adds an object to replicate under guid, which must match across
// the cluster.
func (m *Manager) Register(guid packet.GUID, data ApplicationData) error {
	if data == nil {
		err := fmt.Errorf("%s: object %s: nil ApplicationData", m.logPrefix, guid)
		log.Printf("%s", err.Error())
		return err
	}

	err := func() error {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		_, found := m.objects[guid]
		if found {
			err := fmt.Errorf("%s: object %s already registered", m.logPrefix, guid)
			log.Printf("%s", err.Error())
			return err
		}

		m.objects[guid] = data
		m.servers[guid] = NewServer(guid, data, PluginGUID, m.ctx.Metrics(), m.logPrefix)
		return nil
	}()
	if err != nil {
		return err
	}

	log.Printf("%s: registered object %s", m.logPrefix, guid)

	m.ctx.Arbiter().Dispatch(
		func() {
			// invoked on arbiter goroutine
			m.requestMissing()
		},
	)
	return nil
}

// Server returns the server publishing guid.
func (m *Manager) Server(guid packet.GUID) (*Server, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s, found := m.servers[guid]
	return s, found
}

func (m *Manager) ConfigCanHandle(e *config.Element) bool {
	return e.Type == config.ElementTypeApplicationDataManager
}

func (m *Manager) ConfigAdd(e *config.Element) bool {
	m.active.Store(true)
	log.Printf("%s: enabled by %s", m.logPrefix, e.Name)
	return true
}

func (m *Manager) ConfigRemove(e *config.Element) bool {
	m.active.Store(false)
	log.Printf("%s: disabled by %s", m.logPrefix, e.Name)
	return true
}

// PreDraw applies the data received from the master since the last frame.
// invoked on render goroutine
func (m *Manager) PreDraw() {
	if !m.active.Load() || m.ctx.IsMaster() {
		return
	}

	var staged map[packet.GUID][]byte
	func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		if len(m.staged) == 0 {
			return
		}
		staged = m.staged
		m.staged = make(map[packet.GUID][]byte)
	}()

	for guid, data := range staged {
		object, found := m.object(guid)
		if !found {
			continue
		}

		err := object.UnmarshalBinary(data)
		if err != nil {
			log.Printf("%s: object %s: failed to apply %d bytes, err=%s", m.logPrefix, guid, len(data), err.Error())
		}
	}
}

// PostPostFrame publishes every object to its subscribers.
// invoked on render goroutine
func (m *Manager) PostPostFrame() {
	if !m.active.Load() || !m.ctx.IsMaster() {
		return
	}

	for _, s := range m.serverList() {
		err := s.UpdateLocalData()
		if err != nil {
			continue
		}
		s.Send()
	}
}

func (m *Manager) object(guid packet.GUID) (ApplicationData, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	object, found := m.objects[guid]
	return object, found
}

func (m *Manager) serverList() []*Server {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	servers := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	return servers
}

// invoked on arbiter goroutine
func (m *Manager) HandlePacket(p packet.Packet, node *network.Node) {
	if !m.active.Load() {
		log.Printf("%s: %s: inactive, dropping %s", m.logPrefix, node.Descriptor(), p.String())
		return
	}

	switch v := p.(type) {
	case *packet.ApplicationDataRequest:
		m.handleRequest(v, node)
	case *packet.DataPacket:
		m.handleData(v, node)
	default:
		log.Printf("%s: %s: unexpected %s", m.logPrefix, node.Descriptor(), p.String())
	}
}

// invoked on arbiter goroutine
func (m *Manager) handleRequest(request *packet.ApplicationDataRequest, node *network.Node) {
	if !m.ctx.IsMaster() {
		log.Printf("%s: %s: ignoring request for %s, not master", m.logPrefix, node.Descriptor(), request.ObjectGUID)
		return
	}

	s, found := m.Server(request.ObjectGUID)
	if !found {
		log.Printf("%s: %s: request for unknown object %s", m.logPrefix, node.Descriptor(), request.ObjectGUID)
		return
	}

	s.AddClient(node)
}

// invoked on arbiter goroutine
func (m *Manager) handleData(data *packet.DataPacket, node *network.Node) {
	if m.ctx.IsMaster() {
		log.Printf("%s: %s: ignoring data for %s, master owns it", m.logPrefix, node.Descriptor(), data.ObjectGUID)
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, found := m.objects[data.ObjectGUID]
	if !found {
		log.Printf("%s: %s: data for unknown object %s", m.logPrefix, node.Descriptor(), data.ObjectGUID)
		return
	}

	// a newer packet replaces one not yet applied
	m.staged[data.ObjectGUID] = data.Data
	m.received[data.ObjectGUID] = true
}

// invoked on arbiter goroutine
func (m *Manager) NodeConnected(node *network.Node) {
	if m.ctx.IsMaster() {
		return
	}

	m.masterNode = node
	clear(m.received)
	m.requestMissing()
}

// invoked on arbiter goroutine
func (m *Manager) NodeDisconnected(node *network.Node) {
	if node != m.masterNode {
		return
	}

	m.masterNode = nil
	m.ctx.Arbiter().ReleaseTimer(arbiter.GroupRequestRetry)
}

// requestMissing asks the master for every object without data yet and
// keeps asking until each one arrived.
// invoked on arbiter goroutine
func (m *Manager) requestMissing() {
	node := m.masterNode
	if node == nil || !node.IsConnected() {
		return
	}

	var missing []packet.GUID
	func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()

		for guid := range m.objects {
			if !m.received[guid] {
				missing = append(missing, guid)
			}
		}
	}()

	a := m.ctx.Arbiter()
	a.ReleaseTimer(arbiter.GroupRequestRetry)
	if len(missing) == 0 {
		return
	}

	for _, guid := range missing {
		err := node.Send(packet.NewApplicationDataRequest(PluginGUID, guid))
		if err != nil {
			return
		}
	}

	a.ScheduleTimer(
		arbiter.GroupRequestRetry,
		m.ctx.Config().GetRequestRetryWait(),
		func() {
			// invoked on arbiter goroutine
			m.requestMissing()
		},
	)
}
