package cluster

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/metrics"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// Manager is the cluster context constructed once by the host application.
// It routes configuration records to plugins, fans the per frame hooks out
// to them and owns the packet network.
type Manager struct {
	c *config.Config
	a *arbiter.Arbiter
	m *metrics.Metrics

	elementMutex sync.Mutex
	elementMap   map[string]*config.Element // name -> record

	pluginMutex sync.RWMutex
	plugins     []Plugin

	clusterMutex  sync.Mutex
	clusterActive atomic.Bool
	isMaster      atomic.Bool
	network       atomic.Pointer[network.Network]
}

func NewManager(c *config.Config, reg prometheus.Registerer) (*Manager, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}

	mt := metrics.New(reg)

	m := &Manager{
		c: c,
		a: arbiter.NewArbiter(
			&arbiter.Options{
				QueueLength: c.GetEventChannelLength(),
				Metrics:     mt,
				LogPrefix:   c.LogPrefix,
				LogDebug:    c.LogDebug,
			},
		),
		m: mt,

		elementMutex: sync.Mutex{},
		elementMap:   make(map[string]*config.Element),

		pluginMutex: sync.RWMutex{},
		plugins:     nil,

		clusterMutex:  sync.Mutex{},
		clusterActive: atomic.Bool{},
		isMaster:      atomic.Bool{},
		network:       atomic.Pointer[network.Network]{},
	}

	return m, nil
}

// Shutdown closes every plugin, the packet network and the arbiter.
func (m *Manager) Shutdown() {
	func() {
		m.pluginMutex.RLock()
		defer m.pluginMutex.RUnlock()

		for _, plugin := range m.plugins {
			if closer, ok := plugin.(Closer); ok {
				closer.Close()
			}
		}
	}()

	m.stopNetwork()

	if m.a != nil {
		m.a.Shutdown() // wait
	}
}

func (m *Manager) Config() *config.Config {
	return m.c
}

func (m *Manager) Arbiter() *arbiter.Arbiter {
	return m.a
}

func (m *Manager) Metrics() *metrics.Metrics {
	return m.m
}

func (m *Manager) Network() *network.Network {
	return m.network.Load()
}

// Peers returns the live packet network connections: every slave on the
// master, the master on a slave.
func (m *Manager) Peers() []*network.Node {
	n := m.network.Load()
	if n == nil {
		return nil
	}

	if server := n.Server(); server != nil {
		return server.Nodes()
	}

	client := n.Client()
	if client == nil {
		return nil
	}

	node, err := client.Node()
	if err != nil {
		return nil
	}
	return []*network.Node{node}
}

func (m *Manager) IsClusterActive() bool {
	return m.clusterActive.Load()
}

// IsMaster reports the cluster role decided by the cluster_manager record.
func (m *Manager) IsMaster() bool {
	return m.isMaster.Load()
}

func (m *Manager) Element(name string) (*config.Element, bool) {
	m.elementMutex.Lock()
	defer m.elementMutex.Unlock()

	e, found := m.elementMap[name]
	return e, found
}

func (m *Manager) recordElement(e *config.Element) {
	m.elementMutex.Lock()
	defer m.elementMutex.Unlock()

	m.elementMap[e.Name] = e
}

func (m *Manager) forgetElement(e *config.Element) {
	m.elementMutex.Lock()
	defer m.elementMutex.Unlock()

	delete(m.elementMap, e.Name)
}

func (m *Manager) AddPlugin(plugin Plugin) error {
	m.pluginMutex.Lock()
	defer m.pluginMutex.Unlock()

	for _, existing := range m.plugins {
		if existing.GUID() == plugin.GUID() {
			err := fmt.Errorf("%s: plugin %s already registered with guid=%s", m.c.LogPrefix, existing.Name(), plugin.GUID())
			log.Printf("%s", err.Error())
			return err
		}
	}
	m.plugins = append(m.plugins, plugin)

	log.Printf("%s: added plugin %s guid=%s", m.c.LogPrefix, plugin.Name(), plugin.GUID())
	return nil
}

func (m *Manager) RemovePlugin(plugin Plugin) bool {
	m.pluginMutex.Lock()
	defer m.pluginMutex.Unlock()

	for i, existing := range m.plugins {
		if existing == plugin {
			m.plugins = append(m.plugins[:i], m.plugins[i+1:]...)
			log.Printf("%s: removed plugin %s", m.c.LogPrefix, plugin.Name())
			return true
		}
	}
	return false
}

func (m *Manager) HasPlugin(plugin Plugin) bool {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, existing := range m.plugins {
		if existing == plugin {
			return true
		}
	}
	return false
}

// Plugins returns a snapshot of the registered plugins.
func (m *Manager) Plugins() []Plugin {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	plugins := make([]Plugin, len(m.plugins))
	copy(plugins, m.plugins)
	return plugins
}

// IsClusterReady reports whether every registered plugin is active.
func (m *Manager) IsClusterReady() bool {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		if !plugin.IsActive() {
			return false
		}
	}
	return true
}

// ConfigCanHandle reports whether the manager itself or a plugin claims e.
func (m *Manager) ConfigCanHandle(e *config.Element) bool {
	switch e.Type {
	case config.ElementTypeClusterManager, config.ElementTypeMachineSpecific:
		return true
	}
	return m.claimer(e) != nil
}

// caller must hold pluginMutex
func (m *Manager) claimerLocked(e *config.Element) Plugin {
	var claimed Plugin
	for _, plugin := range m.plugins {
		if !plugin.ConfigCanHandle(e) {
			continue
		}
		if claimed != nil {
			log.Printf("%s: element %s<%s> also claimed by %s, routed to %s", m.c.LogPrefix, e.Name, e.Type, plugin.Name(), claimed.Name())
			continue
		}
		claimed = plugin
	}
	return claimed
}

func (m *Manager) claimer(e *config.Element) Plugin {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	return m.claimerLocked(e)
}

// ConfigAdd records e and routes it to whichever plugin claims it. Records
// nobody claims stay stored for lookup by name but are otherwise inert.
func (m *Manager) ConfigAdd(e *config.Element) bool {
	if e == nil || e.Name == "" {
		log.Printf("%s: refusing element without name: %+v", m.c.LogPrefix, e)
		return false
	}

	m.recordElement(e)

	switch e.Type {
	case config.ElementTypeClusterManager:
		return m.configAddCluster(e)
	case config.ElementTypeMachineSpecific:
		return true
	}

	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	plugin := m.claimerLocked(e)
	if plugin == nil {
		log.Printf("%s: no plugin handles element %s<%s>, element is inert", m.c.LogPrefix, e.Name, e.Type)
		return false
	}

	ok := plugin.ConfigAdd(e)
	log.Printf("%s: element %s<%s> added to %s, ok=%t", m.c.LogPrefix, e.Name, e.Type, plugin.Name(), ok)
	return ok
}

func (m *Manager) ConfigRemove(e *config.Element) bool {
	if e == nil {
		return false
	}
	defer m.forgetElement(e)

	switch e.Type {
	case config.ElementTypeClusterManager:
		return m.configRemoveCluster(e)
	case config.ElementTypeMachineSpecific:
		return true
	}

	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	plugin := m.claimerLocked(e)
	if plugin == nil {
		return false
	}

	ok := plugin.ConfigRemove(e)
	log.Printf("%s: element %s<%s> removed from %s, ok=%t", m.c.LogPrefix, e.Name, e.Type, plugin.Name(), ok)
	return ok
}

// ConfigureAll adds elements, retrying the ones that fail while others
// still make progress, so records may arrive in any order. It returns the
// elements that could not be added.
func (m *Manager) ConfigureAll(elements []*config.Element) []*config.Element {
	for _, e := range elements {
		if e != nil && e.Name != "" {
			m.recordElement(e)
		}
	}

	pending := elements
	for len(pending) > 0 {
		var failed []*config.Element
		for _, e := range pending {
			if !m.ConfigAdd(e) {
				failed = append(failed, e)
			}
		}

		if len(failed) == len(pending) {
			return failed
		}
		pending = failed
	}
	return nil
}

func (m *Manager) configAddCluster(e *config.Element) bool {
	m.clusterMutex.Lock()
	defer m.clusterMutex.Unlock()

	if m.clusterActive.Load() {
		log.Printf("%s: cluster already configured, ignoring %s", m.c.LogPrefix, e.Name)
		return false
	}

	masterName, err := e.GetString(config.PropertyMaster)
	if err != nil {
		log.Printf("%s: %s", m.c.LogPrefix, err.Error())
		return false
	}

	machine, found := m.Element(masterName)
	if !found {
		log.Printf("%s: %s: master element %s not configured", m.c.LogPrefix, e.Name, masterName)
		return false
	}

	masterHost, err := machine.GetString(config.PropertyHostName)
	if err != nil {
		log.Printf("%s: %s", m.c.LogPrefix, err.Error())
		return false
	}

	isMaster, err := network.IsLocalHost(m.c, masterHost)
	if err != nil {
		return false
	}

	// node events may arrive as soon as the network starts
	m.isMaster.Store(isMaster)

	if e.Has(config.PropertyListenPort) {
		port, err := e.GetPort(config.PropertyListenPort)
		if err != nil {
			log.Printf("%s: %s", m.c.LogPrefix, err.Error())
			m.isMaster.Store(false)
			return false
		}

		n, err := network.NewNetwork(
			m.c,
			m.a,
			m,
			&network.NetworkOptions{
				Master:     isMaster,
				MasterHost: masterHost,
				ListenPort: port,
			},
		)
		if err != nil {
			log.Printf("%s: failed to start packet network, err=%s", m.c.LogPrefix, err.Error())
			m.isMaster.Store(false)
			return false
		}
		m.network.Store(n)
	}

	m.clusterActive.Store(true)

	log.Printf("%s: cluster active, master=%s, isMaster=%t", m.c.LogPrefix, masterHost, isMaster)
	return true
}

func (m *Manager) configRemoveCluster(e *config.Element) bool {
	m.clusterMutex.Lock()
	defer m.clusterMutex.Unlock()

	if !m.clusterActive.Load() {
		return false
	}

	m.stopNetwork()
	m.clusterActive.Store(false)
	m.isMaster.Store(false)

	log.Printf("%s: cluster deactivated by %s", m.c.LogPrefix, e.Name)
	return true
}

func (m *Manager) stopNetwork() {
	n := m.network.Swap(nil)
	if n != nil {
		n.Shutdown() // wait
	}
}

// invoked on render goroutine
func (m *Manager) PreDraw() {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		plugin.PreDraw()
	}
}

// invoked on render goroutine
func (m *Manager) PostPostFrame() {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		plugin.PostPostFrame()
	}
}

// CreateBarrier runs every barrier plugin and reports whether all of them
// took part in the round. It always returns within the configured timeouts.
// invoked on render goroutine
func (m *Manager) CreateBarrier() bool {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	ok := true
	for _, plugin := range m.plugins {
		barrier, isBarrier := plugin.(Barrier)
		if !isBarrier {
			continue
		}
		if !barrier.CreateBarrier() {
			ok = false
		}
	}
	return ok
}

// invoked on arbiter goroutine
func (m *Manager) NodeConnected(node *network.Node) {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		if observer, ok := plugin.(NodeObserver); ok {
			observer.NodeConnected(node)
		}
	}
}

// invoked on arbiter goroutine
func (m *Manager) NodeDisconnected(node *network.Node) {
	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		if observer, ok := plugin.(NodeObserver); ok {
			observer.NodeDisconnected(node)
		}
	}
}

// HandlePacket routes p to the plugin addressed by its plugin GUID.
// invoked on arbiter goroutine
func (m *Manager) HandlePacket(p packet.Packet, node *network.Node) {
	var pluginGUID packet.GUID
	switch v := p.(type) {
	case *packet.ApplicationDataRequest:
		pluginGUID = v.PluginGUID
	case *packet.DataPacket:
		pluginGUID = v.PluginGUID
	default:
		log.Printf("%s: %s: unexpected %s on packet network", m.c.LogPrefix, node.Descriptor(), p.String())
		return
	}

	m.pluginMutex.RLock()
	defer m.pluginMutex.RUnlock()

	for _, plugin := range m.plugins {
		if plugin.GUID() == pluginGUID {
			plugin.HandlePacket(p, node)
			return
		}
	}

	log.Printf("%s: %s: no plugin with guid=%s for %s", m.c.LogPrefix, node.Descriptor(), pluginGUID, p.Header().SubType)
}
