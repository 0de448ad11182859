package swaplock

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-cluster/cluster"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/metrics"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

const (
	Name = "SwapLockTCPPlugin"

	// SyncSignal is the byte exchanged on every barrier round
	SyncSignal byte = 0x53

	admitQueueLength int           = 64
	drainWindow      time.Duration = time.Microsecond * 200
	acceptRetryDelay time.Duration = time.Millisecond * 100
)

var PluginGUID = packet.MustParseGUID("5c5a1b7e-3f0d-4e8a-9a41-6b1f0c2d7e93")

type client struct {
	node    *network.Node
	slips   uint16
	evicted bool
}

// Plugin is a TCP swap lock barrier. The master waits for one signal byte
// from every slave before answering each of them; slaves signal and wait.
type Plugin struct {
	ctx       cluster.Context
	c         *config.Config
	m         *metrics.Metrics
	logPrefix string

	state      atomic.Uint32
	inShutdown atomic.Bool

	// guards everything below, held for a whole barrier round
	mutex sync.Mutex

	elementName string
	isMaster    bool
	masterHost  string
	localHost   string
	port        uint16

	// master
	listener net.Listener
	acceptwg sync.WaitGroup
	admitch  chan *network.Node
	clients  []*client

	// slave
	master *network.Node
}

func New(ctx cluster.Context) *Plugin {
	c := ctx.Config()
	p := &Plugin{
		ctx:       ctx,
		c:         c,
		m:         ctx.Metrics(),
		logPrefix: fmt.Sprintf("%s-SwapLock", c.LogPrefix),

		state:      atomic.Uint32{},
		inShutdown: atomic.Bool{},

		mutex: sync.Mutex{},

		acceptwg: sync.WaitGroup{},
	}
	p.state.Store(uint32(StateUnconfigured))
	return p
}

func (p *Plugin) GUID() packet.GUID {
	return PluginGUID
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) State() State {
	return State(p.state.Load())
}

func (p *Plugin) setState(state State) {
	old := State(p.state.Swap(uint32(state)))
	if old != state {
		log.Printf("%s: state %s -> %s", p.logPrefix, old, state)
	}
}

func (p *Plugin) IsActive() bool {
	return p.State().IsActive()
}

// IsMaster reports the role decided when the plugin was configured.
func (p *Plugin) IsMaster() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.isMaster
}

// Clients returns the number of slaves the master currently synchronizes
// with, including those admitted but not yet adopted by a barrier round.
func (p *Plugin) Clients() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	n := len(p.clients)
	if p.admitch != nil {
		n += len(p.admitch)
	}
	return n
}

func (p *Plugin) ConfigCanHandle(e *config.Element) bool {
	return e.Type == config.ElementTypeSwapLockTCPPlugin
}

func (p *Plugin) ConfigAdd(e *config.Element) bool {
	if !p.ctx.IsClusterActive() {
		log.Printf("%s: %s: cluster not active yet", p.logPrefix, e.Name)
		return false
	}

	serverName, err := e.GetString(config.PropertySyncServer)
	if err != nil {
		log.Printf("%s: %s", p.logPrefix, err.Error())
		return false
	}

	machine, found := p.ctx.Element(serverName)
	if !found {
		log.Printf("%s: %s: sync server element %s not configured", p.logPrefix, e.Name, serverName)
		return false
	}

	masterHost, err := machine.GetString(config.PropertyHostName)
	if err != nil {
		log.Printf("%s: %s", p.logPrefix, err.Error())
		return false
	}

	port, err := e.GetPort(config.PropertyListenPort)
	if err != nil {
		log.Printf("%s: %s", p.logPrefix, err.Error())
		return false
	}

	localHost, err := network.LocalHostname(p.c)
	if err != nil {
		return false
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.State() != StateUnconfigured {
		log.Printf("%s: %s: already configured by %s", p.logPrefix, e.Name, p.elementName)
		return false
	}

	p.elementName = e.Name
	p.isMaster = localHost == masterHost
	p.masterHost = masterHost
	p.localHost = localHost
	p.port = port

	log.Printf(
		"%s: %s: syncServer=%s, masterHost=%s, port=%d, isMaster=%t",
		p.logPrefix,
		e.Name,
		serverName,
		masterHost,
		port,
		p.isMaster,
	)

	if p.isMaster {
		err = p.startListening()
		if err != nil {
			// refuse activation and allow a later ConfigAdd to retry
			p.elementName = ""
			p.isMaster = false
			p.masterHost = ""
			p.localHost = ""
			p.port = 0
			p.setState(StateUnconfigured)
			return false
		}
		return true
	}

	// a failed attempt leaves the plugin inactive, the next barrier retries
	p.connectToMaster()
	return true
}

func (p *Plugin) ConfigRemove(e *config.Element) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.State() == StateUnconfigured {
		return false
	}

	log.Printf("%s: disabling swap lock %s", p.logPrefix, e.Name)
	p.shutdown()
	return true
}

// Close stops the accept goroutine and closes every barrier socket.
func (p *Plugin) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.shutdown()
}

// caller must hold mutex
func (p *Plugin) shutdown() {
	p.inShutdown.Store(true)

	if p.listener != nil {
		p.listener.Close()
		p.acceptwg.Wait()
		p.listener = nil
	}

	if p.admitch != nil {
		for len(p.admitch) > 0 {
			node := <-p.admitch
			node.Close()
		}
		p.admitch = nil
	}

	for _, cl := range p.clients {
		cl.node.Close()
	}
	p.clients = nil
	p.m.BarrierClients.Set(0)

	if p.master != nil {
		p.master.Close()
		p.master = nil
	}

	p.elementName = ""
	p.isMaster = false
	p.setState(StateUnconfigured)
}

func (p *Plugin) PreDraw() {
}

func (p *Plugin) PostPostFrame() {
}

// invoked on arbiter goroutine
func (p *Plugin) HandlePacket(pkt packet.Packet, node *network.Node) {
	log.Printf("%s: %s: ignoring %s", p.logPrefix, node.Descriptor(), pkt.String())
}

// CreateBarrier runs one barrier round. It returns false when the plugin
// could not take part, e.g. a slave without a connection to its master.
// Slips do not make a round fail.
// invoked on render goroutine
func (p *Plugin) CreateBarrier() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	state := p.State()
	if state == StateUnconfigured {
		return false
	}

	t0 := time.Now()
	defer func() {
		p.m.BarrierRounds.Inc()
		p.m.BarrierDuration.Observe(time.Since(t0).Seconds())
	}()

	if p.isMaster {
		p.masterBarrier()
		return p.IsActive()
	}

	return p.slaveBarrier()
}
