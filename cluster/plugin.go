package cluster

import (
	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/metrics"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// Plugin is one capability driven by the Manager.
type Plugin interface {
	GUID() packet.GUID
	Name() string

	// configuration lifecycle, ConfigAdd and ConfigRemove require ConfigCanHandle
	ConfigCanHandle(*config.Element) bool
	ConfigAdd(*config.Element) bool
	ConfigRemove(*config.Element) bool

	// per frame hooks, invoked on render goroutine
	PreDraw()
	PostPostFrame()

	// invoked on arbiter goroutine
	HandlePacket(packet.Packet, *network.Node)

	IsActive() bool
}

// Barrier is implemented by plugins that gate the buffer swap.
type Barrier interface {
	// CreateBarrier blocks, bounded by the configured timeouts, until every
	// peer reached the barrier or slipped. invoked on render goroutine
	CreateBarrier() bool
}

// NodeObserver is implemented by plugins that track packet network peers.
// invoked on arbiter goroutine
type NodeObserver interface {
	NodeConnected(*network.Node)
	NodeDisconnected(*network.Node)
}

// Closer is implemented by plugins holding sockets or goroutines.
type Closer interface {
	Close()
}

// Context is what plugins may ask of the cluster they belong to.
type Context interface {
	Config() *config.Config
	Arbiter() *arbiter.Arbiter
	Metrics() *metrics.Metrics

	Element(name string) (*config.Element, bool)
	IsClusterActive() bool
	IsMaster() bool

	// nil when the cluster has no packet network
	Network() *network.Network
}
