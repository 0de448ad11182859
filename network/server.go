package network

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

// Server is the master side packet protocol. Every accepted connection
// becomes a Node owned by the server until its read loop exits.
type Server struct {
	options    *ProtocolOptions
	inShutdown atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32

	mutex   sync.Mutex
	nodeMap map[uint32]*Node // connID -> node
}

func NewServer(options *ProtocolOptions) (*Server, error) {
	if options.Arbiter == nil {
		err := fmt.Errorf("%s: nil Arbiter", options.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	if options.Handler == nil {
		err := fmt.Errorf("%s: nil Handler", options.LogPrefix)
		log.Printf("%s", err.Error())
		return nil, err
	}

	p := &Server{
		options:    options,
		inShutdown: atomic.Bool{},

		connIDGen: atomic.Uint32{},

		mutex:   sync.Mutex{},
		nodeMap: make(map[uint32]*Node),
	}

	return p, nil
}

func (p *Server) Options() *ProtocolOptions {
	return p.options
}

func (p *Server) Close() {
	log.Printf("%s: protocol closing", p.options.LogPrefix)
	p.inShutdown.Store(true)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, node := range p.nodeMap {
		node.Close()
	}

	log.Printf("%s: protocol closed", p.options.LogPrefix)
}

func (p *Server) ReadLoop(conn net.Conn) {
	connID := p.connIDGen.Add(1)
	node := newProtocolNode(p.options, conn)
	network := conn.RemoteAddr().Network()

	log.Printf("%s: [%d]%s: new %s connection", p.options.LogPrefix, connID, node.Descriptor(), network)

	defer func() {
		func() {
			p.mutex.Lock()
			defer p.mutex.Unlock()

			_, found := p.nodeMap[connID]
			if !found {
				log.Printf("%s: [%d]%s: connID not found in node map", p.options.LogPrefix, connID, node.Descriptor())
				return
			}
			delete(p.nodeMap, connID)
		}()

		node.Close()
		p.options.Arbiter.Dispatch(
			func() {
				// invoked on arbiter goroutine
				p.options.NodeDisconnected(node)
			},
		)

		log.Printf("%s: [%d]%s: %s connection closed, selfInShutdown=%t", p.options.LogPrefix, connID, node.Descriptor(), network, p.inShutdown.Load())
	}()

	func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		p.nodeMap[connID] = node
	}()

	err := p.options.Arbiter.Dispatch(
		func() {
			// invoked on arbiter goroutine
			p.options.NodeConnected(node)
		},
	)
	if err != nil {
		return
	}

	readPackets(p.options, node)
}

// invoked on any goroutine
func (p *Server) Nodes() []*Node {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	nodes := make([]*Node, 0, len(p.nodeMap))
	for _, node := range p.nodeMap {
		nodes = append(nodes, node)
	}
	return nodes
}
