package network

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

// Client is the slave side packet protocol, holding at most one live
// connection to the master. The transport redials after a failure.
type Client struct {
	options    *ProtocolOptions
	inShutdown atomic.Bool

	// if increment overflow will wrap to zero
	connIDGen atomic.Uint32

	mutex  sync.Mutex
	connID uint32
	node   *Node // current active connection, if any
}

func NewClient(options *ProtocolOptions) (*Client, error) {
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

	p := &Client{
		options:    options,
		inShutdown: atomic.Bool{},

		connIDGen: atomic.Uint32{},

		mutex:  sync.Mutex{},
		connID: 0,
		node:   nil,
	}

	return p, nil
}

func (p *Client) Options() *ProtocolOptions {
	return p.options
}

func (p *Client) Close() {
	log.Printf("%s: <%s>: protocol closing", p.options.LogPrefix, p.options.Address)
	p.inShutdown.Store(true)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.node == nil {
		log.Printf("%s: <%s>: no active connection", p.options.LogPrefix, p.options.Address)
		return
	}
	p.node.Close()

	log.Printf("%s: <%s>: protocol closed", p.options.LogPrefix, p.options.Address)
}

func (p *Client) ReadLoop(conn net.Conn) {
	connID := p.connIDGen.Add(1)
	node := newProtocolNode(p.options, conn)
	network := conn.RemoteAddr().Network()

	log.Printf("%s: [%d]%s: new %s connection", p.options.LogPrefix, connID, node.Descriptor(), network)

	defer func() {
		func() {
			p.mutex.Lock()
			defer p.mutex.Unlock()

			if p.node == nil {
				log.Printf("%s: [%d]%s: no connection cached, state corrupt", p.options.LogPrefix, connID, node.Descriptor())
				return
			}

			if connID != p.connID {
				log.Printf("%s: [%d]%s: connID mismatch stack<%d>:cached<%d>, state corrupt", p.options.LogPrefix, connID, node.Descriptor(), connID, p.connID)
				return
			}

			p.connID = 0
			p.node = nil
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

		if p.node != nil {
			log.Printf("%s: [%d]%s: overriding stale connection %s", p.options.LogPrefix, connID, node.Descriptor(), p.node.Descriptor())
		}
		p.connID = connID
		p.node = node
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
func (p *Client) Node() (*Node, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.node == nil || !p.node.IsConnected() {
		err := fmt.Errorf("%s: <%s>: no active connection: %w", p.options.LogPrefix, p.options.Address, ErrDisconnected)
		return nil, err
	}

	return p.node, nil
}
