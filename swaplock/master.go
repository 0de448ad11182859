package swaplock

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// caller must hold mutex
func (p *Plugin) startListening() error {
	address := net.JoinHostPort("", strconv.Itoa(int(p.port)))
	l, err := net.Listen("tcp", address)
	if err != nil {
		err = fmt.Errorf("%s: failed to listen on %s, err=%w", p.logPrefix, address, err)
		log.Printf("%s", err.Error())
		return err
	}

	p.inShutdown.Store(false)
	p.listener = l
	p.admitch = make(chan *network.Node, admitQueueLength)

	p.acceptwg.Add(1)
	go p.acceptLoop(l, p.admitch)

	log.Printf("%s: listening on %s", p.logPrefix, l.Addr().String())
	p.setState(StateMasterListening)
	return nil
}

// invoked on accept goroutine, terminated by closing l
func (p *Plugin) acceptLoop(l net.Listener, admitch chan<- *network.Node) {
	defer p.acceptwg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				log.Printf("%s: accept loop exiting, inShutdown=%t", p.logPrefix, p.inShutdown.Load())
				return
			}

			log.Printf("%s: accept failed, err=%s", p.logPrefix, err.Error())
			time.Sleep(acceptRetryDelay)
			continue
		}

		p.admit(conn, admitch)
	}
}

// admit performs the SyncRequest/SyncAck handshake and queues the node for
// the next barrier round. The accept goroutine is the only writer of admitch.
// invoked on accept goroutine
func (p *Plugin) admit(conn net.Conn, admitch chan<- *network.Node) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	node := network.NewNode(
		&network.NodeOptions{
			Name:         "SyncClient",
			Hostname:     "",
			Port:         0,
			Conn:         conn,
			WriteTimeout: p.c.GetBarrierWriteTimeout(),
			LogPrefix:    p.logPrefix,
			LogDebug:     p.c.LogDebug,
		},
	)

	pkt, err := node.RecvPacket(p.c.GetHandshakeTimeout())
	if err != nil {
		node.Close()
		return
	}

	request, ok := pkt.(*packet.SyncRequest)
	if !ok {
		log.Printf("%s: %s: first packet is not a SyncRequest but %s, dropping connection", p.logPrefix, node.Descriptor(), pkt.Header().SubType)
		node.Close()
		return
	}
	node.SetIdentity("SyncClient", request.Hostname, request.Port)

	ack := false
	if !p.inShutdown.Load() {
		select {
		case admitch <- node:
			ack = true
		default:
			log.Printf("%s: %s: admit queue full", p.logPrefix, node.Descriptor())
		}
	}

	err = node.Send(packet.NewSyncAck(p.localHost, p.port, ack))
	if !ack {
		log.Printf("%s: %s: refused, inShutdown=%t", p.logPrefix, node.Descriptor(), p.inShutdown.Load())
		node.Close()
		return
	}
	if err != nil {
		// already queued, the barrier evicts it on first use
		return
	}

	log.Printf("%s: %s: admitted", p.logPrefix, node.Descriptor())
}

// caller must hold mutex
func (p *Plugin) adopt() {
	for {
		select {
		case node := <-p.admitch:
			p.clients = append(p.clients, &client{node: node})
			log.Printf("%s: %s: joined barrier, clients=%d", p.logPrefix, node.Descriptor(), len(p.clients))
		default:
			return
		}
	}
}

// caller must hold mutex
func (p *Plugin) evict(cl *client, reason string) {
	if cl.evicted {
		return
	}
	cl.evicted = true
	cl.node.Close()
	p.m.BarrierEvictions.Inc()

	log.Printf("%s: %s: removed from barrier, reason=%s", p.logPrefix, cl.node.Descriptor(), reason)
}

// caller must hold mutex
func (p *Plugin) masterBarrier() {
	if p.admitch == nil {
		return
	}

	p.adopt()

	if len(p.clients) == 0 {
		p.setState(StateMasterListening)
		return
	}
	p.setState(StateMasterActive)

	p.masterReceive()
	p.masterSend()

	live := p.clients[:0]
	for _, cl := range p.clients {
		if !cl.evicted {
			live = append(live, cl)
		}
	}
	for i := len(live); i < len(p.clients); i++ {
		p.clients[i] = nil
	}
	p.clients = live
	p.m.BarrierClients.Set(float64(len(p.clients)))

	if len(p.clients) == 0 {
		p.setState(StateMasterListening)
	}
}

// caller must hold mutex
func (p *Plugin) masterReceive() {
	readTimeout := p.c.GetBarrierReadTimeout()
	maxSlips := p.c.GetBarrierMaxSlips()

	for _, cl := range p.clients {
		_, err := cl.node.ReadSignal(readTimeout)
		if err == nil {
			cl.slips = 0
			continue
		}

		if errors.Is(err, network.ErrTimeout) {
			cl.slips++
			p.m.BarrierSlips.WithLabelValues("master").Inc()
			log.Printf("%s: %s: barrier slip %d/%d", p.logPrefix, cl.node.Descriptor(), cl.slips, maxSlips)

			if cl.slips >= maxSlips {
				p.evict(cl, "too many consecutive slips")
			}
			continue
		}

		p.evict(cl, err.Error())
	}
}

// caller must hold mutex
func (p *Plugin) masterSend() {
	writeTimeout := p.c.GetBarrierWriteTimeout()

	for _, cl := range p.clients {
		if cl.evicted {
			continue
		}

		drained, err := cl.node.Drain(drainWindow)
		if err != nil {
			p.evict(cl, err.Error())
			continue
		}
		if drained > 0 {
			log.Printf("%s: %s: buffer overrun, drained %d bytes", p.logPrefix, cl.node.Descriptor(), drained)
		}

		err = cl.node.WriteSignal(SyncSignal, writeTimeout)
		if err != nil {
			if errors.Is(err, network.ErrTimeout) {
				p.m.BarrierSlips.WithLabelValues("master").Inc()
				log.Printf("%s", err.Error())
				continue
			}
			p.evict(cl, err.Error())
		}
	}
}
