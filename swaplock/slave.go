package swaplock

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// connectToMaster dials the sync server and runs the SyncRequest/SyncAck
// handshake, bounded by the handshake timeout.
// caller must hold mutex
func (p *Plugin) connectToMaster() error {
	if p.master != nil {
		p.master.Close()
		p.master = nil
	}
	p.setState(StateConnecting)

	address := net.JoinHostPort(p.masterHost, strconv.Itoa(int(p.port)))
	handshakeTimeout := p.c.GetHandshakeTimeout()

	conn, err := net.DialTimeout("tcp", address, handshakeTimeout)
	if err != nil {
		return p.connectFailed("dial", fmt.Errorf("%s: dial %s: %w: %w", p.logPrefix, address, network.ErrConnect, err))
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	node := network.NewNode(
		&network.NodeOptions{
			Name:         "SyncServer",
			Hostname:     p.masterHost,
			Port:         p.port,
			Conn:         conn,
			WriteTimeout: p.c.GetBarrierWriteTimeout(),
			LogPrefix:    p.logPrefix,
			LogDebug:     p.c.LogDebug,
		},
	)

	err = node.Send(packet.NewSyncRequest(p.localHost, 0))
	if err != nil {
		node.Close()
		return p.connectFailed("handshake", fmt.Errorf("%w: %w", network.ErrConnect, err))
	}

	pkt, err := node.RecvPacket(handshakeTimeout)
	if err != nil {
		node.Close()
		return p.connectFailed("handshake", fmt.Errorf("%w: %w", network.ErrConnect, err))
	}

	ack, ok := pkt.(*packet.SyncAck)
	if !ok {
		node.Close()
		return p.connectFailed("handshake", fmt.Errorf("%s: %s: expected SyncAck, got %s: %w", p.logPrefix, node.Descriptor(), pkt.Header().SubType, network.ErrConnect))
	}

	if !ack.Ack {
		node.Close()
		return p.connectFailed("refused", fmt.Errorf("%s: %s: sync server refused connection: %w", p.logPrefix, node.Descriptor(), network.ErrConnect))
	}

	node.SetIdentity("SyncServer", ack.Hostname, ack.Port)
	p.master = node
	p.m.ConnectAttempts.WithLabelValues("ok").Inc()

	log.Printf("%s: %s: connected to sync server", p.logPrefix, node.Descriptor())
	p.setState(StateSlaveActive)
	return nil
}

// caller must hold mutex
func (p *Plugin) connectFailed(result string, err error) error {
	p.m.ConnectAttempts.WithLabelValues(result).Inc()
	log.Printf("%s", err.Error())
	p.setState(StateDisconnected)
	return err
}

// caller must hold mutex
func (p *Plugin) dropMaster(err error) {
	log.Printf("%s: lost sync server, err=%s", p.logPrefix, err.Error())

	if p.master != nil {
		p.master.Close()
		p.master = nil
	}
	p.setState(StateDisconnected)
}

// caller must hold mutex
func (p *Plugin) slaveBarrier() bool {
	if p.master == nil || !p.IsActive() {
		err := p.connectToMaster()
		if err != nil {
			return false
		}
	}

	drained, err := p.master.Drain(drainWindow)
	if err != nil {
		p.dropMaster(err)
		return false
	}
	if drained > 0 {
		log.Printf("%s: %s: buffer overrun, drained %d bytes", p.logPrefix, p.master.Descriptor(), drained)
	}

	err = p.master.WriteSignal(SyncSignal, p.c.GetBarrierWriteTimeout())
	if err != nil {
		if !errors.Is(err, network.ErrTimeout) {
			p.dropMaster(err)
			return false
		}
		p.m.BarrierSlips.WithLabelValues("slave").Inc()
		log.Printf("%s", err.Error())
	}

	_, err = p.master.ReadSignal(p.c.GetBarrierReadTimeout())
	if err != nil {
		if !errors.Is(err, network.ErrTimeout) {
			p.dropMaster(err)
			return false
		}
		p.m.BarrierSlips.WithLabelValues("slave").Inc()
		log.Printf("%s: %s: barrier slip", p.logPrefix, p.master.Descriptor())
	}

	return true
}
