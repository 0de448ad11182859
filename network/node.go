package network

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-cluster/packet"
)

const maxDrainLen int = 65536 // 64 KB

type NodeState uint8

const (
	NodeStateInvalid      NodeState = 0
	NodeStateConnected    NodeState = 1
	NodeStateDisconnected NodeState = 2
)

func (s NodeState) String() string {
	switch s {
	case NodeStateInvalid:
		return "Invalid State"
	case NodeStateConnected:
		return "Connected"
	case NodeStateDisconnected:
		return "Disconnected"
	default:
		return "Unknown State"
	}
}

type NodeOptions struct {
	Name     string
	Hostname string
	Port     uint16
	Conn     net.Conn

	// bounds every Send, zero means no deadline
	WriteTimeout time.Duration

	LogPrefix string
	LogDebug  bool
}

type NodeIdentity struct {
	Name     string
	Hostname string
	Port     uint16
}

// Node frames one TCP stream into packets. It owns the connection exclusively.
type Node struct {
	options *NodeOptions

	// callers can set pointers but must not modify pointed data, to allow concurrent immutable read
	identity atomic.Pointer[NodeIdentity]
	state    atomic.Uint32

	wmutex sync.Mutex // serializes writers
	rbuf   [packet.HeaderSize]byte
}

func NewNode(options *NodeOptions) *Node {
	n := &Node{
		options:  options,
		identity: atomic.Pointer[NodeIdentity]{},
		state:    atomic.Uint32{},
		wmutex:   sync.Mutex{},
	}
	n.identity.Store(
		&NodeIdentity{
			Name:     options.Name,
			Hostname: options.Hostname,
			Port:     options.Port,
		},
	)
	n.state.Store(uint32(NodeStateConnected))
	return n
}

func (n *Node) Name() string {
	return n.identity.Load().Name
}

func (n *Node) Hostname() string {
	return n.identity.Load().Hostname
}

func (n *Node) Port() uint16 {
	return n.identity.Load().Port
}

// SetIdentity records what the peer announced about itself.
func (n *Node) SetIdentity(name string, hostname string, port uint16) {
	n.identity.Store(
		&NodeIdentity{
			Name:     name,
			Hostname: hostname,
			Port:     port,
		},
	)
}

func (n *Node) Conn() net.Conn {
	return n.options.Conn
}

func (n *Node) Descriptor() string {
	id := n.identity.Load()
	return fmt.Sprintf("%s<%s:%d|%s>", id.Name, id.Hostname, id.Port, n.options.Conn.RemoteAddr().String())
}

func (n *Node) String() string {
	return fmt.Sprintf("%s[%s]", n.Descriptor(), n.State())
}

func (n *Node) State() NodeState {
	return NodeState(n.state.Load())
}

func (n *Node) SetState(state NodeState) {
	old := NodeState(n.state.Swap(uint32(state)))
	if old != state {
		log.Printf("%s: %s: state %s -> %s", n.options.LogPrefix, n.Descriptor(), old, state)
	}
}

func (n *Node) IsConnected() bool {
	return n.State() == NodeStateConnected
}

// Close tears down the connection and marks the node disconnected.
func (n *Node) Close() error {
	n.SetState(NodeStateDisconnected)
	return n.options.Conn.Close()
}

// fail marks the node disconnected and wraps err into a network error
func (n *Node) fail(op string, err error) error {
	n.SetState(NodeStateDisconnected)

	var wrapped error
	if isTimeout(err) {
		wrapped = fmt.Errorf("%s: %s: %s: %w: %w", n.options.LogPrefix, n.Descriptor(), op, ErrTimeout, err)
	} else {
		wrapped = fmt.Errorf("%s: %s: %s: %w: %w", n.options.LogPrefix, n.Descriptor(), op, ErrDisconnected, err)
	}
	log.Printf("%s", wrapped.Error())
	return wrapped
}

// Send serializes p and writes exactly the bytes its header declares.
// invoked on any goroutine
func (n *Node) Send(p packet.Packet) error {
	if !n.IsConnected() {
		return fmt.Errorf("%s: %s: cannot send %s: %w", n.options.LogPrefix, n.Descriptor(), p.Header().SubType, ErrDisconnected)
	}

	buf, err := packet.Serialize(p)
	if err != nil {
		err = fmt.Errorf("%s: %s: %w", n.options.LogPrefix, n.Descriptor(), err)
		log.Printf("%s", err.Error())
		return err
	}

	n.wmutex.Lock()
	defer n.wmutex.Unlock()

	if n.options.WriteTimeout > 0 {
		n.options.Conn.SetWriteDeadline(time.Now().UTC().Add(n.options.WriteTimeout))
	} else {
		n.options.Conn.SetWriteDeadline(time.Time{})
	}

	wn, err := n.options.Conn.Write(buf)
	if err != nil {
		return n.fail(fmt.Sprintf("write %s", p.Header().SubType), err)
	}
	if wn != len(buf) {
		return n.fail(fmt.Sprintf("write %s", p.Header().SubType), io.ErrShortWrite)
	}

	if n.options.LogDebug {
		log.Printf("%s: %s: sent %s", n.options.LogPrefix, n.Descriptor(), p.String())
	}

	return nil
}

// RecvPacket reads one complete packet. A zero timeout blocks until a packet
// arrives or the connection fails. Any failure leaves the node disconnected,
// since the stream position is no longer known.
// must not be invoked concurrently with other reads on the same node
func (n *Node) RecvPacket(timeout time.Duration) (packet.Packet, error) {
	conn := n.options.Conn
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().UTC().Add(timeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	buf1 := n.rbuf[:]
	_, err := io.ReadFull(conn, buf1)
	if err != nil {
		return nil, n.fail("read header", err)
	}

	header, err := packet.ParseHeader(buf1)
	if err != nil {
		return nil, n.fail("parse header", fmt.Errorf("%w: %w", ErrDecode, err))
	}

	buf2 := make([]byte, header.PayloadLen())
	_, err = io.ReadFull(conn, buf2)
	if err != nil {
		return nil, n.fail("read payload", err)
	}

	p, err := packet.Decode(header, buf2)
	if err != nil {
		return nil, n.fail("decode", fmt.Errorf("%w: %w", ErrDecode, err))
	}

	if n.options.LogDebug {
		log.Printf("%s: %s: received %s", n.options.LogPrefix, n.Descriptor(), p.String())
	}

	return p, nil
}

// WriteSignal writes one raw byte outside the packet framing.
func (n *Node) WriteSignal(b byte, timeout time.Duration) error {
	n.wmutex.Lock()
	defer n.wmutex.Unlock()

	conn := n.options.Conn
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().UTC().Add(timeout))
	} else {
		conn.SetWriteDeadline(time.Time{})
	}

	_, err := conn.Write([]byte{b})
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %s: write signal: %w: %w", n.options.LogPrefix, n.Descriptor(), ErrTimeout, err)
		}
		return n.fail("write signal", err)
	}
	return nil
}

// ReadSignal reads one raw byte outside the packet framing. A timeout leaves
// the node connected, since no partial data can have been consumed.
func (n *Node) ReadSignal(timeout time.Duration) (byte, error) {
	conn := n.options.Conn
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().UTC().Add(timeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	var b [1]byte
	_, err := io.ReadFull(conn, b[:])
	if err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("%s: %s: read signal: %w: %w", n.options.LogPrefix, n.Descriptor(), ErrTimeout, err)
		}
		return 0, n.fail("read signal", err)
	}
	return b[0], nil
}

// Drain discards bytes already buffered on the connection, waiting at most
// window for each read. It returns the number of bytes discarded.
func (n *Node) Drain(window time.Duration) (int, error) {
	conn := n.options.Conn
	var buf [64]byte
	drained := 0

	for {
		conn.SetReadDeadline(time.Now().UTC().Add(window))
		rn, err := conn.Read(buf[:])
		drained += rn
		if err != nil {
			if isTimeout(err) {
				return drained, nil
			}
			return drained, n.fail("drain", err)
		}
		if drained >= maxDrainLen {
			return drained, nil
		}
	}
}
