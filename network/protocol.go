package network

import (
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/packet"
)

const (
	tcpWriteDeadline time.Duration = time.Second * 3
)

// Handler receives packet network events.
// every method is invoked on arbiter goroutine
type Handler interface {
	NodeConnected(*Node)
	NodeDisconnected(*Node)
	HandlePacket(packet.Packet, *Node)
}

type ProtocolOptions struct {
	*tcp.Options
	Arbiter *arbiter.Arbiter
	Handler

	// name given to nodes created by this protocol
	NodeName string
}

// invoked on ReadLoop goroutine
func readPackets(options *ProtocolOptions, node *Node) {
	for {
		p, err := node.RecvPacket(0)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Printf("%s: %s: peer disconnected", options.LogPrefix, node.Descriptor())
			}
			return
		}

		err = options.Arbiter.Dispatch(
			func() {
				// invoked on arbiter goroutine
				options.HandlePacket(p, node)
			},
		)
		if err != nil {
			log.Printf("%s: %s: dropped %s", options.LogPrefix, node.Descriptor(), p.String())
		}
	}
}

func newProtocolNode(options *ProtocolOptions, conn net.Conn) *Node {
	return NewNode(
		&NodeOptions{
			Name:         options.NodeName,
			Hostname:     "",
			Port:         0,
			Conn:         conn,
			WriteTimeout: tcpWriteDeadline,
			LogPrefix:    options.LogPrefix,
			LogDebug:     options.LogDebug,
		},
	)
}
