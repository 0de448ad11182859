package network

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Meander-Cloud/go-transport/tcp"

	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/config"
)

type ServerStruct struct {
	protocol  *Server
	tcpServer *tcp.TcpServer
}

type ClientStruct struct {
	protocol  *Client
	tcpClient *tcp.TcpClient
}

// Network is the packet network of one cluster node: a listening server on
// the master, a reconnecting client to the master everywhere else.
type Network struct {
	server *ServerStruct
	client *ClientStruct
}

type NetworkOptions struct {
	Master     bool
	MasterHost string // dialed by slaves
	ListenPort uint16
}

func NewNetwork(
	c *config.Config,
	a *arbiter.Arbiter,
	h Handler,
	o *NetworkOptions,
) (*Network, error) {
	var tcpKeepAliveInterval time.Duration
	if c.TcpKeepAliveInterval == 0 {
		tcpKeepAliveInterval = config.TcpKeepAliveInterval
	} else {
		tcpKeepAliveInterval = time.Second * time.Duration(c.TcpKeepAliveInterval)
	}

	var tcpKeepAliveCount uint16
	if c.TcpKeepAliveCount == 0 {
		tcpKeepAliveCount = config.TcpKeepAliveCount
	} else {
		tcpKeepAliveCount = c.TcpKeepAliveCount
	}

	var tcpDialTimeout time.Duration
	if c.TcpDialTimeout == 0 {
		tcpDialTimeout = config.TcpDialTimeout
	} else {
		tcpDialTimeout = time.Second * time.Duration(c.TcpDialTimeout)
	}

	var tcpReconnectInterval time.Duration
	if c.TcpReconnectInterval == 0 {
		tcpReconnectInterval = config.TcpReconnectInterval
	} else {
		tcpReconnectInterval = time.Second * time.Duration(c.TcpReconnectInterval)
	}

	var tcpReconnectLogEvery uint32
	if c.TcpReconnectLogEvery == 0 {
		tcpReconnectLogEvery = config.TcpReconnectLogEvery
	} else {
		tcpReconnectLogEvery = c.TcpReconnectLogEvery
	}

	if o.ListenPort == 0 {
		return nil, fmt.Errorf("%s: invalid ListenPort=%d", c.LogPrefix, o.ListenPort)
	}

	n := &Network{
		server: nil,
		client: nil,
	}

	var err error
	defer func() {
		if err != nil {
			n.Shutdown() // wait
		}
	}()

	if o.Master {
		n.server = &ServerStruct{
			protocol:  nil,
			tcpServer: nil,
		}

		n.server.protocol, err = NewServer(
			&ProtocolOptions{
				Options: &tcp.Options{
					Address:           net.JoinHostPort("", strconv.Itoa(int(o.ListenPort))),
					KeepAliveInterval: tcpKeepAliveInterval,
					KeepAliveCount:    tcpKeepAliveCount,
					DialTimeout:       tcpDialTimeout,
					ReconnectInterval: tcpReconnectInterval,
					ReconnectLogEvery: tcpReconnectLogEvery,
					Protocol:          nil,
					LogPrefix:         fmt.Sprintf("%s-Server", c.LogPrefix),
					LogDebug:          c.LogDebug,
				},
				Arbiter:  a,
				Handler:  h,
				NodeName: "Slave",
			},
		)
		if err != nil {
			return nil, err
		}
		n.server.protocol.Options().Protocol = n.server.protocol

		n.server.tcpServer, err = tcp.NewTcpServer(n.server.protocol.Options().Options)
		if err != nil {
			return nil, err
		}

		return n, nil
	}

	if o.MasterHost == "" {
		err = fmt.Errorf("%s: invalid MasterHost=%s", c.LogPrefix, o.MasterHost)
		return nil, err
	}

	n.client = &ClientStruct{
		protocol:  nil,
		tcpClient: nil,
	}

	n.client.protocol, err = NewClient(
		&ProtocolOptions{
			Options: &tcp.Options{
				Address:           net.JoinHostPort(o.MasterHost, strconv.Itoa(int(o.ListenPort))),
				KeepAliveInterval: tcpKeepAliveInterval,
				KeepAliveCount:    tcpKeepAliveCount,
				DialTimeout:       tcpDialTimeout,
				ReconnectInterval: tcpReconnectInterval,
				ReconnectLogEvery: tcpReconnectLogEvery,
				Protocol:          nil,
				LogPrefix:         fmt.Sprintf("%s-Client", c.LogPrefix),
				LogDebug:          c.LogDebug,
			},
			Arbiter:  a,
			Handler:  h,
			NodeName: "Master",
		},
	)
	if err != nil {
		return nil, err
	}
	n.client.protocol.Options().Protocol = n.client.protocol

	n.client.tcpClient, err = tcp.NewTcpClient(n.client.protocol.Options().Options)
	if err != nil {
		return nil, err
	}

	return n, nil
}

func (n *Network) Shutdown() {
	if n.server != nil &&
		n.server.tcpServer != nil {
		n.server.tcpServer.Shutdown() // wait
	}

	if n.client != nil &&
		n.client.tcpClient != nil {
		n.client.tcpClient.Shutdown() // wait
	}
}

func (n *Network) IsMaster() bool {
	return n.server != nil
}

// Server is nil on slaves.
func (n *Network) Server() *Server {
	if n.server == nil {
		return nil
	}
	return n.server.protocol
}

// Client is nil on the master.
func (n *Network) Client() *Client {
	if n.client == nil {
		return nil
	}
	return n.client.protocol
}
