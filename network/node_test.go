package network

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	acceptch := make(chan net.Conn, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			close(acceptch)
			return
		}
		acceptch <- conn
	}()

	dialed, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)

	accepted, ok := <-acceptch
	require.True(t, ok)

	t.Cleanup(func() {
		dialed.Close()
		accepted.Close()
	})
	return dialed, accepted
}

func nodePair(t *testing.T) (*Node, *Node) {
	a, b := tcpPair(t)
	na := NewNode(&NodeOptions{Name: "a", Hostname: "host-a", Conn: a, WriteTimeout: time.Second, LogPrefix: "test"})
	nb := NewNode(&NodeOptions{Name: "b", Hostname: "host-b", Conn: b, WriteTimeout: time.Second, LogPrefix: "test"})
	return na, nb
}

func TestSendRecvPacket(t *testing.T) {
	a, b := nodePair(t)

	sent := []packet.Packet{
		packet.NewSyncRequest("host-a", 9000),
		packet.NewSyncAck("host-b", 9000, true),
		packet.NewApplicationDataRequest(packet.NewGUID(), packet.NewGUID()),
		packet.NewDataPacket(packet.NewGUID(), packet.NewGUID(), []byte("payload")),
	}
	for _, p := range sent {
		require.NoError(t, a.Send(p))
	}

	for _, want := range sent {
		got, err := b.RecvPacket(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.True(t, b.IsConnected())
}

func TestRecvPacketTimeout(t *testing.T) {
	_, b := nodePair(t)

	start := time.Now()
	_, err := b.RecvPacket(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "err=%v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, NodeStateDisconnected, b.State())
}

func TestRecvPacketDecodeError(t *testing.T) {
	a, b := nodePair(t)

	buf, err := packet.Serialize(packet.NewSyncRequest("host-a", 1))
	require.NoError(t, err)
	buf[7] = 0x7f // unknown subtype

	_, err = a.Conn().Write(buf)
	require.NoError(t, err)

	_, err = b.RecvPacket(time.Second)
	assert.True(t, errors.Is(err, ErrDecode), "err=%v", err)
	assert.True(t, errors.Is(err, packet.ErrUnknownSubType), "err=%v", err)
	assert.False(t, b.IsConnected())
}

func TestRecvPacketPeerClosed(t *testing.T) {
	a, b := nodePair(t)
	require.NoError(t, a.Close())

	_, err := b.RecvPacket(time.Second)
	assert.True(t, errors.Is(err, ErrDisconnected), "err=%v", err)
	assert.Equal(t, NodeStateDisconnected, b.State())
}

func TestSendOnDisconnectedNode(t *testing.T) {
	a, _ := nodePair(t)
	a.SetState(NodeStateDisconnected)

	err := a.Send(packet.NewSyncRequest("host-a", 1))
	assert.True(t, errors.Is(err, ErrDisconnected), "err=%v", err)
}

func TestSignalExchange(t *testing.T) {
	a, b := nodePair(t)

	require.NoError(t, a.WriteSignal(0x2a, time.Second))
	sig, err := b.ReadSignal(time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2a), sig)

	// a timeout is not a disconnect
	_, err = b.ReadSignal(20 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrTimeout), "err=%v", err)
	assert.True(t, b.IsConnected())
}

func TestDrain(t *testing.T) {
	a, b := nodePair(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.WriteSignal(byte(i), time.Second))
	}
	time.Sleep(50 * time.Millisecond)

	drained, err := b.Drain(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 5, drained)

	drained, err = b.Drain(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, drained)
	assert.True(t, b.IsConnected())
}

func TestSetIdentity(t *testing.T) {
	a, _ := nodePair(t)
	a.SetIdentity("slave-1", "host-c", 7000)

	assert.Equal(t, "slave-1", a.Name())
	assert.Equal(t, "host-c", a.Hostname())
	assert.Equal(t, uint16(7000), a.Port())
	assert.Contains(t, a.String(), "slave-1")
}

func TestIsLocalHost(t *testing.T) {
	c := &config.Config{Host: "render-a", LogPrefix: "test"}

	local, err := IsLocalHost(c, "render-a")
	require.NoError(t, err)
	assert.True(t, local)

	local, err = IsLocalHost(c, "render-b")
	require.NoError(t, err)
	assert.False(t, local)

	// exact match only
	local, err = IsLocalHost(c, "RENDER-A")
	require.NoError(t, err)
	assert.False(t, local)
}
