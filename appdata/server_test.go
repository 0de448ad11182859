package appdata

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-cluster/metrics"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

// nodePair returns the local and remote node of a loopback TCP connection.
func nodePair(t *testing.T) (*network.Node, *network.Node) {
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

	local := network.NewNode(&network.NodeOptions{Name: "Slave", Hostname: "slave", Conn: accepted, WriteTimeout: time.Second, LogPrefix: "test"})
	remote := network.NewNode(&network.NodeOptions{Name: "Master", Hostname: "master", Conn: dialed, WriteTimeout: time.Second, LogPrefix: "test"})
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local, remote
}

type frame struct {
	Number int
	Camera []float64
}

func TestServerAddClientIgnoresDuplicates(t *testing.T) {
	s := NewServer(packet.NewGUID(), NewMsgpackData(frame{}), PluginGUID, metrics.New(nil), "test")
	a, _ := nodePair(t)

	assert.True(t, s.AddClient(a))
	assert.False(t, s.AddClient(a))
	assert.Len(t, s.Clients(), 1)
}

func TestServerUpdateLocalData(t *testing.T) {
	data := NewMsgpackData(frame{Number: 7, Camera: []float64{1, 2, 3}})
	s := NewServer(packet.NewGUID(), data, PluginGUID, metrics.New(nil), "test")

	require.NoError(t, s.UpdateLocalData())
	serialized, err := data.MarshalBinary()
	require.NoError(t, err)

	p := s.DataPacket()
	assert.Equal(t, serialized, p.Data)
	assert.Equal(t, uint32(packet.HeaderSize+2*packet.GUIDSize+len(serialized)), p.Header().Length)

	data.Value.Camera = append(data.Value.Camera, 4, 5, 6)
	require.NoError(t, s.UpdateLocalData())
	assert.Greater(t, len(p.Data), len(serialized))
	assert.Equal(t, uint32(packet.HeaderSize+2*packet.GUIDSize+len(p.Data)), p.Header().Length)
}

func TestServerSendIsolatesFailures(t *testing.T) {
	guid := packet.NewGUID()
	m := metrics.New(nil)
	s := NewServer(guid, NewMsgpackData(frame{Number: 1}), PluginGUID, m, "test")
	require.NoError(t, s.UpdateLocalData())

	a1, b1 := nodePair(t)
	a2, _ := nodePair(t)
	a3, b3 := nodePair(t)
	for _, node := range []*network.Node{a1, a2, a3} {
		require.True(t, s.AddClient(node))
	}

	// the connection dies under a node that still believes it is connected
	a2.Conn().Close()

	assert.Equal(t, 2, s.Send())
	assert.Equal(t, network.NodeStateDisconnected, a2.State())
	assert.Len(t, s.Clients(), 3)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReplicationFailures.WithLabelValues(guid.String())))

	for _, b := range []*network.Node{b1, b3} {
		got, err := b.RecvPacket(time.Second)
		require.NoError(t, err)

		dp, ok := got.(*packet.DataPacket)
		require.True(t, ok)
		assert.Equal(t, PluginGUID, dp.PluginGUID)
		assert.Equal(t, guid, dp.ObjectGUID)
		assert.Equal(t, s.DataPacket().Data, dp.Data)
	}

	// the failed subscriber is pruned on the next send
	assert.Equal(t, 2, s.Send())
	assert.Len(t, s.Clients(), 2)
	assert.NotContains(t, s.Clients(), a2)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ReplicationSends.WithLabelValues(guid.String())))
	assert.Contains(t, s.String(), guid.String())
}

func TestMsgpackDataKeepsValueOnBadInput(t *testing.T) {
	src := NewMsgpackData(frame{Number: 3, Camera: []float64{0.5}})
	buf, err := src.MarshalBinary()
	require.NoError(t, err)

	dst := NewMsgpackData(frame{})
	require.NoError(t, dst.UnmarshalBinary(buf))
	assert.Equal(t, src.Value, dst.Value)

	assert.Error(t, dst.UnmarshalBinary([]byte{0xc1}))
	assert.Equal(t, src.Value, dst.Value)
}
