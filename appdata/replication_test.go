package appdata

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Meander-Cloud/go-cluster/cluster"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/packet"
)

func freePort(t *testing.T) uint16 {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return uint16(l.Addr().(*net.TCPAddr).Port)
}

// networkedCluster starts a node whose cluster record opens the packet
// network on port, with data registered under guid before configuration.
func networkedCluster(t *testing.T, host string, port uint16, guid packet.GUID, data ApplicationData) *cluster.Manager {
	t.Helper()

	c := &config.Config{
		Host:                 host,
		TcpReconnectInterval: 1,
		RequestRetryWait:     100,
		LogPrefix:            "test-" + host,
	}
	mgr, err := cluster.NewManager(c, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)

	m := NewManager(mgr)
	require.NoError(t, mgr.AddPlugin(m))
	require.NoError(t, m.Register(guid, data))

	failed := mgr.ConfigureAll(
		[]*config.Element{
			{Name: "appdata", Type: config.ElementTypeApplicationDataManager},
			{
				Name: "cluster",
				Type: config.ElementTypeClusterManager,
				Properties: map[string]any{
					config.PropertyMaster:     "head",
					config.PropertyListenPort: int(port),
				},
			},
			{Name: "head", Type: config.ElementTypeMachineSpecific, Properties: map[string]any{config.PropertyHostName: "127.0.0.1"}},
		},
	)
	require.Empty(t, failed)
	require.NotNil(t, mgr.Network())

	return mgr
}

func TestReplicationOverPacketNetwork(t *testing.T) {
	port := freePort(t)
	guid := packet.NewGUID()

	masterData := NewMsgpackData(frame{})
	master := networkedCluster(t, "127.0.0.1", port, guid, masterData)
	require.True(t, master.IsMaster())

	slaveData := NewMsgpackData(frame{})
	slave := networkedCluster(t, "render-1", port, guid, slaveData)
	require.False(t, slave.IsMaster())

	want := frame{Number: 12, Camera: []float64{0.5, 1, -3}}
	assert.Eventually(
		t,
		func() bool {
			// one frame on each node, master first
			masterData.Value = want
			master.PreDraw()
			master.PostPostFrame()

			slave.PreDraw()
			slave.PostPostFrame()

			return slaveData.Value.Number == want.Number
		},
		10*time.Second,
		20*time.Millisecond,
	)
	assert.Equal(t, want, slaveData.Value)

	assert.Len(t, master.Peers(), 1)
	assert.Len(t, slave.Peers(), 1)

	// later master updates keep flowing without new requests
	want.Number = 13
	assert.Eventually(
		t,
		func() bool {
			masterData.Value = want
			master.PostPostFrame()
			slave.PreDraw()
			return slaveData.Value.Number == want.Number
		},
		2*time.Second,
		20*time.Millisecond,
	)
}
