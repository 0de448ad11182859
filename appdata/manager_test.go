package appdata

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Meander-Cloud/go-cluster/arbiter"
	"github.com/Meander-Cloud/go-cluster/cluster"
	"github.com/Meander-Cloud/go-cluster/config"
	"github.com/Meander-Cloud/go-cluster/network"
	"github.com/Meander-Cloud/go-cluster/packet"
)

func newCluster(t *testing.T, host string) (*cluster.Manager, *Manager) {
	t.Helper()

	c := &config.Config{
		Host:             host,
		RequestRetryWait: 100,
		LogPrefix:        "test-" + host,
	}
	mgr, err := cluster.NewManager(c, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)

	m := NewManager(mgr)
	require.NoError(t, mgr.AddPlugin(m))

	failed := mgr.ConfigureAll(
		[]*config.Element{
			{Name: "appdata", Type: config.ElementTypeApplicationDataManager},
			{Name: "cluster", Type: config.ElementTypeClusterManager, Properties: map[string]any{config.PropertyMaster: "head"}},
			{Name: "head", Type: config.ElementTypeMachineSpecific, Properties: map[string]any{config.PropertyHostName: "head-node"}},
		},
	)
	require.Empty(t, failed)
	require.True(t, m.IsActive())

	return mgr, m
}

// onArbiter runs f on the arbiter goroutine and waits for it.
func onArbiter(t *testing.T, mgr *cluster.Manager, f func()) {
	t.Helper()

	done := make(chan struct{})
	require.NoError(t, mgr.Arbiter().Dispatch(
		func() {
			defer close(done)
			f()
		},
	))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("arbiter did not run event")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	_, m := newCluster(t, "head-node")
	guid := packet.NewGUID()

	require.NoError(t, m.Register(guid, NewMsgpackData(frame{})))
	assert.Error(t, m.Register(guid, NewMsgpackData(frame{})))
	assert.Error(t, m.Register(packet.NewGUID(), nil))
}

func TestMasterServesRequestedObject(t *testing.T) {
	mgr, m := newCluster(t, "head-node")
	require.True(t, mgr.IsMaster())

	guid := packet.NewGUID()
	data := NewMsgpackData(frame{Number: 42, Camera: []float64{1.5, -2}})
	require.NoError(t, m.Register(guid, data))

	slave, remote := nodePair(t)

	// routed by plugin GUID through the cluster manager
	mgr.HandlePacket(packet.NewApplicationDataRequest(PluginGUID, guid), slave)
	mgr.HandlePacket(packet.NewApplicationDataRequest(PluginGUID, guid), slave)
	mgr.HandlePacket(packet.NewApplicationDataRequest(PluginGUID, packet.NewGUID()), slave)

	s, found := m.Server(guid)
	require.True(t, found)
	require.Len(t, s.Clients(), 1)

	mgr.PostPostFrame()

	got, err := remote.RecvPacket(time.Second)
	require.NoError(t, err)
	dp, ok := got.(*packet.DataPacket)
	require.True(t, ok)

	serialized, err := data.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, serialized, dp.Data)
	assert.Equal(t, uint32(packet.HeaderSize+2*packet.GUIDSize+len(serialized)), dp.Header().Length)

	var decoded frame
	require.NoError(t, msgpack.Unmarshal(dp.Data, &decoded))
	assert.Equal(t, data.Value, decoded)
}

func TestSlaveRequestsRetriesAndApplies(t *testing.T) {
	mgr, m := newCluster(t, "render-1")
	require.False(t, mgr.IsMaster())

	guid := packet.NewGUID()
	data := NewMsgpackData(frame{})
	require.NoError(t, m.Register(guid, data))

	master, remote := nodePair(t)
	onArbiter(t, mgr, func() { mgr.NodeConnected(master) })

	// the initial request and at least one retry
	for i := 0; i < 2; i++ {
		got, err := remote.RecvPacket(time.Second)
		require.NoError(t, err, "request %d", i)

		request, ok := got.(*packet.ApplicationDataRequest)
		require.True(t, ok)
		assert.Equal(t, PluginGUID, request.PluginGUID)
		assert.Equal(t, guid, request.ObjectGUID)
	}

	want := frame{Number: 9, Camera: []float64{3, 4}}
	payload, err := msgpack.Marshal(&want)
	require.NoError(t, err)

	onArbiter(t, mgr, func() { mgr.HandlePacket(packet.NewDataPacket(PluginGUID, guid, payload), master) })

	// staged until the next frame
	assert.Equal(t, frame{}, data.Value)
	mgr.PreDraw()
	assert.Equal(t, want, data.Value)

	// once data arrived requests stop, allow one already in flight
	time.Sleep(250 * time.Millisecond)
	_, err = remote.Drain(10 * time.Millisecond)
	require.NoError(t, err)
	_, err = remote.RecvPacket(300 * time.Millisecond)
	assert.ErrorIs(t, err, network.ErrTimeout)
}

func TestSlaveStopsRequestingOnMasterLoss(t *testing.T) {
	mgr, m := newCluster(t, "render-1")
	require.NoError(t, m.Register(packet.NewGUID(), NewMsgpackData(frame{})))

	master, remote := nodePair(t)
	onArbiter(t, mgr, func() { mgr.NodeConnected(master) })

	_, err := remote.RecvPacket(time.Second)
	require.NoError(t, err)

	onArbiter(t, mgr, func() { assert.Equal(t, 1, mgr.Arbiter().PendingTimers(arbiter.GroupRequestRetry)) })
	onArbiter(t, mgr, func() { mgr.NodeDisconnected(master) })
	onArbiter(t, mgr, func() { assert.Zero(t, mgr.Arbiter().PendingTimers(arbiter.GroupRequestRetry)) })

	_, err = remote.Drain(10 * time.Millisecond)
	require.NoError(t, err)
	_, err = remote.RecvPacket(300 * time.Millisecond)
	assert.ErrorIs(t, err, network.ErrTimeout)
}

func TestInactiveManagerDoesNothing(t *testing.T) {
	mgr, m := newCluster(t, "head-node")
	guid := packet.NewGUID()
	require.NoError(t, m.Register(guid, NewMsgpackData(frame{Number: 1})))

	slave, remote := nodePair(t)
	mgr.HandlePacket(packet.NewApplicationDataRequest(PluginGUID, guid), slave)

	require.True(t, mgr.ConfigRemove(&config.Element{Name: "appdata", Type: config.ElementTypeApplicationDataManager}))
	assert.False(t, m.IsActive())

	mgr.PostPostFrame()
	_, err := remote.RecvPacket(200 * time.Millisecond)
	assert.ErrorIs(t, err, network.ErrTimeout)
}

func TestInactiveManagerIgnoresRequests(t *testing.T) {
	mgr, m := newCluster(t, "head-node")
	guid := packet.NewGUID()
	require.NoError(t, m.Register(guid, NewMsgpackData(frame{Number: 1})))

	require.True(t, mgr.ConfigRemove(&config.Element{Name: "appdata", Type: config.ElementTypeApplicationDataManager}))

	slave, _ := nodePair(t)
	mgr.HandlePacket(packet.NewApplicationDataRequest(PluginGUID, guid), slave)

	s, found := m.Server(guid)
	require.True(t, found)
	assert.Empty(t, s.Clients())
}
