package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	var nilConfig *Config
	assert.Error(t, nilConfig.Validate())
	assert.Error(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{LogPrefix: "node"}).Validate())

	assert.Error(t, (&Config{LogPrefix: "node", TcpKeepAliveCount: 3}).Validate())
	assert.NoError(t, (&Config{LogPrefix: "node", TcpKeepAliveCount: 3, TcpKeepAliveInterval: 10}).Validate())

	assert.Error(t, (&Config{LogPrefix: "node", HandshakeTimeout: 100, BarrierReadTimeout: 500}).Validate())
	assert.NoError(t, (&Config{LogPrefix: "node", HandshakeTimeout: 500, BarrierReadTimeout: 500}).Validate())
}

func TestValidateComparesEffectiveTimeouts(t *testing.T) {
	// read timeout falls back to 1000ms
	assert.Error(t, (&Config{LogPrefix: "node", HandshakeTimeout: 500}).Validate())

	// handshake timeout falls back to 3000ms
	assert.NoError(t, (&Config{LogPrefix: "node", BarrierReadTimeout: 2500}).Validate())
	assert.Error(t, (&Config{LogPrefix: "node", BarrierReadTimeout: 5000}).Validate())
}

func TestDefaults(t *testing.T) {
	c := &Config{LogPrefix: "node"}

	assert.Equal(t, EventChannelLength, c.GetEventChannelLength())
	assert.Equal(t, BarrierReadTimeout, c.GetBarrierReadTimeout())
	assert.Equal(t, BarrierWriteTimeout, c.GetBarrierWriteTimeout())
	assert.Equal(t, HandshakeTimeout, c.GetHandshakeTimeout())
	assert.Equal(t, BarrierMaxSlips, c.GetBarrierMaxSlips())
	assert.Equal(t, RequestRetryWait, c.GetRequestRetryWait())

	c.BarrierReadTimeout = 250
	c.BarrierMaxSlips = 9
	c.RequestRetryWait = 40
	assert.Equal(t, 250*time.Millisecond, c.GetBarrierReadTimeout())
	assert.Equal(t, uint16(9), c.GetBarrierMaxSlips())
	assert.Equal(t, 40*time.Millisecond, c.GetRequestRetryWait())
}

func TestElementProperties(t *testing.T) {
	e := &Element{
		Name: "swaplock",
		Type: ElementTypeSwapLockTCPPlugin,
		Properties: map[string]any{
			PropertySyncServer: "head",
			PropertyListenPort: float64(7000),
			"yaml_port":        7001,
			"text_port":        "7002",
			"small_port":       uint8(80),
			"signed_port":      int8(22),
			"float32_port":     float32(443),
			"fraction":         1.5,
			"too_big":          70000,
			"list":             []string{"a"},
		},
	}

	assert.True(t, e.Has(PropertySyncServer))
	assert.False(t, e.Has(PropertyHostName))

	s, err := e.GetString(PropertySyncServer)
	require.NoError(t, err)
	assert.Equal(t, "head", s)

	// numbers read back as their decimal text
	s, err = e.GetString(PropertyListenPort)
	require.NoError(t, err)
	assert.Equal(t, "7000", s)

	_, err = e.GetString("list")
	assert.Error(t, err)
	_, err = e.GetString(PropertyHostName)
	assert.Error(t, err)

	ports := map[string]uint16{
		PropertyListenPort: 7000,
		"yaml_port":        7001,
		"text_port":        7002,
		"small_port":       80,
		"signed_port":      22,
		"float32_port":     443,
	}
	for key, want := range ports {
		port, err := e.GetPort(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, port, key)
	}

	_, err = e.GetPort("fraction")
	assert.Error(t, err)
	_, err = e.GetPort("too_big")
	assert.Error(t, err)
	_, err = e.GetPort("list")
	assert.Error(t, err)
	_, err = e.GetPort(PropertyHostName)
	assert.Error(t, err)

	var nilElement *Element
	assert.False(t, nilElement.Has(PropertyMaster))
	_, err = nilElement.GetString(PropertyMaster)
	assert.Error(t, err)
}
