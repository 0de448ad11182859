package config

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// element types understood by the cluster core
const (
	ElementTypeClusterManager         = "cluster_manager"
	ElementTypeMachineSpecific        = "machine_specific"
	ElementTypeSwapLockTCPPlugin      = "swap_lock_tcp_plugin"
	ElementTypeApplicationDataManager = "application_data_manager"
)

// property names
const (
	PropertyMaster     = "master"
	PropertyHostName   = "host_name"
	PropertyListenPort = "listen_port"
	PropertySyncServer = "sync_server"
)

// Element is one configuration record handed to the cluster core by the host.
// Its values are opaque to the core apart from the properties a plugin asks for.
type Element struct {
	Name       string         `mapstructure:"name"`
	Type       string         `mapstructure:"type"`
	Properties map[string]any `mapstructure:"properties"`
}

func (e *Element) Has(key string) bool {
	if e == nil || e.Properties == nil {
		return false
	}
	_, found := e.Properties[key]
	return found
}

func (e *Element) GetString(key string) (string, error) {
	v, err := e.get(key)
	if err != nil {
		return "", err
	}

	str, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("%s: property=%s: %w", e.Name, key, err)
	}
	return str, nil
}

func (e *Element) GetInt(key string) (int, error) {
	v, err := e.get(key)
	if err != nil {
		return 0, err
	}

	// cast truncates fractions
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%s: property=%s: %w", e.Name, key, err)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s: property=%s value=%v is not an integer", e.Name, key, v)
	}

	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, fmt.Errorf("%s: property=%s: %w", e.Name, key, err)
	}
	return i, nil
}

func (e *Element) get(key string) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil element, property=%s", key)
	}

	v, found := e.Properties[key]
	if !found {
		return nil, fmt.Errorf("%s: missing property=%s", e.Name, key)
	}
	return v, nil
}

// GetPort reads key as a TCP port number.
func (e *Element) GetPort(key string) (uint16, error) {
	i, err := e.GetInt(key)
	if err != nil {
		return 0, err
	}
	if i <= 0 || i > 0xffff {
		return 0, fmt.Errorf("%s: property=%s value=%d is not a valid port", e.Name, key, i)
	}
	return uint16(i), nil
}
