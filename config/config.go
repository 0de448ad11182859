package config

import (
	"fmt"
	"log"
	"time"
)

const (
	// defaults for when not provided in Config
	EventChannelLength   uint16        = 1024
	TcpKeepAliveInterval time.Duration = time.Second * 17
	TcpKeepAliveCount    uint16        = 2
	TcpDialTimeout       time.Duration = time.Second * 3
	TcpReconnectInterval time.Duration = time.Second * 5
	TcpReconnectLogEvery uint32        = 12
	BarrierReadTimeout   time.Duration = time.Millisecond * 1000
	BarrierWriteTimeout  time.Duration = time.Millisecond * 1000
	HandshakeTimeout     time.Duration = time.Millisecond * 3000
	BarrierMaxSlips      uint16        = 5
	RequestRetryWait     time.Duration = time.Millisecond * 2000
)

type Config struct {
	// local hostname used for role selection, resolved from the OS when empty
	Host               string
	EventChannelLength uint16

	TcpKeepAliveInterval uint16 // seconds
	TcpKeepAliveCount    uint16
	TcpDialTimeout       uint16 // seconds
	TcpReconnectInterval uint16 // seconds
	TcpReconnectLogEvery uint32

	BarrierReadTimeout  uint16 // milliseconds
	BarrierWriteTimeout uint16 // milliseconds
	HandshakeTimeout    uint16 // milliseconds
	BarrierMaxSlips     uint16 // consecutive slips before a barrier client is evicted
	RequestRetryWait    uint16 // milliseconds

	LogPrefix string
	LogDebug  bool
}

func (c *Config) Validate() error {
	if c == nil {
		err := fmt.Errorf("nil config")
		log.Printf("%s", err.Error())
		return err
	}

	if c.LogPrefix == "" {
		err := fmt.Errorf("invalid LogPrefix=%s", c.LogPrefix)
		log.Printf("%s", err.Error())
		return err
	}

	if c.TcpKeepAliveCount != 0 && c.TcpKeepAliveInterval == 0 {
		err := fmt.Errorf("%s: TcpKeepAliveCount=%d requires TcpKeepAliveInterval", c.LogPrefix, c.TcpKeepAliveCount)
		log.Printf("%s", err.Error())
		return err
	}

	if c.GetHandshakeTimeout() < c.GetBarrierReadTimeout() {
		err := fmt.Errorf(
			"%s: HandshakeTimeout=%s must not be shorter than BarrierReadTimeout=%s",
			c.LogPrefix,
			c.GetHandshakeTimeout(),
			c.GetBarrierReadTimeout(),
		)
		log.Printf("%s", err.Error())
		return err
	}

	return nil
}

func (c *Config) GetEventChannelLength() uint16 {
	if c.EventChannelLength == 0 {
		return EventChannelLength
	}
	return c.EventChannelLength
}

func (c *Config) GetBarrierReadTimeout() time.Duration {
	if c.BarrierReadTimeout == 0 {
		return BarrierReadTimeout
	}
	return time.Millisecond * time.Duration(c.BarrierReadTimeout)
}

func (c *Config) GetBarrierWriteTimeout() time.Duration {
	if c.BarrierWriteTimeout == 0 {
		return BarrierWriteTimeout
	}
	return time.Millisecond * time.Duration(c.BarrierWriteTimeout)
}

func (c *Config) GetHandshakeTimeout() time.Duration {
	if c.HandshakeTimeout == 0 {
		return HandshakeTimeout
	}
	return time.Millisecond * time.Duration(c.HandshakeTimeout)
}

func (c *Config) GetBarrierMaxSlips() uint16 {
	if c.BarrierMaxSlips == 0 {
		return BarrierMaxSlips
	}
	return c.BarrierMaxSlips
}

func (c *Config) GetRequestRetryWait() time.Duration {
	if c.RequestRetryWait == 0 {
		return RequestRetryWait
	}
	return time.Millisecond * time.Duration(c.RequestRetryWait)
}
