package network

import (
	"fmt"
	"log"
	"os"

	"github.com/Meander-Cloud/go-cluster/config"
)

// LocalHostname returns the configured host name, falling back to the OS.
func LocalHostname(c *config.Config) (string, error) {
	if c.Host != "" {
		return c.Host, nil
	}

	host, err := os.Hostname()
	if err != nil {
		err = fmt.Errorf("%s: failed to resolve local hostname, err=%w", c.LogPrefix, err)
		log.Printf("%s", err.Error())
		return "", err
	}

	return host, nil
}

// IsLocalHost reports whether hostname names this node. The comparison is exact.
func IsLocalHost(c *config.Config, hostname string) (bool, error) {
	local, err := LocalHostname(c)
	if err != nil {
		return false, err
	}
	return local == hostname, nil
}
