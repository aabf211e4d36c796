package netconf

import (
	"net"
	"strconv"
	"strings"
)

const DefaultPort = 830

// DeviceInfo identifies the remote device. It is copied into every Event.
type DeviceInfo struct {
	Username string
	Password string
	KeyFile  string
	Address  string
	Port     int
}

// HostPort returns the dial address, defaulting the port to 830.
func (d DeviceInfo) HostPort() string {
	port := d.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(d.Address), strconv.Itoa(port))
}

// String never includes credentials.
func (d DeviceInfo) String() string {
	if d.Username == "" {
		return d.HostPort()
	}
	return d.Username + "@" + d.HostPort()
}
