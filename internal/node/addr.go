package node

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// ErrNoAddress is returned when no non-loopback IPv4 address can be found.
var ErrNoAddress = errors.New("node: no routable address found")

// probeTarget is only used to select a route. Dialing UDP sends nothing.
const probeTarget = "8.8.8.8:80"

// AdvertiseHost returns the host placed in announcements: the configured
// advertise_host, 127.0.0.1 in local mode, the configured bind host when it
// is specific, or the address of the outbound interface.
func AdvertiseHost(cfg config.NodeConfig) (string, error) {
	switch {
	case cfg.AdvertiseHost != "":
		return cfg.AdvertiseHost, nil
	case cfg.Mode == config.ModeLocal:
		return "127.0.0.1", nil
	case cfg.Host != "" && !net.ParseIP(cfg.Host).IsUnspecified():
		return cfg.Host, nil
	}
	ip, err := OutboundIP()
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// OutboundIP returns the local address the kernel would use for outbound
// traffic, falling back to the first non-loopback IPv4 interface address.
func OutboundIP() (net.IP, error) {
	if conn, err := net.Dial("udp", probeTarget); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP, nil
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("listing interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, ErrNoAddress
}

// advertiseAddr replaces the host of a bound listener address with the
// advertise host.
func advertiseAddr(cfg config.NodeConfig, bound string) (string, error) {
	_, port, err := net.SplitHostPort(bound)
	if err != nil {
		return "", fmt.Errorf("parsing bound address %q: %w", bound, err)
	}
	host, err := AdvertiseHost(cfg)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

// listenAddr is the bind address for cfg.
func listenAddr(cfg config.NodeConfig) string {
	return net.JoinHostPort(cfg.ListenHost(), strconv.Itoa(cfg.Port))
}
