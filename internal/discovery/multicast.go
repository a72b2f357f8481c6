package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/nerrad567/fieldmesh/internal/device"
)

// Multicast defaults: an administratively scoped group, link-local reach.
const (
	DefaultMulticastGroup = "239.255.77.77"
	DefaultMulticastPort  = 17777
	defaultHopLimit       = 1
	maxDatagramSize       = 8 << 10
)

// MulticastConfig configures the multicast backend.
type MulticastConfig struct {
	Group     string
	Port      int
	Interface string // empty selects the system default
	HopLimit  int
	Loopback  bool // deliver to listeners on this host
}

// Multicast announces and browses with UDP datagrams sent to an IPv4
// multicast group.
type Multicast struct {
	group  *net.UDPAddr
	iface  *net.Interface
	hops   int
	logger Logger

	mu     sync.Mutex
	sender *ipv4.PacketConn
	closed bool
}

// NewMulticast resolves the group and interface and opens the send socket.
func NewMulticast(cfg MulticastConfig, logger Logger) (*Multicast, error) {
	if cfg.Group == "" {
		cfg.Group = DefaultMulticastGroup
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultMulticastPort
	}
	if cfg.HopLimit <= 0 {
		cfg.HopLimit = defaultHopLimit
	}
	if logger == nil {
		logger = noopLogger{}
	}

	ip := net.ParseIP(cfg.Group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("discovery: %q is not an IPv4 multicast group", cfg.Group)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("discovery: multicast interface %q: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, fmt.Errorf("discovery: opening multicast sender: %w", err)
	}
	sender := ipv4.NewPacketConn(conn)
	if err := sender.SetMulticastTTL(cfg.HopLimit); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: setting multicast ttl: %w", err)
	}
	if err := sender.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: setting multicast loopback: %w", err)
	}
	if iface != nil {
		if err := sender.SetMulticastInterface(iface); err != nil {
			conn.Close()
			return nil, fmt.Errorf("discovery: setting multicast interface: %w", err)
		}
	}

	return &Multicast{
		group:  &net.UDPAddr{IP: ip.To4(), Port: cfg.Port},
		iface:  iface,
		hops:   cfg.HopLimit,
		logger: logger,
		sender: sender,
	}, nil
}

// Group returns the multicast destination.
func (m *Multicast) Group() string {
	return m.group.String()
}

// Announce implements Backend.
func (m *Multicast) Announce(_ context.Context, a Announcement) error {
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	if len(payload) > maxDatagramSize {
		return fmt.Errorf("discovery: announcement of %d bytes exceeds datagram limit", len(payload))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}
	if _, err := m.sender.WriteTo(payload, nil, m.group); err != nil {
		return fmt.Errorf("discovery: sending to %s: %w", m.group, err)
	}
	return nil
}

// Browse implements Backend. Each call joins the group on its own socket,
// bound with address reuse so several processes on one host can listen.
func (m *Multicast) Browse(ctx context.Context, role device.Role) (<-chan Announcement, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrBackendClosed
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(m.group.Port)))
	if err != nil {
		return nil, fmt.Errorf("discovery: binding multicast port %d: %w", m.group.Port, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(m.iface, &net.UDPAddr{IP: m.group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: joining %s: %w", m.group.IP, err)
	}
	// Destination info lets us drop unicast or other-group traffic on the shared port.
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		m.logger.Debug("multicast control messages unavailable", "error", err)
	}

	out := make(chan Announcement, streamBuffer)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)

		buf := make([]byte, maxDatagramSize)
		for {
			n, cm, src, err := pc.ReadFrom(buf)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					m.logger.Warn("multicast read failed", "error", err)
				}
				return
			}
			if cm != nil && cm.Dst != nil && !cm.Dst.Equal(m.group.IP) {
				continue
			}

			a, err := Decode(buf[:n])
			if err != nil {
				m.logger.Debug("dropping malformed datagram", "source", src, "error", err)
				continue
			}
			if !matchesRole(role, a.Role) {
				continue
			}

			if !offer(out, a) {
				m.logger.Warn("browse stream full, dropping announcement", "device_id", a.ID)
			}
		}
	}()

	return out, nil
}

// Close closes the send socket. Open browse streams end with their contexts.
func (m *Multicast) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.sender.Close()
}
