package presence

import (
	"fmt"
	"net"
)

// OpenSender opens the UDP socket the Announcer sends from, and resolves
// the announce address into the destination list it broadcasts to. The
// announce address may be a multicast group ("239.0.0.1:9999") or a
// broadcast address ("255.255.255.255:9999"); no ecosystem library in the
// retrieval pack wraps UDP multicast/broadcast, so this stays on the
// standard library net package by necessity, not by default.
func OpenSender(announceAddr string) (net.PacketConn, []net.Addr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", announceAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("presence: resolve announce addr: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, nil, fmt.Errorf("presence: open sender socket: %w", err)
	}

	return conn, []net.Addr{udpAddr}, nil
}

// OpenReceiver opens the UDP socket the Discoverer listens on. If
// discoverAddr's IP is a multicast group, it joins that group;
// otherwise it just binds the port to receive broadcast datagrams.
func OpenReceiver(discoverAddr string) (net.PacketConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", discoverAddr)
	if err != nil {
		return nil, fmt.Errorf("presence: resolve discover addr: %w", err)
	}

	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		conn, err := net.ListenMulticastUDP("udp4", nil, udpAddr)
		if err != nil {
			return nil, fmt.Errorf("presence: join multicast group: %w", err)
		}
		return conn, nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: udpAddr.Port})
	if err != nil {
		return nil, fmt.Errorf("presence: open receiver socket: %w", err)
	}
	return conn, nil
}
