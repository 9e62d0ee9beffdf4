package discovery

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// newSocket binds a UDP socket on port with SO_BROADCAST and SO_REUSEPORT
// set, so multiple processes on the same host can each bind the discovery
// port and every one of them can transmit broadcast datagrams.
func newSocket(port int) (*net.UDPConn, error) {
	var sockErr error
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("meshbus: discovery: unexpected packet conn type %T", pc)
	}
	return conn, nil
}

// broadcastAddr returns the IPv4 limited-broadcast address for port.
func broadcastAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}

// resolveHostAddr returns override if set, otherwise the local address the
// kernel would pick for outbound traffic (an unconnected UDP dial to
// discover the default route's source address, never sending a packet).
func resolveHostAddr(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("meshbus: discovery: resolve host address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("meshbus: discovery: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
