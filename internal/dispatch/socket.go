package dispatch

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Socket buffer sizes for burst handling (4MB each). The kernel queues
// incoming datagrams here while userspace is busy.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// listenReusePort creates a UDP socket bound to addr with SO_REUSEPORT
// enabled.
//
// SO_REUSEPORT lets every worker bind its own socket to the same
// address/port; the kernel then distributes incoming datagrams across the
// sockets. Each core gets a private receive path with no userspace lock,
// which is why the dispatcher binds one socket per worker instead of
// fanning a single listener out over a channel.
func listenReusePort(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var soErr error
			err := c.Control(func(fd uintptr) {
				soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return soErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	conn := pc.(*net.UDPConn)
	_ = conn.SetReadBuffer(socketRecvBufferSize)
	_ = conn.SetWriteBuffer(socketSendBufferSize)
	return conn, nil
}

// dialUpstream connects a UDP socket to the resolver. The kernel picks the
// ephemeral source port and filters inbound datagrams to the peer address.
func dialUpstream(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve upstream %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", addr, err)
	}
	_ = conn.SetReadBuffer(socketRecvBufferSize)
	return conn, nil
}
