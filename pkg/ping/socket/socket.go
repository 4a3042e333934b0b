// Shared probe sockets.
//
// One socket serves every probe of its address family: the send side is
// used by any goroutine issuing probes, the receive side is drained by a
// single Serve loop that decodes replies and hands them to the registry.
// Sockets are built from raw file descriptors so that TTL, ToS, buffer
// sizes and the kernel filter can be set before any traffic flows, then
// wrapped into a net.PacketConn to get poller integration and sane
// Close semantics.
package socket

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gufolabs/gufo-ping/internal/logger"
	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
)

const pkgName = "PingSocket. "

// Largest possible inbound datagram: IPv4 header + ICMP message
const maxDatagram = 65536

// Bounded retry on transient send-side pressure
const sendRetries = 6

var ErrBufferSize = errors.New("unable to set buffer size")

// Dispatcher consumes decoded echo replies. Implemented by the registry.
type Dispatcher interface {
	Dispatch(e *proto.Echo, dgram bool) bool
}

// Options carries the socket-level knobs of a session. All settings
// must apply cleanly or Open fails and the descriptor is discarded.
type Options struct {
	Source     netip.Addr // bind source address when valid
	TTL        int        // 0 leaves the OS default
	ToS        int        // 0 leaves the OS default
	SendBuffer int
	RecvBuffer int
}

type Socket struct {
	proto *proto.Proto
	conn  net.PacketConn
}

// Open creates and configures a probe socket for the given protocol.
func Open(p *proto.Proto, opt Options) (*Socket, error) {
	fd, err := unix.Socket(familyOf(p), typeOf(p), protocolOf(p))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err = configure(fd, p, opt); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("nonblock: %w", err)
	}

	f := os.NewFile(uintptr(fd), "ping")
	conn, err := net.FilePacketConn(f)
	// The descriptor is duplicated by FilePacketConn, drop the original
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("packet conn: %w", err)
	}
	return &Socket{proto: p, conn: conn}, nil
}

func familyOf(p *proto.Proto) int {
	if p.Family == proto.IPv4 {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func typeOf(p *proto.Proto) int {
	if p.Type == proto.SocketRaw {
		return unix.SOCK_RAW
	}
	return unix.SOCK_DGRAM
}

func protocolOf(p *proto.Proto) int {
	if p.Family == proto.IPv4 {
		return unix.IPPROTO_ICMP
	}
	return unix.IPPROTO_ICMPV6
}

func configure(fd int, p *proto.Proto, opt Options) error {
	switch p.Family {
	case proto.IPv4:
		if opt.TTL > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, opt.TTL); err != nil {
				return fmt.Errorf("IP_TTL: %w", err)
			}
		}
		if opt.ToS > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, opt.ToS); err != nil {
				return fmt.Errorf("IP_TOS: %w", err)
			}
		}
	case proto.IPv6:
		// Hop limit and traffic class are set for IPv6 too. An older
		// revision dropped both on the floor for this family.
		if opt.TTL > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, opt.TTL); err != nil {
				return fmt.Errorf("IPV6_UNICAST_HOPS: %w", err)
			}
		}
		if opt.ToS > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, opt.ToS); err != nil {
				return fmt.Errorf("IPV6_TCLASS: %w", err)
			}
		}
		if p.Type == proto.SocketRaw {
			if err := setChecksum(fd); err != nil {
				return fmt.Errorf("IPV6_CHECKSUM: %w", err)
			}
		}
	}
	if opt.SendBuffer > 0 {
		if err := setBuffer(fd, unix.SO_SNDBUF, opt.SendBuffer); err != nil {
			return err
		}
	}
	if opt.RecvBuffer > 0 {
		if err := setBuffer(fd, unix.SO_RCVBUF, opt.RecvBuffer); err != nil {
			return err
		}
	}
	if opt.Source.IsValid() {
		if err := bindSource(fd, p, opt.Source); err != nil {
			return fmt.Errorf("bind %s: %w", opt.Source, err)
		}
	}
	return nil
}

// setBuffer halves the requested size until the kernel accepts it.
func setBuffer(fd, opt, size int) error {
	for size > 0 {
		if unix.SetsockoptInt(fd, unix.SOL_SOCKET, opt, size) == nil {
			return nil
		}
		size >>= 1
	}
	return ErrBufferSize
}

func bindSource(fd int, p *proto.Proto, src netip.Addr) error {
	if p.Family == proto.IPv4 {
		return unix.Bind(fd, &unix.SockaddrInet4{Addr: src.As4()})
	}
	return unix.Bind(fd, &unix.SockaddrInet6{Addr: src.As16()})
}

func (s *Socket) Proto() *proto.Proto {
	return s.proto
}

// Dgram reports whether the kernel assigns the ICMP identifier on this
// socket.
func (s *Socket) Dgram() bool {
	return s.proto.Type == proto.SocketDgram
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

// Send writes one echo request towards dst. Transient pressure
// (ENOBUFS, EAGAIN) is retried a bounded number of times; the last
// error is returned so the caller can decide to keep waiting for the
// probe deadline instead of failing the waiter.
func (s *Socket) Send(dst netip.Addr, b []byte) error {
	var addr net.Addr
	if s.Dgram() {
		addr = &net.UDPAddr{IP: dst.AsSlice(), Zone: dst.Zone()}
	} else {
		addr = &net.IPAddr{IP: dst.AsSlice(), Zone: dst.Zone()}
	}

	var err error
	for tries := sendRetries; tries > 0; tries-- {
		_, err = s.conn.WriteTo(b, addr)
		if err == nil {
			return nil
		}
		if IsBackpressure(err) {
			time.Sleep(time.Millisecond)
			continue
		}
		break
	}
	return err
}

// Serve is the per-socket receive loop. It exits only when the socket
// is closed; malformed or foreign datagrams never kill it.
func (s *Socket) Serve(d Dispatcher) {
	buf := make([]byte, maxDatagram)
	dgram := s.Dgram()
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug().Println(pkgName, "recv:", err)
			continue
		}
		e := s.proto.Decode(buf[:n])
		if e == nil {
			continue
		}
		d.Dispatch(e, dgram)
	}
}

func (s *Socket) syscallConn() (syscall.RawConn, error) {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return nil, errors.New("no syscall access")
	}
	return sc.SyscallConn()
}

// IsBackpressure reports a transient send-side condition that resolves
// by waiting: the probe should run to its deadline, not fail.
func IsBackpressure(err error) bool {
	return errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN)
}

// IsUnreachable reports a definite no-route condition from the kernel.
func IsUnreachable(err error) bool {
	return errors.Is(err, unix.EHOSTUNREACH) || errors.Is(err, unix.ENETUNREACH) ||
		errors.Is(err, unix.ENETDOWN)
}
