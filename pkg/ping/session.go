// High-performance asynchronous ICMPv4/ICMPv6 prober.
//
// A Session multiplexes any number of concurrent probes over one shared
// socket per address family. Matching replies to probes, identifier
// bookkeeping and socket configuration live in the subpackages; this
// package ties them into two primitives: Ping for a single probe and
// IterRTT for a paced series.
//
//	s, err := ping.New(ping.Config{})
//	if err != nil { ... }
//	defer s.Close()
//	r, err := s.Ping(ctx, "127.0.0.1")
package ping

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"sync"

	"github.com/gufolabs/gufo-ping/internal/logger"
	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
	"github.com/gufolabs/gufo-ping/pkg/ping/registry"
	"github.com/gufolabs/gufo-ping/pkg/ping/socket"
	"github.com/gufolabs/gufo-ping/pkg/scontext"
)

const pkgName = "Ping. "

// Session is an immutable configuration bundle plus the sockets serving
// it. Safe for concurrent use by any number of goroutines.
type Session struct {
	// Counters first: 64-bit atomics need alignment on 32-bit targets
	sent        uint64
	received    uint64
	timeouts    uint64
	unreachable uint64
	ioErrors    uint64
	lastRTT     int64

	cfg     Config
	id      uint16
	pattern []byte
	now     func() uint64
	reg     *registry.Registry

	sctx scontext.StartStopContext
	done context.Context

	mu     sync.Mutex
	socks  map[proto.Family]*socket.Socket
	unsubs []func()
	closed bool
}

// New validates cfg and creates a session. The session claims one ICMP
// identifier from the process-wide pool; sockets are opened lazily on
// first use per family, so permission problems surface on the first
// probe rather than here.
func New(cfg Config) (*Session, error) {
	return newSession(cfg, registry.Default)
}

func newSession(cfg Config, reg *registry.Registry) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	id, err := reg.AcquireID()
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		id:      id,
		pattern: proto.NewPattern(cfg.Size, rand.Uint64()),
		now:     monoClock,
		reg:     reg,
		socks:   make(map[proto.Family]*socket.Socket),
		sctx:    scontext.New(context.Background()),
	}
	if cfg.Coarse {
		s.now = coarseClock
	}
	s.done, _ = s.sctx.CreateContext()
	return s, nil
}

// Close shuts the sockets down, cancels every in-flight probe of this
// session and returns the identifier to the pool. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	socks := s.socks
	s.socks = nil
	unsubs := s.unsubs
	s.unsubs = nil
	s.sctx.CancelContext()
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, sock := range socks {
		sock.Close()
	}
	s.reg.ReleaseID(s.id)
	return nil
}

// socketFor returns the shared socket of the family, opening it on
// first use. With PolicyAuto the DGRAM flavor is attempted first and
// RAW is the fallback.
func (s *Session) socketFor(fam proto.Family) (*socket.Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	if sock, ok := s.socks[fam]; ok {
		return sock, nil
	}

	var flavors []proto.SocketType
	switch s.cfg.Policy {
	case PolicyRaw:
		flavors = []proto.SocketType{proto.SocketRaw}
	case PolicyDgram:
		flavors = []proto.SocketType{proto.SocketDgram}
	default:
		flavors = []proto.SocketType{proto.SocketDgram, proto.SocketRaw}
	}

	opt := socket.Options{
		TTL:        s.cfg.TTL,
		ToS:        s.cfg.ToS,
		SendBuffer: s.cfg.SendBufferSize,
		RecvBuffer: s.cfg.RecvBufferSize,
	}
	if s.cfg.SrcAddr.IsValid() {
		opt.Source = s.cfg.SrcAddr
	}

	var lastErr error
	for _, flavor := range flavors {
		p := proto.Lookup(fam, flavor)
		sock, err := socket.Open(p, opt)
		if err != nil {
			logger.Debug().Println(pkgName, "open", fam, flavor, "failed:", err)
			lastErr = err
			continue
		}
		// Filter on the identifiers this process currently holds.
		// Refreshed whenever the set changes; misses only cost CPU.
		if err := sock.SetFilter(s.reg.IDs()); err != nil {
			logger.Warning().Println(pkgName, "filter:", err)
		}
		unsub := s.reg.Watch(func(ids []uint16) {
			if err := sock.SetFilter(ids); err != nil {
				logger.Warning().Println(pkgName, "filter:", err)
			}
		})
		s.unsubs = append(s.unsubs, unsub)
		s.socks[fam] = sock
		go sock.Serve(s.reg)
		logger.Info().Println(pkgName, "opened", fam, flavor, "socket")
		return sock, nil
	}
	return nil, fmt.Errorf("no usable socket: %w", lastErr)
}

// resolve turns a literal or a hostname into an address of a usable
// family.
func (s *Session) resolve(ctx context.Context, addr string) (netip.Addr, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		network := "ip"
		if s.cfg.SrcAddr.IsValid() {
			if s.cfg.SrcAddr.Is4() {
				network = "ip4"
			} else {
				network = "ip6"
			}
		}
		addrs, lerr := net.DefaultResolver.LookupNetIP(ctx, network, addr)
		if lerr != nil || len(addrs) == 0 {
			return netip.Addr{}, fmt.Errorf("%w: %s", ErrInvalidAddr, addr)
		}
		a = addrs[0]
	}
	a = a.Unmap()
	if s.cfg.SrcAddr.IsValid() && s.cfg.SrcAddr.Is4() != a.Is4() {
		return netip.Addr{}, ErrFamilyMismatch
	}
	return a, nil
}

func familyOf(a netip.Addr) proto.Family {
	if a.Is4() {
		return proto.IPv4
	}
	return proto.IPv6
}
