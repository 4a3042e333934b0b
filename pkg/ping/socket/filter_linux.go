package socket

import (
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
)

// SetFilter attaches a reply filter for the given identifier set to a
// raw socket. DGRAM sockets are already filtered by the kernel's own
// identifier binding. Updates are best effort: a stale filter costs
// wakeups, never correctness, because the registry re-checks every
// reply anyway.
func (s *Socket) SetFilter(ids []uint16) error {
	if s.proto.Type != proto.SocketRaw {
		return nil
	}
	prog, err := bpf.Assemble(ReplyFilter(s.proto, ids))
	if err != nil {
		return err
	}
	filter := make([]unix.SockFilter, len(prog))
	for i, in := range prog {
		filter[i] = unix.SockFilter{Code: in.Op, Jt: in.Jt, Jf: in.Jf, K: in.K}
	}
	fprog := &unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	raw, err := s.syscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptSockFprog(int(fd), unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
	}); err != nil {
		return err
	}
	return serr
}
