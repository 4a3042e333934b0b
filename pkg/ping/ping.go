package ping

import (
	"context"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/gufolabs/gufo-ping/internal/logger"
	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
	"github.com/gufolabs/gufo-ping/pkg/ping/registry"
	"github.com/gufolabs/gufo-ping/pkg/ping/socket"
)

// Ping sends a single echo request and waits for the reply or the
// session timeout. The returned error covers caller-side problems
// only: bad address, closed session, no usable socket. Network
// outcomes, timeouts included, arrive in the Result.
func (s *Session) Ping(ctx context.Context, addr string) (Result, error) {
	dst, err := s.resolve(ctx, addr)
	if err != nil {
		return Result{}, err
	}
	w, res, err := s.launch(dst)
	if err != nil {
		return Result{}, err
	}
	if res != nil {
		return *res, nil
	}
	return s.await(ctx, w), nil
}

// launch registers a waiter and puts one echo request on the wire.
// Returns either a waiter to await, or an immediate failure Result.
// The waiter is registered before the send: a reply can never beat its
// own bookkeeping.
func (s *Session) launch(dst netip.Addr) (*registry.Waiter, *Result, error) {
	sock, err := s.socketFor(familyOf(dst))
	if err != nil {
		return nil, nil, err
	}
	w, err := s.reg.Register(s.id, sock.Dgram(), dst, s.pattern, s.now)
	if err != nil {
		if err == registry.ErrUnknownID {
			return nil, nil, ErrSessionClosed
		}
		return nil, nil, err
	}

	ts := s.now()
	w.MarkSent(ts)
	pkt, err := sock.Proto().Encode(&proto.Echo{
		ID:      s.id,
		Seq:     w.Key.Seq,
		Payload: proto.EncodePayload(ts, s.pattern),
	})
	if err != nil {
		s.reg.Cancel(w, err)
		return nil, nil, err
	}

	atomic.AddUint64(&s.sent, 1)
	if err := sock.Send(dst, pkt); err != nil && !socket.IsBackpressure(err) {
		// This probe is lost, the session lives. Persisting
		// backpressure instead runs into the probe deadline and comes
		// out as a timeout.
		s.reg.Cancel(w, err)
		if socket.IsUnreachable(err) {
			// No route is a fact about the network, not a socket
			// failure; counted apart from the I/O errors.
			atomic.AddUint64(&s.unreachable, 1)
			logger.Debug().Println(pkgName, "no route to", dst, ":", err)
		} else {
			atomic.AddUint64(&s.ioErrors, 1)
		}
		return nil, &Result{Err: err}, nil
	}
	return w, nil, nil
}

// await blocks until the waiter resolves, the probe deadline passes or
// the caller gives up. Losing a cancellation race against an arriving
// reply is fine: the verdict is already on the channel then.
func (s *Session) await(ctx context.Context, w *registry.Waiter) Result {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case v := <-w.Done():
		return s.record(v)
	case <-timer.C:
		if s.reg.Cancel(w, nil) {
			atomic.AddUint64(&s.timeouts, 1)
			return Result{}
		}
		return s.record(<-w.Done())
	case <-ctx.Done():
		if s.reg.Cancel(w, ctx.Err()) {
			return Result{Err: ctx.Err()}
		}
		return s.record(<-w.Done())
	case <-s.done.Done():
		if s.reg.Cancel(w, ErrSessionClosed) {
			return Result{Err: ErrSessionClosed}
		}
		return s.record(<-w.Done())
	}
}

func (s *Session) record(v registry.Verdict) Result {
	switch {
	case v.Received:
		atomic.AddUint64(&s.received, 1)
		atomic.StoreInt64(&s.lastRTT, int64(v.RTT))
		return Result{Valid: true, RTT: v.RTT}
	case v.Err != nil:
		atomic.AddUint64(&s.ioErrors, 1)
		return Result{Err: v.Err}
	default:
		atomic.AddUint64(&s.timeouts, 1)
		return Result{}
	}
}
