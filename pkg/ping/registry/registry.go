// Probe registry: maps in-flight echo requests to the goroutines
// awaiting their replies.
//
// All sessions of the process share one registry, so the 16-bit ICMP
// identifier space is partitioned here. Within an identifier the probes
// differ by sequence number. A reply resolves to at most one waiter:
// the waiter is removed from the map before it is fulfilled, and a CAS
// state machine guards against a racing timeout or cancellation.
package registry

import (
	"errors"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/gufolabs/gufo-ping/pkg/ping/proto"
	"github.com/gufolabs/gufo-ping/pkg/state"
)

var (
	ErrNoFreeID  = errors.New("no free identifier")
	ErrUnknownID = errors.New("identifier is not allocated")
	ErrCancelled = errors.New("probe cancelled")
)

// Waiter states
const (
	stateSent uint32 = iota
	stateDone
)

// Key names an outstanding probe. DGRAM sockets get a kernel-assigned
// identifier the sender never learns, so DGRAM waiters are keyed by
// sequence alone (ID left zero) and disambiguated by payload pattern.
type Key struct {
	ID  uint16
	Seq uint16
}

// Verdict is the terminal outcome of a single probe.
type Verdict struct {
	Received bool
	RTT      time.Duration
	Err      error
}

// Waiter is a pending result slot for one echo request.
type Waiter struct {
	Key  Key
	Dest netip.Addr

	dgram   bool
	ownerID uint16
	pattern []byte
	sentAt  uint64
	now     func() uint64

	stm  state.StateMachine
	done chan Verdict
}

// Done returns the fulfillment channel. It delivers exactly one verdict.
func (w *Waiter) Done() <-chan Verdict {
	return w.done
}

// MarkSent records the send timestamp, in the clock domain of the
// owning session. Must be called before the packet hits the wire.
func (w *Waiter) MarkSent(ts uint64) {
	w.sentAt = ts
}

// fulfill delivers the verdict unless somebody else already did.
func (w *Waiter) fulfill(v Verdict) bool {
	if !w.stm.ChangeState(stateSent, stateDone) {
		return false
	}
	w.done <- v
	return true
}

type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond

	waiters map[Key]*Waiter
	// Outstanding waiter count per identifier
	inflight map[uint16]int
	// Next sequence number per identifier
	nextSeq map[uint16]uint16
	// Allocated identifiers; value is false once released but still draining
	ids map[uint16]bool

	watchers map[int]func([]uint16)
	nextWID  int
}

func New() *Registry {
	r := &Registry{
		waiters:  make(map[Key]*Waiter),
		inflight: make(map[uint16]int),
		nextSeq:  make(map[uint16]uint16),
		ids:      make(map[uint16]bool),
		watchers: make(map[int]func([]uint16)),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Default is the process-wide registry. The ICMP identifier space is
// per process, not per session, so all sessions normally share this one.
var Default = New()

// AcquireID claims a free identifier. The identifier stays claimed
// until ReleaseID and until its last waiter drains.
func (r *Registry) AcquireID() (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := uint16(rand.Intn(0x10000))
	for n := 0; n < 0x10000; n++ {
		id := start + uint16(n)
		if _, busy := r.ids[id]; !busy {
			r.ids[id] = true
			r.nextSeq[id] = uint16(rand.Intn(0x10000))
			r.notifyLocked()
			return id, nil
		}
	}
	return 0, ErrNoFreeID
}

// ReleaseID returns an identifier to the pool. If waiters for it are
// still outstanding the identifier is only marked for release and is
// freed when the last of them drains.
func (r *Registry) ReleaseID(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; !ok {
		return
	}
	if r.inflight[id] > 0 {
		r.ids[id] = false
		return
	}
	r.dropIDLocked(id)
}

func (r *Registry) dropIDLocked(id uint16) {
	delete(r.ids, id)
	delete(r.nextSeq, id)
	delete(r.inflight, id)
	r.notifyLocked()
}

// IDs returns all identifiers currently claimed, draining ones included.
func (r *Registry) IDs() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []uint16 {
	out := make([]uint16, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}

// Watch subscribes to identifier set changes. The callback runs with a
// snapshot of the current set and must not call back into the registry.
// Returns an unsubscribe function.
func (r *Registry) Watch(f func(ids []uint16)) func() {
	r.mu.Lock()
	wid := r.nextWID
	r.nextWID++
	r.watchers[wid] = f
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, wid)
		r.mu.Unlock()
	}
}

func (r *Registry) notifyLocked() {
	if len(r.watchers) == 0 {
		return
	}
	ids := r.idsLocked()
	for _, f := range r.watchers {
		f(ids)
	}
}

// Register allocates the next sequence number for id and installs a
// waiter under it. The caller must register before sending, never after.
//
// Sequence numbers wrap at 16 bits; a slot whose previous waiter is
// still outstanding is skipped. With the whole space in flight the call
// blocks until some probe resolves.
func (r *Registry) Register(id uint16, dgram bool, dest netip.Addr, pattern []byte, now func() uint64) (*Waiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if claimed, ok := r.ids[id]; !ok || !claimed {
		return nil, ErrUnknownID
	}

	var key Key
	for {
		found := false
		for n := 0; n < 0x10000; n++ {
			seq := r.nextSeq[id]
			r.nextSeq[id] = seq + 1
			key = keyFor(id, seq, dgram)
			if _, busy := r.waiters[key]; !busy {
				found = true
				break
			}
		}
		if found {
			break
		}
		// Whole sequence space in flight. Wait for a slot to drain.
		r.cond.Wait()
		if claimed, ok := r.ids[id]; !ok || !claimed {
			return nil, ErrUnknownID
		}
	}

	w := &Waiter{
		Key:     key,
		Dest:    dest,
		dgram:   dgram,
		ownerID: id,
		pattern: pattern,
		now:     now,
		done:    make(chan Verdict, 1),
	}
	r.waiters[key] = w
	r.inflight[id]++
	return w, nil
}

func keyFor(id, seq uint16, dgram bool) Key {
	if dgram {
		return Key{ID: 0, Seq: seq}
	}
	return Key{ID: id, Seq: seq}
}

// removeLocked unlinks a waiter and updates identifier bookkeeping.
func (r *Registry) removeLocked(w *Waiter) bool {
	if r.waiters[w.Key] != w {
		return false
	}
	delete(r.waiters, w.Key)

	// DGRAM keys carry a zero identifier; bookkeeping always runs
	// against the identifier claimed at Register time.
	id := w.ownerID
	if n := r.inflight[id]; n > 0 {
		r.inflight[id] = n - 1
		if r.inflight[id] == 0 {
			if claimed, ok := r.ids[id]; ok && !claimed {
				r.dropIDLocked(id)
			}
		}
	}
	r.cond.Broadcast()
	return true
}

// Dispatch routes a decoded echo reply to its waiter. Returns false
// when nothing matched: unknown key, pattern mismatch, duplicate.
// RTT is measured against the payload timestamp using the waiter's own
// clock, falling back to the recorded send time only if the payload
// timestamp is implausible.
func (r *Registry) Dispatch(e *proto.Echo, dgram bool) bool {
	key := keyFor(e.ID, e.Seq, dgram)

	r.mu.Lock()
	w, ok := r.waiters[key]
	if !ok || w.dgram != dgram || !proto.MatchPattern(e.Payload, w.pattern) {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(w)
	r.mu.Unlock()

	now := w.now()
	ts := proto.PayloadTimestamp(e.Payload)
	if ts == 0 || ts > now {
		ts = w.sentAt
	}
	rtt := time.Duration(now - ts)
	if rtt <= 0 {
		rtt = time.Nanosecond
	}
	return w.fulfill(Verdict{Received: true, RTT: rtt})
}

// Cancel removes a waiter and fulfills it with err (nil err means
// timeout: a plain absent result). Returns false if the waiter was
// already resolved; the caller then finds the verdict on Done.
func (r *Registry) Cancel(w *Waiter, err error) bool {
	r.mu.Lock()
	removed := r.removeLocked(w)
	r.mu.Unlock()
	if !removed {
		return false
	}
	return w.fulfill(Verdict{Err: err})
}

// Outstanding reports the number of in-flight waiters for id.
func (r *Registry) Outstanding(id uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[id]
}
