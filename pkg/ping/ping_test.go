package ping

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gufolabs/gufo-ping/pkg/ping/registry"
)

// Tests that need a socket run unprivileged where the kernel allows it
// and skip otherwise, same as running the agent without CAP_NET_RAW.
func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := newSession(cfg, registry.New())
	if err != nil {
		t.Fatalf("session constructor failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPingLocalhost(t *testing.T) {
	s := newTestSession(t, Config{Timeout: 2 * time.Second})
	r, err := s.Ping(context.Background(), "127.0.0.1")
	if err != nil {
		t.Skipf("no usable socket: %v", err)
	}
	if !r.Valid {
		t.Fatalf("no reply from localhost: %+v", r)
	}
	if r.RTT <= 0 || r.RTT > time.Second {
		t.Errorf("implausible localhost rtt %v", r.RTT)
	}
}

func TestPingLocalhostV6(t *testing.T) {
	s := newTestSession(t, Config{Timeout: 2 * time.Second})
	r, err := s.Ping(context.Background(), "::1")
	if err != nil {
		t.Skipf("no usable socket: %v", err)
	}
	if r.Err != nil {
		t.Skipf("IPv6 loopback unavailable: %v", r.Err)
	}
	if !r.Valid {
		t.Errorf("no reply from ::1: %+v", r)
	}
}

func TestPingTimeoutBounds(t *testing.T) {
	const timeout = 500 * time.Millisecond
	s := newTestSession(t, Config{Timeout: timeout})

	start := time.Now()
	// 192.0.2.1 is TEST-NET-1, never answers
	r, err := s.Ping(context.Background(), "192.0.2.1")
	if err != nil {
		t.Skipf("no usable socket: %v", err)
	}
	elapsed := time.Since(start)

	if r.Valid {
		t.Fatalf("TEST-NET answered?")
	}
	if r.Err != nil {
		// Kernel refused to route it: a valid, immediate outcome
		return
	}
	if elapsed < timeout {
		t.Errorf("timed out after %v, before the %v deadline", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("timeout took %v, deadline was %v", elapsed, timeout)
	}
}

func TestIterRTTSeries(t *testing.T) {
	const count = 5
	const interval = 50 * time.Millisecond
	s := newTestSession(t, Config{Timeout: 2 * time.Second, Interval: interval})

	start := time.Now()
	ch, err := s.IterRTT(context.Background(), "127.0.0.1", count)
	if err != nil {
		t.Skipf("no usable socket: %v", err)
	}
	var got, valid int
	for r := range ch {
		got++
		if r.Valid {
			valid++
		}
	}
	elapsed := time.Since(start)

	if got != count {
		t.Errorf("series yielded %d results, want %d", got, count)
	}
	if valid < count-1 {
		t.Errorf("only %d of %d probes answered on loopback", valid, count)
	}
	if elapsed < (count-1)*interval {
		t.Errorf("series finished in %v, cadence demands at least %v", elapsed, (count-1)*interval)
	}
}

func TestIterRTTCancel(t *testing.T) {
	s := newTestSession(t, Config{Timeout: 2 * time.Second, Interval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.IterRTT(ctx, "127.0.0.1", 0)
	if err != nil {
		cancel()
		t.Skipf("no usable socket: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not terminate after cancellation")
	}

	// The registry must drain promptly after the consumer goes away
	deadline := time.Now().Add(time.Second)
	for s.reg.Outstanding(s.id) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d waiters leaked after cancellation", s.reg.Outstanding(s.id))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInvalidAddress(t *testing.T) {
	s := newTestSession(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.Ping(ctx, "definitely not an address"); err == nil {
		t.Errorf("garbage address accepted")
	}
}

func TestFamilyMismatch(t *testing.T) {
	s := newTestSession(t, Config{SrcAddr: mustAddr(t, "127.0.0.1")})
	if _, err := s.Ping(context.Background(), "::1"); !errors.Is(err, ErrFamilyMismatch) {
		t.Errorf("expected ErrFamilyMismatch, got %v", err)
	}
}

func TestClosedSession(t *testing.T) {
	s := newTestSession(t, Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := s.Ping(context.Background(), "127.0.0.1"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestIdentifierReleasedOnClose(t *testing.T) {
	reg := registry.New()
	s, err := newSession(Config{}, reg)
	if err != nil {
		t.Fatalf("session constructor failed: %v", err)
	}
	id := s.id
	s.Close()
	if n := len(reg.IDs()); n != 0 {
		t.Errorf("identifier %d still claimed after Close", id)
	}
}

func TestCollector(t *testing.T) {
	s := newTestSession(t, Config{})
	var _ prometheus.Collector = s

	ch := make(chan prometheus.Metric, 16)
	s.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	if n != 6 {
		t.Errorf("collector emitted %d metrics, want 6", n)
	}
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("bad test address %q", s)
	}
	return a
}
