package ping

import (
	"context"
	"net/netip"
	"sync"
	"time"
)

// IterRTT streams probe results towards addr. count limits the series,
// 0 runs until the context is cancelled. The channel closes once the
// series is complete.
//
// Probes are sent on a fixed grid: the k-th leaves at start+k*interval
// no matter how its predecessors fared, so a slow reply never skews the
// cadence. Results are delivered as probes resolve. Cancelling the
// context cancels every in-flight probe of the series.
func (s *Session) IterRTT(ctx context.Context, addr string, count int) (<-chan Result, error) {
	dst, err := s.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	// Open the socket up front: permission problems should fail the
	// call, not poison the stream.
	if _, err := s.socketFor(familyOf(dst)); err != nil {
		return nil, err
	}

	out := make(chan Result)
	go s.iterate(ctx, dst, count, out)
	return out, nil
}

func (s *Session) iterate(ctx context.Context, dst netip.Addr, count int, out chan<- Result) {
	var wg sync.WaitGroup
	defer close(out)
	defer wg.Wait()

	start := time.Now()
	for k := 0; count == 0 || k < count; k++ {
		if k > 0 && s.cfg.Interval > 0 {
			wait := time.Until(start.Add(time.Duration(k) * s.cfg.Interval))
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				case <-s.done.Done():
					timer.Stop()
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done.Done():
			return
		default:
		}

		w, res, err := s.launch(dst)
		if err != nil {
			// Session gone; the stream ends without a result.
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			var r Result
			if w != nil {
				r = s.await(ctx, w)
			} else {
				r = *res
			}
			select {
			case out <- r:
			case <-ctx.Done():
			case <-s.done.Done():
			}
		}()
	}
}
