package ping

import "testing"

func TestMonoClock(t *testing.T) {
	ts0 := monoClock()
	ts1 := monoClock()
	ts2 := monoClock()
	if ts0 == 0 {
		t.Errorf("clock reads zero")
	}
	if ts0 > ts1 || ts1 > ts2 {
		t.Errorf("clock went backwards: %d, %d, %d", ts0, ts1, ts2)
	}
}

func TestCoarseClock(t *testing.T) {
	ts0 := coarseClock()
	ts1 := coarseClock()
	ts2 := coarseClock()
	if ts0 > ts1 || ts1 > ts2 {
		t.Errorf("clock went backwards: %d, %d, %d", ts0, ts1, ts2)
	}
}
