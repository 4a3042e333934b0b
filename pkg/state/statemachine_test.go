package state

import (
	"sync"
	"testing"
)

func TestChangeStateSingleWinner(t *testing.T) {
	const workers = 32
	var stm StateMachine
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if stm.ChangeState(0, 1) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
	if stm.GetState() != 1 {
		t.Errorf("unexpected final state %d", stm.GetState())
	}
}

func TestSetGet(t *testing.T) {
	var stm StateMachine
	if stm.GetState() != 0 {
		t.Errorf("zero value should start at state 0")
	}
	stm.SetState(42)
	if stm.GetState() != 42 {
		t.Errorf("SetState did not stick")
	}
}
