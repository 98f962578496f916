package syncutil

import (
	"sync"
	"testing"
)

func TestMutexZeroValue(t *testing.T) {
	var lock Mutex
	counter := 0
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()
	if counter != 800 {
		t.Errorf("Expected 800 increments, got %d", counter)
	}
}
