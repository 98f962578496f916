package multiplexer

import (
	"sync"
	"testing"
)

func TestManyToOneKeepsOrder(t *testing.T) {
	m := NewManyToOne[int]()
	for i := 0; i < 5; i++ {
		if err := m.Send(i); err != nil {
			t.Fatalf("Send failed: %s", err)
		}
	}
	got := m.Drain()
	if len(got) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("Message %d out of order: %d", i, v)
		}
	}
	if m.Len() != 0 {
		t.Errorf("Drain left %d messages behind", m.Len())
	}
}

func TestManyToOneNeverBlocks(t *testing.T) {
	m := NewManyToOne[int]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Send(j)
			}
		}()
	}
	wg.Wait()
	if m.Len() != 800 {
		t.Errorf("Expected 800 pending messages, got %d", m.Len())
	}
	select {
	case <-m.Ready():
	default:
		t.Error("Ready didn't fire after sends")
	}
}

func TestManyToOneClosed(t *testing.T) {
	m := NewManyToOne[string]()
	_ = m.Send("before")
	m.Close()
	m.Close()
	if err := m.Send("after"); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if got := m.Drain(); len(got) != 1 || got[0] != "before" {
		t.Errorf("Expected the message sent before closing, got %v", got)
	}
	// The wakeup queued by the send before closing comes first
	if _, ok := <-m.Ready(); !ok {
		t.Error("Expected the wakeup queued before closing")
	}
	if _, ok := <-m.Ready(); ok {
		t.Error("Ready should be closed")
	}
}

func TestManyToOneClosedEmpty(t *testing.T) {
	m := NewManyToOne[int]()
	m.Close()
	if _, ok := <-m.Ready(); ok {
		t.Error("Ready should be closed")
	}
	if got := m.Drain(); len(got) != 0 {
		t.Errorf("Expected nothing to drain, got %v", got)
	}
}
