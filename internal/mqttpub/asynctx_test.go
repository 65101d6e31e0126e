package mqttpub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncTxSendDeliversToWorker(t *testing.T) {
	var mu sync.Mutex
	var got []byte
	done := make(chan struct{}, 1)

	tx := NewAsyncTx(context.Background(), 4, func(p []byte) error {
		mu.Lock()
		got = p
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, Hooks{})
	defer tx.Close()

	if err := tx.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker never delivered the payload")
	}
	mu.Lock()
	defer mu.Unlock()
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestAsyncTxOnErrorFiresWithoutStoppingTheWorker(t *testing.T) {
	var errCount int
	var mu sync.Mutex
	failNext := true

	tx := NewAsyncTx(context.Background(), 4, func(p []byte) error {
		if failNext {
			failNext = false
			return errors.New("broker unreachable")
		}
		return nil
	}, Hooks{OnError: func(error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	}})
	defer tx.Close()

	_ = tx.Send([]byte("first"))
	_ = tx.Send([]byte("second"))
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := errCount
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("OnError was never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAsyncTxOnDropFiresWhenBufferIsFull(t *testing.T) {
	block := make(chan struct{})
	var dropped int
	var mu sync.Mutex

	tx := NewAsyncTx(context.Background(), 1, func(p []byte) error {
		<-block // first send blocks the worker so the buffer fills up
		return nil
	}, Hooks{OnDrop: func() error {
		mu.Lock()
		dropped++
		mu.Unlock()
		return nil
	}})
	defer func() {
		close(block)
		tx.Close()
	}()

	_ = tx.Send([]byte("a")) // picked up by the worker, which then blocks on <-block
	time.Sleep(20 * time.Millisecond)
	_ = tx.Send([]byte("b")) // fills the size-1 buffer
	_ = tx.Send([]byte("c")) // buffer full -> OnDrop

	mu.Lock()
	defer mu.Unlock()
	if dropped == 0 {
		t.Fatalf("expected at least one dropped send once the buffer filled")
	}
}

func TestAsyncTxSendAfterCloseReturnsErrAsyncTxClosed(t *testing.T) {
	tx := NewAsyncTx(context.Background(), 2, func([]byte) error { return nil }, Hooks{})
	tx.Close()
	if err := tx.Send([]byte("late")); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}
