package eiscp

import (
	"errors"
	"testing"
	"time"
)

func TestCommandSpacing(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{CommandDelay: 150 * time.Millisecond})

	client.Command("PWR", "01", nil)
	client.Command("MVL", "32", nil)

	if _, err := readFrame(t, server, 2*time.Second); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	first := time.Now()

	if _, err := readFrame(t, server, 2*time.Second); err != nil {
		t.Fatalf("second frame: %v", err)
	}
	gap := time.Since(first)

	// Successive sends must be separated by at least the configured
	// inter-command delay.
	if gap < 140*time.Millisecond {
		t.Errorf("writes separated by %v, want at least ~150ms", gap)
	}
}

func TestPushWhileDisconnected(t *testing.T) {
	client := NewClient(Config{Host: "127.0.0.1", Model: "TX-NR609"})
	defer client.Close()

	errs := make(chan error, 1)
	client.Bus().SetOnError(func(err error) { errs <- err })

	done := make(chan error, 1)
	start := time.Now()
	client.Raw("PWR01", func(err error) { done <- err })

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("callback error = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}

	// The failure is local and immediate; no inter-command delay applies.
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("failure took %v, want immediate", elapsed)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("error event = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error event never emitted")
	}
}

func TestQueueAdvancesPastFailures(t *testing.T) {
	client := NewClient(Config{Host: "127.0.0.1", Model: "TX-NR609"})
	defer client.Close()

	var order []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		client.Raw("PWR01", func(err error) {
			if !errors.Is(err, ErrNotConnected) {
				t.Errorf("item %d error = %v, want ErrNotConnected", i, err)
			}
			order = append(order, i)
			if i == 3 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue stalled on failed items")
	}

	// Callbacks run from the single worker, so order is the push order.
	for i, got := range order {
		if got != i+1 {
			t.Fatalf("completion order = %v, want [1 2 3]", order)
		}
	}
}

func TestQueueOrderWhileConnected(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{CommandDelay: 10 * time.Millisecond})

	want := []string{"PWR01", "MVL32", "SLI10"}
	for _, msg := range want {
		client.Raw(msg, nil)
	}

	for i, wantMsg := range want {
		frame, err := readFrame(t, server, 2*time.Second)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		msg, err := DecodeMessage(frame)
		if err != nil {
			t.Fatalf("frame %d decode: %v", i, err)
		}
		if msg != wantMsg {
			t.Errorf("frame %d = %q, want %q", i, msg, wantMsg)
		}
	}
}

func TestPushAfterClose(t *testing.T) {
	client := NewClient(Config{Host: "127.0.0.1", Model: "TX-NR609"})
	client.Close()

	done := make(chan error, 1)
	client.Raw("PWR01", func(err error) { done <- err })

	select {
	case err := <-done:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("callback error = %v, want ErrNotConnected", err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never invoked after close")
	}
}
