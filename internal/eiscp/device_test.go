package eiscp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"
)

// newTestListener opens a loopback TCP listener standing in for a
// receiver.
func newTestListener(t *testing.T) *net.TCPListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln.(*net.TCPListener)
}

func listenerPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

// acceptOne accepts a single connection or fails the test.
func acceptOne(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	ln.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame reads one complete frame off conn using the length field.
func readFrame(t *testing.T, conn net.Conn, timeout time.Duration) ([]byte, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}
	payloadLen := binary.BigEndian.Uint32(hdr[8:12])
	frame := make([]byte, headerSize+int(payloadLen))
	copy(frame, hdr)
	if _, err := io.ReadFull(conn, frame[headerSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

func newConnectedClient(t *testing.T, ln net.Listener, cfg Config) (*Client, net.Conn) {
	t.Helper()

	cfg.Host = "127.0.0.1"
	cfg.Port = listenerPort(ln)
	if cfg.Model == "" {
		cfg.Model = "TX-NR609"
	}

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client := NewClient(cfg)
	t.Cleanup(func() { client.Close() })
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
		return client, conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
		return nil, nil
	}
}

func TestConnectRejectedWhileConnected(t *testing.T) {
	ln := newTestListener(t)
	client, _ := newConnectedClient(t, ln, Config{})

	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
	if client.State() != StateConnected {
		t.Errorf("state = %v, want connected", client.State())
	}
}

func TestSendEndToEnd(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{CommandDelay: 10 * time.Millisecond})

	done := make(chan error, 1)
	client.Raw("PWR01", func(err error) { done <- err })

	frame, err := readFrame(t, server, 2*time.Second)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}

	// Exactly one transport write whose decoded payload matches after
	// default-marker normalization, with a truthful length field.
	msg, err := DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if msg != "PWR01" {
		t.Errorf("decoded payload = %q, want %q", msg, "PWR01")
	}
	wantPayload := "!1PWR01\r\n"
	if got := binary.BigEndian.Uint32(frame[8:12]); got != uint32(len(wantPayload)) {
		t.Errorf("payload length field = %d, want %d", got, len(wantPayload))
	}
	if got := string(frame[headerSize:]); got != wantPayload {
		t.Errorf("payload = %q, want %q", got, wantPayload)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("send callback error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send callback never invoked")
	}

	// No second write follows.
	if _, err := readFrame(t, server, 200*time.Millisecond); err == nil {
		t.Fatal("unexpected second transport write")
	}
}

func TestInboundDispatch(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{})

	messages := make(chan Message, 4)
	client.Bus().SetOnMessage(func(m Message) { messages <- m })
	args := make(chan string, 4)
	client.Bus().Subscribe("PWR", func(arg string) { args <- arg })

	// Deliver the frame split across two TCP writes; the receive loop
	// must reassemble it.
	frame := EncodeMessage("!1PWR01")
	if _, err := server.Write(frame[:10]); err != nil {
		t.Fatalf("server write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := server.Write(frame[10:]); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case m := <-messages:
		if m.Code != "PWR" || m.Argument != "01" || m.Raw != "PWR01" {
			t.Errorf("message = %+v", m)
		}
		if m.Host != "127.0.0.1" || m.Model != "TX-NR609" {
			t.Errorf("message session fields = %q/%q", m.Host, m.Model)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("generic message event never fired")
	}

	select {
	case arg := <-args:
		if arg != "01" {
			t.Errorf("per-code argument = %q, want %q", arg, "01")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("per-code subscription never fired")
	}
}

func TestMalformedInboundIsDroppedNotFatal(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{})

	debug := make(chan string, 1)
	client.Bus().SetOnDebug(func(msg string) { debug <- msg })
	messages := make(chan Message, 2)
	client.Bus().SetOnMessage(func(m Message) { messages <- m })

	// An envelope carrying an unrecognized stub payload must be dropped
	// or passed through without affecting the session; the real message
	// behind it still arrives.
	if _, err := server.Write(EncodeMessage("!1X")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if _, err := server.Write(EncodeMessage("!1MVL32")); err != nil {
		t.Fatalf("server write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-messages:
			if m.Code == "MVL" {
				if client.State() != StateConnected {
					t.Errorf("state = %v after odd payload, want connected", client.State())
				}
				return
			}
		case <-deadline:
			t.Fatal("session did not survive odd payload")
		}
	}
}

func TestReconnectDisabled(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{
		Reconnect:      false,
		ReconnectDelay: 100 * time.Millisecond,
	})

	closed := make(chan struct{}, 1)
	client.Bus().SetOnClose(func() { closed <- struct{}{} })

	server.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close event never fired")
	}

	// No re-attempt follows.
	ln.SetDeadline(time.Now().Add(400 * time.Millisecond))
	if conn, err := ln.Accept(); err == nil {
		conn.Close()
		t.Fatal("client reconnected with reconnect disabled")
	}
	if client.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", client.State())
	}
}

func TestReconnectEnabled(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{
		Reconnect:      true,
		ReconnectDelay: 100 * time.Millisecond,
	})

	closed := make(chan struct{}, 1)
	client.Bus().SetOnClose(func() { closed <- struct{}{} })
	reconnected := make(chan struct{}, 1)
	client.Bus().SetOnConnect(func() { reconnected <- struct{}{} })

	dropped := time.Now()
	server.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close event never fired")
	}

	conn2 := acceptOne(t, ln)
	defer conn2.Close()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect event never fired after reconnect")
	}

	if elapsed := time.Since(dropped); elapsed < 100*time.Millisecond {
		t.Errorf("reconnected after %v, want at least the 100ms delay", elapsed)
	}
	if client.Stats().ReconnectsTotal != 1 {
		t.Errorf("ReconnectsTotal = %d, want 1", client.Stats().ReconnectsTotal)
	}
}

func TestConnectResolvesModelByTargetedDiscovery(t *testing.T) {
	ln := newTestListener(t)

	// A UDP responder on its own port advertises the TCP listener's
	// port, the way a real receiver answers a targeted probe.
	responder := newTestResponder(t,
		"!1ECNTX-NR609/"+strconv.Itoa(listenerPort(ln))+"/DX/001122334455\x00\x00\x00",
	)

	go func() {
		if conn, err := ln.Accept(); err == nil {
			defer conn.Close()
			time.Sleep(500 * time.Millisecond)
		}
	}()

	client := NewClient(Config{
		Host:             "127.0.0.1",
		Port:             responder.port(),
		DiscoveryTimeout: 2 * time.Second,
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	cfg := client.Config()
	if cfg.Model != "TX-NR609" {
		t.Errorf("resolved model = %q, want TX-NR609", cfg.Model)
	}
	if cfg.Port != listenerPort(ln) {
		t.Errorf("resolved port = %d, want %d", cfg.Port, listenerPort(ln))
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{
		Reconnect:      true,
		ReconnectDelay: 300 * time.Millisecond,
	})

	server.Close()
	time.Sleep(50 * time.Millisecond) // let the close transition arm the timer

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ln.SetDeadline(time.Now().Add(600 * time.Millisecond))
	if conn, err := ln.Accept(); err == nil {
		conn.Close()
		t.Fatal("client reconnected after Close")
	}
}

func TestCloseDiscardsInFlightDial(t *testing.T) {
	ln := newTestListener(t)
	client, server := newConnectedClient(t, ln, Config{
		Reconnect:      true,
		ReconnectDelay: time.Hour, // the test completes the dial itself
	})
	server.Close()

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A dial already in flight when Close ran completes afterwards; it
	// must not resurrect the session.
	local, remote := net.Pipe()
	defer remote.Close()
	if client.establish(local) {
		t.Fatal("session installed after Close() returned")
	}
	if client.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", client.State())
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// The late connection itself must have been closed.
	remote.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := remote.Read(make([]byte, 1)); err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("late connection left open after Close(), read error = %v", err)
	}
}
