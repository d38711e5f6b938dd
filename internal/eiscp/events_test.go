package eiscp

import "testing"

func TestBusEmitMessage(t *testing.T) {
	bus := newBus()

	var generic []Message
	bus.SetOnMessage(func(m Message) { generic = append(generic, m) })

	var pwr []string
	unsub := bus.Subscribe("PWR", func(arg string) { pwr = append(pwr, arg) })

	var mvl []string
	bus.Subscribe("MVL", func(arg string) { mvl = append(mvl, arg) })

	bus.emitMessage(Message{Raw: "PWR01", Code: "PWR", Argument: "01"})
	bus.emitMessage(Message{Raw: "MVL32", Code: "MVL", Argument: "32"})
	bus.emitMessage(Message{Raw: "SLI10", Code: "SLI", Argument: "10"})

	if len(generic) != 3 {
		t.Fatalf("generic handler saw %d messages, want 3", len(generic))
	}
	if len(pwr) != 1 || pwr[0] != "01" {
		t.Errorf("PWR subscriber saw %v, want [01]", pwr)
	}
	if len(mvl) != 1 || mvl[0] != "32" {
		t.Errorf("MVL subscriber saw %v, want [32]", mvl)
	}

	// After unsubscribing, PWR messages no longer arrive.
	unsub()
	unsub() // second call is a no-op
	bus.emitMessage(Message{Raw: "PWR00", Code: "PWR", Argument: "00"})
	if len(pwr) != 1 {
		t.Errorf("PWR subscriber saw %v after unsubscribe, want [01]", pwr)
	}
}

func TestBusMultipleSubscribersPerCode(t *testing.T) {
	bus := newBus()

	var a, b int
	bus.Subscribe("PWR", func(string) { a++ })
	bus.Subscribe("PWR", func(string) { b++ })

	bus.emitMessage(Message{Code: "PWR", Argument: "01"})

	if a != 1 || b != 1 {
		t.Errorf("subscribers saw (%d, %d) messages, want (1, 1)", a, b)
	}
}

func TestBusNilHandlers(t *testing.T) {
	bus := newBus()

	// Emitting with no handlers registered must not panic.
	bus.emitConnect()
	bus.emitClose()
	bus.emitError(ErrNotConnected)
	bus.emitDebug("debug")
	bus.emitMessage(Message{Code: "PWR"})
}
