package eiscp

import "sync"

// Message is a decoded inbound protocol message as delivered on the
// event bus.
type Message struct {
	// Raw is the full decoded message text (code + argument).
	Raw string

	// Code is the 3-character command code.
	Code string

	// Argument is the remainder of the message after the code.
	Argument string

	// Host, Port and Model identify the session the message arrived on.
	Host  string
	Port  int
	Model string
}

// Bus is the publish/subscribe surface exposed to callers.
//
// It carries the fixed connect/close/error/debug/message topics plus an
// explicit per-command-code subscription registry: rather than emitting
// dynamically named events keyed by arbitrary 3-character codes,
// consumers register against the code they care about and receive the
// argument only.
//
// Callbacks are invoked synchronously from the client's goroutines,
// after the registry lock has been released. They must not block.
type Bus struct {
	mu sync.RWMutex

	onConnect func()
	onClose   func()
	onError   func(error)
	onDebug   func(string)
	onMessage func(Message)

	// subs maps command code to subscriber id to handler.
	subs   map[string]map[int]func(argument string)
	nextID int
}

func newBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(string))}
}

// SetOnConnect sets the handler invoked when a session is established.
func (b *Bus) SetOnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = fn
	b.mu.Unlock()
}

// SetOnClose sets the handler invoked when an established session closes.
func (b *Bus) SetOnClose(fn func()) {
	b.mu.Lock()
	b.onClose = fn
	b.mu.Unlock()
}

// SetOnError sets the handler for transport and send errors. Errors are
// always recovered locally; the handler is informational.
func (b *Bus) SetOnError(fn func(error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

// SetOnDebug sets the handler for non-fatal diagnostics, such as
// malformed inbound payloads being dropped.
func (b *Bus) SetOnDebug(fn func(string)) {
	b.mu.Lock()
	b.onDebug = fn
	b.mu.Unlock()
}

// SetOnMessage sets the handler invoked for every decoded inbound
// message, before per-code subscribers.
func (b *Bus) SetOnMessage(fn func(Message)) {
	b.mu.Lock()
	b.onMessage = fn
	b.mu.Unlock()
}

// Subscribe registers fn for messages carrying the given 3-character
// command code. fn receives the argument only. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(code string, fn func(argument string)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[code] == nil {
		b.subs[code] = make(map[int]func(string))
	}
	b.subs[code][id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if set, ok := b.subs[code]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.subs, code)
			}
		}
		b.mu.Unlock()
	}
}

func (b *Bus) emitConnect() {
	b.mu.RLock()
	fn := b.onConnect
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (b *Bus) emitClose() {
	b.mu.RLock()
	fn := b.onClose
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (b *Bus) emitError(err error) {
	b.mu.RLock()
	fn := b.onError
	b.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (b *Bus) emitDebug(msg string) {
	b.mu.RLock()
	fn := b.onDebug
	b.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// emitMessage delivers the generic message event and then the per-code
// subscriptions. Handlers are copied out under the lock and invoked
// without it, so a handler may subscribe or unsubscribe.
func (b *Bus) emitMessage(m Message) {
	b.mu.RLock()
	generic := b.onMessage
	var handlers []func(string)
	if set, ok := b.subs[m.Code]; ok {
		handlers = make([]func(string), 0, len(set))
		for _, fn := range set {
			handlers = append(handlers, fn)
		}
	}
	b.mu.RUnlock()

	if generic != nil {
		generic(m)
	}
	for _, fn := range handlers {
		fn(m.Argument)
	}
}
