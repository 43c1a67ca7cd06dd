// Package transporttest provides an in-memory Transport whose connection
// lifecycle and acknowledgements are driven by the test.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kelsos/taskwatch/internal/transport"
)

// Message is an emitted message captured by Fake.
type Message struct {
	Event   string
	Payload json.RawMessage

	fake *Fake
	ack  transport.AckFunc
}

// Ack delivers payload as the acknowledgement of m. It is a no-op when m
// asked for no ack or was already acked.
func (m *Message) Ack(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal ack: %v", err))
	}
	if ack := m.fake.takeAck(m); ack != nil {
		ack(data, nil)
	}
}

// Fail delivers err instead of an acknowledgement.
func (m *Message) Fail(err error) {
	if ack := m.fake.takeAck(m); ack != nil {
		ack(nil, err)
	}
}

type Fake struct {
	mu        sync.Mutex
	handler   transport.Handler
	connected bool
	connects  int
	closes    int
	messages  []*Message

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// EmitErr, when set, is returned by Emit while connected.
	EmitErr error
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) Connect(_ context.Context, h transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.handler = h
	f.connected = false
	return nil
}

func (f *Fake) Emit(event string, payload any, ack transport.AckFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.EmitErr != nil {
		return f.EmitErr
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.messages = append(f.messages, &Message{Event: event, Payload: data, fake: f, ack: ack})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	f.handler = nil
	f.connected = false
	for _, m := range f.messages {
		m.ack = nil
	}
	return nil
}

// Open completes the pending connection attempt.
func (f *Fake) Open() {
	f.mu.Lock()
	h := f.handler
	f.connected = h != nil
	f.mu.Unlock()

	if h != nil {
		h.HandleOpen()
	}
}

// Drop simulates losing the connection: outstanding acks fail with
// transport.ErrClosed and the handler receives HandleClose(cause).
func (f *Fake) Drop(cause error) {
	f.mu.Lock()
	h := f.handler
	f.handler = nil
	f.connected = false
	var acks []transport.AckFunc
	for _, m := range f.messages {
		if m.ack != nil {
			acks = append(acks, m.ack)
			m.ack = nil
		}
	}
	f.mu.Unlock()

	for _, ack := range acks {
		ack(nil, transport.ErrClosed)
	}
	if h != nil {
		h.HandleClose(cause)
	}
}

// Push delivers an inbound event to the handler.
func (f *Fake) Push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("transporttest: marshal push: %v", err))
	}
	f.PushRaw(event, data)
}

// PushRaw delivers an inbound event with a verbatim payload.
func (f *Fake) PushRaw(event string, data json.RawMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	if h != nil {
		h.HandleEvent(event, data)
	}
}

// Messages returns every message emitted so far, oldest first.
func (f *Fake) Messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.messages...)
}

// MessagesFor returns emitted messages with the given event name.
func (f *Fake) MessagesFor(event string) []*Message {
	var out []*Message
	for _, m := range f.Messages() {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message with the given event name, or nil.
func (f *Fake) Last(event string) *Message {
	msgs := f.MessagesFor(event)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnectErr changes the error returned by subsequent Connect calls.
func (f *Fake) SetConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectErr = err
}

// SetEmitErr changes the error returned by subsequent Emit calls.
func (f *Fake) SetEmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EmitErr = err
}

func (f *Fake) takeAck(m *Message) transport.AckFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	ack := m.ack
	m.ack = nil
	return ack
}

var _ transport.Transport = (*Fake)(nil)
