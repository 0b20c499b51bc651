package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/util"
)

// Handler is the in-process service side of a loopback link: it receives
// each client frame and returns the response envelope, or nil for oneway
// frames.
type Handler interface {
	Handle(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, env *weatherpb.Envelope) (*weatherpb.Envelope, error) {
	return f(ctx, env)
}

// Loopback is the in-process transport double. By default Connect completes
// synchronously and successfully, so execute flows run to completion without
// blocking. Manual mode holds the attempt open until the test completes or
// fails it, which is how waiter-queue behavior is exercised.
type Loopback struct {
	handler Handler

	// Manual defers connect completion to CompleteConnect/FailConnect.
	Manual bool

	mu       sync.Mutex
	binding  Binding
	closed   bool
	connects int
}

// NewLoopback creates a loopback transport serving frames via handler.
func NewLoopback(handler Handler) *Loopback {
	return &Loopback{handler: handler}
}

// Connect implements Transport.
func (l *Loopback) Connect(binding Binding) error {
	l.mu.Lock()
	l.binding = binding
	l.closed = false
	l.connects++
	manual := l.Manual
	l.mu.Unlock()

	if !manual {
		binding.OnConnected(&loopbackEndpoint{l: l})
	}
	return nil
}

// Close implements Transport.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Connects reports how many connect attempts were issued.
func (l *Loopback) Connects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

// CompleteConnect finishes a manual connect attempt successfully.
func (l *Loopback) CompleteConnect() {
	l.mu.Lock()
	binding := l.binding
	l.mu.Unlock()
	if binding != nil {
		binding.OnConnected(&loopbackEndpoint{l: l})
	}
}

// FailConnect finishes a manual connect attempt with a transport failure.
func (l *Loopback) FailConnect(err error) {
	l.mu.Lock()
	binding := l.binding
	l.mu.Unlock()
	if binding != nil {
		binding.OnDisconnected(err)
	}
}

// DropFromService simulates the remote side hanging up.
func (l *Loopback) DropFromService(err error) {
	l.mu.Lock()
	binding := l.binding
	l.mu.Unlock()
	if binding != nil {
		binding.OnServiceDisconnected(err)
	}
}

// Push delivers a service-originated event to the client side.
func (l *Loopback) Push(env *weatherpb.Envelope) {
	l.mu.Lock()
	binding := l.binding
	closed := l.closed
	l.mu.Unlock()
	if binding != nil && !closed {
		binding.OnPush(env)
	}
}

type loopbackEndpoint struct {
	l *Loopback
}

func (ep *loopbackEndpoint) Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	env, err := ep.request(method, payload)
	if err != nil {
		return nil, err
	}

	type reply struct {
		resp *weatherpb.Envelope
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := ep.l.handler.Handle(ctx, env)
		done <- reply{resp: resp, err: err}
	}()

	// The handler runs off the caller's goroutine so a stalled handler is
	// still bounded by the caller's deadline, like a real round trip.
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp == nil {
			return nil, fmt.Errorf("%s: no response from handler", method)
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("%s: %s", method, r.resp.Error)
		}
		return r.resp.Payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ep *loopbackEndpoint) Send(method string, payload any) error {
	env, err := ep.request(method, payload)
	if err != nil {
		return err
	}
	_, err = ep.l.handler.Handle(context.Background(), env)
	return err
}

func (ep *loopbackEndpoint) request(method string, payload any) (*weatherpb.Envelope, error) {
	ep.l.mu.Lock()
	closed := ep.l.closed
	ep.l.mu.Unlock()
	if closed {
		return nil, ErrNotConnected
	}
	return weatherpb.NewRequest(util.GenID(), method, payload)
}
