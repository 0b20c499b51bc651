// Package session implements the connection/session manager for the link to
// the weather daemon: a small state machine, a FIFO waiter queue that admits
// callers once the link is up, and the execution gate that converts every
// failure below it into the caller's fallback value.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/util"
)

// DefaultWaitTimeout bounds how long a single execute call waits for the
// link to come up before returning its fallback.
const DefaultWaitTimeout = 10 * time.Second

var (
	// ErrNotConnected reports a call attempted without a live link: the
	// wait for the connection elapsed, or the transport has no connection
	// to write to.
	ErrNotConnected = errors.New("session: not connected")

	// ErrDisconnectedByClient reports a call made after an intentional
	// disconnect. The gate does not reconnect for it.
	ErrDisconnectedByClient = errors.New("session: disconnected by client")
)

// StateListener observes state assignments. It is invoked synchronously as
// part of every assignment, including repeated assignments of the same
// value, and must not call back into blocking client methods.
type StateListener func(state State)

// PushHandler receives service-originated events.
type PushHandler func(env *weatherpb.Envelope)

// Call is the body a caller wants to run against the connected endpoint.
type Call[T any] func(ctx context.Context, ep Endpoint) (T, error)

// waiter is one suspended caller: its identity plus the channel its
// resumption is pushed into. The channel is buffered so the state machine
// never blocks on a resume.
type waiter struct {
	id     string
	label  string
	resume chan Endpoint
}

// Client owns the state machine, the endpoint handle and the waiter queue.
// All three are guarded by one mutex; call bodies run outside it.
type Client struct {
	transport Transport

	mu       sync.Mutex
	state    State
	endpoint Endpoint
	waiters  []*waiter

	stateListener StateListener
	pushHandler   PushHandler

	// waitTimeout is DefaultWaitTimeout; tests shrink it.
	waitTimeout time.Duration

	log *logrus.Entry
}

// NewClient creates a session client over the given transport. The client
// starts disconnected; the first execute call triggers the connect.
func NewClient(t Transport) *Client {
	return &Client{
		transport:   t,
		state:       Disconnected,
		waitTimeout: DefaultWaitTimeout,
		log:         logrus.WithField("component", "session"),
	}
}

// OnStateChange installs the state listener. Call before the first execute.
func (c *Client) OnStateChange(fn StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListener = fn
}

// SetPushHandler installs the push handler. Call before the first execute.
func (c *Client) SetPushHandler(fn PushHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushHandler = fn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentEndpoint returns the live endpoint, if any.
func (c *Client) CurrentEndpoint() (Endpoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint, c.endpoint != nil && c.state == Connected
}

// SetState is the only state mutator. Every assignment, including one to
// the current value, logs the transition and synchronously fires the state
// listener; an assignment to Connected additionally drains the waiter queue
// in FIFO order with the current endpoint handle.
func (c *Client) SetState(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(next)
}

// setStateLocked requires c.mu held. The listener runs under the lock, so
// transitions are totally ordered by assignment; listeners must not trigger
// an overlapping transition.
func (c *Client) setStateLocked(next State) {
	prev := c.state
	c.state = next
	c.log.Debugf("state %s -> %s", prev, next)
	if c.stateListener != nil {
		c.stateListener(next)
	}
	if next == Connected {
		for _, w := range c.waiters {
			w.resume <- c.endpoint
		}
		c.waiters = nil
	}
}

// ConnectService transitions to Connecting and asks the transport to
// establish the link. A connect already in flight, or a link already up, is
// not duplicated. The transport reports completion through the Binding
// callbacks.
func (c *Client) ConnectService() {
	c.mu.Lock()
	if c.state == Connecting || c.state == Connected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()
	c.dial()
}

// dial asks the transport for the link. The caller must already have moved
// the state to Connecting.
func (c *Client) dial() {
	if err := c.transport.Connect(c); err != nil {
		c.log.Warnf("connect failed to start: %v", err)
		c.OnDisconnected(err)
	}
}

// DisconnectService intentionally tears the link down. Until a fresh
// ConnectService, execute calls return their fallback immediately.
func (c *Client) DisconnectService() {
	c.mu.Lock()
	c.endpoint = nil
	c.setStateLocked(DisconnectedByClient)
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		c.log.Debugf("transport close: %v", err)
	}
}

// OnConnected implements Binding.
func (c *Client) OnConnected(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == DisconnectedByClient {
		// A late completion after an intentional disconnect must not
		// resurrect the session.
		c.log.Debug("ignoring connect completion after client disconnect")
		return
	}
	c.endpoint = ep
	c.setStateLocked(Connected)
}

// OnDisconnected implements Binding.
func (c *Client) OnDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == DisconnectedByClient {
		return
	}
	if err != nil {
		c.log.Warnf("link down: %v", err)
	}
	c.endpoint = nil
	c.setStateLocked(Disconnected)
}

// OnServiceDisconnected implements Binding.
func (c *Client) OnServiceDisconnected(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == DisconnectedByClient {
		return
	}
	if err != nil {
		c.log.Warnf("service hung up: %v", err)
	}
	c.endpoint = nil
	c.setStateLocked(DisconnectedByService)
}

// OnPush implements Binding, forwarding service pushes to the handler.
func (c *Client) OnPush(env *weatherpb.Envelope) {
	c.mu.Lock()
	handler := c.pushHandler
	c.mu.Unlock()
	if handler != nil {
		handler(env)
	}
}

// ExecuteForResult runs call against the connected endpoint and returns its
// result. Every failure mode degrades to fallback, never to an error:
//
//   - connected: call runs immediately, bounded by the wait timeout when
//     the caller's context carries no deadline of its own;
//   - disconnected by client: fallback immediately, no reconnect;
//   - otherwise: the caller is enqueued as a waiter, a connect is triggered
//     if none is in flight, and the caller suspends until it is resumed with
//     the live endpoint or its wait times out.
//
// Errors and panics from call, and connect failures, are logged under label
// and converted to fallback.
func ExecuteForResult[T any](c *Client, ctx context.Context, label string, fallback T, call Call[T]) T {
	c.mu.Lock()
	timeout := c.waitTimeout
	switch {
	case c.state == Connected && c.endpoint != nil:
		ep := c.endpoint
		c.mu.Unlock()
		return boundedCall(ctx, timeout, label, fallback, ep, call)
	case c.state == DisconnectedByClient:
		c.mu.Unlock()
		c.log.Debugf("%s: %v, returning fallback", label, ErrDisconnectedByClient)
		return fallback
	}

	w := &waiter{
		id:     util.GenID(),
		label:  label,
		resume: make(chan Endpoint, 1),
	}
	c.waiters = append(c.waiters, w)
	// Deciding to connect and entering Connecting must be one atomic step.
	// A second caller in the gap between the decision and the transition
	// would otherwise issue a duplicate connect for the same episode.
	trigger := c.state != Connecting
	if trigger {
		c.setStateLocked(Connecting)
	}
	c.mu.Unlock()

	if trigger {
		c.dial()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ep := <-w.resume:
		return boundedCall(ctx, timeout, label, fallback, ep, call)
	case <-ctx.Done():
		if !c.removeWaiter(w) {
			// Resumed concurrently with cancellation; the endpoint is
			// already in the buffer but the caller asked out.
			<-w.resume
		}
		c.log.Debugf("%s: context cancelled while waiting: %v", label, ctx.Err())
		return fallback
	case <-timer.C:
		if c.removeWaiter(w) {
			c.log.Warnf("%s: %v after waiting %v", label, ErrNotConnected, timeout)
			return fallback
		}
		// Lost the race: the drain already resumed this waiter, so honor
		// the resumption instead of the late timeout.
		return boundedCall(ctx, timeout, label, fallback, <-w.resume, call)
	}
}

// ExecuteOneWay runs call through the same admission protocol with no
// result; the invoking caller never blocks, regardless of transport.
func (c *Client) ExecuteOneWay(label string, call func(ctx context.Context, ep Endpoint) error) {
	go func() {
		ExecuteForResult(c, context.Background(), label, struct{}{},
			func(ctx context.Context, ep Endpoint) (struct{}, error) {
				return struct{}{}, call(ctx, ep)
			})
	}()
}

// removeWaiter reports whether w was still queued. A false return means the
// drain already pushed an endpoint into w.resume.
func (c *Client) removeWaiter(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, queued := range c.waiters {
		if queued == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// boundedCall runs the call body with a timeout-derived deadline when the
// caller's context has none, so an admitted round trip against a stalled
// connection cannot outlive the gate's ceiling.
func boundedCall[T any](ctx context.Context, timeout time.Duration, label string, fallback T, ep Endpoint, call Call[T]) T {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return runCall(ctx, label, fallback, ep, call)
}

// runCall executes the call body outside the client lock, degrading every
// failure to fallback.
func runCall[T any](ctx context.Context, label string, fallback T, ep Endpoint, call Call[T]) (result T) {
	result = fallback
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("%s: panic during call: %v", label, r)
		}
	}()
	v, err := call(ctx, ep)
	if err != nil {
		logrus.Warnf("%s: call failed: %v", label, err)
		return fallback
	}
	return v
}
