package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/util"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSTransport dials the daemon's websocket endpoint. Each Connect performs
// one attempt; reconnects are driven by the session client, one per
// disconnected episode.
type WSTransport struct {
	url   string
	token string

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex // serialises all conn writes (requests, oneways, pings)
	closed  bool

	pendingMu sync.Mutex
	pending   map[string]chan *weatherpb.Envelope

	log *logrus.Entry
}

// NewWSTransport creates a transport for the given ws:// URL. A non-empty
// token is presented as a bearer token on the handshake.
func NewWSTransport(url, token string) *WSTransport {
	return &WSTransport{
		url:     url,
		token:   token,
		pending: make(map[string]chan *weatherpb.Envelope),
		log:     logrus.WithField("component", "ws-transport"),
	}
}

// Connect implements Transport. It returns immediately; the dial runs in
// the background and reports through the binding.
func (t *WSTransport) Connect(binding Binding) error {
	go t.dial(binding)
	return nil
}

func (t *WSTransport) dial(binding Binding) {
	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout}
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, _, err := dialer.Dial(t.url, header)
	if err != nil {
		binding.OnDisconnected(fmt.Errorf("dial %s: %w", t.url, err))
		return
	}

	t.mu.Lock()
	if old := t.conn; old != nil {
		old.Close()
	}
	t.conn = conn
	t.closed = false
	t.mu.Unlock()

	t.log.Infof("connected to %s", t.url)

	go t.readPump(conn, binding)
	go t.pingLoop(conn)

	binding.OnConnected(&wsEndpoint{t: t, conn: conn})
}

// readPump reads envelopes until the connection dies, routing responses to
// their pending requests and pushes to the binding.
func (t *WSTransport) readPump(conn *websocket.Conn, binding Binding) {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.teardownConn(conn, err, binding)
			return
		}

		env := &weatherpb.Envelope{}
		if err := json.Unmarshal(data, env); err != nil {
			t.log.Warnf("dropping malformed frame: %v", err)
			continue
		}

		switch env.Type {
		case weatherpb.MethodResponse:
			t.pendingMu.Lock()
			ch, ok := t.pending[env.ID]
			if ok {
				delete(t.pending, env.ID)
			}
			t.pendingMu.Unlock()
			if ok {
				ch <- env
			} else {
				t.log.Debugf("response %s has no pending request", env.ID)
			}
		default:
			binding.OnPush(env)
		}
	}
}

func (t *WSTransport) teardownConn(conn *websocket.Conn, err error, binding Binding) {
	t.mu.Lock()
	intentional := t.closed
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()

	t.failPending(ErrNotConnected)

	if intentional {
		return
	}
	binding.OnServiceDisconnected(err)
}

// failPending unblocks every in-flight round trip with an error response.
func (t *WSTransport) failPending(err error) {
	t.pendingMu.Lock()
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- &weatherpb.Envelope{ID: id, Type: weatherpb.MethodResponse, Error: err.Error()}
	}
	t.pendingMu.Unlock()
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		current := t.conn
		t.mu.Unlock()
		if current != conn {
			return
		}
		t.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (t *WSTransport) writeEnvelope(conn *websocket.Conn, env *weatherpb.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements Transport. The read pump observes the closed flag and
// suppresses the service-disconnected report.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// wsEndpoint is the Endpoint for one live connection. A replaced connection
// invalidates its endpoints: their writes fail and the gate converts that to
// the fallback.
type wsEndpoint struct {
	t    *WSTransport
	conn *websocket.Conn
}

func (ep *wsEndpoint) Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	env, err := weatherpb.NewRequest(util.GenID(), method, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan *weatherpb.Envelope, 1)
	ep.t.pendingMu.Lock()
	ep.t.pending[env.ID] = ch
	ep.t.pendingMu.Unlock()

	if err := ep.t.writeEnvelope(ep.conn, env); err != nil {
		ep.t.pendingMu.Lock()
		delete(ep.t.pending, env.ID)
		ep.t.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		ep.t.pendingMu.Lock()
		delete(ep.t.pending, env.ID)
		ep.t.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (ep *wsEndpoint) Send(method string, payload any) error {
	env, err := weatherpb.NewRequest(util.GenID(), method, payload)
	if err != nil {
		return err
	}
	return ep.t.writeEnvelope(ep.conn, env)
}
