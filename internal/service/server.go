package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/skycastd/skycast/internal/auth"
	weatherpb "github.com/skycastd/skycast/internal/proto/weather"
	"github.com/skycastd/skycast/internal/util"
)

const (
	connWriteTimeout = 10 * time.Second
	connReadTimeout  = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Clients are local processes, not browsers.
		return true
	},
}

// Server exposes the service over HTTP: the /ws weather link plus /healthz.
type Server struct {
	router   *mux.Router
	service  *Service
	verifier *auth.Verifier
	httpSrv  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer wires the routes.
func NewServer(svc *Service, verifier *auth.Verifier) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{router: mux.NewRouter(), service: svc, verifier: verifier, ctx: ctx, cancel: cancel}
	s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	return s
}

// Router exposes the handler, for tests served by httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	logrus.Infof("weather service listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server and every client read loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.verifier.VerifyRequest(r); err != nil {
		logrus.Warnf("rejecting ws handshake from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("ws upgrade failed: %v", err)
		return
	}

	id := util.GenIDWith("conn-")
	client := &wsClient{
		id:   id,
		conn: conn,
		log:  logrus.WithField("client", id),
	}
	client.log.Infof("client connected from %s", r.RemoteAddr)

	go s.readLoop(client)
}

// readLoop decodes envelopes from one client and dispatches them. When the
// client goes away it is unregistered so the hub stops delivering to it.
func (s *Server) readLoop(client *wsClient) {
	defer func() {
		s.service.Unregister(client)
		client.conn.Close()
		client.log.Info("client disconnected")
	}()

	client.conn.SetReadDeadline(time.Now().Add(connReadTimeout))
	client.conn.SetPingHandler(func(appData string) error {
		client.conn.SetReadDeadline(time.Now().Add(connReadTimeout))
		return client.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(connWriteTimeout))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				client.log.Debugf("read: %v", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(connReadTimeout))

		env := &weatherpb.Envelope{}
		if err := json.Unmarshal(data, env); err != nil {
			client.log.Warnf("dropping malformed frame: %v", err)
			continue
		}

		resp, err := s.service.Dispatch(s.ctx, client, env)
		if err != nil {
			client.log.Warnf("dispatch %q: %v", env.Type, err)
			continue
		}
		if resp == nil {
			continue
		}
		if err := client.Deliver(resp); err != nil {
			client.log.Warnf("write response: %v", err)
			return
		}
	}
}

// wsClient is one connected client; it doubles as its push callback.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex // responses and hub pushes share the conn
	log     *logrus.Entry
}

// Deliver implements Callback by writing the envelope to the client's conn.
// An error here marks the client dead and gets it pruned from the hub.
func (c *wsClient) Deliver(env *weatherpb.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(connWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
