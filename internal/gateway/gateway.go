// Package gateway exposes the session protocol to browsers over socket.io.
// Event names are the protocol message types; every event carries one
// JSON-encoded string, as socket.io clients emit it.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"

	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/protocol"
)

const namespace = "/"

// inbound lists the events a browser may emit.
var inbound = []protocol.MessageType{
	protocol.MsgStartSession,
	protocol.MsgChunk,
	protocol.MsgGap,
	protocol.MsgEndSession,
	protocol.MsgAbortSession,
	protocol.MsgResumeSession,
	protocol.MsgPing,
}

// Gateway bridges socket.io connections to a protocol server.
type Gateway struct {
	io  *socketio.Server
	srv *protocol.Server
	log *logging.Logger

	mu    sync.Mutex
	conns map[string]*protocol.Conn
}

// New creates a gateway. Origins are not restricted; put the gateway
// behind a proxy if that matters.
func New(srv *protocol.Server) *Gateway {
	allowOrigin := func(r *http.Request) bool {
		return true
	}

	g := &Gateway{
		io: socketio.NewServer(&engineio.Options{
			Transports: []transport.Transport{
				&polling.Transport{
					CheckOrigin: allowOrigin,
				},
				&websocket.Transport{
					CheckOrigin: allowOrigin,
				},
			},
		}),
		srv:   srv,
		log:   logging.New("gateway"),
		conns: make(map[string]*protocol.Conn),
	}

	g.io.OnConnect(namespace, func(s socketio.Conn) error {
		g.connect(s)
		return nil
	})
	for _, t := range inbound {
		msgType := t
		g.io.OnEvent(namespace, string(msgType), func(s socketio.Conn, msg string) {
			g.handle(s, msgType, msg)
		})
	}
	g.io.OnError(namespace, func(s socketio.Conn, err error) {
		id := ""
		if s != nil {
			id = s.ID()
		}
		g.log.WithConn(id).Warn("socket_error", nil, err)
	})
	g.io.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		g.disconnect(s, reason)
	})
	return g
}

// peer emits envelopes on a socket, one event per message type.
type peer struct {
	s socketio.Conn
}

func (p peer) Encode(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.s.Emit(string(env.Type), string(data))
	return nil
}

func (g *Gateway) connect(s socketio.Conn) {
	c := g.srv.Open("sio-"+s.ID(), peer{s: s})
	s.SetContext(c.ID())

	g.mu.Lock()
	g.conns[s.ID()] = c
	g.mu.Unlock()
}

func (g *Gateway) disconnect(s socketio.Conn, reason string) {
	g.mu.Lock()
	c, ok := g.conns[s.ID()]
	delete(g.conns, s.ID())
	g.mu.Unlock()

	if ok {
		g.log.WithConn(c.ID()).Info("socket_closed", map[string]interface{}{"reason": reason})
		c.Close()
	}
}

func (g *Gateway) handle(s socketio.Conn, msgType protocol.MessageType, msg string) {
	g.mu.Lock()
	c, ok := g.conns[s.ID()]
	g.mu.Unlock()
	if !ok {
		return
	}

	env := protocol.NewEnvelope(msgType, nil)
	if msg != "" {
		if !json.Valid([]byte(msg)) {
			peer{s: s}.Encode(protocol.Reply(env, protocol.MsgError, &protocol.ErrorPayload{
				Code:    protocol.CodeBadRequest,
				Message: "payload is not JSON",
				For:     msgType,
			}))
			return
		}
		env.Payload = json.RawMessage(msg)
	}
	ctx := logging.WithConnID(context.Background(), c.ID())
	c.Handle(ctx, env)
}

// Connections returns the number of open sockets.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Start runs the socket.io event loop.
func (g *Gateway) Start() {
	logging.SafeGo("gateway", func() {
		if err := g.io.Serve(); err != nil {
			g.log.Error("serve_failed", nil, err)
		}
	})
}

// Close stops the socket.io server.
func (g *Gateway) Close() error {
	return g.io.Close()
}

// Handler serves socket.io under /socket.io/ with permissive CORS.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", g.io)
	return withCORS(mux)
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
