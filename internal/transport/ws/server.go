// Package ws exposes scenes to remote sandboxes over a websocket.
//
// Each connection owns one scene, loaded when the socket opens and unloaded
// when it closes. The first frame the server sends is a text frame carrying
// the scene id as JSON. After that the client sends binary frames of the form
// [op u8][body]:
//
//	op 1  send_to_host  body is a wire batch
//	op 2  get_state     body is ignored
//
// Each request gets exactly one binary reply: the op byte followed by the
// bridge's response bytes, or the single byte 0 when the scene produced no
// response (suspended, or an internal failure).
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/scenebridge/internal/bridge"
	"github.com/roach88/scenebridge/internal/scene"
)

// Request ops.
const (
	OpSendToHost byte = 1
	OpGetState   byte = 2

	// OpUnavailable is the reply op when the scene returned no response.
	OpUnavailable byte = 0
)

const (
	writeTimeout = 5 * time.Second
	idleTimeout  = 60 * time.Second
)

// Hello is the first frame sent on a new connection.
type Hello struct {
	SceneID string `json:"scene_id"`
	Name    string `json:"name"`
	Resumed bool   `json:"resumed"`
}

// HostFactory builds the host world for a newly connected scene.
type HostFactory func(name string) bridge.HostWorld

// Server upgrades HTTP requests into scene connections.
type Server struct {
	mgr      *scene.Manager
	newHost  HostFactory
	logger   *slog.Logger
	maxFrame int64

	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxFrameSize caps inbound frames; larger frames close the connection.
func WithMaxFrameSize(n int64) Option {
	return func(s *Server) { s.maxFrame = n }
}

// NewServer creates a server loading scenes into mgr. A nil factory gives
// every scene a bridge.NopHost.
func NewServer(mgr *scene.Manager, newHost HostFactory, opts ...Option) *Server {
	if newHost == nil {
		newHost = func(string) bridge.HostWorld { return bridge.NopHost{} }
	}
	s := &Server{
		mgr:      mgr,
		newHost:  newHost,
		logger:   slog.Default(),
		maxFrame: 16 << 20,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves one scene per websocket. The query parameter "scene" names
// the scene; "resume" restores a journaled scene by id instead of creating
// a new one.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		if s.maxFrame > 0 {
			conn.SetReadLimit(s.maxFrame)
		}

		sc, hello, err := s.open(r.Context(), r)
		if err != nil {
			s.logger.Warn("scene open failed", "remote", r.RemoteAddr, "error", err)
			closeWith(conn, websocket.CloseInternalServerErr, "scene unavailable")
			return
		}
		logger := s.logger.With("scene", sc.ID(), "remote", r.RemoteAddr)
		defer func() {
			if err := s.mgr.Unload(sc.ID()); err != nil {
				logger.Debug("scene unload", "error", err)
			}
			logger.Info("scene disconnected")
		}()

		if err := writeJSON(conn, hello); err != nil {
			return
		}
		logger.Info("scene connected", "name", hello.Name, "resumed", hello.Resumed)

		if err := s.serve(conn, sc); err != nil {
			logger.Debug("connection closed", "error", err)
		}
	}
}

func (s *Server) open(ctx context.Context, r *http.Request) (*scene.Scene, Hello, error) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("scene"))
	if name == "" {
		name = "scene"
	}
	if id := strings.TrimSpace(q.Get("resume")); id != "" {
		sc, err := s.mgr.Restore(ctx, id, s.newHost(name))
		if err != nil {
			return nil, Hello{}, err
		}
		return sc, Hello{SceneID: sc.ID(), Name: sc.Name(), Resumed: true}, nil
	}
	sc, err := s.mgr.Load(ctx, name, s.newHost(name))
	if err != nil {
		return nil, Hello{}, err
	}
	return sc, Hello{SceneID: sc.ID(), Name: name}, nil
}

// serve runs the request/reply loop until the client goes away. Replies are
// written before the next frame is read, so each response buffer is consumed
// before the bridge may reuse it.
func (s *Server) serve(conn *websocket.Conn, sc *scene.Scene) error {
	reply := make([]byte, 0, 4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage || len(frame) == 0 {
			closeWith(conn, websocket.ClosePolicyViolation, "expected binary request")
			return nil
		}

		op, body := frame[0], frame[1:]
		var resp []byte
		switch op {
		case OpSendToHost:
			resp = sc.SendToHost(body)
		case OpGetState:
			resp = sc.GetState()
		default:
			closeWith(conn, websocket.ClosePolicyViolation, "unknown op")
			return nil
		}

		if resp == nil {
			op = OpUnavailable
		}
		reply = append(append(reply[:0], op), resp...)
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
			return err
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
