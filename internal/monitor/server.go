package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"uartlink/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	// clientSendBuffer must hold a full history replay plus headroom,
	// or observers of a long session lose the top of the scrollback.
	clientSendBuffer = 1280
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // observers connect from file:// pages and localhost UIs
	},
}

// Controller is the slice of the session engine the monitor drives.
type Controller interface {
	Send(cmd string) error
	Login(password string) error
	RetryLogin() error
	Status() session.Info
}

// Config wires a Server to the running session.
type Config struct {
	Controller Controller
	Hub        *session.Hub

	// PasswordHash, when set, gates every WebSocket client behind a
	// session.auth message checked against this bcrypt hash.
	PasswordHash string

	Logger *slog.Logger
}

// Server fans the session event stream out to WebSocket observers and
// accepts console input from them.
type Server struct {
	cfg Config
	log *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*client]bool
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	// authed and subID are touched only from this client's read side.
	authed bool
	subID  string
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		clients: make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return corsMiddleware(mux)
}

// Run serves until the context ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: s.Handler()}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.ListenAndServe() }()
	s.log.Info("monitor listening", "addr", addr, "gated", s.cfg.PasswordHash != "")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := httpSrv.Shutdown(shutCtx)
		s.closeClients()
		return err
	case err := <-errc:
		return err
	}
}

// closeClients drops every connected observer. Shutdown only stops the
// listener; upgraded connections have to be closed by hand.
func (s *Server) closeClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Controller.Status()); err != nil {
		s.log.Error("status encode failed", "error", err)
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		server: s,
		authed: s.cfg.PasswordHash == "",
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	s.log.Info("observer connected", "remote", r.RemoteAddr, "gated", !c.authed)

	go c.writePump()
	if c.authed {
		s.attach(c)
	}
	go c.readPump()
}

// attach replays history to a client and hooks it onto the live feed.
// Stale status events are skipped in favor of one fresh snapshot.
func (s *Server) attach(c *client) {
	id, ch, history := s.cfg.Hub.Subscribe()
	c.subID = id

	for _, ev := range history {
		if ev.Kind == session.EventStatus {
			continue
		}
		if msg, err := s.eventMessage(ev); err == nil {
			s.push(c, msg)
		}
	}
	if msg, err := s.statusMessage(time.Now().UTC()); err == nil {
		s.push(c, msg)
	}

	go func() {
		defer close(c.send)
		for ev := range ch {
			msg, err := s.eventMessage(ev)
			if err != nil {
				continue
			}
			s.push(c, msg)
		}
	}()
}

func (s *Server) eventMessage(ev session.Event) (*Message, error) {
	switch ev.Kind {
	case session.EventStatus:
		return s.statusMessage(ev.Timestamp)
	case session.EventError:
		return NewErrorMessage(ErrTransport, ev.Text)
	default:
		return NewMessage(TypeConsoleLine, LinePayload{
			Kind: ev.Kind.String(),
			Text: ev.Text,
			At:   ev.Timestamp,
		})
	}
}

func (s *Server) statusMessage(at time.Time) (*Message, error) {
	return NewMessage(TypeSessionStatus, StatusPayload{
		Info: s.cfg.Controller.Status(),
		At:   at,
	})
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error", "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	if c.subID != "" {
		// The forward goroutine drains the closing hub channel and
		// then closes c.send itself.
		s.cfg.Hub.Unsubscribe(c.subID)
		return
	}
	close(c.send)
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, ErrInvalidMessage, err.Error())
		return
	}

	if !c.authed {
		s.handleAuth(c, msg)
		return
	}

	switch msg.Type {
	case TypeAuth:
		// Already through the gate.
		if reply, err := NewMessage(TypeAuthResult, AuthResultPayload{OK: true}); err == nil {
			s.push(c, reply)
		}

	case TypeConsoleSend:
		var p SendPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.cfg.Controller.Send(p.Command); err != nil {
			s.sendError(c, ErrSendFailed, err.Error())
		}

	case TypeSessionLogin:
		var p LoginPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.cfg.Controller.Login(p.Password); err != nil {
			s.sendError(c, ErrLoginFailed, err.Error())
		}

	case TypeSessionRetry:
		if err := s.cfg.Controller.RetryLogin(); err != nil {
			s.sendError(c, ErrLoginFailed, err.Error())
		}
	}
}

func (s *Server) handleAuth(c *client, msg *Message) {
	if msg.Type != TypeAuth {
		s.sendError(c, ErrUnauthorized, "authenticate first")
		return
	}

	var p AuthPayload
	json.Unmarshal(msg.Payload, &p)
	ok := CheckPassword(p.Password, s.cfg.PasswordHash)

	if reply, err := NewMessage(TypeAuthResult, AuthResultPayload{OK: ok}); err == nil {
		s.push(c, reply)
	}
	if !ok {
		s.log.Warn("observer auth rejected", "remote", c.conn.RemoteAddr().String())
		return
	}

	c.authed = true
	s.attach(c)
}

func (s *Server) sendError(c *client, code, text string) {
	msg, err := NewErrorMessage(code, text)
	if err != nil {
		return
	}
	s.push(c, msg)
}

// push queues a message for one client, dropping it if the client's
// buffer is full.
func (s *Server) push(c *client, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
