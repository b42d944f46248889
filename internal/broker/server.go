package broker

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TargetQuery is the supervisor-owned view the broker consults to
// validate an upgrade and decide whether to escalate a target from
// typecheck-only to make. Kept as an interface so internal/broker never
// imports internal/supervisor.
type TargetQuery interface {
	// Exists reports whether name is a configured target.
	Exists(name string) bool
	// Enabled reports whether a client may connect for name; a
	// connection for a target that is not enabled gets TargetDisabled.
	Enabled(name string) bool
	// TargetNames lists all configured target names, used as candidates
	// in error responses.
	TargetNames() []string
	// ArtifactStatus reports the target's current Ready-ness and, if
	// Ready, its artifact's compiledTimestamp.
	ArtifactStatus(name string) (ready bool, compiledTimestamp int64)
	// IsQueuedForTypecheckOnly reports whether name is currently only
	// being typechecked because no client had connected for it yet.
	IsQueuedForTypecheckOnly(name string) bool
	// EscalateToMake moves name from typecheck-only to queued-for-make,
	// per spec.md §4.7 step 4.
	EscalateToMake(name string)
}

// Server is the broker's HTTP + WebSocket front door.
type Server struct {
	hub     *Hub
	query   TargetQuery
	version string
	ln      net.Listener
	http    *http.Server

	// OnClientMessage is invoked from readLoop for every well-formed
	// ChangedCompilationMode/FocusedTab/ExitRequested message. The
	// supervisor sets this to feed its scheduler priority tiers and
	// compilation-mode changes.
	OnClientMessage func(c *Connection, msg ClientMessage)
}

// NewServer builds a Server bound to the given TargetQuery and process
// version string. Call Listen to bind a port and Serve to accept
// connections.
func NewServer(query TargetQuery, version string) *Server {
	hub := NewHub()
	return &Server{hub: hub, query: query, version: version}
}

// Target returns the target name a Connection claims, for
// OnClientMessage callers.
func (c *Connection) Target() string { return c.target }

// Hub exposes the broker's Hub for the supervisor to call Broadcast on.
func (s *Server) Hub() *Hub { return s.hub }

// Listen binds the server to preferredPort if free, or a fresh
// ephemeral port otherwise (spec.md §4.7: "the persisted port, or a
// freshly chosen one if that port is taken or first run").
func (s *Server) Listen(preferredPort int) (int, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", preferredPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return 0, fmt.Errorf("broker: listen: %w", err)
		}
	}
	s.ln = ln
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until the listener is closed. Run in a
// goroutine alongside Hub.Run.
func (s *Server) Serve() error {
	return s.http.Serve(s.ln)
}

// Close shuts down the HTTP server and its listener.
func (s *Server) Close() error {
	return s.http.Close()
}

// handleUpgrade implements the validation sequence in spec.md §4.7.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.rejectBadURL(w, r)
		return
	}

	q := r.URL.Query()
	version := q.Get("elmWatchVersion")
	targetName := q.Get("targetName")
	timestampStr := q.Get("elmCompiledTimestamp")
	if version == "" || targetName == "" || timestampStr == "" {
		s.rejectAfterUpgrade(w, r, ErrorParamsDecodeError)
		return
	}
	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		s.rejectAfterUpgrade(w, r, ErrorParamsDecodeError)
		return
	}
	if version != s.version {
		s.rejectAfterUpgrade(w, r, ErrorWrongVersion)
		return
	}
	if !s.query.Exists(targetName) {
		s.rejectAfterUpgrade(w, r, ErrorTargetNotFound)
		return
	}
	if !s.query.Enabled(targetName) {
		s.rejectAfterUpgrade(w, r, ErrorTargetDisabled)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("broker: upgrade failed: %v", err)
		return
	}

	c := &Connection{conn: conn, target: targetName, lastSeenTimestamp: timestamp, send: make(chan ServerMessage, 16)}
	s.hub.registerConn(c)
	go s.pump(c)
	go s.readLoop(c)

	ready, compiledTimestamp := s.query.ArtifactStatus(targetName)
	switch {
	case ready && compiledTimestamp == timestamp:
		s.hub.Send(c, StatusChanged(StatusSuccessfullyCompiled, compiledTimestamp))
	case s.query.IsQueuedForTypecheckOnly(targetName):
		s.query.EscalateToMake(targetName)
		s.hub.Send(c, StatusChanged(StatusWaitingForCompilation, 0))
	default:
		s.hub.Send(c, StatusChanged(StatusConnecting, 0))
	}
}

// rejectBadURL rejects an upgrade attempt on a non-root path before
// upgrading (spec.md §4.7 step 1: "send UnexpectedError{kind:BadUrl}
// and keep the connection open" — implemented as a plain HTTP response
// since no WebSocket frame exists yet to carry it).
func (s *Server) rejectBadURL(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"tag":"StatusChanged","status":"UnexpectedError","unexpectedErrorKind":"BadUrl"}`))
}

// rejectAfterUpgrade upgrades the connection (so it can carry a proper
// JSON envelope) and then immediately sends the tagged error and closes
// it, listing candidate target names.
func (s *Server) rejectAfterUpgrade(w http.ResponseWriter, r *http.Request, kind UnexpectedErrorKind) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.WriteJSON(UnexpectedError(kind, s.query.TargetNames()))
	_ = conn.Close()
}

// pump drains c.send and writes frames, the one goroutine per
// connection allowed to call conn.WriteJSON.
func (s *Server) pump(c *Connection) {
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Printf("broker: write to target %q failed: %v", c.target, err)
			s.hub.unregisterConn(c)
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.Close()
}

// readLoop decodes inbound client messages and dispatches them; unknown
// tags produce an UnexpectedError back to the misbehaving client only,
// never crashing the broker (spec.md §4.7).
func (s *Server) readLoop(c *Connection) {
	defer s.hub.unregisterConn(c)
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Tag {
		case ClientChangedCompilationMode, ClientFocusedTab, ClientExitRequested:
			if s.OnClientMessage != nil {
				s.OnClientMessage(c, msg)
			}
		default:
			s.hub.Send(c, UnexpectedError(ErrorUnknownClientTag, nil))
		}
	}
}
