package server

import (
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"privchat/db"
	"privchat/protocol"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	registry *Registry
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxConns     int // 0 = unbounded
}

// Session is the live binding of a connection to at most one
// authenticated username. Login is written only by the goroutine that
// owns the connection; other goroutines reach the session exclusively
// through the registry and its Send/Close methods.
type Session struct {
	ID    string
	Login string
	Conn  net.Conn

	enc       *protocol.Encoder
	closeOnce sync.Once
}

// Send writes one framed record to the peer. Safe for concurrent use;
// records are never interleaved.
func (s *Session) Send(v interface{}) error {
	return s.enc.Encode(v)
}

// Close shuts the underlying connection. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Conn.Close()
	})
}

func New(database *db.DB, config *ServerConfig) *Server {
	return &Server{
		db:       database,
		config:   config,
		registry: NewRegistry(),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Printf("privchat server started on port %d", s.config.Port)

	var slots chan struct{}
	if s.config.MaxConns > 0 {
		slots = make(chan struct{}, s.config.MaxConns)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("Error accepting connection: %v", err)
			continue
		}

		if slots != nil {
			select {
			case slots <- struct{}{}:
			default:
				log.Printf("Connection limit reached (%d), refusing %s", s.config.MaxConns, conn.RemoteAddr())
				conn.Close()
				continue
			}
		}

		go func(conn net.Conn) {
			defer func() {
				if slots != nil {
					<-slots
				}
			}()
			s.handleConnection(conn)
		}(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	sess := &Session{
		ID:   uuid.NewString(),
		Conn: conn,
		enc:  protocol.NewEncoder(conn, s.config.WriteTimeout),
	}
	defer s.teardown(sess)

	remoteAddr := conn.RemoteAddr().String()
	log.Printf("conn %s: new client from %s", sess.ID, remoteAddr)

	dec := protocol.NewDecoder(conn)
	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		req, err := dec.Next()
		if err != nil {
			if err != io.EOF {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					log.Printf("conn %s: idle timeout from %s", sess.ID, remoteAddr)
					return
				}
				if strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("conn %s: read error from %s: %v", sess.ID, remoteAddr, err)
			}
			return
		}

		if closed := s.dispatch(sess, req); closed {
			return
		}
	}
}

// teardown runs once per connection. If the session was still the
// registered one for its login, its departure is broadcast; a session
// superseded by a second login cleans up silently.
func (s *Server) teardown(sess *Session) {
	sess.Close()

	if sess.Login != "" && s.registry.RemoveIf(sess.Login, sess) {
		s.registry.BroadcastPresence()
		log.Printf("conn %s: client %s disconnected", sess.ID, sess.Login)
		return
	}
	log.Printf("conn %s: client disconnected", sess.ID)
}

// GetStats returns server statistics as a formatted string for the
// control socket.
func (s *Server) GetStats() string {
	users := s.registry.Snapshot()

	accounts, err := s.db.CountAccounts()
	if err != nil {
		log.Printf("Stats error counting accounts: %v", err)
	}
	undelivered, err := s.db.CountUndelivered()
	if err != nil {
		log.Printf("Stats error counting undelivered: %v", err)
	}

	return "connections=" + strconv.Itoa(len(users)) +
		",users=" + strings.Join(users, ";") +
		",accounts=" + strconv.Itoa(accounts) +
		",undelivered=" + strconv.Itoa(undelivered)
}

// Shutdown force-closes every live session.
func (s *Server) Shutdown() {
	log.Printf("Shutting down, closing %d sessions", s.registry.Len())
	s.registry.Drain()
}
