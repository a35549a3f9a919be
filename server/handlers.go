package server

import (
	"errors"
	"log"
	"time"

	"privchat/db"
	"privchat/protocol"
)

// timestampLayout is the server-side stamp applied when a client sends
// no timestamp of its own.
const timestampLayout = "03:04 PM"

// dispatch routes one decoded request. It returns true when the
// connection should be closed (logout).
func (s *Server) dispatch(sess *Session, req protocol.Request) bool {
	switch req := req.(type) {
	case protocol.Register:
		s.handleRegister(sess, req)
	case protocol.Login:
		s.handleLogin(sess, req)
	case protocol.GetOnlineUsers:
		s.handleGetOnlineUsers(sess)
	case protocol.SendMessage:
		s.handleSendMessage(sess, req)
	case protocol.ViewUsers:
		s.handleViewUsers(sess)
	case protocol.DeleteUser:
		s.handleDeleteUser(sess, req)
	case protocol.Logout:
		s.handleLogout(sess, req)
		return true
	case protocol.Unknown:
		s.send(sess, protocol.Error("Unknown action"))
	}
	return false
}

// send pushes a response to the requesting session. A failed write here
// just means the peer is going away; the read loop will notice.
func (s *Server) send(sess *Session, v interface{}) {
	if err := sess.Send(v); err != nil {
		log.Printf("conn %s: error writing response: %v", sess.ID, err)
	}
}

func (s *Server) handleRegister(sess *Session, req protocol.Register) {
	if req.Phone == "" || req.Username == "" || req.Password == "" {
		s.send(sess, protocol.Error("Missing registration fields"))
		return
	}

	err := s.db.CreateAccount(req.Country, req.Phone, req.Username, req.Password)
	if errors.Is(err, db.ErrDuplicate) {
		s.send(sess, protocol.Error("Username or phone already exists"))
		return
	}
	if err != nil {
		log.Printf("conn %s: register error: %v", sess.ID, err)
		s.send(sess, protocol.Error("Internal error"))
		return
	}

	s.send(sess, protocol.Success("Registered successfully"))
}

func (s *Server) handleLogin(sess *Session, req protocol.Login) {
	if req.Identifier == "" || req.Password == "" {
		s.send(sess, protocol.Error("Missing credentials"))
		return
	}

	username, ok, err := s.db.VerifyAccount(req.Identifier, req.Password)
	if err != nil {
		log.Printf("conn %s: login error: %v", sess.ID, err)
		s.send(sess, protocol.Error("Internal error"))
		return
	}
	if !ok {
		s.send(sess, protocol.Error("Invalid credentials"))
		return
	}

	// Re-login under a different name releases the old mapping so it
	// cannot linger as a stale delivery target.
	if sess.Login != "" && sess.Login != username {
		s.registry.RemoveIf(sess.Login, sess)
	}

	sess.Login = username
	if prev := s.registry.Put(username, sess); prev != nil {
		// Second login supersedes: the prior connection is force-closed
		// rather than left orphaned as a stale delivery target.
		prev.Close()
		log.Printf("conn %s: login %s supersedes conn %s", sess.ID, username, prev.ID)
	}

	s.send(sess, protocol.LoginSuccess(username))
	s.registry.BroadcastPresence()
	s.replayUndelivered(sess, username)
}

// replayUndelivered pushes queued messages in ascending id order. Only
// messages pushed without error are marked delivered; a failed push
// stops the sequence so a later login retries from that point
// (at-least-once, never lost).
func (s *Server) replayUndelivered(sess *Session, username string) {
	pending, err := s.db.FetchUndelivered(username)
	if err != nil {
		log.Printf("conn %s: error fetching undelivered for %s: %v", sess.ID, username, err)
		return
	}

	var delivered []int64
	for _, m := range pending {
		if err := sess.Send(protocol.NewIncomingMessage(m.Sender, m.Body, m.SentAt)); err != nil {
			log.Printf("conn %s: replay to %s stopped at message %d: %v", sess.ID, username, m.ID, err)
			break
		}
		delivered = append(delivered, m.ID)
	}

	if len(delivered) > 0 {
		if err := s.db.MarkDelivered(delivered); err != nil {
			log.Printf("conn %s: error marking delivered for %s: %v", sess.ID, username, err)
		}
	}
}

func (s *Server) handleGetOnlineUsers(sess *Session) {
	s.send(sess, protocol.NewUserList(s.registry.Snapshot()))
}

func (s *Server) handleSendMessage(sess *Session, req protocol.SendMessage) {
	if req.From == "" || req.To == "" || req.Message == "" {
		s.send(sess, protocol.Error("Missing fields for private message"))
		return
	}

	// The from field is client-supplied and deliberately not rewritten;
	// mismatches are logged so spoofing is at least observable.
	if sess.Login != "" && sess.Login != req.From {
		log.Printf("conn %s: sender %q does not match session login %q", sess.ID, req.From, sess.Login)
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(timestampLayout)
	}

	target, online := s.registry.Lookup(req.To)
	if online {
		err := target.Send(protocol.NewIncomingMessage(req.From, req.Message, timestamp))
		if err == nil {
			s.send(sess, protocol.Success("Delivered"))
			return
		}

		// Stale handle: fall back to the queue and reap it now rather
		// than waiting for the next broadcast.
		log.Printf("conn %s: live forward to %s failed: %v", sess.ID, req.To, err)
		target.Close()
		if s.registry.RemoveIf(req.To, target) {
			s.registry.BroadcastPresence()
		}

		if _, err := s.db.EnqueueMessage(req.From, req.To, req.Message, timestamp); err != nil {
			log.Printf("conn %s: error storing message for %s: %v", sess.ID, req.To, err)
			s.send(sess, protocol.Error("Internal error"))
			return
		}
		s.send(sess, protocol.Success("Stored for later delivery"))
		return
	}

	if _, err := s.db.EnqueueMessage(req.From, req.To, req.Message, timestamp); err != nil {
		log.Printf("conn %s: error storing message for %s: %v", sess.ID, req.To, err)
		s.send(sess, protocol.Error("Internal error"))
		return
	}
	s.send(sess, protocol.Success("Recipient offline — stored"))
}

func (s *Server) handleViewUsers(sess *Session) {
	accounts, err := s.db.ListAccounts()
	if err != nil {
		log.Printf("conn %s: view users error: %v", sess.ID, err)
		s.send(sess, protocol.Error("Internal error"))
		return
	}

	infos := make([]protocol.AccountInfo, 0, len(accounts))
	for _, a := range accounts {
		infos = append(infos, protocol.AccountInfo{
			Country:  a.Country,
			Phone:    a.Phone,
			Username: a.Username,
		})
	}
	s.send(sess, protocol.NewAccountList(infos))
}

func (s *Server) handleDeleteUser(sess *Session, req protocol.DeleteUser) {
	if req.Username == "" {
		s.send(sess, protocol.Error("username required"))
		return
	}

	if err := s.db.DeleteAccount(req.Username); err != nil {
		log.Printf("conn %s: delete user error: %v", sess.ID, err)
		s.send(sess, protocol.Error("Internal error"))
		return
	}

	if target, ok := s.registry.Lookup(req.Username); ok {
		target.Close()
		// RemoveIf so a login racing in after the Lookup keeps its
		// fresh session.
		if s.registry.RemoveIf(req.Username, target) {
			s.registry.BroadcastPresence()
		}
	}

	s.send(sess, protocol.Success("Deleted"))
}

func (s *Server) handleLogout(sess *Session, req protocol.Logout) {
	login := sess.Login
	if login == "" {
		login = req.Username
	}

	if login != "" && s.registry.RemoveIf(login, sess) {
		s.registry.BroadcastPresence()
	}
	sess.Login = ""

	s.send(sess, protocol.Success("Logged out"))
	// Caller closes the connection.
}
