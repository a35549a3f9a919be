// Package protocol implements the newline-delimited JSON wire format:
// one UTF-8 JSON object per line, with an "action" field naming the
// request or notification type. Each line is parsed exactly once into a
// closed Request variant; everything downstream works on typed values.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrMalformed marks a line that is not a parseable record. Policy is
// to drop such lines and keep the connection open; Decoder.Next applies
// it, Decode only reports it.
var ErrMalformed = errors.New("malformed record")

// Request is the closed set of client requests. The dispatcher
// type-switches over it; Unknown is the only default arm.
type Request interface {
	isRequest()
}

type Register struct {
	Country  string
	Phone    string
	Username string
	Password string
}

type Login struct {
	Identifier string
	Password   string
}

type GetOnlineUsers struct{}

type SendMessage struct {
	From      string
	To        string
	Message   string
	Timestamp string
}

type ViewUsers struct{}

type DeleteUser struct {
	Username string
}

type Logout struct {
	Username string
}

// Unknown carries a syntactically valid record whose action is not
// recognized.
type Unknown struct {
	Action string
}

func (Register) isRequest()       {}
func (Login) isRequest()          {}
func (GetOnlineUsers) isRequest() {}
func (SendMessage) isRequest()    {}
func (ViewUsers) isRequest()      {}
func (DeleteUser) isRequest()     {}
func (Logout) isRequest()         {}
func (Unknown) isRequest()        {}

// rawRequest is the union of all request fields on the wire.
type rawRequest struct {
	Action     string `json:"action"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	Identifier string `json:"identifier"`
	From       string `json:"from"`
	To         string `json:"to"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
}

// Decode parses a single line into a Request.
func Decode(line []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, ErrMalformed
	}

	switch raw.Action {
	case "register":
		return Register{
			Country:  raw.Country,
			Phone:    raw.Phone,
			Username: raw.Username,
			Password: raw.Password,
		}, nil
	case "login":
		// Clients may send the identifier under any of three keys.
		identifier := raw.Identifier
		if identifier == "" {
			identifier = raw.Phone
		}
		if identifier == "" {
			identifier = raw.Username
		}
		return Login{Identifier: identifier, Password: raw.Password}, nil
	case "get_online_users":
		return GetOnlineUsers{}, nil
	case "send_message":
		return SendMessage{
			From:      raw.From,
			To:        raw.To,
			Message:   raw.Message,
			Timestamp: raw.Timestamp,
		}, nil
	case "view_users":
		return ViewUsers{}, nil
	case "delete_user":
		return DeleteUser{Username: raw.Username}, nil
	case "logout":
		return Logout{Username: raw.Username}, nil
	default:
		return Unknown{Action: raw.Action}, nil
	}
}

// Decoder frames a byte stream into Requests.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next well-formed request. Blank and malformed lines
// are skipped. io.EOF means the peer closed the stream cleanly.
func (d *Decoder) Next() (Request, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		req, err := Decode(line)
		if errors.Is(err, ErrMalformed) {
			continue
		}
		return req, err
	}
}

// Encoder serializes records onto a connection, one JSON object plus
// exactly one newline per record. A mutex keeps concurrent writers from
// interleaving partial records on the same connection.
type Encoder struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func NewEncoder(conn net.Conn, writeTimeout time.Duration) *Encoder {
	return &Encoder{conn: conn, timeout: writeTimeout}
}

func (e *Encoder) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timeout > 0 {
		if err := e.conn.SetWriteDeadline(time.Now().Add(e.timeout)); err != nil {
			return err
		}
	}
	_, err = e.conn.Write(data)
	return err
}

// Response is the generic status acknowledgment.
type Response struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

func Success(message string) Response {
	return Response{Status: "success", Message: message}
}

func Error(message string) Response {
	return Response{Status: "error", Message: message}
}

// LoginSuccess carries the canonical username back to the client.
func LoginSuccess(username string) Response {
	return Response{Status: "success", Message: "Login successful", Username: username}
}

// UserList answers get_online_users.
type UserList struct {
	Status string   `json:"status"`
	Users  []string `json:"users"`
}

func NewUserList(users []string) UserList {
	if users == nil {
		users = []string{}
	}
	return UserList{Status: "success", Users: users}
}

// AccountInfo is one row of a view_users response. The secret never
// crosses the wire.
type AccountInfo struct {
	Country  string `json:"country"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
}

type AccountList struct {
	Status string        `json:"status"`
	Users  []AccountInfo `json:"users"`
}

func NewAccountList(users []AccountInfo) AccountList {
	if users == nil {
		users = []AccountInfo{}
	}
	return AccountList{Status: "success", Users: users}
}

// PresenceUpdate is the update_users notification pushed to every live
// connection when presence changes.
type PresenceUpdate struct {
	Action string   `json:"action"`
	Users  []string `json:"users"`
}

func NewPresenceUpdate(users []string) PresenceUpdate {
	if users == nil {
		users = []string{}
	}
	return PresenceUpdate{Action: "update_users", Users: users}
}

// IncomingMessage is the receive_message notification pushed to a
// recipient, both for live forwards and for queued replay.
type IncomingMessage struct {
	Action    string `json:"action"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewIncomingMessage(from, message, timestamp string) IncomingMessage {
	return IncomingMessage{
		Action:    "receive_message",
		From:      from,
		Message:   message,
		Timestamp: timestamp,
	}
}
