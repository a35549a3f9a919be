package protocol

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRegister(t *testing.T) {
	req, err := Decode([]byte(`{"action":"register","country":"+1","phone":"555","username":"alice","password":"pw"}`))
	require.NoError(t, err)
	assert.Equal(t, Register{Country: "+1", Phone: "555", Username: "alice", Password: "pw"}, req)
}

func TestDecodeLoginIdentifierFallback(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{"identifier key", `{"action":"login","identifier":"alice","password":"pw"}`, "alice"},
		{"phone key", `{"action":"login","phone":"+1555","password":"pw"}`, "+1555"},
		{"username key", `{"action":"login","username":"alice","password":"pw"}`, "alice"},
		{"identifier wins", `{"action":"login","identifier":"a","phone":"b","username":"c","password":"pw"}`, "a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := Decode([]byte(tc.line))
			require.NoError(t, err)
			login, ok := req.(Login)
			require.True(t, ok)
			assert.Equal(t, tc.want, login.Identifier)
			assert.Equal(t, "pw", login.Password)
		})
	}
}

func TestDecodeSendMessage(t *testing.T) {
	req, err := Decode([]byte(`{"action":"send_message","from":"bob","to":"alice","message":"hi","timestamp":"07:05 PM"}`))
	require.NoError(t, err)
	assert.Equal(t, SendMessage{From: "bob", To: "alice", Message: "hi", Timestamp: "07:05 PM"}, req)
}

func TestDecodeUnknownAction(t *testing.T) {
	req, err := Decode([]byte(`{"action":"dance"}`))
	require.NoError(t, err)
	assert.Equal(t, Unknown{Action: "dance"}, req)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"action":`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`plain garbage`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecoderSkipsMalformedAndBlankLines(t *testing.T) {
	input := "garbage\n\n   \n{\"action\":\"view_users\"}\n{\"action\":\"logout\",\"username\":\"alice\"}\n"
	dec := NewDecoder(strings.NewReader(input))

	req, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, ViewUsers{}, req)

	req, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, Logout{Username: "alice"}, req)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderEOF(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	_, err := dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncoderFraming(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	enc := NewEncoder(serverConn, time.Second)

	done := make(chan error, 1)
	go func() {
		done <- enc.Encode(LoginSuccess("alice"))
	}()

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(clientConn).ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.True(t, strings.HasSuffix(line, "\n"))

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Login successful", resp.Message)
	assert.Equal(t, "alice", resp.Username)
}

func TestEncoderConcurrentWritersDoNotInterleave(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	enc := NewEncoder(serverConn, 5*time.Second)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			enc.Encode(NewIncomingMessage("bob", strings.Repeat("x", 100+i), "07:05 PM"))
		}(i)
	}

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	scanner := bufio.NewScanner(clientConn)
	for i := 0; i < writers; i++ {
		require.True(t, scanner.Scan(), "expected line %d", i)
		var msg IncomingMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg), "line %d must be one whole record", i)
		assert.Equal(t, "receive_message", msg.Action)
	}
	wg.Wait()
}

func TestEncoderClosedConnection(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	clientConn.Close()
	serverConn.Close()

	enc := NewEncoder(serverConn, time.Second)
	err := enc.Encode(Success("too late"))
	assert.Error(t, err)
}

func TestPresenceUpdateEmptyListMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(NewPresenceUpdate(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"update_users","users":[]}`, string(data))
}
