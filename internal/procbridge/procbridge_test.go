package procbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Frame{Status: StatusGoodResponse, Body: []byte(`{"payload":1}`)}))

	raw := buf.Bytes()
	require.Len(t, raw, headerLength+13)
	assert.Equal(t, []byte("pbrg"), raw[0:4])
	assert.Equal(t, []byte{1, 1, 1, 0, 0}, raw[4:9])
	assert.Equal(t, []byte{13, 0, 0, 0}, raw[8:12])

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, StatusGoodResponse, f.Status)
	assert.Equal(t, `{"payload":1}`, string(f.Body))
}

func TestReadFrameRejectsForeignPeers(t *testing.T) {
	header := []byte{'h', 't', 't', 'p', 1, 1, 0, 0, 0, 0, 0, 0}
	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrBadMagic)

	header = []byte{'p', 'b', 'r', 'g', 1, 0, 0, 0, 0, 0, 0, 0}
	_, err = ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = ReadFrame(bytes.NewReader([]byte("pbr")))
	assert.Error(t, err)
}

func TestEncodeRequestOmitsAbsentPayload(t *testing.T) {
	f, err := EncodeRequest("read_state", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRequest, f.Status)
	assert.JSONEq(t, `{"method":"read_state"}`, string(f.Body))

	f, err = EncodeRequest("add_group", json.RawMessage(`{"name":"lab"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"add_group","payload":{"name":"lab"}}`, string(f.Body))
}

func TestDecodeResponse(t *testing.T) {
	out, err := DecodeResponse(Frame{Status: StatusGoodResponse, Body: []byte(`{"payload":{"a":[1,2]}}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(out))

	_, err = DecodeResponse(Frame{Status: StatusBadResponse, Body: []byte(`{"message":"no such group"}`)})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "no such group", remote.Message)

	_, err = DecodeResponse(Frame{Status: StatusRequest, Body: []byte(`{}`)})
	assert.Error(t, err)
}

// startServer runs a Server on a loopback port and returns a client for it.
func startServer(t *testing.T, h HandlerFunc) *Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return &Client{Host: "127.0.0.1", Port: addr.Port, Timeout: 2 * time.Second}
}

func TestClientRequest(t *testing.T) {
	var gotMethod string
	var gotPayload json.RawMessage
	c := startServer(t, func(method string, payload json.RawMessage) (json.RawMessage, error) {
		gotMethod, gotPayload = method, payload
		return json.RawMessage(`{"modules":["dns"]}`), nil
	})

	out, err := c.Request(context.Background(), "update_group_policy", json.RawMessage(`{"group":"g1","allow":true}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"modules":["dns"]}`, string(out))
	assert.Equal(t, "update_group_policy", gotMethod)
	assert.JSONEq(t, `{"group":"g1","allow":true}`, string(gotPayload))
}

func TestClientRequestWithoutPayload(t *testing.T) {
	var gotPayload json.RawMessage
	c := startServer(t, func(method string, payload json.RawMessage) (json.RawMessage, error) {
		gotPayload = payload
		return nil, nil
	})

	out, err := c.Request(context.Background(), "read_state", nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
	assert.Nil(t, gotPayload)
}

func TestClientRemoteError(t *testing.T) {
	c := startServer(t, func(method string, payload json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("unknown method " + method)
	})

	_, err := c.Request(context.Background(), "bogus", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "unknown method bogus", remote.Message)
}

func TestClientRejectsInvalidPayload(t *testing.T) {
	c := &Client{Host: "127.0.0.1", Port: 1}
	_, err := c.Request(context.Background(), "add_group", json.RawMessage(`{broken`))
	assert.Error(t, err)
}

func TestClientUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := &Client{Host: "127.0.0.1", Port: port, Timeout: time.Second}
	_, err = c.Request(context.Background(), "read_state", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}

func TestClientTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	})

	c := &Client{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port, Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err = c.Request(context.Background(), "read_state", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
