package ipc

import (
	"bufio"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePeer the far end of an in-memory transport: what the interpreter
// child would see
type pipePeer struct {
	in  *bufio.Scanner
	out io.Writer
}

func newPeer(t *testing.T, handler Handler) (*Process, *pipePeer) {
	t.Helper()
	hostRead, peerWrite := io.Pipe()
	peerRead, hostWrite := io.Pipe()
	proc := Pipe(hostWrite, hostRead, handler)
	t.Cleanup(func() {
		peerWrite.Close()
		hostWrite.Close()
	})
	return proc, &pipePeer{in: bufio.NewScanner(peerRead), out: peerWrite}
}

func (p *pipePeer) send(t *testing.T, msg Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	_, err = p.out.Write(append(raw, '\n'))
	require.NoError(t, err)
}

func (p *pipePeer) read(t *testing.T) Message {
	t.Helper()
	require.True(t, p.in.Scan(), "peer read: %v", p.in.Err())
	var msg Message
	require.NoError(t, json.Unmarshal(p.in.Bytes(), &msg))
	return msg
}

func TestRequestFromPeerGetsReply(t *testing.T) {
	var gotType string
	var gotText string
	proc, peer := newPeer(t, func(msgType string, data map[string]interface{}) map[string]interface{} {
		gotType = msgType
		gotText, _ = data["text"].(string)
		return map[string]interface{}{}
	})
	defer proc.Shutdown()

	peer.send(t, Message{Type: "api_echo", Data: map[string]interface{}{"text": "hi"}, ID: 7})

	reply := peer.read(t)
	assert.Equal(t, "api_echo", gotType)
	assert.Equal(t, "hi", gotText)
	require.NotNil(t, reply.ResponseTo)
	assert.Equal(t, int64(7), *reply.ResponseTo)
	assert.Empty(t, reply.Type)
	assert.Equal(t, map[string]interface{}{}, reply.Data)
}

func TestNotificationFromPeerGetsNoReply(t *testing.T) {
	served := make(chan string, 1)
	proc, peer := newPeer(t, func(msgType string, data map[string]interface{}) map[string]interface{} {
		served <- msgType
		return map[string]interface{}{"ignored": true}
	})
	defer proc.Shutdown()

	peer.send(t, Message{Type: "api_send", Data: map[string]interface{}{"command": "взять все"}})
	peer.send(t, Message{Type: "api_log", Data: map[string]interface{}{"message": "x"}, ID: 1})

	assert.Equal(t, "api_send", <-served)
	assert.Equal(t, "api_log", <-served)

	// only the id-carrying request produced a line
	reply := peer.read(t)
	require.NotNil(t, reply.ResponseTo)
	assert.Equal(t, int64(1), *reply.ResponseTo)
}

func TestCallRoundTrip(t *testing.T) {
	proc, peer := newPeer(t, nil)
	defer proc.Shutdown()

	go func() {
		req := peer.read(t)
		id := req.ID
		peer.send(t, Message{ResponseTo: &id, Data: map[string]interface{}{"found": true, "result": "ok"}})
	}()

	res, ok := proc.Call("call_function", map[string]interface{}{"function": "on_line"}, DefaultCallTimeout)
	require.True(t, ok)
	assert.Equal(t, true, res["found"])
	assert.Equal(t, "ok", res["result"])
}

func TestCallTimesOutEmpty(t *testing.T) {
	proc, peer := newPeer(t, nil)
	defer proc.Shutdown()

	go peer.read(t) // swallow the request, never answer

	start := time.Now()
	res, ok := proc.Call("call_function", nil, 50*time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, map[string]interface{}{}, res)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLateReplyIsDropped(t *testing.T) {
	proc, peer := newPeer(t, nil)
	defer proc.Shutdown()

	req := make(chan Message, 1)
	go func() { req <- peer.read(t) }()

	_, ok := proc.Call("load_script", nil, 20*time.Millisecond)
	assert.False(t, ok)

	// the reply lands after the call gave up; nothing blocks or panics
	r := <-req
	id := r.ID
	peer.send(t, Message{ResponseTo: &id, Data: map[string]interface{}{"late": true}})

	go func() {
		req2 := peer.read(t)
		id2 := req2.ID
		peer.send(t, Message{ResponseTo: &id2, Data: map[string]interface{}{"fresh": true}})
	}()
	res, ok := proc.Call("call_function", nil, DefaultCallTimeout)
	require.True(t, ok)
	assert.Equal(t, true, res["fresh"])
}

func TestIDsAreMonotonic(t *testing.T) {
	proc, peer := newPeer(t, nil)
	defer proc.Shutdown()

	ids := make(chan int64, 2)
	go func() {
		for i := 0; i < 2; i++ {
			req := peer.read(t)
			ids <- req.ID
			id := req.ID
			peer.send(t, Message{ResponseTo: &id, Data: map[string]interface{}{}})
		}
	}()

	_, ok := proc.Call("a", nil, DefaultCallTimeout)
	require.True(t, ok)
	_, ok = proc.Call("b", nil, DefaultCallTimeout)
	require.True(t, ok)

	first, second := <-ids, <-ids
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestPeerExitFailsPendingCalls(t *testing.T) {
	hostRead, peerWrite := io.Pipe()
	_, hostWrite := io.Pipe()
	proc := Pipe(hostWrite, hostRead, nil)

	done := make(chan struct{})
	go func() {
		res, ok := proc.Call("call_function", nil, 5*time.Second)
		assert.False(t, ok)
		assert.Empty(t, res)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	peerWrite.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pending call did not resolve on peer exit")
	}

	// the transport death is terminal, not a silent Running
	assert.Eventually(t, func() bool {
		return proc.State() == Stopped
	}, time.Second, 10*time.Millisecond)

	proc.Shutdown()
	assert.Equal(t, Stopped, proc.State())
}

func TestCallsAfterShutdownFailFast(t *testing.T) {
	proc, peer := newPeer(t, nil)
	go func() {
		for peer.in.Scan() {
		}
	}()
	proc.Shutdown()

	res, ok := proc.Call("call_function", nil, time.Second)
	assert.False(t, ok)
	assert.Empty(t, res)
	assert.Equal(t, Stopped, proc.State())
}
