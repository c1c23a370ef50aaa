// Package ipc speaks newline-delimited JSON to an interpreter child over
// its stdin and stdout. Either side sends requests; a request carrying an
// id expects exactly one reply tagged with response_to. stderr is drained
// into the log so a wedged child never blocks on a full pipe.
package ipc

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-errors/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/yaoapp/kun/log"
)

var json = jsoniter.Config{UseNumber: true}.Froze()

// Message one line on the wire. Requests carry Type and, when a reply is
// expected, a nonzero ID. Replies carry ResponseTo instead of Type.
type Message struct {
	Type       string                 `json:"type,omitempty"`
	Data       map[string]interface{} `json:"data"`
	ID         int64                  `json:"id,omitempty"`
	ResponseTo *int64                 `json:"response_to,omitempty"`
}

// Handler serves requests arriving from the peer. The returned map becomes
// the reply data when the request carried an id.
type Handler func(msgType string, data map[string]interface{}) map[string]interface{}

// Process lifecycle states
const (
	NotStarted = iota
	Starting
	Running
	ShuttingDown
	Stopped
)

// DefaultCallTimeout the deadline for ordinary synchronous calls
const DefaultCallTimeout = 500 * time.Millisecond

// LoadTimeout the deadline for script loads, which may compile real code
const LoadTimeout = 2000 * time.Millisecond

// Process one JSON-over-pipes peer: an interpreter child, or in tests the
// far end of an in-memory pipe pair.
type Process struct {
	name    string
	handler Handler

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan map[string]interface{}
	nextID    int64

	stateMu sync.Mutex
	state   int

	ready chan struct{}
	done  chan struct{}
}

// NewProcess create an unstarted process
func NewProcess(name string, handler Handler) *Process {
	return &Process{
		name:    name,
		handler: handler,
		pending: map[int64]chan map[string]interface{}{},
		state:   NotStarted,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Pipe create a running process over an existing reader/writer pair,
// bypassing the child launch. The transport behaves exactly as it does
// over a child's pipes.
func Pipe(w io.Writer, r io.Reader, handler Handler) *Process {
	proc := &Process{
		name:    "pipe",
		handler: handler,
		pending: map[int64]chan map[string]interface{}{},
		state:   Running,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	close(proc.ready)
	proc.stdin = nopCloser{w}
	go proc.readLoop(r)
	return proc
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Start launch the interpreter, feed it the bootstrap source on stdin and
// wait for its ready handshake. The bootstrap ends with a sentinel line the
// interpreter's -e/-c stub reads up to before evaluating.
func (p *Process) Start(command string, args []string, bootstrap []byte) error {
	p.stateMu.Lock()
	if p.state != NotStarted {
		p.stateMu.Unlock()
		return errors.Errorf("ipc %s: already started", p.name)
	}
	p.state = Starting
	p.stateMu.Unlock()

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, 0)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, 0)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, 0)
	}

	p.cmd = cmd
	p.stdin = stdin

	go p.drainStderr(stderr)
	go p.readLoop(stdout)

	if _, err := stdin.Write(bootstrap); err != nil {
		p.kill()
		return errors.Wrap(err, 0)
	}

	select {
	case <-p.ready:
	case <-time.After(LoadTimeout):
		p.kill()
		return errors.Errorf("ipc %s: no ready handshake", p.name)
	case <-p.done:
		p.kill()
		return errors.Errorf("ipc %s: interpreter exited during startup", p.name)
	}

	p.stateMu.Lock()
	p.state = Running
	p.stateMu.Unlock()
	return nil
}

// State the current lifecycle state
func (p *Process) State() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// Call send a request and wait for its reply. Timeouts and transport
// failures come back as ok=false with an empty map; the peer staying
// silent is not an error the caller can act on beyond the verdict.
func (p *Process) Call(msgType string, data map[string]interface{}, timeout time.Duration) (map[string]interface{}, bool) {
	if p.State() != Running {
		return map[string]interface{}{}, false
	}

	id := atomic.AddInt64(&p.nextID, 1)
	reply := make(chan map[string]interface{}, 1)

	p.pendingMu.Lock()
	p.pending[id] = reply
	p.pendingMu.Unlock()

	if err := p.write(Message{Type: msgType, Data: data, ID: id}); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		log.With(log.F{"process": p.name, "type": msgType}).Error("ipc write: %s", err.Error())
		return map[string]interface{}{}, false
	}

	select {
	case res := <-reply:
		return res, true
	case <-time.After(timeout):
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
		log.With(log.F{"process": p.name, "type": msgType}).Error("ipc call timed out after %s", timeout)
		return map[string]interface{}{}, false
	case <-p.done:
		return map[string]interface{}{}, false
	}
}

// Notify send a request without expecting a reply
func (p *Process) Notify(msgType string, data map[string]interface{}) {
	if p.State() != Running {
		return
	}
	if err := p.write(Message{Type: msgType, Data: data}); err != nil {
		log.With(log.F{"process": p.name, "type": msgType}).Error("ipc notify: %s", err.Error())
	}
}

// Shutdown ask the peer to exit, then make sure it does. Pending calls
// resolve empty either way. Callable after the transport already died;
// the kill still runs so no child outlives its pipes.
func (p *Process) Shutdown() {
	p.stateMu.Lock()
	if p.state == NotStarted || p.state == ShuttingDown {
		p.stateMu.Unlock()
		return
	}
	alive := p.state == Running
	p.state = ShuttingDown
	p.stateMu.Unlock()

	if alive && p.cmd != nil {
		if err := p.write(Message{Type: "shutdown", Data: map[string]interface{}{}}); err == nil {
			select {
			case <-p.done:
			case <-time.After(time.Second):
			}
		}
	}
	p.kill()

	p.stateMu.Lock()
	p.state = Stopped
	p.stateMu.Unlock()
}

// write marshal one message and push it down the pipe. The mutex keeps
// concurrent callers from interleaving lines.
func (p *Process) write(msg Message) error {
	if msg.Data == nil {
		msg.Data = map[string]interface{}{}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(append(raw, '\n')); err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

// readLoop demultiplex incoming lines until the pipe closes
func (p *Process) readLoop(r io.Reader) {
	defer p.finish()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.With(log.F{"process": p.name}).Error("ipc bad frame: %s", err.Error())
			continue
		}

		switch {
		case msg.ResponseTo != nil:
			p.resolve(*msg.ResponseTo, msg.Data)
		case msg.Type == "ready":
			select {
			case <-p.ready:
			default:
				close(p.ready)
			}
		case msg.Type != "":
			p.serve(msg)
		}
	}
}

// serve answer one request from the peer
func (p *Process) serve(msg Message) {
	var result map[string]interface{}
	if p.handler != nil {
		result = p.handler(msg.Type, msg.Data)
	}
	if msg.ID == 0 {
		return
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	id := msg.ID
	if err := p.write(Message{ResponseTo: &id, Data: result}); err != nil {
		log.With(log.F{"process": p.name, "type": msg.Type}).Error("ipc reply: %s", err.Error())
	}
}

// resolve hand a reply to its waiting call, dropping replies nobody waits
// for (the call may have timed out already)
func (p *Process) resolve(id int64, data map[string]interface{}) {
	p.pendingMu.Lock()
	reply, has := p.pending[id]
	if has {
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()

	if has {
		if data == nil {
			data = map[string]interface{}{}
		}
		reply <- data
	}
}

// finish mark the transport dead and fail every pending call. The pipe
// closing is terminal whatever state we were in, except mid-Shutdown,
// which finishes its own kill path first.
func (p *Process) finish() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}

	p.stateMu.Lock()
	if p.state != ShuttingDown {
		p.state = Stopped
	}
	p.stateMu.Unlock()

	p.pendingMu.Lock()
	for id, reply := range p.pending {
		delete(p.pending, id)
		reply <- map[string]interface{}{}
	}
	p.pendingMu.Unlock()
}

// drainStderr forward the child's stderr into the log
func (p *Process) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.With(log.F{"process": p.name}).Info("%s", scanner.Text())
	}
}

// kill stop the child outright
func (p *Process) kill() {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		go p.cmd.Wait()
	}
}
