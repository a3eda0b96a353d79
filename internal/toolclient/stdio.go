package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// stdioTimeoutEnv overrides the default per-request timeout, in
	// milliseconds.
	stdioTimeoutEnv = "AGENTICCODER_MCP_STDIO_TIMEOUT_MS"

	defaultStdioTimeout = 15 * time.Second

	// killGracePeriod is how long Disconnect waits after the termination
	// signal before force-killing the child.
	killGracePeriod = time.Second

	// diagnosticTailBytes bounds each retained output tail; stderr and
	// stray stdout together stay within 24 KiB.
	diagnosticTailBytes = 12 * 1024

	protocolVersion = "2024-11-05"
	clientName      = "agenticcoder"
	clientVersion   = "1.0.0"

	rpcMethodNotFound = -32601
)

// StdioConfig configures a stdio tool client.
type StdioConfig struct {
	// Command is the executable to spawn
	Command string `json:"command" mapstructure:"command"`

	// Args are passed to the command
	Args []string `json:"args,omitempty" mapstructure:"args"`

	// Cwd is the working directory for the child process
	Cwd string `json:"cwd,omitempty" mapstructure:"cwd"`

	// Env entries are appended to the inherited environment
	Env map[string]string `json:"env,omitempty" mapstructure:"env"`

	// Shell runs the command through /bin/sh -c
	Shell bool `json:"shell,omitempty" mapstructure:"shell"`

	// Framing selects the wire framing; Content-Length when empty
	Framing Framing `json:"framing,omitempty" mapstructure:"framing"`

	// RequestTimeout bounds each request; 15s when zero, overridable via
	// AGENTICCODER_MCP_STDIO_TIMEOUT_MS
	RequestTimeout time.Duration `json:"request_timeout,omitempty" mapstructure:"request_timeout"`
}

// StdioClient speaks JSON-RPC 2.0 to a spawned child process over stdio. The
// client owns the process handle, the stdout frame parser, the stderr tail
// and the pending-request table; Disconnect releases all of them and rejects
// every pending request.
type StdioClient struct {
	config  StdioConfig
	framing Framing
	timeout time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	closed    bool
	nextID    int64
	pending   map[int64]chan *rpcMessage
	done      chan struct{}

	writeMu sync.Mutex

	stderrTail *ringBuffer
	strayTail  *ringBuffer
}

// NewStdioClient creates a stdio tool client with defaults applied.
func NewStdioClient(config StdioConfig) *StdioClient {
	framing := config.Framing
	if framing == "" {
		framing = FramingContentLength
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultStdioTimeout
	}
	if raw := os.Getenv(stdioTimeoutEnv); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	return &StdioClient{
		config:     config,
		framing:    framing,
		timeout:    timeout,
		pending:    make(map[int64]chan *rpcMessage),
		done:       make(chan struct{}),
		stderrTail: newRingBuffer(diagnosticTailBytes),
		strayTail:  newRingBuffer(diagnosticTailBytes),
	}
}

// Connect spawns the child process, starts the stdout and stderr readers and
// performs the initialize handshake. Servers that fail or ignore initialize
// are tolerated; the handshake attempt is recorded and the client proceeds.
func (c *StdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	cmd := c.buildCommand()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return &TransportError{Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return &TransportError{Op: "spawn", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return &TransportError{Op: "spawn", Err: err}
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return &TransportError{Op: "spawn", Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.connected = true
	c.mu.Unlock()

	go c.collectStderr(stderr)
	go c.readLoop(stdout)

	c.handshake(ctx)
	return nil
}

func (c *StdioClient) buildCommand() *exec.Cmd {
	var cmd *exec.Cmd
	if c.config.Shell {
		line := c.config.Command
		if len(c.config.Args) > 0 {
			line += " " + strings.Join(c.config.Args, " ")
		}
		cmd = exec.Command("/bin/sh", "-c", line)
	} else {
		cmd = exec.Command(c.config.Command, c.config.Args...)
	}

	if c.config.Cwd != "" {
		cmd.Dir = c.config.Cwd
	}

	cmd.Env = os.Environ()
	for key, value := range c.config.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	configureProcessGroup(cmd)
	return cmd
}

// handshake sends initialize and, on success, notifications/initialized.
// Errors and timeouts are tolerated so that minimal servers still work.
func (c *StdioClient) handshake(ctx context.Context) {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]interface{}{
			"name":    clientName,
			"version": clientVersion,
		},
		"capabilities": map[string]interface{}{},
	}

	_, err := c.roundTrip(ctx, "initialize", params)
	if err != nil {
		log.WithError(err).WithField("command", c.config.Command).
			Debug("Tool server did not complete initialize; proceeding")
		return
	}

	if err := c.writeMessage(newNotification("notifications/initialized", map[string]interface{}{})); err != nil {
		log.WithError(err).Debug("Failed to send initialized notification")
	}
}

// Call invokes a method on the server. The aliases tools/list and tools/call
// are mapped directly; tools/call packs {name, arguments} from params.
func (c *StdioClient) Call(ctx context.Context, method string, params map[string]interface{}) (interface{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.mu.Unlock()

	rpcMethod, rpcParams := mapToolMethod(method, params)
	return c.roundTrip(ctx, rpcMethod, rpcParams)
}

func (c *StdioClient) roundTrip(ctx context.Context, method string, params interface{}) (interface{}, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	removePending := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.writeMessage(newRequest(id, method, params)); err != nil {
		removePending()
		return nil, &TransportError{Op: "write", Err: err}
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		if len(msg.Result) == 0 {
			return nil, nil
		}
		var result interface{}
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			return nil, &TransportError{Op: "decode result", Err: err}
		}
		return result, nil

	case <-timer.C:
		removePending()
		return nil, &TimeoutError{Method: method, Timeout: c.timeout, Diagnostics: c.diagnostics()}

	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()

	case <-c.done:
		removePending()
		return nil, ErrProcessExited
	}
}

func (c *StdioClient) writeMessage(msg *rpcMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return ErrNotConnected
	}

	return writeFrame(stdin, msg, c.framing)
}

func (c *StdioClient) readLoop(stdout io.Reader) {
	parser := newFrameParser(c.handleMessage, func(stray []byte) {
		c.strayTail.Write(stray)
	})

	buf := make([]byte, 8192)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err != nil {
			parser.Flush()
			c.markExited()
			return
		}
	}
}

// handleMessage dispatches a decoded JSON-RPC message. Server-to-client
// requests are answered immediately with an error so the server never stalls
// waiting on a capability this client does not offer.
func (c *StdioClient) handleMessage(raw []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // malformed frames are dropped
	}

	switch {
	case msg.isRequest():
		c.deflectServerRequest(&msg)

	case msg.isResponse():
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}

	case msg.isNotification():
		log.WithField("method", msg.Method).Trace("Tool server notification")
	}
}

func (c *StdioClient) deflectServerRequest(msg *rpcMessage) {
	var reply *rpcMessage
	if strings.HasPrefix(msg.Method, "elicitation/") {
		reply = newErrorResponse(*msg.ID, rpcMethodNotFound,
			fmt.Sprintf("%s not supported by this client", msg.Method))
	} else {
		reply = newErrorResponse(*msg.ID, rpcMethodNotFound, "method not found")
	}

	if err := c.writeMessage(reply); err != nil {
		log.WithError(err).WithField("method", msg.Method).
			Debug("Failed to deflect server request")
	}
}

func (c *StdioClient) collectStderr(stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			c.stderrTail.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// diagnostics formats the retained stderr and stray stdout tails.
func (c *StdioClient) diagnostics() string {
	var parts []string
	if tail := c.stderrTail.String(); tail != "" {
		parts = append(parts, "stderr:\n"+tail)
	}
	if tail := c.strayTail.String(); tail != "" {
		parts = append(parts, "stdout:\n"+tail)
	}
	return strings.Join(parts, "\n")
}

// markExited rejects every pending request and flags the transport down.
func (c *StdioClient) markExited() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	for id := range c.pending {
		delete(c.pending, id)
	}
}

// HealthCheck reports whether the child process is running.
func (c *StdioClient) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.connected || c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Disconnect closes stdin, signals the process group to terminate,
// force-kills after a one second grace period, destroys the pipes and
// rejects every pending request. Idempotent.
func (c *StdioClient) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	stdin := c.stdin
	cmd := c.cmd
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		terminateProcessGroup(cmd)

		exited := make(chan struct{})
		go func() {
			cmd.Wait()
			close(exited)
		}()

		select {
		case <-exited:
		case <-time.After(killGracePeriod):
			killProcessGroup(cmd)
			<-exited
		}
	}

	c.markExited()
	return nil
}

// mapToolMethod resolves the tools/call convenience alias, packing name and
// arguments from the caller's params. Both "arguments" and "args" keys are
// accepted.
func mapToolMethod(method string, params map[string]interface{}) (string, interface{}) {
	if method != "tools/call" {
		if params == nil {
			return method, map[string]interface{}{}
		}
		return method, params
	}

	packed := map[string]interface{}{
		"name":      params["name"],
		"arguments": map[string]interface{}{},
	}
	if args, ok := params["arguments"]; ok {
		packed["arguments"] = args
	} else if args, ok := params["args"]; ok {
		packed["arguments"] = args
	}
	return method, packed
}
