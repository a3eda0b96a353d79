package toolclient

import (
	"context"
	"fmt"
	"time"
)

// Client is a transport-abstract request/response channel to an external tool
// server. Disconnect is safe to call multiple times; Call after Disconnect
// fails with ErrClientClosed.
type Client interface {
	// Connect establishes the underlying transport.
	Connect(ctx context.Context) error

	// Call invokes a method on the tool server and returns its result.
	Call(ctx context.Context, method string, params map[string]interface{}) (interface{}, error)

	// HealthCheck reports whether the server is reachable and responsive.
	HealthCheck(ctx context.Context) bool

	// Disconnect tears down the transport and releases all resources.
	Disconnect() error
}

// TransportKind selects the concrete transport for a tool server.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportStdio TransportKind = "stdio"
)

// ServerRef describes an external tool server an agent depends on.
type ServerRef struct {
	// Name is the agent-local identifier for the server
	Name string `json:"name"`

	// Transport selects the client implementation
	Transport TransportKind `json:"transport"`

	// HTTP holds transport configuration when Transport is "http"
	HTTP *HTTPConfig `json:"http,omitempty"`

	// Stdio holds transport configuration when Transport is "stdio"
	Stdio *StdioConfig `json:"stdio,omitempty"`
}

// Factory constructs clients from server references. Agents use a factory so
// tests can substitute fakes.
type Factory func(ref ServerRef) (Client, error)

// StdioDefaults are the application-level defaults applied to stdio server
// references that do not set their own timeout or framing.
type StdioDefaults struct {
	// RequestTimeout is the default per-request timeout
	RequestTimeout time.Duration

	// Framing is the default wire framing
	Framing Framing
}

// NewClient is the default factory.
func NewClient(ref ServerRef) (Client, error) {
	return newClient(ref, StdioDefaults{})
}

// NewFactory returns a factory that fills stdio server references with the
// given application defaults before constructing clients. Per-server
// configuration always wins over the defaults.
func NewFactory(stdio StdioDefaults) Factory {
	return func(ref ServerRef) (Client, error) {
		return newClient(ref, stdio)
	}
}

func newClient(ref ServerRef, stdio StdioDefaults) (Client, error) {
	switch ref.Transport {
	case TransportHTTP:
		if ref.HTTP == nil {
			return nil, fmt.Errorf("tool server %s: missing http configuration", ref.Name)
		}
		return NewHTTPClient(*ref.HTTP), nil
	case TransportStdio:
		if ref.Stdio == nil {
			return nil, fmt.Errorf("tool server %s: missing stdio configuration", ref.Name)
		}
		cfg := *ref.Stdio
		if cfg.RequestTimeout <= 0 {
			cfg.RequestTimeout = stdio.RequestTimeout
		}
		if cfg.Framing == "" {
			cfg.Framing = stdio.Framing
		}
		return NewStdioClient(cfg), nil
	default:
		return nil, fmt.Errorf("tool server %s: unsupported transport %q", ref.Name, ref.Transport)
	}
}
