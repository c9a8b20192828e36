// Package gateway forwards named operations to the privadome core over
// procbridge.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/privadome/privadome-api/internal/procbridge"
)

// Port selects one of the core's two listeners.
type Port int

// Core listeners.
const (
	PortPolicy Port = iota
	PortData
)

func (p Port) String() string {
	switch p {
	case PortPolicy:
		return "policy"
	case PortData:
		return "data"
	default:
		return fmt.Sprintf("port(%d)", int(p))
	}
}

// Call is one forwarding request. A nil Payload sends no argument.
type Call struct {
	Operation string
	Payload   []byte
	Port      Port
}

// Stage names where a forward failed.
type Stage string

// Failure stages.
const (
	StageConfig  Stage = "config"
	StageParse   Stage = "parse"
	StageConnect Stage = "connect"
	StageCall    Stage = "call"
	StageRemote  Stage = "remote"
)

// ForwardingError reports a failed forward. Its message is for logs only;
// HTTP responses carry no detail.
type ForwardingError struct {
	Operation string
	Port      Port
	Stage     Stage
	Err       error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("gateway: forward %s to %s port failed at %s: %v", e.Operation, e.Port, e.Stage, e.Err)
}

func (e *ForwardingError) Unwrap() error {
	return e.Err
}

// Requester performs a single procbridge call.
type Requester interface {
	Request(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error)
}

// Forwarder is the contract handlers depend on.
type Forwarder interface {
	Forward(ctx context.Context, call Call) (json.RawMessage, error)
}

// Config locates the core.
type Config struct {
	Host       string
	PolicyPort int
	DataPort   int
	Timeout    time.Duration
}

// DefaultTimeout bounds a forward when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Gateway forwards calls to the core.
type Gateway struct {
	requesters map[Port]Requester
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithRequester replaces the procbridge client used for port.
func WithRequester(port Port, r Requester) Option {
	return func(g *Gateway) {
		g.requesters[port] = r
	}
}

// WithMetrics records forward outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New builds a Gateway with one procbridge client per port.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{
		requesters: map[Port]Requester{
			PortPolicy: &procbridge.Client{Host: cfg.Host, Port: cfg.PolicyPort, Timeout: timeout},
			PortData:   &procbridge.Client{Host: cfg.Host, Port: cfg.DataPort, Timeout: timeout},
		},
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Forward sends call to the core and returns the core's payload verbatim.
// Every failure is a *ForwardingError. There is no retry.
func (g *Gateway) Forward(ctx context.Context, call Call) (json.RawMessage, error) {
	requester, ok := g.requesters[call.Port]
	if !ok {
		return nil, g.fail(call, StageConfig, errors.New("no client for port"), 0)
	}
	var payload json.RawMessage
	if call.Payload != nil {
		if !json.Valid(call.Payload) {
			return nil, g.fail(call, StageParse, errors.New("payload is not valid JSON"), 0)
		}
		payload = json.RawMessage(call.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	out, err := requester.Request(ctx, call.Operation, payload)
	elapsed := time.Since(start)
	if err != nil {
		return nil, g.fail(call, classify(err), err, elapsed)
	}
	g.metrics.observe(call.Port, "ok", elapsed)
	g.logger.Debug("core call", slog.String("operation", call.Operation), slog.String("port", call.Port.String()), slog.Duration("elapsed", elapsed))
	return out, nil
}

func (g *Gateway) fail(call Call, stage Stage, err error, elapsed time.Duration) error {
	ferr := &ForwardingError{Operation: call.Operation, Port: call.Port, Stage: stage, Err: err}
	g.metrics.observe(call.Port, string(stage), elapsed)
	g.logger.Error("core forward failed",
		slog.String("operation", call.Operation),
		slog.String("port", call.Port.String()),
		slog.String("stage", string(stage)),
		slog.Any("error", err))
	return ferr
}

func classify(err error) Stage {
	var remote *procbridge.RemoteError
	if errors.As(err, &remote) {
		return StageRemote
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return StageConnect
	}
	return StageCall
}

var _ Forwarder = (*Gateway)(nil)
