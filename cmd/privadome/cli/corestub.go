package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/privadome/privadome-api/internal/procbridge"
)

// CoreStub is an in-memory stand-in for the privadome core. It keeps the
// policy state in process and answers every tile with an empty series.
type CoreStub struct {
	mu      sync.Mutex
	network json.RawMessage
	groups  map[string]json.RawMessage
	clients map[string]json.RawMessage
}

// NewCoreStub returns a stub with an empty policy state.
func NewCoreStub() *CoreStub {
	return &CoreStub{
		network: json.RawMessage(`{}`),
		groups:  make(map[string]json.RawMessage),
		clients: make(map[string]json.RawMessage),
	}
}

type stubState struct {
	Network json.RawMessage            `json:"network"`
	Groups  map[string]json.RawMessage `json:"groups"`
	Clients map[string]json.RawMessage `json:"clients"`
}

type stubModule struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

var stubModules = []stubModule{
	{Name: "network", Fields: []string{"blocklists", "safe_search"}},
	{Name: "group", Fields: []string{"name", "blocklists", "schedule"}},
	{Name: "client", Fields: []string{"address", "group", "blocklists"}},
}

var errStubUnknownMethod = errors.New("unknown method")

// Policy serves calls on the policy port.
func (c *CoreStub) Policy(method string, payload json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "read_state":
		c.mu.Lock()
		defer c.mu.Unlock()
		return json.Marshal(stubState{Network: c.network, Groups: c.groups, Clients: c.clients})
	case "get_module_configs":
		return json.Marshal(stubModules)
	case "add_group", "update_group_policy":
		return c.put(c.groups, "name", payload)
	case "add_client", "update_client_policy":
		return c.put(c.clients, "address", payload)
	case "delete_group":
		return c.remove(c.groups, "name", payload)
	case "delete_client":
		return c.remove(c.clients, "address", payload)
	case "update_network_policy":
		if !json.Valid(payload) || len(payload) == 0 {
			return nil, errors.New("network policy must be a JSON document")
		}
		c.mu.Lock()
		c.network = append(json.RawMessage(nil), payload...)
		c.mu.Unlock()
		return json.RawMessage(`{"status":"ok"}`), nil
	default:
		return nil, fmt.Errorf("%w: %s", errStubUnknownMethod, method)
	}
}

// Data serves tile calls on the data port. Every method name is a tile.
func (c *CoreStub) Data(method string, _ json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"tile": method, "points": []any{}})
}

// Groups lists the stored group names.
func (c *CoreStub) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CoreStub) put(into map[string]json.RawMessage, key string, payload json.RawMessage) (json.RawMessage, error) {
	id, err := keyOf(key, payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	into[id] = append(json.RawMessage(nil), payload...)
	c.mu.Unlock()
	return json.RawMessage(`{"status":"ok"}`), nil
}

func (c *CoreStub) remove(from map[string]json.RawMessage, key string, payload json.RawMessage) (json.RawMessage, error) {
	id, err := keyOf(key, payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := from[id]; !ok {
		return nil, fmt.Errorf("%s %q does not exist", key, id)
	}
	delete(from, id)
	return json.RawMessage(`{"status":"ok"}`), nil
}

func keyOf(key string, payload json.RawMessage) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("payload must be a JSON object with %q", key)
	}
	var id string
	if err := json.Unmarshal(doc[key], &id); err != nil || id == "" {
		return "", fmt.Errorf("payload must carry a string %q", key)
	}
	return id, nil
}

// CoreStubOptions defines the flags for the corestub command.
type CoreStubOptions struct {
	PolicyAddr string
	DataAddr   string
	Logger     *slog.Logger
	Stdout     io.Writer
	Stderr     io.Writer
	// Ready, when set, receives the bound addresses once both ports listen.
	Ready func(policy, data net.Addr)
}

// ParseCoreStub reads corestub flags from args.
func ParseCoreStub(args []string) (CoreStubOptions, error) {
	var opts CoreStubOptions
	flags := pflag.NewFlagSet("corestub", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&opts.PolicyAddr, "policy-addr", "127.0.0.1:8077", "listen address for the policy port")
	flags.StringVar(&opts.DataAddr, "data-addr", "127.0.0.1:8090", "listen address for the data port")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

// CoreStubCommand serves an in-memory core on both ports until ctx ends.
func CoreStubCommand(ctx context.Context, opts CoreStubOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	stub := NewCoreStub()

	policyLn, err := net.Listen("tcp", opts.PolicyAddr)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "corestub: listen policy port: %v\n", err)
		return 1
	}
	dataLn, err := net.Listen("tcp", opts.DataAddr)
	if err != nil {
		_ = policyLn.Close()
		_, _ = fmt.Fprintf(opts.Stderr, "corestub: listen data port: %v\n", err)
		return 1
	}

	servers := []struct {
		srv *procbridge.Server
		ln  net.Listener
	}{
		{&procbridge.Server{Handler: stub.Policy, Logger: opts.Logger, ReadTimeout: 5 * time.Second}, policyLn},
		{&procbridge.Server{Handler: stub.Data, Logger: opts.Logger, ReadTimeout: 5 * time.Second}, dataLn},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, s := range servers {
			_ = s.srv.Close()
			_ = s.ln.Close()
		}
		return nil
	})

	_, _ = fmt.Fprintf(opts.Stdout, "core stub listening: policy %s, data %s\n", policyLn.Addr(), dataLn.Addr())
	if opts.Ready != nil {
		opts.Ready(policyLn.Addr(), dataLn.Addr())
	}
	if err := g.Wait(); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "corestub: %v\n", err)
		return 1
	}
	return 0
}
