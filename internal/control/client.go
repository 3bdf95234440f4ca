package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/utils"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

var (
	// ErrNotStarted is returned by calls made before Start
	ErrNotStarted = errors.New("control client not started")
	// ErrClosed is returned by calls made after Close
	ErrClosed = errors.New("control client closed")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("control client already started")
	// ErrNoEndpoint is returned by Start when the runtime config names
	// neither a socket nor a control port
	ErrNoEndpoint = errors.New("runtime config has no control endpoint")
)

// Options tunes a Client
type Options struct {
	RequestTimeout   time.Duration
	BackoffBaseDelay time.Duration
	BackoffMaxDelay  time.Duration
	// DialOptions are appended to the client's own options
	DialOptions []grpc.DialOption
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = utils.ControlRequestTimeout
	}
	if o.BackoffBaseDelay <= 0 {
		o.BackoffBaseDelay = utils.ControlBackoffBaseDelay
	}
	if o.BackoffMaxDelay <= 0 {
		o.BackoffMaxDelay = utils.ControlBackoffMaxDelay
	}
	return o
}

// Client is the shell side of one worker's control channel. The
// underlying gRPC connection reconnects with exponential backoff on its
// own; the client reports connect and disconnect edges to its observers.
type Client struct {
	opts   Options
	logger *logging.Logger

	mu        sync.Mutex
	conn      *grpc.ClientConn
	target    string
	observers []func(connected bool)
	reported  *bool
	closed    bool
	cancel    context.CancelFunc
	watchDone chan struct{}
}

// NewClient creates an unstarted client
func NewClient(logger *logging.Logger, opts Options) *Client {
	if logger == nil {
		logger = logging.Global()
	}
	return &Client{
		opts:   opts.withDefaults(),
		logger: logger.Component("control"),
	}
}

// Target returns the dial target for a runtime config: the unix socket
// when one is configured, else the loopback control port.
func Target(cfg models.WorkerRuntimeConfig) (string, error) {
	if cfg.SocketPath != "" {
		return "unix://" + cfg.SocketPath, nil
	}
	if cfg.ControlPort > 0 {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.ControlPort)), nil
	}
	return "", ErrNoEndpoint
}

// OnConnection registers fn for every connect/disconnect edge
func (c *Client) OnConnection(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start reads the worker's runtime config from dataDir and begins
// connecting. It does not wait for the worker to be reachable.
func (c *Client) Start(ctx context.Context, dataDir, apiKey string) error {
	cfg, err := workerconfig.ReadRuntimeConfig(dataDir)
	if err != nil {
		return err
	}
	target, err := Target(cfg)
	if err != nil {
		return err
	}
	return c.Dial(ctx, target, apiKey)
}

// Dial begins connecting to an explicit target
func (c *Client) Dial(ctx context.Context, target, apiKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return ErrAlreadyStarted
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  c.opts.BackoffBaseDelay,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   c.opts.BackoffMaxDelay,
			},
			MinConnectTimeout: 2 * time.Second,
		}),
	}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(APIKeyCredentials(apiKey)))
	}
	opts = append(opts, c.opts.DialOptions...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return fmt.Errorf("failed to create control connection: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.target = target
	c.cancel = cancel
	c.watchDone = make(chan struct{})

	conn.Connect()
	go c.watch(watchCtx, conn, c.watchDone)

	c.logger.Debug("Control connection started", "target", target)
	return nil
}

// watch follows the connectivity state machine and reports edges
func (c *Client) watch(ctx context.Context, conn *grpc.ClientConn, done chan struct{}) {
	defer close(done)

	state := conn.GetState()
	for {
		c.observe(state)
		if state == connectivity.Idle {
			conn.Connect()
		}
		if !conn.WaitForStateChange(ctx, state) {
			return
		}
		state = conn.GetState()
		if state == connectivity.Shutdown {
			return
		}
	}
}

// observe maps a connectivity state to an edge and notifies observers
// when it differs from the last one reported
func (c *Client) observe(state connectivity.State) {
	var connected bool
	switch state {
	case connectivity.Ready:
		connected = true
	case connectivity.TransientFailure:
		connected = false
	case connectivity.Idle:
		c.mu.Lock()
		wasConnected := c.reported != nil && *c.reported
		c.mu.Unlock()
		if !wasConnected {
			return
		}
		connected = false
	default:
		return
	}

	c.mu.Lock()
	if c.closed || (c.reported != nil && *c.reported == connected) {
		c.mu.Unlock()
		return
	}
	c.reported = &connected
	observers := append([]func(bool){}, c.observers...)
	target := c.target
	c.mu.Unlock()

	c.logger.Debug("Control connection state changed", "target", target, "connected", connected, "state", state.String())
	for _, fn := range observers {
		fn(connected)
	}
}

// Connected reports the last edge delivered to observers
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reported != nil && *c.reported
}

// Target returns the dial target, empty before Start
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

func (c *Client) current() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotStarted
	}
	return c.conn, nil
}

// invoke performs one unary call bounded by the request timeout
func (c *Client) invoke(ctx context.Context, method string, in proto.Message) (*structpb.Struct, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.logger.Debug("Control call completed", "method", method, "response", protojson.Format(out))
	return out, nil
}

// Status asks the worker for its status
func (c *Client) Status(ctx context.Context) (models.WorkerStatus, error) {
	var st models.WorkerStatus
	out, err := c.invoke(ctx, MethodStatus, &emptypb.Empty{})
	if err != nil {
		return st, err
	}
	err = FromStruct(out, &st)
	return st, err
}

// ListPeers asks the worker for its known peers
func (c *Client) ListPeers(ctx context.Context) ([]models.Peer, error) {
	out, err := c.invoke(ctx, MethodListPeers, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	var list models.PeerList
	if err := FromStruct(out, &list); err != nil {
		return nil, err
	}
	if list.Peers == nil {
		list.Peers = []models.Peer{}
	}
	return list.Peers, nil
}

// SetRuntimeConfig pushes a partial runtime config to the worker
func (c *Client) SetRuntimeConfig(ctx context.Context, patch map[string]interface{}) error {
	in, err := structpb.NewStruct(patch)
	if err != nil {
		return fmt.Errorf("invalid runtime patch: %w", err)
	}
	_, err = c.invoke(ctx, MethodSetRuntimeConfig, in)
	return err
}

// GetRuntimeConfig fetches the worker's live runtime config
func (c *Client) GetRuntimeConfig(ctx context.Context) (models.WorkerRuntimeConfig, error) {
	var cfg models.WorkerRuntimeConfig
	out, err := c.invoke(ctx, MethodGetRuntimeConfig, &emptypb.Empty{})
	if err != nil {
		return cfg, err
	}
	err = FromStruct(out, &cfg)
	return cfg, err
}

// Call invokes a worker-owned method through the generic entry point
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	in, err := structpb.NewStruct(map[string]interface{}{
		"method": method,
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	out, err := c.invoke(ctx, MethodCall, in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Close stops the watcher and the connection. Observers are not told
// about the teardown. Calling Close again is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel, done := c.conn, c.cancel, c.watchDone
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	<-done
	return err
}
