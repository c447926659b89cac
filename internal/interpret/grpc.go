package interpret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// InterpretMethod is the full gRPC method name served by a remote interpreter.
// Request and response are google.protobuf.Struct values.
const InterpretMethod = "/toolhub.interpret.v1.Interpreter/Interpret"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcConfig holds configuration for the remote interpreter client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults. Used by tests.
	DialOptions []grpc.DialOption
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Grpc delegates interpretation to a remote service.
type Grpc struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpc connects to the remote interpreter and waits until it is ready.
func NewGrpc(cfg GrpcConfig, logger *slog.Logger) (*Grpc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, errors.New("interpreter address cannot be empty")
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to interpreter at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("interpreter at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to remote interpreter", "address", cfg.Address)
	return &Grpc{conn: conn, addr: cfg.Address, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Interpret implements Interpreter.
func (g *Grpc) Interpret(ctx context.Context, instruction string, page PageContext) (Action, error) {
	req, err := structpb.NewStruct(map[string]any{
		"instruction": instruction,
		"pageUrl":     page.URL,
		"pageTitle":   page.Title,
	})
	if err != nil {
		return Action{}, fmt.Errorf("build interpret request: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, InterpretMethod, req, resp); err != nil {
		return Action{}, fmt.Errorf("interpret request failed: %w", err)
	}

	fields := resp.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return Action{}, fmt.Errorf("%w: %s", ErrUninterpretable, msg)
	}
	action := Action{
		Type:      ActionType(fields["type"].GetStringValue()),
		URL:       fields["url"].GetStringValue(),
		Selector:  fields["selector"].GetStringValue(),
		Value:     fields["value"].GetStringValue(),
		Reasoning: fields["reasoning"].GetStringValue(),
	}
	if err := action.Validate(); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrUninterpretable, err)
	}
	return action, nil
}

// Close closes the gRPC connection.
func (g *Grpc) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
