package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"helios-kvm-balancer/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient client-streams cycle reports to a collector backend. A
// broken stream is reopened once per send before the error surfaces.
type GRPCClient struct {
	mu sync.Mutex

	logger      *slog.Logger
	addr        string
	tlsConfig   *tls.Config
	token       string
	cpuMethod   string
	memMethod   string
	conn        *grpc.ClientConn
	cpuStream   grpc.ClientStream
	memStream   grpc.ClientStream
	dialTimeout time.Duration
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, cpuMethod, memMethod string, logger *slog.Logger) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	return &GRPCClient{
		logger:      logger,
		addr:        addr,
		tlsConfig:   tlsCfg,
		token:       token,
		cpuMethod:   cpuMethod,
		memMethod:   memMethod,
		dialTimeout: 8 * time.Second,
	}
}

func (c *GRPCClient) SendCPUReport(ctx context.Context, report model.CPUCycleReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.cpuStream == nil {
		s, err := c.openStreamLocked(c.cpuMethod)
		if err != nil {
			return err
		}
		c.cpuStream = s
	}
	frame := NewCPUFrame(report)
	if err := c.cpuStream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc cpu report send failed, reopening stream", "error", err)
		s, err2 := c.openStreamLocked(c.cpuMethod)
		if err2 != nil {
			c.cpuStream = nil
			return fmt.Errorf("reopen cpu report stream: %w", err2)
		}
		c.cpuStream = s
		if err2 := c.cpuStream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send cpu report frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) SendMemoryReport(ctx context.Context, report model.MemoryCycleReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	if c.memStream == nil {
		s, err := c.openStreamLocked(c.memMethod)
		if err != nil {
			return err
		}
		c.memStream = s
	}
	frame := NewMemoryFrame(report)
	if err := c.memStream.SendMsg(frame); err != nil {
		c.logger.Warn("grpc memory report send failed, reopening stream", "error", err)
		s, err2 := c.openStreamLocked(c.memMethod)
		if err2 != nil {
			c.memStream = nil
			return fmt.Errorf("reopen memory report stream: %w", err2)
		}
		c.memStream = s
		if err2 := c.memStream.SendMsg(frame); err2 != nil {
			return fmt.Errorf("send memory report frame: %w", err2)
		}
	}
	return nil
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cpuStream != nil {
		_ = c.cpuStream.CloseSend()
		c.cpuStream = nil
	}
	if c.memStream != nil {
		_ = c.memStream.CloseSend()
		c.memStream = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		dialCtx, cancel = context.WithDeadline(context.Background(), dl)
		defer cancel()
	}

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc report stream connected", "addr", c.addr)
	return nil
}

func (c *GRPCClient) openStreamLocked(method string) (grpc.ClientStream, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("grpc conn is nil")
	}
	s, err := c.conn.NewStream(c.decorateContext(), &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return nil, fmt.Errorf("open stream %s: %w", method, err)
	}
	return s, nil
}

// decorateContext builds the long-lived stream context. The per-cycle
// caller context is deliberately not propagated: a stream outlives the
// cycle that opened it.
func (c *GRPCClient) decorateContext() context.Context {
	out := context.Background()
	if c.token != "" {
		out = metadata.AppendToOutgoingContext(out, "authorization", "Bearer "+c.token)
	}
	return out
}

var _ Sink = (*GRPCClient)(nil)
