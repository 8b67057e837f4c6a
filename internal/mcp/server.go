package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devcoord/internal/coord"
)

// Server serves coordination tools over MCP.
type Server struct {
	mcp        *mcp.Server
	engine     *coord.Engine
	dispatcher *coord.Dispatcher
	registry   *ToolRegistry
	metrics    *Metrics
	logger     *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	Name          string // default "devcoord"
	Version       string
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider // default: global
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "devcoord",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer registers one tool per engine operation.
func NewServer(cfg *Config, engine *coord.Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	dispatcher, err := coord.NewDispatcher(engine)
	if err != nil {
		return nil, fmt.Errorf("compiling payload schemas: %w", err)
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine:     engine,
		dispatcher: dispatcher,
		registry:   NewToolRegistry(),
		metrics:    NewMetrics(cfg.MeterProvider, cfg.Logger),
		logger:     cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Registry returns the tool registry.
func (s *Server) Registry() *ToolRegistry { return s.registry }

// Run serves on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.registry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}
