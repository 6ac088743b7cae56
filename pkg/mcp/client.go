// Package mcp connects remote MCP tool servers to the agent's tool
// registry over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/tool"
)

// Config configures an MCP session.
type Config struct {
	BaseURL string
	Headers map[string]string
	Name    string
	Version string
	Logger  zerolog.Logger
}

// Client is one MCP session. Request ids are not safe to issue
// concurrently, so outgoing requests are serialized: one in-flight call
// per session.
type Client struct {
	mc         *client.Client
	mu         sync.Mutex
	serverName string
	log        zerolog.Logger
}

// Connect starts the transport and performs the initialize handshake.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "saker"
	}

	var opts []transport.StreamableHTTPCOption
	if len(cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
	}

	mc, err := client.NewStreamableHttpClient(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	if err := mc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}

	initResult, err := mc.Initialize(ctx, initReq)
	if err != nil {
		mc.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	cfg.Logger.Info().
		Str("server", initResult.ServerInfo.Name).
		Str("server_version", initResult.ServerInfo.Version).
		Str("url", cfg.BaseURL).
		Msg("MCP session established")

	return &Client{
		mc:         mc,
		serverName: initResult.ServerInfo.Name,
		log:        cfg.Logger,
	}, nil
}

// ServerName returns the name the server reported during initialize.
func (c *Client) ServerName() string {
	return c.serverName
}

// Tools lists every tool the server exposes, following pagination, and
// wraps each as a registry-ready Tool.
func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []tool.Tool
	req := mcp.ListToolsRequest{}
	for {
		result, err := c.mc.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, remote := range result.Tools {
			schema, err := json.Marshal(remote.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: marshal schema: %w", remote.Name, err)
			}
			out = append(out, &remoteTool{
				client: c,
				def: tool.Definition{
					Name:        remote.Name,
					Description: remote.Description,
					Schema:      schema,
				},
			})
		}
		if result.NextCursor == "" {
			break
		}
		req.Params.Cursor = result.NextCursor
	}

	c.log.Debug().Str("server", c.serverName).Int("tools", len(out)).Msg("listed remote tools")
	return out, nil
}

// RegisterTools lists the server's tools and registers each one.
func (c *Client) RegisterTools(ctx context.Context, registry *tool.Registry) (int, error) {
	tools, err := c.Tools(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range tools {
		if err := registry.Register(item); err != nil {
			return 0, fmt.Errorf("register %s: %w", item.Name(), err)
		}
	}
	return len(tools), nil
}

func (c *Client) call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.mc.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}
	return mapResult(result)
}

// Close tears down the transport.
func (c *Client) Close() error {
	return c.mc.Close()
}
