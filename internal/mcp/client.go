// Package mcp exposes a Model Context Protocol server as a tools.Surface,
// reached over streamable HTTP or as a stdio subprocess.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aristath/autopilot/internal/tools"
)

// DefaultProtocolVersion is offered at initialize. It is the newest
// revision with initialize-bound sessions, which deployed servers expect.
const DefaultProtocolVersion = "2025-11-25"

// ErrSessionExpired is returned when the server no longer knows the
// session. The client reconnects on its next call.
var ErrSessionExpired = errors.New("mcp session expired")

// Config describes one MCP server. Exactly one of URL or Command is set.
type Config struct {
	Name    string
	URL     string
	Command string
	Args    []string
	Env     []string

	HTTPClient      *http.Client
	Processes       *ProcessManager
	Logger          *slog.Logger
	Version         string // Reported in clientInfo
	ProtocolVersion string // Default DefaultProtocolVersion
}

// Client is an MCP tool surface. It connects lazily and starts a new
// session after the server drops the old one.
type Client struct {
	cfg    Config
	logger *slog.Logger
	client *sdk.Client

	mu      sync.Mutex
	session *sdk.ClientSession
	server  string
	cmd     *exec.Cmd // Running stdio server
}

var _ tools.Surface = (*Client)(nil)

// New validates cfg. No connection is made until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, errors.New("mcp server name is required")
	}
	if (cfg.URL == "") == (cfg.Command == "") {
		return nil, fmt.Errorf("mcp server %q: exactly one of url or command is required", cfg.Name)
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = DefaultProtocolVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp", cfg.Name)
	return &Client{
		cfg:    cfg,
		logger: logger,
		client: sdk.NewClient(&sdk.Implementation{Name: "autopilot", Version: cfg.Version}, &sdk.ClientOptions{Logger: logger}),
	}, nil
}

// Origin is the origin tag put on every descriptor from this server.
func (c *Client) Origin() string {
	return "mcp:" + c.cfg.Name
}

// Connect performs the initialize handshake if there is no session yet.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.session != nil {
		return nil
	}

	transport, cmd, stderr := c.transport()
	session, err := c.client.Connect(ctx, transport, &sdk.ClientSessionOptions{ProtocolVersion: c.cfg.ProtocolVersion})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stderr != nil && stderr.String() != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, stderr.String())
		}
		return tools.Transient("mcp connect", err)
	}
	if cmd != nil {
		c.cfg.Processes.Track(c.cfg.Name, cmd)
	}

	c.session, c.cmd = session, cmd
	c.server = ""
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		c.server = res.ServerInfo.Name
	}
	c.logger.Info("mcp session initialized", "server", c.server, "session", session.ID())
	return nil
}

// transport builds a fresh transport; transports are single use.
func (c *Client) transport() (sdk.Transport, *exec.Cmd, *tailBuffer) {
	if c.cfg.URL != "" {
		return &sdk.StreamableClientTransport{
			Endpoint:             c.cfg.URL,
			HTTPClient:           c.cfg.HTTPClient,
			DisableStandaloneSSE: true,
		}, nil, nil
	}
	cmd := newServerCommand(c.cfg.Command, c.cfg.Args...)
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}
	stderr := &tailBuffer{limit: 8192}
	cmd.Stderr = stderr
	return &sdk.CommandTransport{Command: cmd, TerminateDuration: stopGrace}, cmd, stderr
}

// ServerName returns the name the server reported at initialize.
func (c *Client) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// ListTools returns every tool, across all pages.
func (c *Client) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	session, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	var out []tools.Descriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, c.fail(ctx, "tools/list", session, err)
		}
		out = append(out, descriptor(tool, c.Origin()))
	}
	return out, nil
}

// Invoke calls a tool. A JSON-RPC rejection (unknown tool, bad params)
// comes back as a tool-reported failure; transport failures as transient
// errors.
func (c *Client) Invoke(ctx context.Context, name string, arguments map[string]any) (tools.Result, error) {
	session, err := c.current(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) && !sessionLost(err) {
			return tools.Result{Content: rpcErr.Message, IsError: true}, nil
		}
		return tools.Result{}, c.fail(ctx, "tools/call", session, err)
	}
	return tools.Result{Content: render(res), IsError: res.IsError}, nil
}

// Ping checks the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	session, err := c.current(ctx)
	if err != nil {
		return err
	}
	if err := session.Ping(ctx, nil); err != nil {
		return c.fail(ctx, "ping", session, err)
	}
	return nil
}

// Reconnect drops the current session and initializes a new one.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	c.logger.Info("reconnecting to mcp server")
	return c.connectLocked(ctx)
}

// Close ends the session and stops a stdio server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *Client) current(ctx context.Context) (*sdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.session, nil
}

// dropLocked closes the session. Closing a stdio session closes the
// server's stdin and escalates to signals; whatever the server spawned is
// killed with its process group.
func (c *Client) dropLocked() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	if c.cmd != nil {
		signalGroup(c.cmd, syscall.SIGKILL)
		c.cfg.Processes.Untrack(c.cmd)
	}
	c.session, c.cmd = nil, nil
	if errors.Is(err, sdk.ErrSessionMissing) || errors.Is(err, sdk.ErrConnectionClosed) {
		return nil
	}
	return err
}

// fail classifies a call error. A lost session is forgotten so the next
// call starts a new one.
func (c *Client) fail(ctx context.Context, method string, session *sdk.ClientSession, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if sessionLost(err) {
		c.logger.Warn("mcp session terminated, will reconnect", "method", method, "error", err)
		c.mu.Lock()
		if c.session == session {
			c.dropLocked()
		}
		c.mu.Unlock()
		return tools.Transient("mcp "+method, fmt.Errorf("%w: %v", ErrSessionExpired, err))
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("mcp %s: %w", method, err)
	}
	return tools.Transient("mcp "+method, err)
}

func sessionLost(err error) bool {
	if errors.Is(err, sdk.ErrSessionMissing) || errors.Is(err, sdk.ErrConnectionClosed) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "session") && (strings.Contains(lower, "terminated") ||
		strings.Contains(lower, "not found") || strings.Contains(lower, "expired"))
}

func descriptor(t *sdk.Tool, origin string) tools.Descriptor {
	d := tools.Descriptor{Name: t.Name, Description: t.Description, Origin: origin}
	switch schema := t.InputSchema.(type) {
	case map[string]any:
		d.Schema = schema
	case nil:
	default:
		// Servers may hand back any JSON value; normalize it to a map
		if raw, err := json.Marshal(schema); err == nil {
			json.Unmarshal(raw, &d.Schema)
		}
	}
	return d
}

// render flattens a tool result into text for the transcript.
func render(r *sdk.CallToolResult) string {
	var parts []string
	for _, item := range r.Content {
		switch c := item.(type) {
		case *sdk.TextContent:
			parts = append(parts, c.Text)
		case *sdk.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdk.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdk.ResourceLink:
			parts = append(parts, "[resource "+c.URI+"]")
		case *sdk.EmbeddedResource:
			if c.Resource == nil {
				continue
			}
			if c.Resource.Text != "" {
				parts = append(parts, c.Resource.Text)
			} else {
				parts = append(parts, "[resource "+c.Resource.URI+"]")
			}
		}
	}
	if len(parts) == 0 && r.StructuredContent != nil {
		if encoded, err := json.Marshal(r.StructuredContent); err == nil {
			parts = append(parts, string(encoded))
		}
	}
	return strings.Join(parts, "\n")
}
