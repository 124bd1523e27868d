package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/pkg/types"
)

// ConnectServer connects to the MCP server described by cfg and imports its
// tool catalogue. Reconnecting a known server name replaces its tools.
//
// For stdio servers cfg.Command is split on spaces into executable and args
// and cfg.Env is added to the inherited environment. For streamable-http
// servers cfg.URL is the endpoint and cfg.Token, when set, is sent as a
// Bearer token.
func (r *Registry) ConnectServer(ctx context.Context, cfg config.MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case config.TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.Command(parts[0], parts[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case config.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			t.HTTPClient = &http.Client{Transport: bearer{token: cfg.Token, next: http.DefaultTransport}}
		}
		transport = t

	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	return r.connect(ctx, cfg.Name, transport)
}

// connect opens a session over transport and imports its tools under name.
func (r *Registry) connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := r.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools of server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[name]; ok {
		_ = old.Close()
		for tool, e := range r.tools {
			if e.server == name {
				delete(r.tools, tool)
			}
		}
	}
	r.sessions[name] = session

	for _, t := range discovered {
		if prev, ok := r.tools[t.Name]; ok && prev.server != name {
			r.log.Warn("tools: server tool shadows an existing tool", "tool", t.Name, "server", name)
		}
		r.tools[t.Name] = &entry{
			def: types.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			server: name,
			calls:  newWindow(defaultWindowSize),
		}
	}
	r.log.Info("tools: server connected", "server", name, "tools", len(discovered))
	return nil
}

// callServer routes a call to the session that imported the tool.
func (r *Registry) callServer(ctx context.Context, e *entry, args string) (string, error) {
	r.mu.RLock()
	session, ok := r.sessions[e.server]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("server %q is not connected", e.server)
	}

	var argMap map[string]any
	if s := strings.TrimSpace(args); s != "" && s != "{}" {
		if err := json.Unmarshal([]byte(s), &argMap); err != nil {
			return "", fmt.Errorf("invalid args JSON: %w", err)
		}
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      e.def.Name,
		Arguments: argMap,
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("server reported: %s", sb.String())
	}
	return sb.String(), nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// bearer adds an Authorization header to every request.
type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}
