// Package mcp connects to Model Context Protocol servers and exposes their
// tools through the same registry as the built-ins. Each configured server
// runs as a subprocess speaking MCP over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/croftlabs/croft/errors"
	"github.com/croftlabs/croft/schema"
	"github.com/croftlabs/croft/tools"
)

// Client manages the connection to one MCP server subprocess and the tools
// it advertises.
type Client struct {
	name  string
	cmd   *exec.Cmd
	conn  *mcpsdk.ClientSession
	tools []*RemoteTool
}

// Connect starts the server subprocess, performs the MCP handshake, and
// discovers its tools.
func Connect(ctx context.Context, name, command string, args []string) (*Client, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "croft", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "connecting to MCP server %q", name)
	}

	c := &Client{name: name, cmd: cmd, conn: conn}
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := conn.ListTools(ctx, params)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "listing tools from MCP server %q", name)
		}
		for _, t := range list.Tools {
			sch, err := convertInputSchema(t.InputSchema)
			if err != nil {
				c.Close()
				return nil, errors.Wrapf(err, "tool %q from MCP server %q has an unusable schema", t.Name, name)
			}
			c.tools = append(c.tools, &RemoteTool{
				client:      c,
				name:        t.Name,
				description: t.Description,
				schema:      sch,
			})
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}
	return c, nil
}

// Tools returns the server's tools in discovery order.
func (c *Client) Tools() []*RemoteTool { return c.tools }

// RegisterAll adds every discovered tool to the registry. A name collision
// with a built-in or another server surfaces as ErrDuplicateTool.
func (c *Client) RegisterAll(reg *tools.Registry) error {
	for _, t := range c.tools {
		if err := reg.Register(t); err != nil {
			return errors.Wrapf(err, "registering tools from MCP server %q", c.name)
		}
	}
	return nil
}

// Close shuts the connection down and terminates the subprocess.
func (c *Client) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// convertInputSchema rebuilds the server-declared schema as our compiled
// form, so remote tool arguments are validated exactly like built-in ones.
func convertInputSchema(in any) (*schema.Schema, error) {
	if in == nil {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return schema.Compile(raw)
}

// RemoteTool adapts one MCP server tool to the tools.Tool interface.
type RemoteTool struct {
	client      *Client
	name        string
	description string
	schema      *schema.Schema
}

func (t *RemoteTool) Name() string           { return t.name }
func (t *RemoteTool) Description() string    { return t.description }
func (t *RemoteTool) Schema() *schema.Schema { return t.schema }

// Execute forwards the call to the server and concatenates the text
// content of the result.
func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.name,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "calling MCP tool %q", t.name)
	}
	var out string
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			out += text.Text
		}
	}
	if result.IsError {
		return "", errors.New("MCP tool %q failed: %s", t.name, out)
	}
	return out, nil
}
