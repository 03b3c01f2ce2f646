package mcp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/tamias-daemon/tamias/internal/tools"
)

// BridgeTool adapts one externally discovered MCP tool into the daemon's
// tools.Tool interface, named "server__tool" so names stay bijective across
// servers that happen to expose the same function name.
type BridgeTool struct {
	server     string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	timeoutSec int
	connected  *atomic.Bool
}

// NewBridgeTool wraps an MCP-discovered tool for registration in the shared
// tools.Registry.
func NewBridgeTool(server string, tool mcpgo.Tool, client *mcpclient.Client, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{server: server, tool: tool, client: client, timeoutSec: timeoutSec, connected: connected}
}

// Name returns the bijective "server__tool" name under which this tool is
// registered in the daemon's registry.
func (b *BridgeTool) Name() string { return b.server + "__" + b.tool.Name }

// OriginalName returns the tool's name as reported by the MCP server,
// before the server prefix was applied — used by allow/deny filtering that
// is expressed in terms of the server's own tool names.
func (b *BridgeTool) OriginalName() string { return b.tool.Name }

func (b *BridgeTool) Description() string { return b.tool.Description }

func (b *BridgeTool) Parameters() map[string]interface{} {
	schema := map[string]interface{}{
		"type": "object",
	}
	if len(b.tool.InputSchema.Properties) > 0 {
		schema["properties"] = b.tool.InputSchema.Properties
	}
	if len(b.tool.InputSchema.Required) > 0 {
		schema["required"] = b.tool.InputSchema.Required
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is disconnected", b.server))
	}

	timeout := time.Duration(b.timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call %s: %v", b.Name(), err))
	}

	text := renderMCPContent(res.Content)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.NewResult(text)
}

func renderMCPContent(content []mcpgo.Content) string {
	out := ""
	for i, c := range content {
		if i > 0 {
			out += "\n"
		}
		if tc, ok := c.(mcpgo.TextContent); ok {
			out += tc.Text
			continue
		}
		out += fmt.Sprintf("%v", c)
	}
	return out
}
