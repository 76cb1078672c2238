package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"deskjarvis/agent/pkg/logger"
	"deskjarvis/agent/pkg/orchestrator/types"
)

const (
	mcpInitTimeout = 60 * time.Second
	mcpCallTimeout = 5 * time.Minute

	mcpProtocolVersion = "2024-11-05"
)

// MCPBridge runs one executor family over an MCP stdio tool server. The
// step type becomes the tool name, step params become the arguments.
// The server process starts lazily on the first step.
type MCPBridge struct {
	family  string
	command string
	args    []string
	env     []string
	log     logger.Logger

	mu     sync.Mutex
	client *client.Client
}

// NewMCPBridge creates a bridge for the given family. command is the
// tool server binary; it is not started until a step needs it.
func NewMCPBridge(family string, command string, args []string, env []string, log logger.Logger) *MCPBridge {
	return &MCPBridge{
		family:  family,
		command: command,
		args:    args,
		env:     env,
		log:     log,
	}
}

func (b *MCPBridge) Name() string { return b.family }

func (b *MCPBridge) ExecuteStep(ctx context.Context, step types.Step, _ *types.ExecutionContext) types.StepResult {
	cli, err := b.connect(ctx)
	if err != nil {
		return types.ConfigErr(fmt.Sprintf("executor backend for %s unavailable: %v", b.family, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	args := step.Params
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := cli.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      step.Type,
			Arguments: args,
		},
	})
	if err != nil {
		b.log.Errorf("Tool call %s failed on %s: %v", step.Type, b.family, err)
		return types.Errf("tool %s failed: %v", step.Type, err)
	}

	return toStepResult(step.Type, result)
}

// connect starts and initializes the tool server once; later calls reuse
// the live client.
func (b *MCPBridge) connect(ctx context.Context) (*client.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	if b.command == "" {
		return nil, fmt.Errorf("no mcp_command configured")
	}

	b.log.Infof("Starting MCP tool server for %s: %s %v", b.family, b.command, b.args)
	cli, err := client.NewStdioMCPClient(b.command, b.env, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start tool server: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, mcpInitTimeout)
	defer cancel()
	_, err = cli.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "deskjarvis-agent",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to initialize tool server: %w", err)
	}

	b.client = cli
	return cli, nil
}

// Close stops the tool server process if it was ever started.
func (b *MCPBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
}

// toStepResult folds the tool reply into the uniform step result. Text
// content that parses as a JSON object becomes the result data so later
// steps can reference its fields.
func toStepResult(toolName string, result *mcp.CallToolResult) types.StepResult {
	var texts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			texts = append(texts, c.Text)
		case mcp.TextContent:
			texts = append(texts, c.Text)
		case *mcp.ImageContent:
			texts = append(texts, fmt.Sprintf("[image %s, %d bytes]", c.MIMEType, len(c.Data)))
		}
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))

	if result.IsError {
		if joined == "" {
			joined = fmt.Sprintf("tool %s reported an error", toolName)
		}
		return types.Err(joined)
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(joined), &data); err == nil && data != nil {
		sr := types.StepResult{Success: true, Message: joined, Data: data}
		// Tool servers that speak the step-result envelope themselves
		// keep their own success flag and message.
		if success, ok := data["success"].(bool); ok {
			sr.Success = success
			if msg, ok := data["message"].(string); ok {
				sr.Message = msg
			}
			if errMsg, ok := data["error"].(string); ok {
				sr.Error = errMsg
			}
			if inner, ok := data["data"].(map[string]interface{}); ok {
				sr.Data = inner
			}
			if b, ok := data["is_config_error"].(bool); ok {
				sr.IsConfigError = b
			}
			if b, ok := data["requires_user_action"].(bool); ok {
				sr.RequiresUserAction = b
			}
			if !sr.Success && sr.Error == "" {
				sr.Error = sr.Message
			}
		}
		return sr
	}

	if joined == "" {
		joined = fmt.Sprintf("tool %s finished", toolName)
	}
	return types.Ok(joined)
}
