package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/painlog/internal/tracker"
)

const statusURI = "painlog://status"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Tracker PainTracker
	Version string
}

// NewMCPServer creates an MCP server exposing the tracker to assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"painlog",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("painlog records cluster headache pain levels (0-10) and treatment annotations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("record_pain",
			mcp.WithDescription("Record the current pain level on a 0-10 scale."),
			mcp.WithNumber("value", mcp.Description("Pain level, integer 0-10"), mcp.Required()),
		),
		mcpRecordPain(deps),
	)

	s.AddTool(
		mcp.NewTool("annotate",
			mcp.WithDescription("Mark a treatment event on the dashboard."),
			mcp.WithString("text", mcp.Description("Treatment, e.g. Oxygen On"), mcp.Required()),
		),
		mcpAnnotate(deps),
	)

	s.AddTool(
		mcp.NewTool("get_status",
			mcp.WithDescription("Return the last recorded pain level and annotation."),
		),
		mcpGetStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			statusURI,
			"Current Status",
			mcp.WithResourceDescription("Last recorded pain level and annotation as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpRecordPain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireFloat("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		if raw != math.Trunc(raw) {
			return mcpError(fmt.Sprintf("%v: %v", tracker.ErrInvalidPainValue, raw)), nil
		}

		st, err := deps.Tracker.RecordSample(ctx, int(raw))
		if err != nil {
			return mcpError(fmt.Sprintf("recording pain: %v", err)), nil
		}
		return mcpStatus(st)
	}
}

func mcpAnnotate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		st, err := deps.Tracker.PublishAnnotation(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("creating annotation: %v", err)), nil
		}
		return mcpStatus(st)
	}
}

func mcpGetStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpStatus(deps.Tracker.Status())
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Tracker.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpStatus(st tracker.Status) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
