// Package mcp exposes the editor fixture as Model Context Protocol tools, so
// an agent can drive the same page a test suite drives.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"cdr.dev/slog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/coder/monacoharness/fixture"
)

// Tool names.
const (
	ToolCreateModel = "create_model"
	ToolOpenFiles   = "open_files"
	ToolSetModel    = "set_model"
	ToolSetPosition = "set_position"
	ToolTrigger     = "trigger"
	ToolListModels  = "list_models"
	ToolGetValue    = "get_value"
	ToolGetMarkers  = "get_markers"
)

// ToolNames lists every tool the server registers.
func ToolNames() []string {
	return []string{
		ToolCreateModel,
		ToolOpenFiles,
		ToolSetModel,
		ToolSetPosition,
		ToolTrigger,
		ToolListModels,
		ToolGetValue,
		ToolGetMarkers,
	}
}

type tools struct {
	editor *fixture.Editor
	logger slog.Logger
}

// NewServer registers a tool per fixture operation.
func NewServer(editor *fixture.Editor, logger slog.Logger) *server.MCPServer {
	info := GetServerInfo()
	srv := server.NewMCPServer(info.Name, info.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	t := &tools{editor: editor, logger: logger}

	srv.AddTool(mcp.NewTool(ToolCreateModel,
		mcp.WithDescription("Create a text model in the editor. A bare path becomes a file:// URI."),
		mcp.WithString("value", mcp.Required(), mcp.Description("Content of the model.")),
		mcp.WithString("uri", mcp.Description("Path or absolute URI of the model. Omit to let the editor assign one.")),
		mcp.WithBoolean("open", mcp.Description("Make the new model the active model.")),
		mcp.WithString("language", mcp.Description("Language id. Inferred from the URI when omitted.")),
	), t.createModel)

	srv.AddTool(mcp.NewTool(ToolOpenFiles,
		mcp.WithDescription("Create one model per file matched by glob patterns. Patterns starting with ! exclude matches."),
		mcp.WithArray("patterns", mcp.Required(), mcp.Items(map[string]any{"type": "string"}), mcp.Description("Glob patterns relative to cwd.")),
		mcp.WithString("cwd", mcp.Description("Base directory. Defaults to the working directory of the harness.")),
		mcp.WithBoolean("dot", mcp.Description("Match files whose names start with a dot.")),
	), t.openFiles)

	srv.AddTool(mcp.NewTool(ToolSetModel,
		mcp.WithDescription("Make the model with this exact URI the active model."),
		mcp.WithString("uri", mcp.Required()),
	), t.setModel)

	srv.AddTool(mcp.NewTool(ToolSetPosition,
		mcp.WithDescription("Move the cursor of the active model."),
		mcp.WithNumber("line_number", mcp.Required(), mcp.Min(1)),
		mcp.WithNumber("column", mcp.Required(), mcp.Min(1)),
	), t.setPosition)

	srv.AddTool(mcp.NewTool(ToolTrigger,
		mcp.WithDescription("Run an editor command, such as editor.action.formatDocument."),
		mcp.WithString("handler_id", mcp.Required()),
		mcp.WithObject("payload", mcp.Description("Optional command payload.")),
	), t.trigger)

	srv.AddTool(mcp.NewTool(ToolListModels,
		mcp.WithDescription("List every text model with its language and version."),
	), t.listModels)

	srv.AddTool(mcp.NewTool(ToolGetValue,
		mcp.WithDescription("Read the content of a model, or of the active model when uri is omitted."),
		mcp.WithString("uri"),
	), t.getValue)

	srv.AddTool(mcp.NewTool(ToolGetMarkers,
		mcp.WithDescription("Read the current diagnostics of a model."),
		mcp.WithString("uri", mcp.Required()),
	), t.getMarkers)

	return srv
}

// Handler serves srv over streamable HTTP.
func Handler(srv *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(srv)
}

func (t *tools) createModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	value, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	model, err := t.editor.CreateModel(ctx, value, req.GetString("uri", ""), req.GetBool("open", false), req.GetString("language", ""))
	if err != nil {
		return t.failed(ctx, ToolCreateModel, err), nil
	}
	return jsonResult(model)
}

func (t *tools) openFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patterns, err := req.RequireStringSlice("patterns")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	uris, err := t.editor.Open(ctx, patterns, fixture.OpenOptions{
		Cwd: req.GetString("cwd", ""),
		Dot: req.GetBool("dot", false),
	})
	if err != nil {
		return t.failed(ctx, ToolOpenFiles, err), nil
	}
	return jsonResult(uris)
}

func (t *tools) setModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.editor.SetModel(ctx, uri); err != nil {
		return t.failed(ctx, ToolSetModel, err), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (t *tools) setPosition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	line, err := req.RequireInt("line_number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	column, err := req.RequireInt("column")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.editor.SetPosition(ctx, fixture.Position{LineNumber: line, Column: column}); err != nil {
		return t.failed(ctx, ToolSetPosition, err), nil
	}
	return mcp.NewToolResultText("ok"), nil
}

func (t *tools) trigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handlerID, err := req.RequireString("handler_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload := req.GetArguments()["payload"]
	result, err := t.editor.Trigger(ctx, handlerID, payload)
	if err != nil {
		return t.failed(ctx, ToolTrigger, err), nil
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return mcp.NewToolResultText(string(result)), nil
}

func (t *tools) listModels(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models, err := t.editor.Models(ctx)
	if err != nil {
		return t.failed(ctx, ToolListModels, err), nil
	}
	return jsonResult(models)
}

func (t *tools) getValue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	value, err := t.editor.Value(ctx, req.GetString("uri", ""))
	if err != nil {
		return t.failed(ctx, ToolGetValue, err), nil
	}
	return mcp.NewToolResultText(value), nil
}

func (t *tools) getMarkers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	markers, err := t.editor.Markers(ctx, uri)
	if err != nil {
		return t.failed(ctx, ToolGetMarkers, err), nil
	}
	return jsonResult(markers)
}

// failed reports an operation error to the agent rather than as a protocol
// error, so the agent can correct itself.
func (t *tools) failed(ctx context.Context, tool string, err error) *mcp.CallToolResult {
	t.logger.Debug(ctx, "tool call failed", slog.F("tool", tool), slog.Error(err))
	return mcp.NewToolResultErrorFromErr(tool+" failed", err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}
