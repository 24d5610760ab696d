package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/gather/internal/config"
	"github.com/hpungsan/gather/internal/errors"
	"github.com/hpungsan/gather/internal/ops"
	"github.com/hpungsan/gather/internal/sink"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db   *sql.DB
	cfg  *config.Config
	sink *sink.Sink
	now  func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, s *sink.Sink) *Handlers {
	return &Handlers{db: db, cfg: cfg, sink: s, now: time.Now}
}

// CyclesRequest represents the arguments for gather_cycles.
type CyclesRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// CycleRequest represents the arguments for gather_cycle.
type CycleRequest struct {
	ID string `json:"id"`
}

// FilesRequest represents the arguments for gather_files.
type FilesRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// HandleStatus handles the gather_status tool.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Status(ctx, h.db, ops.StatusInput{
		Sink:         h.sink,
		SourceURL:    h.cfg.SourceURL(),
		InitialStart: h.cfg.InitialStartTime(h.now()),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCycles handles the gather_cycles tool.
func (h *Handlers) HandleCycles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[CyclesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListCycles(ctx, h.db, ops.ListCyclesInput{
		Status: args.Status,
		Limit:  args.Limit,
		Offset: args.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCycle handles the gather_cycle tool.
func (h *Handlers) HandleCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[CycleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetCycle(ctx, h.db, args.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFiles handles the gather_files tool.
func (h *Handlers) HandleFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[FilesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListFiles(h.sink, ops.ListFilesInput{
		Limit:  args.Limit,
		Offset: args.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// errorResult creates an MCP error result from any error.
// Internal errors carry a generic message so SQL text and paths stay out of tool output.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if gErr, ok := errors.As(err); ok && gErr.Code != errors.ErrInternal {
		errorObj := map[string]any{
			"code":    gErr.Code,
			"message": gErr.Message,
			"status":  errors.StatusOf(gErr),
		}
		if gErr.Details != nil {
			errorObj["details"] = gErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
