package mcp

import "github.com/mark3labs/mcp-go/mcp"

var statusToolDef = mcp.NewTool("gather_status",
	mcp.WithDescription("Summarize collection progress: watermark, seen keys, collected files and the most recent cycles."),
	mcp.WithTitleAnnotation("Collection status"),
	mcp.WithReadOnlyHintAnnotation(true),
)

var cyclesToolDef = mcp.NewTool("gather_cycles",
	mcp.WithDescription("List collection cycles, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("status",
		mcp.Description("Only cycles with this outcome"),
		mcp.Enum("succeeded", "failed"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
		mcp.Min(1),
		mcp.Max(100),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip"),
		mcp.Min(0),
	),
)

var cycleToolDef = mcp.NewTool("gather_cycle",
	mcp.WithDescription("Fetch one collection cycle by ID."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Cycle ULID"),
	),
)

var filesToolDef = mcp.NewTool("gather_files",
	mcp.WithDescription("List collected batch files, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit",
		mcp.Description("Page size (default 20, max 100)"),
		mcp.Min(1),
		mcp.Max(100),
	),
	mcp.WithNumber("offset",
		mcp.Description("Items to skip"),
		mcp.Min(0),
	),
)
