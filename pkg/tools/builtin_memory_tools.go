package tools

// Memory tools let an MCP client write conversation turns into long-term
// memory and pull fused context back out before it answers.

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/theapemachine/nire/pkg/engine"
	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

/*
Memory is what the tools need from the engine.
*/
type Memory interface {
	Ingest(ctx context.Context, turn memory.Turn) (memory.MemoryItem, error)
	Query(ctx context.Context, query memory.Query) memory.RetrievalResult
	Get(ctx context.Context, id string) (memory.MemoryItem, error)
	Stats(ctx context.Context) engine.Stats
}

type memoryTools struct {
	memory Memory
}

/*
RegisterMemoryTools attaches memory_ingest, memory_query, memory_get and
memory_stats to srv.
*/
func RegisterMemoryTools(srv *server.MCPServer, mem Memory) {
	tools := &memoryTools{memory: mem}

	srv.AddTool(buildMemoryIngestTool(), tools.handleIngest)
	srv.AddTool(buildMemoryQueryTool(), tools.handleQuery)
	srv.AddTool(buildMemoryGetTool(), tools.handleGet)
	srv.AddTool(buildMemoryStatsTool(), tools.handleStats)
}

/*
NewMemoryServer builds an MCP server exposing only the memory tools.
*/
func NewMemoryServer(mem Memory, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"nire",
		version,
		server.WithLogging(),
		server.WithToolCapabilities(true),
	)

	RegisterMemoryTools(srv, mem)

	return srv
}

// ---------------------------------------------------------------------------
// Tool builders
// ---------------------------------------------------------------------------

func buildMemoryIngestTool() mcp.Tool {
	return mcp.NewTool(
		"memory_ingest",
		mcp.WithDescription("Stores one conversation turn in long-term memory. Entities and relations are extracted into the knowledge graph. Returns the stored memory."),
		mcp.WithString("text",
			mcp.Description("The turn's text"),
			mcp.Required(),
		),
		mcp.WithString("role",
			mcp.Description("Who said it"),
			mcp.Enum("user", "assistant", "system"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation the turn belongs to"),
		),
		mcp.WithNumber("importance",
			mcp.Description("Importance between 0 and 1; omit to let the extractor decide"),
		),
	)
}

func buildMemoryQueryTool() mcp.Tool {
	return mcp.NewTool(
		"memory_query",
		mcp.WithDescription("Retrieves memories relevant to the text, ranked by semantic similarity, graph proximity and recency."),
		mcp.WithString("text",
			mcp.Description("What to remember about"),
			mcp.Required(),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation whose recent entities should seed the graph"),
		),
		mcp.WithString("context",
			mcp.Description("Comma separated entity names recently mentioned"),
		),
		mcp.WithNumber("max_items",
			mcp.Description("Maximum number of memories to return"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Approximate token budget for the returned memories"),
		),
	)
}

func buildMemoryGetTool() mcp.Tool {
	return mcp.NewTool(
		"memory_get",
		mcp.WithDescription("Loads one memory by ID."),
		mcp.WithString("id",
			mcp.Description("Memory ID returned by memory_ingest"),
			mcp.Required(),
		),
	)
}

func buildMemoryStatsTool() mcp.Tool {
	return mcp.NewTool(
		"memory_stats",
		mcp.WithDescription("Reports store sizes, the reconciliation backlog and counters."),
	)
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (tools *memoryTools) handleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}

	turn := memory.Turn{Text: text}
	turn.Role, _ = args["role"].(string)
	turn.SessionID, _ = args["session_id"].(string)
	turn.Importance = number(args["importance"])

	item, err := tools.memory.Ingest(ctx, turn)
	if err != nil {
		return toolError(err), nil
	}

	item.Embedding = nil
	return jsonResult(item)
}

func (tools *memoryTools) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}

	query := memory.Query{
		Text: text,
		Budget: memory.Budget{
			MaxItems:  int(number(args["max_items"])),
			MaxTokens: int(number(args["max_tokens"])),
		},
	}
	query.SessionID, _ = args["session_id"].(string)

	// context may arrive as a list or as a comma separated string.
	switch v := args["context"].(type) {
	case string:
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				query.Context = append(query.Context, name)
			}
		}
	case []any:
		for _, name := range v {
			if s, ok := name.(string); ok {
				query.Context = append(query.Context, s)
			}
		}
	}

	result := tools.memory.Query(ctx, query)

	for i := range result.Items {
		result.Items[i].Item.Embedding = nil
	}

	return jsonResult(result)
}

func (tools *memoryTools) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, _ := req.GetArguments()["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	item, err := tools.memory.Get(ctx, id)
	if err != nil {
		return toolError(err), nil
	}

	item.Embedding = nil
	return jsonResult(item)
}

func (tools *memoryTools) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(tools.memory.Stats(ctx))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return mcp.NewToolResultText(string(b)), nil
}

func toolError(err error) *mcp.CallToolResult {
	b, _ := json.Marshal(errors.ToRpc(err))
	return mcp.NewToolResultError(string(b))
}

// number accepts JSON numbers and numeric strings; anything else is zero.
func number(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}

	return 0
}
