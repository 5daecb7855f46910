package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/scout/internal/storage"
)

const (
	mcpDefaultLimit  = 5
	mcpMaxLimit      = 50
	mcpRecentLimit   = 10
	mcpMaxQueryRunes = 200
)

// MCPDeps holds dependencies for the MCP server. Pipeline is optional; without
// it the ask tool reports an error.
type MCPDeps struct {
	Ranker   Ranker
	Feedback FeedbackStore
	Pipeline Pipeline
}

// NewMCPServer creates an MCP server with the scout tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"scout",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("scout finds contractors in an indexed directory, ranked by semantic match and user feedback."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_contractors",
			mcp.WithDescription("Search the contractor index and return ranked matches with their relevance scores."),
			mcp.WithString("query", mcp.Description("Natural-language search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchContractors(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Record whether a returned contractor was helpful for a query."),
			mcp.WithString("query", mcp.Description("The query the document was returned for"), mcp.Required()),
			mcp.WithString("doc_id", mcp.Description("Document id from search results"), mcp.Required()),
			mcp.WithBoolean("is_helpful", mcp.Description("Whether the document was helpful"), mcp.Required()),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("feedback_stats",
			mcp.WithDescription("Return aggregate feedback counts."),
		),
		mcpFeedbackStats(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question with suggestions by running the full reasoning pipeline."),
			mcp.WithString("query", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to continue; a new one is created when empty")),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"feedback://recent",
			"Recent Feedback",
			mcp.WithResourceDescription("Last 10 feedback records"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSearchContractors(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", mcpDefaultLimit)
		if limit <= 0 {
			limit = mcpDefaultLimit
		}
		if limit > mcpMaxLimit {
			limit = mcpMaxLimit
		}

		ranked, err := deps.Ranker.Rank(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(ranked) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(ranked)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		docID, err := req.RequireString("doc_id")
		if err != nil {
			return mcpError("doc_id is required"), nil
		}
		helpful, err := req.RequireBool("is_helpful")
		if err != nil {
			return mcpError("is_helpful is required"), nil
		}

		fb := storage.Feedback{
			Query:     query,
			DocID:     docID,
			IsHelpful: helpful,
			Metadata:  map[string]any{"source": "mcp"},
		}
		if _, err := deps.Feedback.RecordFeedback(ctx, fb); err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Recorded feedback for doc %s", docID)), nil
	}
}

func mcpFeedbackStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Feedback.AggregateStats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read stats: %v", err)), nil
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Pipeline == nil {
			return mcpError("ask not available: no reasoning pipeline configured"), nil
		}
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ans, err := deps.Pipeline.Run(ctx, sessionID, query)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		b, err := json.Marshal(chatResponse{Answer: ans, SessionID: sessionID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		items, err := deps.Feedback.RecentFeedback(ctx, mcpRecentLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent feedback: %w", err)
		}

		type feedbackSummary struct {
			DocID     string `json:"doc_id"`
			Query     string `json:"query"`
			IsHelpful bool   `json:"is_helpful"`
			Timestamp string `json:"timestamp"`
		}

		summaries := make([]feedbackSummary, len(items))
		for i, fb := range items {
			query := fb.Query
			if utf8.RuneCountInString(query) > mcpMaxQueryRunes {
				runes := []rune(query)
				query = string(runes[:mcpMaxQueryRunes]) + "..."
			}
			summaries[i] = feedbackSummary{
				DocID:     fb.DocID,
				Query:     query,
				IsHelpful: fb.IsHelpful,
				Timestamp: fb.Timestamp.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal feedback: %w", err)
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
