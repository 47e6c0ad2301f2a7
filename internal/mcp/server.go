// Package mcp exposes MindOp queries and semantic search as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"mindgrate/backend/pkg/models"
)

// MindOps is the MindOp surface the tools call.
type MindOps interface {
	SearchMindOps(ctx context.Context, userID, term string, limit int) ([]*models.MindOp, error)
	Query(ctx context.Context, userID string, req models.QueryRequest) (*models.QueryResponse, error)
}

// Vectors is the search surface the tools call.
type Vectors interface {
	Search(ctx context.Context, userID string, req models.SearchRequest) (*models.SearchResponse, error)
}

// Server wraps an MCP server whose tools act as a fixed service user.
type Server struct {
	mcpServer *server.MCPServer
	mindops   MindOps
	vectors   Vectors
	userID    string
}

// NewServer creates a new Server. Every tool call runs as userID.
func NewServer(mindops MindOps, vectors Vectors, userID string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Mindgrate",
			"1.0.0",
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		mindops: mindops,
		vectors: vectors,
		userID:  userID,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"query_mindop",
			mcp.WithDescription("Ask a question answered from the service user's MindOp data"),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question")),
		),
		s.handleQueryMindOp,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_mindops",
			mcp.WithDescription("Find MindOps by name or description"),
			mcp.WithString("term", mcp.Required(), mcp.Description("Text to look for")),
			mcp.WithNumber("limit", mcp.Description("Maximum results, at most 50")),
		),
		s.handleSearchMindOps,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_collaboration",
			mcp.WithDescription("Ask another MindOp a question. The target must have approved a follow request."),
			mcp.WithString("target_mindop_id", mcp.Required(), mcp.Description("ID of the MindOp to ask")),
			mcp.WithString("query", mcp.Required(), mcp.Description("The question")),
			mcp.WithBoolean("sync", mcp.Description("Wait for the answer instead of queueing the task")),
		),
		s.handleRequestCollaboration,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"semantic_search",
			mcp.WithDescription("Search embedded documents by meaning"),
			mcp.WithString("query", mcp.Required(), mcp.Description("The query to search for")),
			mcp.WithString("collection_id", mcp.Description("Restrict the search to one collection")),
			mcp.WithNumber("limit", mcp.Description("Maximum results")),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity between 0 and 1")),
		),
		s.handleSemanticSearch,
	)
}

func (s *Server) handleQueryMindOp(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	resp, err := s.mindops.Query(ctx, s.userID, models.QueryRequest{Query: query, Mode: models.QueryModeMindOp})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query MindOp: %v", err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleSearchMindOps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term, err := request.RequireString("term")
	if err != nil || term == "" {
		return mcp.NewToolResultError("Missing required parameter: term"), nil
	}

	mindops, err := s.mindops.SearchMindOps(ctx, s.userID, term, request.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search MindOps: %v", err)), nil
	}
	return jsonResult(mindops)
}

func (s *Server) handleRequestCollaboration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := request.RequireString("target_mindop_id")
	if err != nil || target == "" {
		return mcp.NewToolResultError("Missing required parameter: target_mindop_id"), nil
	}
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	resp, err := s.mindops.Query(ctx, s.userID, models.QueryRequest{
		Query:          query,
		Mode:           models.QueryModeCollaboration,
		TargetMindOpID: target,
		Metadata:       models.Metadata{"source": "mcp"},
		Sync:           request.GetBool("sync", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to request collaboration: %v", err)), nil
	}
	return jsonResult(resp.Task)
}

func (s *Server) handleSemanticSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	resp, err := s.vectors.Search(ctx, s.userID, models.SearchRequest{
		Query:        query,
		CollectionID: request.GetString("collection_id", ""),
		Limit:        request.GetInt("limit", 0),
		Threshold:    request.GetFloat("threshold", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search: %v", err)), nil
	}
	return jsonResult(resp)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// Handler returns the MCP HTTP transport wrapped in middleware, outermost
// first.
func Handler(mcpServer *server.MCPServer, middleware ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	MountHTTPHandlers(mux, mcpServer)
	var h http.Handler = mux
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
