package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/finrag/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orchestrator Orchestrator
	Version      string
}

// NewMCPServer creates an MCP server with all finrag tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"finrag",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("finrag answers questions about company annual filings with cited, verified answers. Load a company before asking about it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("load_company",
			mcp.WithDescription("Fetch, index and build the knowledge graph for a company's latest annual filing."),
			mcp.WithString("ticker", mcp.Description("Ticker symbol, e.g. AAPL"), mcp.Required()),
			mcp.WithString("market", mcp.Description("Market code (default US)")),
		),
		mcpLoadCompany(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_filing",
			mcp.WithDescription("Answer a question from a company's filing with sources and a verification-based confidence score."),
			mcp.WithString("ticker", mcp.Description("Ticker symbol"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question about the filing"), mcp.Required()),
			mcp.WithString("market", mcp.Description("Market code (default US)")),
			mcp.WithBoolean("verify", mcp.Description("Run answer verification (default true)")),
		),
		mcpAskFiling(deps),
	)

	s.AddTool(
		mcp.NewTool("company_knowledge",
			mcp.WithDescription("Return the knowledge-graph summary, extracted metrics and trends of a loaded company."),
			mcp.WithString("ticker", mcp.Description("Ticker symbol"), mcp.Required()),
			mcp.WithString("market", mcp.Description("Market code (default US)")),
		),
		mcpCompanyKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("audit_trail",
			mcp.WithDescription("List the most recent answered questions with their evidence and confidence."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 10)")),
		),
		mcpAuditTrail(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"finrag://companies",
			"Loaded Companies",
			mcp.WithResourceDescription("Keys of the companies currently loaded"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCompanies(deps),
	)

	return s
}

func mcpLoadCompany(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker, err := req.RequireString("ticker")
		if err != nil {
			return mcpError("ticker is required"), nil
		}
		market := req.GetString("market", "US")

		st := deps.Orchestrator.LoadCompany(ctx, ticker, market)
		if st.Status == session.StatusError {
			return mcpError(fmt.Sprintf("loading %s failed: %s", st.Key, st.Error)), nil
		}
		return mcpJSON(st)
	}
}

func mcpAskFiling(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker, err := req.RequireString("ticker")
		if err != nil {
			return mcpError("ticker is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		market := req.GetString("market", "US")
		verifyAnswer := req.GetBool("verify", true)

		res := deps.Orchestrator.AnswerQuestion(ctx, ticker, question, market, verifyAnswer)
		if !res.OK() {
			return mcpError(fmt.Sprintf("answering failed: %s", res.Error)), nil
		}
		return mcpJSON(res)
	}
}

func mcpCompanyKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ticker, err := req.RequireString("ticker")
		if err != nil {
			return mcpError("ticker is required"), nil
		}
		market := req.GetString("market", "US")

		g, err := deps.Orchestrator.Knowledge(ticker, market)
		if errors.Is(err, session.ErrNotLoaded) {
			return mcpError(fmt.Sprintf("company %s is not loaded; call load_company first", session.Key(ticker, market))), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("reading knowledge graph: %v", err)), nil
		}
		return mcpJSON(knowledgeView(g, strings.ToUpper(ticker), strings.ToUpper(market)))
	}
}

func mcpAuditTrail(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		records := deps.Orchestrator.AuditLog().Recent(limit)
		if len(records) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(records)
	}
}

func mcpResourceCompanies(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		keys := deps.Orchestrator.Loaded()
		if keys == nil {
			keys = []string{}
		}
		b, err := json.Marshal(keys)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal companies: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
