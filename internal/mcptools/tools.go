// Package mcptools exposes the engine as Model Context Protocol tools.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atmx/stockbot/internal/chat"
	"github.com/atmx/stockbot/internal/engine"
	"github.com/atmx/stockbot/internal/ledger"
	"github.com/atmx/stockbot/internal/model"
)

// NewServer registers every tool against e.
func NewServer(e chat.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer("stockbot", version,
		server.WithToolCapabilities(true),
	)
	registerTools(s, e)
	return s
}

// Handler serves s over stateless streamable HTTP.
func Handler(s *server.MCPServer) http.Handler {
	return server.NewStreamableHTTPServer(s, server.WithStateLess(true))
}

func registerTools(s *server.MCPServer, e chat.Engine) {
	s.AddTool(createGetQuoteTool(), handleGetQuote(e))
	s.AddTool(createGetAnalyticsTool(), handleGetAnalytics(e))
	s.AddTool(createPlaceOrderTool(), handlePlaceOrder(e))
	s.AddTool(createExecuteOrderTool(), handleExecuteOrder(e))
	s.AddTool(createGetPortfolioTool(), handleGetPortfolio(e))
	s.AddTool(createListOrdersTool(), handleListOrders(e))
}

// --- Tool definitions ---

func createGetQuoteTool() mcp.Tool {
	return mcp.NewTool("get_quote",
		mcp.WithDescription("Get the latest quote for a ticker: price, day change, OHLC, volume and headline fundamentals. Quotes are cached for a few minutes."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol (e.g., 'AAPL', 'VOD.LSE')")),
	)
}

func createGetAnalyticsTool() mcp.Tool {
	return mcp.NewTool("get_analytics",
		mcp.WithDescription("Compute technical indicators (SMA, RSI, MACD, Bollinger Bands), fundamentals, a 0-100 risk score and recommendations from one year of daily history."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol")),
	)
}

func createPlaceOrderTool() mcp.Tool {
	return mcp.NewTool("place_order",
		mcp.WithDescription("Place a simulated buy or sell order at the current quote price. Orders are pending unless status is 'executed'."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Ticker symbol")),
		mcp.WithString("side", mcp.Required(), mcp.Description("'buy' or 'sell'")),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Whole number of shares, greater than zero")),
		mcp.WithString("user_id", mcp.Description("Account that owns the order (default: default_user)")),
		mcp.WithString("status", mcp.Description("'pending' (default) or 'executed'")),
	)
}

func createExecuteOrderTool() mcp.Tool {
	return mcp.NewTool("execute_order",
		mcp.WithDescription("Execute a pending order at its recorded price and update the owner's position."),
		mcp.WithString("order_id", mcp.Required(), mcp.Description("Order id returned by place_order")),
	)
}

func createGetPortfolioTool() mcp.Tool {
	return mcp.NewTool("get_portfolio",
		mcp.WithDescription("Get a user's positions marked to the latest quotes, with totals and unrealized P&L."),
		mcp.WithString("user_id", mcp.Description("Account id (default: default_user)")),
	)
}

func createListOrdersTool() mcp.Tool {
	return mcp.NewTool("list_orders",
		mcp.WithDescription("List a user's orders, newest first."),
		mcp.WithString("user_id", mcp.Description("Account id (default: default_user)")),
	)
}

// --- Handlers ---

func handleGetQuote(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sym, err := request.RequireString("symbol")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		q, err := e.GetQuote(ctx, sym)
		if err != nil {
			return engineError(err), nil
		}
		return jsonResult(chat.RenderQuote(q), q), nil
	}
}

func handleGetAnalytics(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sym, err := request.RequireString("symbol")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		r, err := e.GetAnalytics(ctx, sym)
		if err != nil {
			return engineError(err), nil
		}
		return jsonResult(chat.RenderReport(r), r), nil
	}
}

func handlePlaceOrder(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sym, err := request.RequireString("symbol")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		side, err := request.RequireString("side")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		qty := request.GetFloat("quantity", 0)
		if qty != float64(int64(qty)) {
			return errorResult("Error: quantity must be a whole number of shares"), nil
		}

		o, err := e.PlaceOrder(ctx, model.OrderDraft{
			Symbol:   sym,
			Side:     model.Side(strings.ToLower(side)),
			Quantity: int64(qty),
			Status:   model.OrderStatus(strings.ToLower(request.GetString("status", ""))),
			UserID:   request.GetString("user_id", ledger.DefaultUser),
			Notes:    "Order placed via MCP",
		})
		if err != nil {
			return engineError(err), nil
		}
		return jsonResult(chat.RenderOrder(o, "Order Placed"), o), nil
	}
}

func handleExecuteOrder(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("order_id")
		if err != nil {
			return errorResult(err.Error()), nil
		}
		o, err := e.ExecuteOrder(ctx, id)
		if err != nil {
			return engineError(err), nil
		}
		return jsonResult(chat.RenderOrder(o, "Order Executed"), o), nil
	}
}

func handleGetPortfolio(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := e.GetPortfolio(ctx, request.GetString("user_id", ledger.DefaultUser))
		if err != nil {
			return engineError(err), nil
		}
		return jsonResult(chat.RenderPortfolio(p), p), nil
	}
}

func handleListOrders(e chat.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		orders, err := e.ListOrders(ctx, request.GetString("user_id", ledger.DefaultUser))
		if err != nil {
			return engineError(err), nil
		}
		if orders == nil {
			orders = []model.Order{}
		}
		return jsonResult(chat.RenderOrders(orders, 0), orders), nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

// jsonResult returns the markdown summary followed by the raw JSON payload.
func jsonResult(summary string, v any) *mcp.CallToolResult {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textResult(summary)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(summary),
			mcp.NewTextContent(string(body)),
		},
	}
}

func engineError(err error) *mcp.CallToolResult {
	kind := engine.Kind(err)
	if kind == engine.KindInternal {
		slog.Error("mcp tool failed", "err", err)
		return errorResult("Error (internal): request failed, see server logs")
	}
	return errorResult(fmt.Sprintf("Error (%s): %v", kind, err))
}
