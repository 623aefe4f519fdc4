// Package chat answers free-form trading messages with markdown replies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/stockbot/internal/engine"
	"github.com/atmx/stockbot/internal/intent"
	"github.com/atmx/stockbot/internal/model"
	"github.com/atmx/stockbot/internal/risk"
)

// Engine is the subset of engine.Engine the bot drives.
type Engine interface {
	GetQuote(ctx context.Context, sym string) (model.Quote, error)
	GetAnalytics(ctx context.Context, sym string) (model.AnalyticsReport, error)
	PlaceOrder(ctx context.Context, d model.OrderDraft) (model.Order, error)
	ExecuteOrder(ctx context.Context, id string) (model.Order, error)
	CancelOrder(ctx context.Context, id string) (model.Order, error)
	ListOrders(ctx context.Context, userID string) ([]model.Order, error)
	GetPortfolio(ctx context.Context, userID string) (model.Portfolio, error)
}

// OrderNote is attached to every order placed through the bot.
const OrderNote = "Order placed via chatbot"

// recentOrders bounds the order history reply.
const recentOrders = 10

const greeting = "Hello! I'm StockBot, your trading assistant. I can buy and sell stocks, " +
	"look up prices and analyze investments. Type 'help' to see all commands!"

const unrecognized = "I didn't understand that command. Try saying 'help' to see what I can do, " +
	"or ask me to buy/sell stocks, get prices, or analyze investments."

// HelpText lists the commands the bot understands.
const HelpText = `🤖 **StockBot Commands**

**Trading Commands:**
• "Buy 10 shares of AAPL" - place a buy order
• "Sell 5 MSFT" - place a sell order
• "Buy TSLA at market" - one share at the current price
• "Execute order <id>" - fill a pending order
• "Cancel order <id>" - cancel a pending order

**Information Commands:**
• "What is the price of GOOGL?" - current quote
• "Analyze AAPL" - technical & fundamental analysis
• "Show my portfolio" - current positions
• "Order history" - recent orders

**Examples:**
• "Buy 100 shares of AAPL"
• "Sell 50 MSFT at market"
• "What's the current price of TSLA?"
• "Analyze GOOGL for me"
• "Show my portfolio summary"`

// Bot routes parsed intents to the engine.
type Bot struct {
	engine Engine
}

// NewBot returns a Bot backed by e.
func NewBot(e Engine) *Bot {
	return &Bot{engine: e}
}

// Reply answers message on behalf of userID. Failures are rendered into the
// reply; the bot itself never returns an error.
func (b *Bot) Reply(ctx context.Context, userID, message string) string {
	in := intent.Parse(message)
	slog.Debug("chat intent", "user", userID, "kind", in.Kind, "symbol", in.Symbol)

	switch in.Kind {
	case intent.KindHelp:
		return HelpText
	case intent.KindGreeting:
		return greeting
	case intent.KindBuy, intent.KindSell:
		return b.trade(ctx, userID, in)
	case intent.KindExecute:
		return b.execute(ctx, in)
	case intent.KindCancel:
		return b.cancel(ctx, in)
	case intent.KindQuote:
		return b.quote(ctx, in)
	case intent.KindAnalyze:
		return b.analyze(ctx, in)
	case intent.KindPortfolio:
		return b.portfolio(ctx, userID)
	case intent.KindOrders:
		return b.orders(ctx, userID)
	}
	return unrecognized
}

func (b *Bot) trade(ctx context.Context, userID string, in intent.Intent) string {
	side := model.SideBuy
	verb := "Buy"
	if in.Kind == intent.KindSell {
		side, verb = model.SideSell, "Sell"
	}
	if !in.Complete() {
		return fmt.Sprintf("Please specify the quantity and stock symbol. Example: '%s 10 shares of AAPL'", verb)
	}

	o, err := b.engine.PlaceOrder(ctx, model.OrderDraft{
		Symbol:   in.Symbol,
		Side:     side,
		Quantity: in.Quantity,
		UserID:   userID,
		Notes:    OrderNote,
	})
	if err != nil {
		return failure("place "+strings.ToLower(verb)+" order", err)
	}
	return RenderOrder(o, fmt.Sprintf("%s Order Placed Successfully!", verb))
}

func (b *Bot) execute(ctx context.Context, in intent.Intent) string {
	if !in.Complete() {
		return "Please specify the order id. Example: 'Execute order 1234'"
	}
	o, err := b.engine.ExecuteOrder(ctx, in.OrderID)
	if err != nil {
		return failure("execute order", err)
	}
	return RenderOrder(o, "Order Executed!")
}

func (b *Bot) cancel(ctx context.Context, in intent.Intent) string {
	if !in.Complete() {
		return "Please specify the order id. Example: 'Cancel order 1234'"
	}
	o, err := b.engine.CancelOrder(ctx, in.OrderID)
	if err != nil {
		return failure("cancel order", err)
	}
	return RenderOrder(o, "Order Cancelled")
}

func (b *Bot) quote(ctx context.Context, in intent.Intent) string {
	if !in.Complete() {
		return "Please specify a stock symbol. Example: 'What is the price of AAPL?'"
	}
	q, err := b.engine.GetQuote(ctx, in.Symbol)
	if err != nil {
		return failure("get price", err)
	}
	return RenderQuote(q)
}

func (b *Bot) analyze(ctx context.Context, in intent.Intent) string {
	if !in.Complete() {
		return "Please specify a stock symbol. Example: 'Analyze AAPL'"
	}
	r, err := b.engine.GetAnalytics(ctx, in.Symbol)
	if err != nil {
		return failure("get analytics", err)
	}
	return RenderReport(r)
}

func (b *Bot) portfolio(ctx context.Context, userID string) string {
	p, err := b.engine.GetPortfolio(ctx, userID)
	if err != nil {
		return failure("get portfolio", err)
	}
	return RenderPortfolio(p)
}

func (b *Bot) orders(ctx context.Context, userID string) string {
	orders, err := b.engine.ListOrders(ctx, userID)
	if err != nil {
		return failure("get orders", err)
	}
	return RenderOrders(orders, recentOrders)
}

// failure renders err for the user. Internal errors are logged and
// replaced by a generic message.
func failure(action string, err error) string {
	kind := engine.Kind(err)
	if kind == engine.KindInternal {
		slog.Error("chat request failed", "action", action, "err", err)
		return fmt.Sprintf("❌ Failed to %s: something went wrong, please try again.", action)
	}
	return fmt.Sprintf("❌ Failed to %s: %v", action, err)
}

// RenderQuote formats a quote card.
func RenderQuote(q model.Quote) string {
	trend, dot := "📈", "🟢"
	if q.Change.IsNegative() {
		trend, dot = "📉", "🔴"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s **%s Stock Price**\n\n", trend, q.Symbol)
	fmt.Fprintf(&sb, "**Current Price:** %s\n", money(q.Price))
	fmt.Fprintf(&sb, "**Change:** %s %s (%s%%)\n", dot, money(q.Change), q.ChangePercent.StringFixed(2))
	fmt.Fprintf(&sb, "**Volume:** %s\n", thousands(q.Volume))
	if q.MarketCap != nil {
		fmt.Fprintf(&sb, "**Market Cap:** %s\n", billions(*q.MarketCap))
	}
	if q.PERatio != nil {
		fmt.Fprintf(&sb, "**P/E Ratio:** %s\n", q.PERatio.StringFixed(2))
	}
	sb.WriteString("\n**Trading Range:**\n")
	fmt.Fprintf(&sb, "• Open: %s\n", money(q.Open))
	fmt.Fprintf(&sb, "• High: %s\n", money(q.High))
	fmt.Fprintf(&sb, "• Low: %s", money(q.Low))
	return sb.String()
}

// RenderReport formats an analytics report.
func RenderReport(r model.AnalyticsReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 **%s Analytics Report**\n\n", r.Symbol)
	fmt.Fprintf(&sb, "**Risk Score:** %s (%.1f/100)\n\n", riskBadge(r.RiskScore), r.RiskScore)

	ind := r.Indicators
	sb.WriteString("**Technical Indicators:**\n")
	fmt.Fprintf(&sb, "• RSI: %.2f\n", ind.RSI)
	fmt.Fprintf(&sb, "• MACD: %.2f (signal %.2f)\n", ind.MACD, ind.MACDSignal)
	fmt.Fprintf(&sb, "• 20-day SMA: $%.2f\n", ind.SMA20)
	fmt.Fprintf(&sb, "• 50-day SMA: $%.2f\n", ind.SMA50)
	fmt.Fprintf(&sb, "• Bollinger Bands: $%.2f / $%.2f / $%.2f\n\n", ind.BBLower, ind.BBMiddle, ind.BBUpper)

	sb.WriteString("**Fundamental Metrics:**\n")
	fmt.Fprintf(&sb, "• P/E Ratio: %s\n", metric(r.Fundamentals, model.MetricPERatio, "%.2f"))
	if mc, ok := r.Fundamentals.Get(model.MetricMarketCap); ok {
		fmt.Fprintf(&sb, "• Market Cap: $%.2fB\n", mc/1e9)
	} else {
		sb.WriteString("• Market Cap: N/A\n")
	}
	fmt.Fprintf(&sb, "• Debt/Equity: %s\n\n", metric(r.Fundamentals, model.MetricDebtToEquity, "%.2f"))

	sb.WriteString("**Recommendations:**\n")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&sb, "• %s\n", rec)
	}
	fmt.Fprintf(&sb, "\n**Last Updated:** %s", r.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	return sb.String()
}

// RenderOrder formats an order confirmation under title.
func RenderOrder(o model.Order, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ **%s**\n\n", title)
	fmt.Fprintf(&sb, "**Stock:** %s\n", o.Symbol)
	fmt.Fprintf(&sb, "**Side:** %s\n", o.Side)
	fmt.Fprintf(&sb, "**Quantity:** %d shares\n", o.Quantity)
	fmt.Fprintf(&sb, "**Price:** %s\n", money(o.Price))
	fmt.Fprintf(&sb, "**Total Amount:** %s\n", money(o.TotalAmount))
	fmt.Fprintf(&sb, "**Status:** %s\n", o.Status)
	fmt.Fprintf(&sb, "**Order ID:** %s", o.ID)
	if o.Status == model.StatusPending {
		fmt.Fprintf(&sb, "\n\nSay \"execute order %s\" to fill it at the recorded price.", o.ID)
	}
	return sb.String()
}

// RenderPortfolio formats a portfolio summary.
func RenderPortfolio(p model.Portfolio) string {
	if len(p.Positions) == 0 && len(p.Skipped) == 0 {
		return "📭 You don't have any positions in your portfolio yet. Start by buying some stocks!"
	}
	var sb strings.Builder
	sb.WriteString("💼 **Portfolio Summary**\n\n")
	fmt.Fprintf(&sb, "**Total Positions:** %d\n", len(p.Positions))
	fmt.Fprintf(&sb, "**Total Invested:** %s\n", money(p.TotalInvested))
	fmt.Fprintf(&sb, "**Current Value:** %s\n", money(p.CurrentValue))
	fmt.Fprintf(&sb, "**Unrealized P&L:** %s %s (%s%%)\n", pnlDot(p.UnrealizedPnL), money(p.UnrealizedPnL), p.ReturnPercent.StringFixed(2))

	sb.WriteString("\n**Positions:**\n")
	for _, pos := range p.Positions {
		fmt.Fprintf(&sb, "\n**%s:**\n", pos.Symbol)
		fmt.Fprintf(&sb, "• Quantity: %d shares\n", pos.Quantity)
		fmt.Fprintf(&sb, "• Avg Price: %s\n", money(pos.AveragePrice))
		fmt.Fprintf(&sb, "• Current Value: %s\n", money(pos.CurrentValue))
		fmt.Fprintf(&sb, "• P&L: %s %s\n", pnlDot(pos.UnrealizedPnL), money(pos.UnrealizedPnL))
	}
	if len(p.Skipped) > 0 {
		fmt.Fprintf(&sb, "\n⚠️ No current price for: %s", strings.Join(p.Skipped, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RenderOrders formats up to limit orders, newest first.
func RenderOrders(orders []model.Order, limit int) string {
	if len(orders) == 0 {
		return "📋 You haven't placed any orders yet. Try \"Buy 10 shares of AAPL\"."
	}
	var sb strings.Builder
	sb.WriteString("📋 **Order History**\n")
	shown := orders
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, o := range shown {
		fmt.Fprintf(&sb, "\n• %s %s %d %s @ %s (%s) - %s",
			o.Timestamp.UTC().Format("2006-01-02 15:04"), strings.ToUpper(string(o.Side)),
			o.Quantity, o.Symbol, money(o.Price), o.Status, o.ID)
	}
	if len(shown) < len(orders) {
		fmt.Fprintf(&sb, "\n\n…and %d older orders", len(orders)-len(shown))
	}
	return sb.String()
}

func riskBadge(score float64) string {
	switch risk.Level(score) {
	case "low":
		return "🟢 Low"
	case "medium":
		return "🟡 Medium"
	}
	return "🔴 High"
}

func pnlDot(v decimal.Decimal) string {
	if v.IsNegative() {
		return "🔴"
	}
	return "🟢"
}

func metric(m model.FundamentalMetrics, name, format string) string {
	v, ok := m.Get(name)
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf(format, v)
}

func money(v decimal.Decimal) string {
	if v.IsNegative() {
		return "-$" + v.Neg().StringFixed(2)
	}
	return "$" + v.StringFixed(2)
}

func billions(v decimal.Decimal) string {
	return "$" + v.Div(decimal.NewFromInt(1_000_000_000)).StringFixed(2) + "B"
}

func thousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
