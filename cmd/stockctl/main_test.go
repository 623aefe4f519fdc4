package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/atmx/stockbot/internal/model"
)

// run executes stockctl against the simulated provider and an in-memory
// store, returning stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "MONGO_URI", "EODHD_API_KEY", "STOCKBOT_QUOTE_TTL", "STOCKBOT_ANALYTICS_PERIOD"} {
		t.Setenv(k, "")
	}
	t.Setenv("STOCKBOT_PROVIDER", "sim")
	t.Setenv("STOCKBOT_LOG_LEVEL", "error")

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestQuoteCommand(t *testing.T) {
	out, err := run(t, "", "quote", "aapl", "MSFT")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !strings.Contains(out, "AAPL Stock Price") || !strings.Contains(out, "MSFT Stock Price") {
		t.Errorf("expected both quote cards, got:\n%s", out)
	}
}

func TestQuoteCommand_JSON(t *testing.T) {
	out, err := run(t, "", "--json", "quote", "TSLA")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	var quotes []model.Quote
	if err := json.Unmarshal([]byte(out), &quotes); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(quotes) != 1 || quotes[0].Symbol != "TSLA" || !quotes[0].Price.IsPositive() {
		t.Errorf("unexpected quotes: %+v", quotes)
	}
}

func TestQuoteCommand_InvalidSymbol(t *testing.T) {
	if _, err := run(t, "", "quote", "BAD!"); err == nil {
		t.Error("expected error for invalid symbol")
	}
}

func TestAnalyzeCommand(t *testing.T) {
	out, err := run(t, "", "analyze", "GOOGL")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !strings.Contains(out, "GOOGL Analytics Report") || !strings.Contains(out, "Recommendations") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestBuyCommand(t *testing.T) {
	out, err := run(t, "", "--json", "--user", "cli-user", "buy", "AAPL", "3", "--execute")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	var o model.Order
	if err := json.Unmarshal([]byte(out), &o); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if o.Status != model.StatusExecuted || o.Quantity != 3 || o.UserID != "cli-user" || o.Notes != cliNote {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestTradeCommand_Errors(t *testing.T) {
	cases := [][]string{
		{"buy", "AAPL", "three"},
		{"buy", "AAPL", "0"},
		{"sell", "AAPL", "5"}, // nothing held
		{"buy", "AAPL"},
	}
	for _, args := range cases {
		if _, err := run(t, "", args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestExecuteCommand_NotFound(t *testing.T) {
	_, err := run(t, "", "execute", "missing-id")
	if err == nil || !strings.Contains(err.Error(), "missing-id") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestPortfolioAndOrders_Empty(t *testing.T) {
	out, err := run(t, "", "portfolio")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !strings.Contains(out, "don't have any positions") {
		t.Errorf("unexpected portfolio output:\n%s", out)
	}

	out, err = run(t, "", "--json", "orders")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("expected empty JSON list, got %q", out)
	}
}

func TestChatCommand_Message(t *testing.T) {
	out, err := run(t, "", "chat", "what", "is", "the", "price", "of", "NVDA?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "NVDA Stock Price") {
		t.Errorf("unexpected reply:\n%s", out)
	}
}

func TestChatCommand_Interactive(t *testing.T) {
	stdin := "buy 2 shares of AAPL\n\nshow my orders\nexit\nhello\n"
	out, err := run(t, stdin, "chat")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, "Buy Order Placed Successfully!") {
		t.Errorf("missing order confirmation:\n%s", out)
	}
	if !strings.Contains(out, "Order History") || !strings.Contains(out, "BUY 2 AAPL") {
		t.Errorf("missing order history:\n%s", out)
	}
	if strings.Contains(out, "I'm StockBot") {
		t.Errorf("input after exit should be ignored:\n%s", out)
	}
}
