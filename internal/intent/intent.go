// Package intent turns a free-form chat message into a structured command.
//
// Parsing is a pure function of the message. When a message could mean
// several things the rules are applied in this order:
//
//  1. help keywords ("help", "commands", "what can you do") win outright;
//  2. the first verb in the message decides between buy, sell, execute
//     and cancel, except that questions ("what if I sell", "should I buy")
//     are never trades;
//  3. analysis, quote, order-history and portfolio keywords;
//  4. greetings, only when nothing above matched.
//
// Within a trade the all-digit token is the quantity and the first other
// ticker-shaped token is the symbol, so "buy 10 shares of AAPL",
// "buy AAPL 10 shares", "buy 10 AAPL" and "buy AAPL 10" agree.
// "at market" without a quantity means one share.
package intent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/atmx/stockbot/internal/symbol"
)

// Kind identifies what the user asked for.
type Kind string

const (
	KindUnrecognized Kind = "unrecognized"
	KindBuy          Kind = "buy"
	KindSell         Kind = "sell"
	KindExecute      Kind = "execute"
	KindCancel       Kind = "cancel"
	KindQuote        Kind = "quote"
	KindAnalyze      Kind = "analyze"
	KindPortfolio    Kind = "show_portfolio"
	KindOrders       Kind = "show_orders"
	KindHelp         Kind = "help"
	KindGreeting     Kind = "greeting"
)

// Intent is the parsed form of a message. Symbol and Quantity are set for
// trades, quotes and analysis; OrderID for execute and cancel. A trade or
// lookup with a missing argument keeps its Kind and leaves the field zero.
type Intent struct {
	Kind     Kind   `json:"kind"`
	Symbol   string `json:"symbol,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// Complete reports whether every argument the intent's kind needs is set.
func (i Intent) Complete() bool {
	switch i.Kind {
	case KindBuy, KindSell:
		return i.Symbol != "" && i.Quantity > 0
	case KindQuote, KindAnalyze:
		return i.Symbol != ""
	case KindExecute, KindCancel:
		return i.OrderID != ""
	}
	return true
}

var tickerShape = regexp.MustCompile(`^[a-z]{1,5}(?:-[a-z])?(?:\.[a-z]{1,4})?$`)

// stopWords are short English words that look like tickers.
var stopWords = set(
	"a", "an", "the", "and", "or", "for", "of", "at", "to", "in", "on", "is",
	"are", "be", "me", "my", "i", "im", "you", "can", "get", "buy", "sell",
	"show", "what", "whats", "when", "where", "why", "how", "much", "price",
	"quote", "stock", "share", "some", "all", "tell", "give", "about",
	"check", "now", "today", "please", "pls", "market", "order", "help",
	"s", "it", "its", "do", "does", "with", "this", "that", "per",
	"worth", "risk", "value", "want", "would", "like", "could",
	"trade", "trades", "will", "let", "lets", "us", "up", "again", "more",
)

var (
	helpWords     = set("help", "commands", "command")
	greetingWords = set("hello", "hi", "hey", "start", "greetings", "yo", "howdy")
	buyVerbs      = set("buy", "purchase", "acquire")
	sellVerbs     = set("sell", "liquidate", "dump")
	executeVerbs  = set("execute", "confirm", "fill")
	cancelVerbs   = set("cancel")
	fillerWords   = set("shares", "share", "of", "stock", "stocks", "units", "at", "market", "the", "some", "please", "me", "for")
	analyzeWords  = set("analyze", "analyse", "analysis", "analytics", "assessment", "recommendations", "recommendation", "outlook")
	quoteWords    = set("price", "prices", "quote", "quotes", "trading", "worth")
	portfolioWord = set("portfolio", "investments", "positions", "holdings", "position")
	orderWords    = set("orders", "history", "trades")
)

// questionPrefixes mark hypotheticals that must not place orders.
var questionPrefixes = []string{"what if", "what would", "what happens", "how much", "when should", "should i", "would it", "if i", "when"}

// Parse classifies message.
func Parse(message string) Intent {
	toks := tokenize(message)
	if len(toks) == 0 {
		return Intent{Kind: KindUnrecognized}
	}
	lower := strings.ToLower(strings.TrimSpace(message))

	if anyWord(toks, helpWords) || strings.Contains(lower, "what can you do") {
		return Intent{Kind: KindHelp}
	}

	for i, t := range toks {
		switch {
		case executeVerbs[t.lower]:
			return orderAction(KindExecute, toks[i+1:])
		case cancelVerbs[t.lower]:
			return orderAction(KindCancel, toks[i+1:])
		case buyVerbs[t.lower] && !isQuestion(lower):
			return trade(KindBuy, toks[i+1:], lower)
		case sellVerbs[t.lower] && !isQuestion(lower):
			return trade(KindSell, toks[i+1:], lower)
		}
	}

	switch {
	case anyWord(toks, analyzeWords):
		return Intent{Kind: KindAnalyze, Symbol: findSymbol(toks, lower)}
	case anyWord(toks, quoteWords) || strings.HasPrefix(lower, "how much is"):
		return Intent{Kind: KindQuote, Symbol: findSymbol(toks, lower)}
	case anyWord(toks, orderWords) || containsPhrase(toks, "my", "order"):
		return Intent{Kind: KindOrders}
	case anyWord(toks, portfolioWord):
		return Intent{Kind: KindPortfolio}
	case anyWord(toks, greetingWords):
		return Intent{Kind: KindGreeting}
	}
	return Intent{Kind: KindUnrecognized}
}

// token keeps the original spelling next to the lower-cased form so that
// order ids and explicitly upper-cased tickers survive.
type token struct {
	raw   string
	lower string
}

func tokenize(s string) []token {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '\'' || r == '"')
	})
	toks := make([]token, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.-'"`)
		f = strings.ReplaceAll(f, "'", "")
		if f == "" {
			continue
		}
		toks = append(toks, token{raw: f, lower: strings.ToLower(f)})
	}
	return toks
}

// trade reads the arguments after a buy or sell verb, stopping at the
// next trade verb.
func trade(kind Kind, args []token, lower string) Intent {
	in := Intent{Kind: kind}
	for _, a := range args {
		if buyVerbs[a.lower] || sellVerbs[a.lower] {
			break
		}
		if fillerWords[a.lower] {
			continue
		}
		if in.Quantity == 0 && isDigits(a.lower) {
			if n, err := strconv.ParseInt(a.lower, 10, 64); err == nil && n > 0 {
				in.Quantity = n
			}
			continue
		}
		if in.Symbol == "" && isTicker(a.lower) {
			in.Symbol = symbol.Normalize(a.raw)
		}
	}
	if in.Quantity == 0 && strings.Contains(lower, "at market") {
		in.Quantity = 1
	}
	return in
}

func orderAction(kind Kind, args []token) Intent {
	in := Intent{Kind: kind}
	for _, a := range args {
		switch a.lower {
		case "order", "id", "the", "my", "number", "no":
			continue
		}
		in.OrderID = a.raw
		break
	}
	return in
}

// findSymbol picks the ticker for a lookup: a word after "of" or "for",
// then a quoted word, then a word the user typed in capitals, then any
// ticker-shaped word that is not a stop word.
func findSymbol(toks []token, lower string) string {
	for i, t := range toks {
		if (t.lower == "of" || t.lower == "for") && i+1 < len(toks) {
			next := toks[i+1]
			if isTicker(next.lower) && !analyzeWords[next.lower] {
				return symbol.Normalize(next.raw)
			}
		}
	}
	if start := strings.IndexByte(lower, '"'); start >= 0 {
		if end := strings.IndexByte(lower[start+1:], '"'); end > 0 {
			if q := lower[start+1 : start+1+end]; tickerShape.MatchString(q) {
				return symbol.Normalize(q)
			}
		}
	}
	for _, t := range toks {
		if t.raw == strings.ToUpper(t.raw) && isTicker(t.lower) && len(t.raw) > 1 {
			return symbol.Normalize(t.raw)
		}
	}
	for _, t := range toks {
		if isTicker(t.lower) && !quoteWords[t.lower] && !analyzeWords[t.lower] && !greetingWords[t.lower] {
			return symbol.Normalize(t.raw)
		}
	}
	return ""
}

func isTicker(s string) bool {
	return tickerShape.MatchString(s) && !stopWords[s] && !fillerWords[s]
}

func isQuestion(lower string) bool {
	for _, p := range questionPrefixes {
		if strings.HasPrefix(lower, p+" ") || strings.Contains(lower, " "+p+" ") {
			return true
		}
	}
	return strings.HasSuffix(lower, "?") && (strings.Contains(lower, "sell") || strings.Contains(lower, "buy")) &&
		(strings.HasPrefix(lower, "should") || strings.HasPrefix(lower, "can") || strings.HasPrefix(lower, "is it"))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func anyWord(toks []token, words map[string]bool) bool {
	for _, t := range toks {
		if words[t.lower] {
			return true
		}
	}
	return false
}

func containsPhrase(toks []token, a, b string) bool {
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].lower == a && toks[i+1].lower == b {
			return true
		}
	}
	return false
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
