package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atmx/stockbot/internal/chat"
	"github.com/atmx/stockbot/internal/model"
)

const cliNote = "Order placed via stockctl"

func (c *cli) quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Show the current price of one or more symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quotes := make([]model.Quote, 0, len(args))
			texts := make([]string, 0, len(args))
			for _, sym := range args {
				q, err := c.app.Engine.GetQuote(cmd.Context(), sym)
				if err != nil {
					return fmt.Errorf("quote %s: %w", sym, err)
				}
				quotes = append(quotes, q)
				texts = append(texts, chat.RenderQuote(q))
			}
			return c.print(cmd.OutOrStdout(), quotes, strings.Join(texts, "\n\n"))
		},
	}
}

func (c *cli) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SYMBOL",
		Short: "Show indicators, risk score and recommendation for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.app.Engine.GetAnalytics(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("analyze %s: %w", args[0], err)
			}
			return c.print(cmd.OutOrStdout(), r, chat.RenderReport(r))
		},
	}
}

// tradeCmd builds the buy and sell commands.
func (c *cli) tradeCmd(side string) *cobra.Command {
	var execute bool
	cmd := &cobra.Command{
		Use:   side + " SYMBOL QUANTITY",
		Short: fmt.Sprintf("Place a simulated %s order at the current price", side),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			draft := model.OrderDraft{
				Symbol:   args[0],
				Side:     model.Side(side),
				Quantity: qty,
				UserID:   c.userID,
				Notes:    cliNote,
			}
			if execute {
				draft.Status = model.StatusExecuted
			}
			o, err := c.app.Engine.PlaceOrder(cmd.Context(), draft)
			if err != nil {
				return fmt.Errorf("%s: %w", side, err)
			}
			title := "Order Placed"
			if o.Status == model.StatusExecuted {
				title = "Order Executed"
			}
			return c.print(cmd.OutOrStdout(), o, chat.RenderOrder(o, title))
		},
	}
	cmd.Flags().BoolVar(&execute, "execute", false, "record the order as executed immediately")
	return cmd
}

func (c *cli) executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute ORDER_ID",
		Short: "Execute a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := c.app.Engine.ExecuteOrder(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("execute %s: %w", args[0], err)
			}
			return c.print(cmd.OutOrStdout(), o, chat.RenderOrder(o, "Order Executed"))
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := c.app.Engine.CancelOrder(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancel %s: %w", args[0], err)
			}
			return c.print(cmd.OutOrStdout(), o, chat.RenderOrder(o, "Order Cancelled"))
		},
	}
}

func (c *cli) ordersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the user's orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			orders, err := c.app.Engine.ListOrders(cmd.Context(), c.userID)
			if err != nil {
				return fmt.Errorf("orders: %w", err)
			}
			if orders == nil {
				orders = []model.Order{}
			}
			return c.print(cmd.OutOrStdout(), orders, chat.RenderOrders(orders, limit))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum orders to print in text mode (0 for all)")
	return cmd
}

func (c *cli) portfolioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show positions marked to the current price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.app.Engine.GetPortfolio(cmd.Context(), c.userID)
			if err != nil {
				return fmt.Errorf("portfolio: %w", err)
			}
			return c.print(cmd.OutOrStdout(), p, chat.RenderPortfolio(p))
		},
	}
}

// chatCmd answers a single message, or reads one message per line from
// stdin until EOF or "exit" when no message is given.
func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [MESSAGE...]",
		Short: "Talk to the trading assistant",
		RunE: func(cmd *cobra.Command, args []string) error {
			bot := chat.NewBot(c.app.Engine)
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				_, err := fmt.Fprintln(out, bot.Reply(cmd.Context(), c.userID, strings.Join(args, " ")))
				return err
			}

			fmt.Fprintln(out, chat.HelpText)
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch strings.ToLower(line) {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				fmt.Fprintln(out, bot.Reply(cmd.Context(), c.userID, line))
			}
		},
	}
}
