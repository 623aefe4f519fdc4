package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/stockbot/internal/app"
	"github.com/atmx/stockbot/internal/config"
	"github.com/atmx/stockbot/internal/ledger"
)

// cli holds the state shared by every subcommand.
type cli struct {
	configFiles []string
	envFile     string
	userID      string
	jsonOut     bool

	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "stockctl",
		Short: "Simulated trading assistant",
		Long: `stockctl runs the stockbot engine in-process: quotes, analytics reports,
simulated orders and the chat assistant, against the store and market data
provider named in the configuration.

Examples:
  stockctl quote AAPL MSFT
  stockctl analyze TSLA --json
  stockctl buy AAPL 10 --execute
  stockctl chat "sell 5 shares of MSFT"`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
		PersistentPostRun: func(*cobra.Command, []string) { c.close() },
	}

	f := root.PersistentFlags()
	f.StringSliceVar(&c.configFiles, "config", nil, "TOML config files (later files override earlier)")
	f.StringVar(&c.envFile, "env", ".env", "dotenv file loaded before reading the environment")
	f.StringVar(&c.userID, "user", ledger.DefaultUser, "user the orders belong to")
	f.BoolVar(&c.jsonOut, "json", false, "print JSON instead of formatted text")

	root.AddCommand(
		c.quoteCmd(),
		c.analyzeCmd(),
		c.tradeCmd("buy"),
		c.tradeCmd("sell"),
		c.executeCmd(),
		c.cancelCmd(),
		c.ordersCmd(),
		c.portfolioCmd(),
		c.chatCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(c.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadFromFiles(c.configFiles...)
	if err != nil {
		return err
	}
	// stdout carries command output, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()})))

	a, err := app.New(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// print writes v as indented JSON with --json, otherwise the rendered text.
func (c *cli) print(w io.Writer, v any, text string) error {
	if !c.jsonOut {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
