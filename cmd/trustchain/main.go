// Package main provides the entry point for the reputation ledger service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trustchain/internal/app"
	"trustchain/internal/config"
	"trustchain/internal/ledger"
	"trustchain/internal/logger"
	"trustchain/internal/reputation"
	"trustchain/internal/tui"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Try to load .env from CWD if present; otherwise use environment as-is
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newCLI().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	userFlag := &cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "chain owner id", Required: true}

	return &cli.App{
		Name:  "trustchain",
		Usage: "append-only reputation ledger: mine, verify and inspect per-user trust chains",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create or update the reputation_ledger table",
				Action: withApp(func(c *cli.Context, a *app.App) error { return a.Migrate() }),
			},
			{
				Name:  "mine",
				Usage: "append a block to a user's chain",
				Flags: []cli.Flag{
					userFlag,
					&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Usage: "action type, e.g. event_won", Required: true},
					&cli.Int64Flag{Name: "points", Aliases: []string{"p"}, Usage: "points awarded"},
					&cli.StringFlag{Name: "meta", Usage: "metadata as a JSON object", Value: "{}"},
				},
				Action: withApp(mineCmd),
			},
			{
				Name:  "award",
				Usage: "record an application event (service_approved, review_received, event_participated, event_won)",
				Flags: []cli.Flag{
					userFlag,
					&cli.StringFlag{Name: "trigger", Aliases: []string{"t"}, Required: true},
					&cli.StringFlag{Name: "ref", Usage: "id of the service or event"},
					&cli.IntFlag{Name: "rating", Usage: "review rating (review_received only)"},
				},
				Action: withApp(awardCmd),
			},
			{
				Name:   "verify",
				Usage:  "check the integrity of a user's chain (exit status 2 when compromised)",
				Flags:  []cli.Flag{userFlag},
				Action: withApp(verifyCmd),
			},
			{
				Name:   "audit",
				Usage:  "verify every chain in the store",
				Action: withApp(auditCmd),
			},
			{
				Name:  "leaderboard",
				Usage: "print the top users by score",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 10},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					board, err := a.Service.Leaderboard(c.Context, c.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(board)
				}),
			},
			{
				Name:  "chain",
				Usage: "browse a user's trust chain in the terminal",
				Flags: []cli.Flag{userFlag},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					userID := c.String("user")
					return tui.Run(func() (*reputation.TrustChain, error) {
						return a.Service.TrustChain(c.Context, userID)
					})
				}),
			},
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "migrate", Usage: "apply migrations before serving"},
				},
				Action: withApp(func(c *cli.Context, a *app.App) error {
					if c.Bool("migrate") {
						if err := a.Migrate(); err != nil {
							return err
						}
					}
					return a.Serve(c.Context)
				}),
			},
		},
	}
}

// withApp loads configuration, wires the application and closes it after the command
func withApp(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := config.Load()
		log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Debug: cfg.Debug})
		defer func() { _ = log.Sync() }()
		log.Printf("Config loaded: %s", cfg.DebugString())

		a, err := app.New(c.Context, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Printf("close error: %v", err)
			}
		}()
		return fn(c, a)
	}
}

func mineCmd(c *cli.Context, a *app.App) error {
	var meta ledger.Metadata
	if err := json.Unmarshal([]byte(c.String("meta")), &meta); err != nil {
		return fmt.Errorf("invalid --meta: %w", err)
	}
	block, err := a.Ledger.MineBlock(c.Context, c.String("user"), c.String("action"), c.Int64("points"), meta)
	if err != nil {
		return err
	}
	return printJSON(block)
}

func awardCmd(c *cli.Context, a *app.App) error {
	hash, awarded, err := a.Service.Award(c.Context, reputation.Award{
		Trigger: reputation.Trigger(c.String("trigger")),
		UserID:  c.String("user"),
		RefID:   c.String("ref"),
		Rating:  c.Int("rating"),
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{"awarded": awarded, "current_hash": hash})
}

func verifyCmd(c *cli.Context, a *app.App) error {
	v, err := a.Ledger.Inspect(c.Context, c.String("user"))
	if err != nil {
		return err
	}
	if err := printJSON(v); err != nil {
		return err
	}
	if !v.Valid {
		return cli.Exit("chain compromised", 2)
	}
	return nil
}

func auditCmd(c *cli.Context, a *app.App) error {
	report, err := a.Service.Audit(c.Context)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if len(report.Compromised) > 0 {
		return cli.Exit(fmt.Sprintf("%d compromised chain(s)", len(report.Compromised)), 2)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
