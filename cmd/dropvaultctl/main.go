package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kaushikharsh99/Dropvault/internal/app"
	"github.com/kaushikharsh99/Dropvault/internal/config"
	"github.com/kaushikharsh99/Dropvault/internal/core/retrieval"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	ownerFlag := func() cli.Flag {
		return &cli.StringFlag{
			Name:     "owner",
			Aliases:  []string{"o"},
			Usage:    "Owner id to operate on",
			Required: true,
		}
	}
	drainFlag := func() cli.Flag {
		return &cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for queued work to finish",
			Value: 30 * time.Minute,
		}
	}

	return &cli.App{
		Name:  "dropvaultctl",
		Usage: "Maintenance commands for the DropVault pipeline",
		Commands: []*cli.Command{
			{
				Name:   "recover",
				Usage:  "Re-enqueue pending and processing items and wait for them to finish",
				Action: recoverCommand,
				Flags:  []cli.Flag{drainFlag()},
			},
			{
				Name:   "reembed",
				Usage:  "Recompute the embeddings of every completed item",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "owner",
						Aliases: []string{"o"},
						Usage:   "Limit to one owner (default: everyone)",
					},
				},
			},
			{
				Name:  "resync",
				Usage: "Mirror external sources into the vault",
				Subcommands: []*cli.Command{
					{
						Name:   "github",
						Usage:  "Sync the repositories of the configured GitHub account",
						Action: resyncGitHubCommand,
						Flags:  []cli.Flag{ownerFlag(), drainFlag()},
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Run a query against an owner's vault",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					ownerFlag(),
					&cli.StringFlag{
						Name:  "tags",
						Usage: "Comma separated tags, any of which must match",
					},
				},
			},
		},
	}
}

// withApp builds the application around a signal-aware context and closes it afterwards.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	log := logger.NewZapLogger(cfg.LogFile, cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	a, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func recoverCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		a.Pipeline.Start(ctx)
		n, err := a.Pipeline.Recover(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "re-enqueued %d items\n", n)
		return drain(ctx, c, a)
	})
}

func reembedCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		n, err := a.Pipeline.Reembed(ctx, c.String("owner"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "re-embedded %d items\n", n)
		return nil
	})
}

func resyncGitHubCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if a.GitHub == nil {
			return fmt.Errorf("GITHUB_TOKEN is not set")
		}
		a.Pipeline.Start(ctx)
		rep, err := a.GitHub.Sync(ctx, c.String("owner"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "repositories: %d, queued: %d, failed: %d\n", rep.Repos, rep.Queued, rep.Failed)
		return drain(ctx, c, a)
	})
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	var tags []string
	for _, t := range strings.Split(c.String("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if query == "" && len(tags) == 0 {
		return cli.Exit("a query or --tags is required", 2)
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		resp, err := a.Engine.Search(ctx, retrieval.SearchRequest{
			Query:   query,
			OwnerID: c.String("owner"),
			Tags:    tags,
		})
		if err != nil {
			return err
		}
		printResults(c.App.Writer, resp)
		return nil
	})
}

func drain(ctx context.Context, c *cli.Context, a *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	if err := a.Pipeline.Drain(ctx); err != nil {
		return fmt.Errorf("waiting for pipeline: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "pipeline drained")
	return nil
}

func printResults(w io.Writer, resp *retrieval.SearchResponse) {
	if resp.Filters != "" {
		fmt.Fprintf(w, "filters: %s\n", resp.Filters)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tTYPE\tTITLE\tWHY")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n", r.Score, r.Type, r.Title, r.Explanation)
	}
	_ = tw.Flush()
}
