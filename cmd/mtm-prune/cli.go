package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/mtm-prune/internal/config"
	"github.com/Sternrassler/mtm-prune/pkg/auth"
	"github.com/Sternrassler/mtm-prune/pkg/client"
	"github.com/Sternrassler/mtm-prune/pkg/deletion"
	"github.com/Sternrassler/mtm-prune/pkg/export"
	"github.com/Sternrassler/mtm-prune/pkg/logging"
	"github.com/Sternrassler/mtm-prune/pkg/metrics"
	"github.com/Sternrassler/mtm-prune/pkg/mtm"
	"github.com/Sternrassler/mtm-prune/pkg/pagination"
	"github.com/Sternrassler/mtm-prune/pkg/prune"
	"github.com/Sternrassler/mtm-prune/pkg/ratelimit"
	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cfg *config.Config

	app := &cli.Command{
		Name:      "mtm-prune",
		Usage:     "Export MTM account users and delete those without a workspace permission",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a config file (default: ./mtm.yaml if present)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.BoolFlag{Name: "log-pretty", Usage: "human-readable console logs"},
			&cli.StringFlag{Name: "output-dir", Usage: "directory for JSON artifacts"},
			&cli.StringFlag{Name: "account-id", Usage: "MTM account ID"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			loaded, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}
			applyFlags(loaded, cmd)
			cfg = loaded

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Log.Level),
				Pretty: cfg.Log.Pretty,
				Output: stderr,
			})
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "emails",
				Usage: "Write every email of the account to emails.json",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := cfg.ValidateAuth(); err != nil {
						return err
					}
					if cfg.AccountID == "" {
						return fmt.Errorf("account id is required (MTM_ACCOUNT_ID)")
					}

					runner, err := newRunner(cfg)
					if err != nil {
						return err
					}
					emails, err := runner.ExportEmails(ctx, cfg.AccountID)
					if err != nil {
						return err
					}
					fmt.Fprintf(stdout, "exported %d emails to %s/%s\n", len(emails), cfg.OutputDir, export.FileEmails)
					return nil
				},
			},
			{
				Name:  "prune",
				Usage: "Delete account users that hold no permission on the workspace",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workspace-id", Usage: "MTM workspace ID"},
					&cli.BoolFlag{Name: "dry-run", Usage: "select users but delete nothing"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.IsSet("workspace-id") {
						cfg.WorkspaceID = cmd.String("workspace-id")
					}
					if cmd.Bool("dry-run") {
						cfg.DryRun = true
					}
					if err := cfg.ValidatePrune(); err != nil {
						return err
					}

					mctx, cancel := context.WithCancel(ctx)
					defer cancel()
					metricsLogger := logging.NewLogger("metrics")
					go func() {
						if err := metrics.Serve(mctx, cfg.MetricsAddr, metricsLogger); err != nil {
							metricsLogger.Error().Err(err).Msg("Metrics server failed")
						}
					}()

					runner, err := newRunner(cfg)
					if err != nil {
						return err
					}
					summary, err := runner.Prune(ctx, prune.Config{
						AccountID:   cfg.AccountID,
						WorkspaceID: cfg.WorkspaceID,
						DryRun:      cfg.DryRun,
					})
					if summary != nil {
						printSummary(stdout, summary)
					}
					return err
				},
			},
		},
	}

	return app.Run(ctx, args)
}

// applyFlags lets explicitly set global flags override loaded configuration.
func applyFlags(cfg *config.Config, cmd *cli.Command) {
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-pretty") {
		cfg.Log.Pretty = cmd.Bool("log-pretty")
	}
	if cmd.IsSet("output-dir") {
		cfg.OutputDir = cmd.String("output-dir")
	}
	if cmd.IsSet("account-id") {
		cfg.AccountID = cmd.String("account-id")
	}
}

// newRunner builds the full component graph from configuration.
func newRunner(cfg *config.Config) (*prune.Runner, error) {
	logger := logging.NewLogger("mtm-prune")
	baseURL := cfg.APIBaseURL()

	provider, err := auth.NewProvider(
		auth.Credential{Host: hostOrBase(cfg), APIToken: cfg.APIToken},
		auth.WithBaseURL(baseURL),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("create token provider: %w", err)
	}

	apiClient, err := client.New(client.Config{
		BaseURL:   baseURL,
		UserAgent: "mtm-prune/" + version,
		Timeout:   cfg.Timeout,
	}, provider)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	api := mtm.New(apiClient)

	limiter, err := ratelimit.NewLimiter(ratelimit.Config{
		MaxConcurrency: cfg.Concurrency,
		MinSpacing:     cfg.Spacing,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create limiter: %w", err)
	}

	out, err := export.NewWriter(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	return prune.NewRunner(
		api,
		pagination.NewFetcher(pagination.Config{PageSize: cfg.PageSize, MaxPages: cfg.MaxPages}),
		deletion.NewDeleter(api.DeleteUser, limiter, logger),
		out,
		logger,
	), nil
}

func hostOrBase(cfg *config.Config) string {
	if cfg.Host != "" {
		return cfg.Host
	}
	return cfg.BaseURL
}

func printSummary(w io.Writer, s *prune.Summary) {
	fmt.Fprintf(w, "run %s: %d account users, %d with permission, %d selected\n",
		s.RunID, s.AccountUsers, s.PermittedUsers, len(s.Selected))
	if s.DryRun {
		fmt.Fprintln(w, "dry run: nothing deleted")
		return
	}
	if s.Report != nil {
		fmt.Fprintf(w, "deleted %d, failed %d\n", len(s.Report.Deleted), len(s.Report.Failed))
	}
}
