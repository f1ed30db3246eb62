// Package prune runs the end-to-end flow: list an account's users and a
// workspace's permission holders, select the users lacking the permission
// and delete them.
package prune

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/mtm-prune/pkg/deletion"
	"github.com/Sternrassler/mtm-prune/pkg/export"
	"github.com/Sternrassler/mtm-prune/pkg/mtm"
	"github.com/Sternrassler/mtm-prune/pkg/pagination"
	"github.com/Sternrassler/mtm-prune/pkg/selection"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Listing resource names, used in logs and metrics.
const (
	ResourceAccountUsers   = "account_users"
	ResourceAccountEmails  = "account_emails"
	ResourcePermittedUsers = "permitted_users"
)

// Config selects what a prune run acts on.
type Config struct {
	AccountID   string
	WorkspaceID string
	// DryRun stops after selection; nothing is deleted.
	DryRun bool
}

// Validate reports missing identifiers.
func (c Config) Validate() error {
	if c.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace id is required")
	}
	return nil
}

// Summary describes one prune run.
type Summary struct {
	RunID          string           `json:"run_id"`
	AccountUsers   int              `json:"account_users"`
	PermittedUsers int              `json:"permitted_users"`
	Selected       []string         `json:"selected"`
	DryRun         bool             `json:"dry_run"`
	Report         *deletion.Report `json:"report,omitempty"`
}

// Runner wires the listing, selection and deletion steps.
type Runner struct {
	api     *mtm.Client
	fetcher *pagination.Fetcher
	deleter *deletion.Deleter
	out     *export.Writer
	logger  zerolog.Logger
}

// NewRunner creates a runner. out may be nil to skip writing artifacts.
func NewRunner(api *mtm.Client, fetcher *pagination.Fetcher, deleter *deletion.Deleter, out *export.Writer, logger zerolog.Logger) *Runner {
	return &Runner{
		api:     api,
		fetcher: fetcher,
		deleter: deleter,
		out:     out,
		logger:  logger.With().Str("component", "prune").Logger(),
	}
}

// ExportEmails lists every email of an account and writes emails.json.
func (r *Runner) ExportEmails(ctx context.Context, accountID string) ([]string, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	emails, err := r.fetcher.FetchAll(ctx, ResourceAccountEmails, r.api.AccountEmails(accountID))
	if err != nil {
		return nil, err
	}
	if err := r.write(export.FileEmails, emails); err != nil {
		return nil, err
	}

	r.logger.Info().Str("account_id", accountID).Int("emails", len(emails)).Msg("Exported account emails")
	return emails, nil
}

// Prune deletes the account users that hold no permission on the workspace.
// Listing failures abort the run before anything is deleted. Deletion
// failures do not stop the other deletions; they are returned joined
// together with a complete Summary.
func (r *Runner) Prune(ctx context.Context, cfg Config) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	summary := &Summary{RunID: uuid.NewString(), DryRun: cfg.DryRun}
	logger := r.logger.With().Str("run_id", summary.RunID).Logger()
	start := time.Now()

	var accountUsers, permitted []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := r.fetcher.FetchAll(gctx, ResourceAccountUsers, r.api.AccountUserIDs(cfg.AccountID))
		accountUsers = ids
		return err
	})
	g.Go(func() error {
		ids, err := r.fetcher.FetchAll(gctx, ResourcePermittedUsers, r.api.PermittedUserIDs(cfg.WorkspaceID))
		permitted = ids
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Listing failed")
		return nil, fmt.Errorf("list users: %w", err)
	}

	summary.AccountUsers = len(accountUsers)
	summary.PermittedUsers = len(permitted)
	summary.Selected = selection.Difference(accountUsers, permitted)

	logger.Info().
		Str("account_id", cfg.AccountID).
		Str("workspace_id", cfg.WorkspaceID).
		Int("account_users", summary.AccountUsers).
		Int("permitted_users", summary.PermittedUsers).
		Int("selected", len(summary.Selected)).
		Msg("Selected users without permission")

	for name, v := range map[string]any{
		export.FileAccountUsers:   accountUsers,
		export.FilePermittedUsers: permitted,
		export.FileUnpermitted:    summary.Selected,
	} {
		if err := r.write(name, v); err != nil {
			return nil, err
		}
	}

	if cfg.DryRun {
		logger.Info().Int("selected", len(summary.Selected)).Msg("Dry run, skipping deletion")
		return summary, nil
	}

	summary.Report = r.deleter.DeleteAll(ctx, summary.RunID, summary.Selected)
	if err := r.write(export.FileDeletionReport, summary.Report); err != nil {
		return summary, err
	}

	logger.Info().
		Int("deleted", len(summary.Report.Deleted)).
		Int("failed", len(summary.Report.Failed)).
		Dur("duration", time.Since(start)).
		Msg("Prune complete")

	return summary, summary.Report.Err()
}

func (r *Runner) write(name string, v any) error {
	if r.out == nil {
		return nil
	}
	path, err := r.out.WriteJSON(name, v)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("path", path).Msg("Wrote artifact")
	return nil
}
