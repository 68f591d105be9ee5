package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	fxmodules "playsync/internal/fx"
	"playsync/internal/service"
	"playsync/internal/worker"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

type rootOptions struct {
	Format string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "playsync",
		Short: "Keep a local play log in sync with BoardGameGeek",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newDownloadCommand(opts))
	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newResetCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and the background sync worker",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fx.New(fxmodules.ServeModule).Run()
		},
	}
}

// deps is what the one-shot commands pull out of the container.
type deps struct {
	DB         *sql.DB
	Worker     *worker.SyncWorker
	Downloader *service.PlayDownloader
	Uploader   *service.PlayUploader
	Plays      *service.PlayService
}

// withDeps builds the container without starting anything, runs fn and
// closes the database.
func withDeps(cmd *cobra.Command, fn func(ctx context.Context, d deps) error) error {
	var d deps
	app := fx.New(fxmodules.Module, fx.NopLogger, fx.Populate(&d.DB, &d.Worker, &d.Downloader, &d.Uploader, &d.Plays))
	if err := app.Err(); err != nil {
		return err
	}
	defer d.DB.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, d)
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload local changes, then download remote plays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d deps) error {
				report, err := d.Worker.RunOnce(ctx)
				if report != nil {
					if perr := printResult(cmd.OutOrStdout(), opts.Format, report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newDownloadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download new and missing plays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d deps) error {
				result, err := d.Downloader.Run(ctx)
				if result != nil {
					if perr := printResult(cmd.OutOrStdout(), opts.Format, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newUploadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Upload locally logged, edited and deleted plays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d deps) error {
				result, err := d.Uploader.Run(ctx)
				if result != nil {
					if perr := printResult(cmd.OutOrStdout(), opts.Format, result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func newResetCommand() *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget sync progress so the next download starts over",
		Long: `Forget sync progress so the next download re-fetches every play.

With --wipe every local play is deleted as well, including changes that were
never uploaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d deps) error {
				if wipe {
					return d.Plays.DeletePlays(ctx)
				}
				return d.Plays.ResetPlays(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&wipe, "wipe", false, "also delete all local plays")
	return cmd
}

func printResult(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch r := v.(type) {
	case *worker.Report:
		if r.Upload != nil {
			printUpload(w, r.Upload)
		}
		if r.UploadError != "" {
			fmt.Fprintf(w, "upload error: %s\n", r.UploadError)
		}
		if r.Download != nil {
			printDownload(w, r.Download)
		}
		if r.DownloadError != "" {
			fmt.Fprintf(w, "download error: %s\n", r.DownloadError)
		}
	case *service.UploadResult:
		printUpload(w, r)
	case *service.DownloadResult:
		printDownload(w, r)
	}
	return nil
}

func printUpload(w io.Writer, r *service.UploadResult) {
	fmt.Fprintf(w, "upload: %d created, %d updated, %d deleted, %d conflicts, %d errors\n",
		r.Created, r.Updated, r.Deleted, r.Conflicts, r.Errors)
	for _, m := range r.Messages {
		fmt.Fprintf(w, "  %s\n", m)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed to %s %s: %s\n", f.Action, f.GameName, f.Message)
	}
}

func printDownload(w io.Writer, r *service.DownloadResult) {
	fmt.Fprintf(w, "download: %d pages, %d new, %d updated, %d unchanged, %d kept local, %d pruned\n",
		r.Pages, r.Inserted, r.Updated, r.Unchanged, r.Dirty, r.Pruned)
	fmt.Fprintf(w, "  newest %s, oldest %s\n", r.Newest, r.Oldest)
}
