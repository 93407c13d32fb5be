package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/datallboy/serenity/internal/api"
	"github.com/datallboy/serenity/internal/domain"
	"github.com/datallboy/serenity/internal/infra/config"
	"github.com/datallboy/serenity/internal/progress"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch the manifest and download every sound it lists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			m, err := svc.runner.FetchManifest(ctx)
			if err != nil {
				return fmt.Errorf("manifest: %w", err)
			}
			names := m.Filenames()
			return withProgress(ctx, cmd, svc, names, func(ctx context.Context) error {
				return svc.runner.DownloadAll(ctx, names)
			})
		},
	}
}

func newManifestCmd() *cobra.Command {
	var cached bool

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Fetch and print the sound manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			var m *domain.Manifest
			if cached {
				m, err = svc.runner.Manifest(ctx)
			} else {
				m, err = svc.runner.FetchManifest(ctx)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tLOCATION\tFILENAME")
			for _, s := range m.Sounds {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Location, s.Filename)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "print the last persisted manifest without fetching")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <filename>...",
		Short: "Download specific sounds, resuming partial files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			svc.app.Progress.Seed(args)
			return withProgress(ctx, cmd, svc, args, func(ctx context.Context) error {
				return svc.runner.DownloadAll(ctx, args)
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [filename]...",
		Short: "Check local sounds against their remote checksums",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			names := args
			if len(names) == 0 {
				m, err := svc.runner.Manifest(ctx)
				if err != nil {
					return fmt.Errorf("no manifest, run sync first: %w", err)
				}
				names = m.Filenames()
			}

			out := cmd.OutOrStdout()
			bad := 0
			for _, name := range names {
				ok, err := svc.runner.Ready(ctx, name)
				switch {
				case err != nil:
					bad++
					fmt.Fprintf(out, "%-30s error: %v\n", name, err)
				case ok:
					fmt.Fprintf(out, "%-30s ready\n", name)
				default:
					bad++
					fmt.Fprintf(out, "%-30s missing or stale\n", name)
				}
			}

			if bad > 0 {
				return fmt.Errorf("%d of %d sounds not ready", bad, len(names))
			}
			return nil
		},
	}
}

func newTasksCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks [filename]",
		Short: "Show recent task history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			filename := ""
			if len(args) == 1 {
				filename = args[0]
			}
			runs, err := svc.db.ListTaskRuns(ctx, filename, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tFILENAME\tSTATUS\tATTEMPTS\tBYTES\tFINISHED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID, r.Kind, r.Filename, r.Status, r.Attempts,
					humanize.IBytes(uint64(r.BytesTransferred)), humanize.Time(r.FinishedAt), r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func newServeCmd() *cobra.Command {
	var syncOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and progress stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer svc.Close()

			a := svc.app
			a.Background = ctx
			log := a.Logger

			if err := os.MkdirAll(a.Config.Download.SoundsDir, 0755); err != nil {
				return fmt.Errorf("failed to create sounds_dir: %w", err)
			}

			watcher, err := progress.NewWatcher(a.Config.Download.SoundsDir, a.Progress, log)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return fmt.Errorf("failed to watch sounds_dir: %w", err)
			}
			defer watcher.Stop()

			go func() {
				if err := svc.runner.Seed(ctx); err != nil {
					log.Warn("could not rebuild progress: %v", err)
				}
				if syncOnStart {
					if err := svc.runner.SyncAsync(ctx); err != nil {
						log.Warn("sync on start: %v", err)
					}
				}
			}()

			srv := &http.Server{
				Addr:              ":" + a.Config.Port,
				Handler:           api.NewHandler(a),
				ReadHeaderTimeout: 10 * time.Second,
				ErrorLog:          stdlog.New(log, "", 0),
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("Starting API server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("API server stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&syncOnStart, "sync", false, "run a full sync once the server is up")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a config.yaml populated with defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteExample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

// withProgress runs fn while redrawing the CLI progress line.
func withProgress(ctx context.Context, cmd *cobra.Command, svc *services, names []string, fn func(context.Context) error) error {
	progCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.runner.StartCLIProgress(progCtx, cmd.OutOrStdout(), names)
	}()

	err := fn(ctx)
	cancel()
	<-done

	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d sounds up to date in %s\n", len(names), svc.app.Config.Download.SoundsDir)
	return nil
}
