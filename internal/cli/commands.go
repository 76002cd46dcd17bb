package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/internal/importer"
	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func newServeCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := setupTracing(ctx, env)
			if err != nil {
				return err
			}

			a, err := app.New(env.Config, env.Logger)
			if err != nil {
				return err
			}
			s, err := a.Start(ctx)
			if err != nil {
				_ = s.Stop(context.Background())
				return err
			}
			env.Logger.Infof("%s %s started", env.Config.AppName, env.Config.Version)

			<-ctx.Done()
			env.Logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.ShutdownTimeout)
			defer cancel()
			if err := s.Stop(shutdownCtx); err != nil {
				env.Logger.WithError(err).Error("Shutdown finished with errors")
			}
			return shutdownTracing(shutdownCtx)
		},
	}
}

func newMigrateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(env.Config, env.Logger)
			if err != nil {
				return err
			}
			result, err := a.Migrate(cmd.Context())
			if err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(result)
		},
	}
}

func newRunTaskCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "run-task <name>",
		Short: "Run one scheduled task immediately and print the outcome",
		Long: "Runs one of: " + app.TaskSameDayReminder + ", " + app.TaskDailyDeadline + ", " +
			app.TaskWeekAhead + ", " + app.TaskReconcile + ", " + app.TaskPurgeMarkers +
			" (postgres marker store only).",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(env.Config, env.Logger)
			if err != nil {
				return err
			}
			if err := a.Prepare(cmd.Context()); err != nil {
				return err
			}
			defer a.Close()

			if err := a.RunTask(cmd.Context(), args[0]); err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(map[string]any{"task": args[0], "status": "ok"})
		},
	}
}

func newImportCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create the plans described in a YAML file, owned by the file's owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := importer.Load(args[0])
			if err != nil {
				return err
			}

			a, err := app.New(env.Config, env.Logger)
			if err != nil {
				return err
			}
			if err := a.Prepare(cmd.Context()); err != nil {
				return err
			}
			defer a.Close()

			ctx := appctx.SetUserID(cmd.Context(), file.Owner)
			ctx = appctx.SetUserName(ctx, file.OwnerName)

			created := make([]int64, 0, len(file.Plans))
			for i, doc := range file.Plans {
				plan, err := a.Service.Create(ctx, doc.Input())
				if err != nil {
					return fmt.Errorf("plan %d (%s): %w", i+1, doc.Project, err)
				}
				created = append(created, plan.ID)
			}
			env.Logger.Infof("Imported %d plans from %s", len(created), args[0])

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(map[string]any{"created": created})
		},
	}
}
