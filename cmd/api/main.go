package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/job"
	transporthttp "github.com/go-petition/internal/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	rootCmd := &cobra.Command{
		Use:          "petition-api",
		Short:        "petition signature service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd(), bootstrapCmd(), verifyAuditCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			svcs := transporthttp.NewServices(cfg, b.deps)
			if cfg.StoreBackend == "memory" && cfg.SeedPetitionSlug != "" {
				if err := svcs.Petition.Seed(ctx, demoPetition(cfg.SeedPetitionSlug)); err != nil {
					return fmt.Errorf("seed petition: %w", err)
				}
			}

			sched := job.NewScheduler()
			if err := sched.Add(job.NewReceiptRetryJob(svcs.Signature, 50), cfg.ReceiptRetrySchedule); err != nil {
				return fmt.Errorf("schedule receipt retry: %w", err)
			}
			if b.purger != nil {
				if err := sched.Add(job.NewOTPCleanupJob(b.purger, time.Hour), "0 * * * *"); err != nil {
					return fmt.Errorf("schedule otp cleanup: %w", err)
				}
			}
			sched.Start(ctx)
			defer sched.Stop()

			router, err := transporthttp.NewRouter(cfg, svcs)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg, router)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "create tables or apply the schema, and seed the demo petition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.bootstrap(ctx, cfg); err != nil {
				return err
			}
			if cfg.SeedPetitionSlug == "" {
				return nil
			}
			svcs := transporthttp.NewServices(cfg, b.deps)
			if err := svcs.Petition.Seed(ctx, demoPetition(cfg.SeedPetitionSlug)); err != nil {
				return fmt.Errorf("seed petition: %w", err)
			}
			slog.Info("petition seeded", "slug", cfg.SeedPetitionSlug)
			return nil
		},
	}
}

func verifyAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit <hash>",
		Short: "look up a signature by audit hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			v, err := transporthttp.NewServices(cfg, b.deps).Audit.Verify(ctx, args[0])
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), `{"valid":false}`)
				return err
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Valid bool `json:"valid"`
				*domain.AuditVerification
			}{Valid: true, AuditVerification: v})
		},
	}
}
