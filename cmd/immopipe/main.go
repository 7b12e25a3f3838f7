// Package main is the immopipe command line entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"immopipe/internal/api"
	"immopipe/internal/models"
	"immopipe/internal/pipeline"
	"immopipe/internal/scheduler"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "immopipe",
		Short: "French property sales enrichment and valuation pipeline",
		Long: `Immopipe maintains a canonical dataset of French property sales.

It enriches raw listings with geocoding (BAN) and energy-diagnostic data
(ADEME), estimates current market value from per-city growth chains and
serves the dataset over a filterable HTTP API.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(
		serveCmd(),
		runCmd(),
		importCmd(),
		enrichCmd(),
		estimateCmd(),
		queryCmd(),
		deleteCmd(),
		summaryCmd(),
	)
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			comps := a.buildComponents()
			defer comps.Close()

			if a.cfg.Scheduler.Enabled {
				sched := scheduler.NewScheduler(comps.runner, a.cfg.Scheduler.Hour, a.logger)
				sched.Start()
				defer sched.Stop()
			}

			handler := api.NewHandler(a.store, comps.runner, a.logger)
			router := api.NewRouter(handler, a.cfg.Server.AllowedOrigins)

			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler: router,
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Infof("Starting server on port %d", a.cfg.Server.Port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once: enrich, estimate, persist",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			comps := a.buildComponents()
			defer comps.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, err := comps.runner.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [listings.csv]",
		Short: "Merge a raw listings CSV into the dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			path := a.cfg.Paths.RawImports
			if len(args) == 1 {
				path = args[0]
			}
			runner := pipeline.NewRunner(a.store, nil, nil, nil, a.logger)
			result, err := runner.Import(path)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Enrich stored records with geocoding and DPE data",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			comps := a.buildComponents()
			defer comps.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			frame := a.store.Snapshot()
			if len(frame) == 0 {
				a.logger.Info("Dataset is empty, nothing to enrich")
				return nil
			}
			if ok := comps.engine.Enrich(ctx, frame); !ok {
				return errors.New("enrichment did not complete")
			}
			return nil
		},
	}
}

func estimateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate",
		Short: "Estimate current market value for stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			comps := a.buildComponents()
			defer comps.Close()

			frame := a.store.Snapshot()
			if len(frame) == 0 {
				a.logger.Info("Dataset is empty, nothing to estimate")
				return nil
			}
			comps.estimator.BuildGrowthRates(frame)
			stats := comps.estimator.EstimateAll(frame)
			if _, err := a.store.MergeRecords(frame); err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [filter]",
		Short: "Print records matching a filter expression",
		Long: `Prints matching records as JSON. Without a filter every record is
printed. Example filters:

  city = 'LYON' and price >= 200000
  type in ['Maison', 'Appartement'] and surface > 120
  sale_date >= 01/01/2020 and not city = 'PARIS'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			expr := ""
			if len(args) == 1 {
				expr = args[0]
			}
			records, err := a.store.Query(expr)
			if err != nil {
				return err
			}
			if records == nil {
				records = []models.PropertyRecord{}
			}
			return printJSON(records)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filter>",
		Short: "Delete records matching a filter expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			result, err := a.store.Delete(args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print dataset summary: entry count, date range, cities, size",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return printJSON(a.store.Summary())
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
