package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/tracksync/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tracksync",
	Short:   "Correios tracking synchronization engine",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the periodic sync",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize shipping statuses for one team or all teams",
	RunE:  runSync,
}

var trackCmd = &cobra.Command{
	Use:   "track CODE",
	Short: "Show the tracking history of one code",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

var checkCredentialsCmd = &cobra.Command{
	Use:   "check-credentials",
	Short: "Validate a team's Correios credentials",
	RunE:  runCheckCredentials,
}

var (
	flagTeam string
	flagAll  bool
)

func init() {
	syncCmd.Flags().StringVar(&flagTeam, "team", "", "team to synchronize")
	syncCmd.Flags().BoolVar(&flagAll, "all", false, "synchronize every team with credentials")
	syncCmd.MarkFlagsMutuallyExclusive("team", "all")
	syncCmd.MarkFlagsOneRequired("team", "all")

	trackCmd.Flags().StringVar(&flagTeam, "team", "", "team whose credentials are used")
	_ = trackCmd.MarkFlagRequired("team")

	checkCredentialsCmd.Flags().StringVar(&flagTeam, "team", "", "team to check")
	_ = checkCredentialsCmd.MarkFlagRequired("team")

	rootCmd.AddCommand(serveCmd, syncCmd, trackCmd, checkCredentialsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := setup(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	app.logger.Info("Starting tracking sync service",
		zap.Int("port", app.cfg.Port),
		zap.String("version", app.cfg.Version),
		zap.Duration("sync_interval", app.cfg.SyncInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Start HTTP server
	srv := server.New(server.Config{Port: app.cfg.Port}, app.service, app.logger)
	g.Go(func() error {
		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if app.cfg.SyncInterval > 0 {
		g.Go(func() error {
			return app.service.Run(ctx, app.cfg.SyncInterval)
		})
	}

	return g.Wait()
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := setup(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	if flagAll {
		results, err := app.service.SyncAllTenants(ctx)
		if err != nil {
			return err
		}
		var failed []error
		for _, r := range results {
			printResult(cmd, r.TenantID, r.Result, r.Err)
			if r.Err != nil {
				failed = append(failed, fmt.Errorf("team %s: %w", r.TenantID, r.Err))
			}
		}
		return errors.Join(failed...)
	}

	result, err := app.service.SyncTenant(ctx, flagTeam)
	printResult(cmd, flagTeam, result, err)
	return err
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := setup(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	obj, status, err := app.service.TrackCode(ctx, flagTeam, args[0])
	if err != nil {
		return err
	}

	cmd.Printf("%s  %s\n", obj.Code, status)
	for _, ev := range obj.Events {
		when := "-"
		if !ev.OccurredAt.IsZero() {
			when = ev.OccurredAt.Format("2006-01-02 15:04")
		}
		cmd.Printf("  %s  %-40s  %s/%s\n", when, ev.Description, ev.Origin.City, ev.Origin.State)
	}
	return nil
}

func runCheckCredentials(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := setup(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	check, err := app.service.CheckTenantCredentials(ctx, flagTeam)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(check); err != nil {
		return err
	}
	if !check.Success {
		return errors.New(check.Error)
	}
	return nil
}
