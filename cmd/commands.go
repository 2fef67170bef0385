package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	authconfig "firestore-driver/internal/auth/config"
	"firestore-driver/internal/di"
	gateway "firestore-driver/internal/firestore/adapter/http"
	"firestore-driver/internal/firestore/config"
	"firestore-driver/internal/firestore/driver/client"
	"firestore-driver/internal/firestore/fixture"
	"firestore-driver/internal/shared/logger"

	"github.com/spf13/cobra"
)

func newServeCmd(log logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway the client driver talks to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			authCfg, err := authconfig.LoadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			container := di.NewContainer(log)
			defer container.Close(context.Background())
			if err := container.InitializeFirestore(ctx, cfg); err != nil {
				return err
			}
			if err := container.InitializeAuth(ctx, authCfg); err != nil {
				return err
			}
			app, err := container.NewApp()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Gateway.Addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Gateway.Addr, err)
			}
			log.Infof("Gateway for project %s listening on %s", cfg.Gateway.ProjectID, ln.Addr())
			if err := gateway.Serve(ctx, app, ln, cfg.Gateway.ShutdownTimeout); err != nil {
				return err
			}
			log.Info("Gateway stopped")
			return nil
		},
	}
}

func newSweepCmd(log logger.Logger) *cobra.Command {
	var prefix, runID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drop mock collections left behind by interrupted test runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = cfg.Fixture.Prefix
			}

			container := di.NewContainer(log)
			defer container.Close(context.Background())
			if err := container.InitializeFirestore(cmd.Context(), cfg); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Fixture.TeardownTimeout)
			defer cancel()
			dropped, err := fixture.Sweep(ctx, container.GetFirestoreModule().Store, prefix, runID)
			for _, name := range dropped {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			log.Infof("Dropped %d collections", len(dropped))
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "collection prefix (default FIXTURE_PREFIX)")
	cmd.Flags().StringVar(&runID, "run-id", "", "only drop collections of this run")
	return cmd
}

func newTokenCmd(log logger.Logger) *cobra.Command {
	var uid, email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an ID token for a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg, err := authconfig.LoadConfig()
			if err != nil {
				return err
			}
			// tokens are stateless, so no user store is needed
			authCfg.UserStore = "memory"
			container := di.NewContainer(log)
			if err := container.InitializeAuth(cmd.Context(), authCfg); err != nil {
				return err
			}
			token, err := container.GetAuthModule().GetUsecase().MintToken(cmd.Context(), uid, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "user ID carried by the token")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}

// newCheckCmd runs the seed-and-query scenario through a running gateway
// and the admin driver on the same backend and compares the results
func newCheckCmd(log logger.Logger) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify a gateway answers like the admin driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			container := di.NewContainer(log)
			defer container.Close(context.Background())
			if err := container.InitializeFirestore(ctx, cfg); err != nil {
				return err
			}
			module := container.GetFirestoreModule()
			clientDriver, err := client.New(client.Config{
				BaseURL:    cfg.Gateway.URL,
				ProjectID:  cfg.Gateway.ProjectID,
				DatabaseID: cfg.Gateway.DatabaseID,
				Token:      token,
				Log:        log,
			})
			if err != nil {
				return err
			}
			defer clientDriver.Close()
			return runCheck(ctx, cmd, module.Store, module.AdminDriver(), clientDriver, cfg.Fixture, log)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "ID token presented to the gateway")
	return cmd
}
