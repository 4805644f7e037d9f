package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"invoicing-backend/internal/config"
	"invoicing-backend/internal/database"
	"invoicing-backend/internal/logging"
	"invoicing-backend/internal/repository"
	"invoicing-backend/internal/services"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "server [command]",
		Short: "Invoicing and usage tracking backend",
		Long: `Runs the invoicing and usage tracking API.

Examples:
  # Start the HTTP server (default)
  server serve

  # Apply pending database migrations and exit
  server migrate

  # Provision a user account
  server create-user --email a@example.com --password s3cretpass --name "Ada"`,
		SilenceUsage: true,
		RunE:         runServer,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCreateUserCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Init(cfg.LogLevel, cfg.Env)

			pool, err := database.NewPostgresPool(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := database.RunMigrations(pool, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			log.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func newCreateUserCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		staff    bool
	)

	cmd := &cobra.Command{
		Use:   "create-user --email EMAIL --password PASSWORD [--name NAME] [--staff]",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Init(cfg.LogLevel, cfg.Env)

			pool, err := database.NewPostgresPool(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			authService := services.NewAuthService(repository.NewUserRepo(pool), nil, nil)
			user, err := authService.CreateUser(ctx, email, password, name, staff)
			if err != nil {
				var verr *services.ValidationError
				if errors.As(err, &verr) {
					return fmt.Errorf("invalid input: %v", verr.Fields)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address used to sign in")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (min 8 characters)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&staff, "staff", false, "Grant staff access")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}
