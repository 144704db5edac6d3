package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/factory"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "xamilactl",
		Short:         "Operational commands for the Xamila identity core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(kycCmd())
	rootCmd.AddCommand(otpCmd())
	rootCmd.AddCommand(cohortCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withFactory loads configuration, builds the dependencies and runs fn.
func withFactory(cmd *cobra.Command, fn func(ctx context.Context, f *factory.Factory) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// Schema changes only run through the migrate command.
	cfg.Database.AutoMigrate = false

	logger := util.Init(cfg.Environment, "xamilactl", cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg, logger.WithOptions(zap.AddCallerSkip(-1)))
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, f)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				applied, err := f.Migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func kycCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kyc",
		Short: "KYC maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Move approved profiles past their validity to expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				n, err := f.Services().ProfileService().ExpireDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d profile(s)\n", n)
				return nil
			})
		},
	})
	return cmd
}

func otpCmd() *cobra.Command {
	var retain time.Duration

	cmd := &cobra.Command{
		Use:   "otp",
		Short: "OTP maintenance",
	}
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired or consumed OTPs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				window := retain
				if window <= 0 {
					window = time.Duration(f.Config().OTP.PurgeRetainDays) * 24 * time.Hour
				}
				n, err := f.Services().OTPService().PurgeExpired(ctx, time.Now().Add(-window))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d otp(s)\n", n)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&retain, "retain", 0, "retention window (defaults to OTP_PURGE_RETAIN_DAYS)")
	cmd.AddCommand(purge)
	return cmd
}

func cohortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Manage savings challenge cohorts",
	}

	var in service.CohortInput
	create := &cobra.Command{
		Use:     "create",
		Short:   "Create a cohort",
		Example: `  xamilactl cohort create --code MARS2026 --name "Mars 2026" --month 3 --year 2026 --active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				cohort, err := f.Services().CohortGate().CreateCohort(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, cohort)
			})
		},
	}
	create.Flags().StringVar(&in.Code, "code", "", "join code")
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().IntVar(&in.Month, "month", 0, "month (1-12)")
	create.Flags().IntVar(&in.Year, "year", 0, "year")
	create.Flags().BoolVar(&in.Active, "active", false, "open the cohort immediately")
	_ = create.MarkFlagRequired("code")
	_ = create.MarkFlagRequired("name")

	var active bool
	toggle := &cobra.Command{
		Use:   "toggle <cohort-id|code>",
		Short: "Open or close a cohort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					c, lookupErr := f.Store().Cohorts().GetByCode(ctx, strings.ToUpper(strings.TrimSpace(args[0])))
					if lookupErr != nil {
						return fmt.Errorf("cohort %q: %w", args[0], lookupErr)
					}
					id = c.ID
				}
				cohort, err := f.Services().CohortGate().SetActive(ctx, id, active)
				if err != nil {
					return err
				}
				return printJSON(cmd, cohort)
			})
		},
	}
	toggle.Flags().BoolVar(&active, "active", true, "new active state")

	cmd.AddCommand(create, toggle)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Account administration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-role <email> <role>",
		Short: "Change a user's role, for example to bootstrap the first admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				user, err := f.Store().Users().GetByEmail(ctx, strings.ToLower(strings.TrimSpace(args[0])))
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				updated, err := f.Services().IdentityService().SetRole(ctx, user.ID, models.Role(strings.ToLower(args[1])))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", updated.Email, updated.Role)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a user with their OTPs, sessions, KYC data and memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				user, err := f.Store().Users().GetByEmail(ctx, strings.ToLower(strings.TrimSpace(args[0])))
				if err != nil {
					return fmt.Errorf("user %q: %w", args[0], err)
				}
				if err := f.Services().IdentityService().Delete(ctx, user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", user.Email)
				return nil
			})
		},
	})
	return cmd
}
