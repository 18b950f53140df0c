package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iamakashsinghrajput/BookHaven/pkg/domain"
	"github.com/iamakashsinghrajput/BookHaven/pkg/store"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/app"
	"github.com/iamakashsinghrajput/BookHaven/services/bookhaven/internal/config"
)

// passwordEnv lets scripts pass a password without it showing up in argv.
const passwordEnv = "BOOKHAVEN_ADMIN_PASSWORD"

type backend struct {
	store   store.Store
	revoker store.TokenRevoker
	close   func()
}

type cliEnv struct {
	open func(ctx context.Context, configPath string) (backend, error)
	out  io.Writer
	now  func() time.Time
}

func newRootCmd(env *cliEnv) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "bookhaven-admin",
		Short:         "Manage BookHaven admin accounts",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.ConfigPath, "path to the bookhaven config file")

	withBackend := func(cmd *cobra.Command, fn func(context.Context, backend) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		b, err := env.open(ctx, configPath)
		if err != nil {
			return err
		}
		if b.close != nil {
			defer b.close()
		}
		return fn(ctx, b)
	}

	root.AddCommand(
		newCreateAdminCmd(env, withBackend),
		newSetPasswordCmd(env, withBackend),
		newListAdminsCmd(env, withBackend),
	)
	return root
}

type backendRunner func(*cobra.Command, func(context.Context, backend) error) error

func newCreateAdminCmd(env *cliEnv, run backendRunner) *cobra.Command {
	var in app.AccountInput
	cmd := &cobra.Command{
		Use:     "create-admin",
		Short:   "Create a verified admin account",
		Example: "  bookhaven-admin create-admin --email ops@bookhaven.in --name Ops",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Password = passwordFrom(in.Password)
			return run(cmd, func(ctx context.Context, b backend) error {
				user, err := app.BootstrapAdmin(ctx, b.store, in, env.now().UTC())
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(env.out, "created admin %s (%s)\n", user.Email, user.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Email, "email", "", "admin email address")
	f.StringVar(&in.Mobile, "mobile", "", "optional 10 digit mobile number")
	f.StringVar(&in.Password, "password", "", "password (or set "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSetPasswordCmd(env *cliEnv, run backendRunner) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "set-admin-password",
		Short: "Reset an admin password and revoke their sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password = passwordFrom(password)
			return run(cmd, func(ctx context.Context, b backend) error {
				now := env.now().UTC()
				user, err := app.ResetAdminPassword(ctx, b.store, email, password, now)
				if err != nil {
					return describe(err)
				}
				if b.revoker != nil {
					if err := b.revoker.RevokeUser(ctx, user.ID, now); err != nil {
						return fmt.Errorf("password changed but revoking sessions failed: %w", err)
					}
				}
				fmt.Fprintf(env.out, "password updated for %s\n", user.Email)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "admin email address")
	f.StringVar(&password, "password", "", "new password (or set "+passwordEnv+")")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newListAdminsCmd(env *cliEnv, run backendRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "list-admins",
		Short: "List admin accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(ctx context.Context, b backend) error {
				admins, err := b.store.ListUsers(ctx, domain.RoleAdmin)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tSTATUS\tCREATED")
				for _, u := range admins {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Status, u.CreatedAt.Format(time.DateOnly))
				}
				return tw.Flush()
			})
		},
	}
}

func passwordFrom(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnv)
}

func describe(err error) error {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("%s: %s", verr.Field, verr.Message)
	case errors.Is(err, app.ErrEmailAlreadyExists):
		return errors.New("an admin with that email already exists")
	case errors.Is(err, app.ErrNotFound):
		return errors.New("no admin with that email")
	default:
		return err
	}
}
