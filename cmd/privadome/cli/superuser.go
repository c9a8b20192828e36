package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/privadome/privadome-api/internal/platform/httpx"
	"github.com/privadome/privadome-api/internal/users"
)

// SuperuserCreator creates admin accounts without an acting principal.
type SuperuserCreator interface {
	CreateSuperuser(ctx context.Context, in users.CreateInput) (users.View, error)
}

// CreateSuperuserOptions defines the flags for the createsuperuser command.
type CreateSuperuserOptions struct {
	Username string
	Email    string
	Password string
	Stdout   io.Writer
	Stderr   io.Writer
}

// ParseCreateSuperuser reads createsuperuser flags from args. The password
// falls back to PRIVADOME_SUPERUSER_PASSWORD so it stays out of shell history.
func ParseCreateSuperuser(args []string) (CreateSuperuserOptions, error) {
	var opts CreateSuperuserOptions
	flags := pflag.NewFlagSet("createsuperuser", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&opts.Username, "username", "", "login name of the new admin")
	flags.StringVar(&opts.Email, "email", "", "email address of the new admin")
	flags.StringVar(&opts.Password, "password", "", "password (default $PRIVADOME_SUPERUSER_PASSWORD)")
	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if opts.Password == "" {
		opts.Password = os.Getenv("PRIVADOME_SUPERUSER_PASSWORD")
	}
	return opts, nil
}

// CreateSuperuserCommand creates an admin account and reports the outcome.
func CreateSuperuserCommand(ctx context.Context, creator SuperuserCreator, opts CreateSuperuserOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Username == "" || opts.Email == "" || opts.Password == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "createsuperuser: --username, --email and --password are required")
		return 2
	}
	view, err := creator.CreateSuperuser(ctx, users.CreateInput{
		Username: opts.Username,
		Email:    opts.Email,
		Password: opts.Password,
	})
	if err != nil {
		var he *httpx.Error
		switch {
		case errors.Is(err, users.ErrDuplicateUsername):
			_, _ = fmt.Fprintf(opts.Stderr, "createsuperuser: username %q is already taken\n", opts.Username)
		case errors.As(err, &he) && he.Detail != "":
			_, _ = fmt.Fprintf(opts.Stderr, "createsuperuser: %s\n", he.Detail)
		default:
			_, _ = fmt.Fprintf(opts.Stderr, "createsuperuser: %v\n", err)
		}
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Superuser %s created (id %d).\n", view.Username, view.ID)
	return 0
}
