package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/user"
)

type addUserOptions struct {
	name     string
	username string
	email    string
	roles    []string
	verified bool
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	opts := new(addUserOptions)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user or update the roles and password of an existing one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.username == "" || opts.email == "" {
				_ = cmd.Usage()
				return errHelp
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(context.Background(), *opts, pwd)
			if err != nil {
				return err
			}
			cmd.Printf("user %s (%s) saved\n", usr.Username, usr.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "The user's full name; defaults to the username.")
	cmd.Flags().StringVar(&opts.username, "username", "", "The user's username.")
	cmd.Flags().StringVar(&opts.email, "email", "", "The user's email.")
	cmd.Flags().StringSliceVar(&opts.roles, "role", []string{user.RoleStudent}, "The user's roles, e.g. admin:, creator:, student:")
	cmd.Flags().BoolVar(&opts.verified, "verified", true, "Whether the account is verified.")
	return cmd
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, opts addUserOptions, pwd string) (user.User, error) {
	uname := core.CleanString(opts.username, true /* lower */)
	email := core.CleanString(opts.email, true /* lower */)
	for _, r := range opts.roles {
		if user.RolePriority(r) == 0 {
			return user.User{}, fmt.Errorf("unknown role %q", r)
		}
	}

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return user.User{}, err
	}
	found := err == nil
	if !found {
		if usr, err = cli.usrRepo.GetUserByUsernameOrEmail(ctx, email); err == nil {
			found = true
		} else if errors.Cause(err) != user.ErrNotFound {
			return user.User{}, err
		}
	}

	now := time.Now().UTC()
	if !found {
		name := core.CleanString(opts.name)
		if name == "" {
			name = uname
		}
		usr = user.User{
			Name:      name,
			Username:  uname,
			Email:     email,
			Currency:  cli.conf.Billing.DefaultCurrency,
			CreatedAt: now,
		}
	}
	usr.Roles = opts.roles
	usr.IsVerified = opts.verified
	usr.IsDisabled = false
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}

	if found {
		return cli.usrRepo.UpdateUser(ctx, usr)
	}
	return cli.usrRepo.CreateUser(ctx, usr)
}
