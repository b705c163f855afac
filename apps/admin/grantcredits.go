package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/ledger"
)

func (cli *commandLine) grantCreditsCmd() *cobra.Command {
	var uname, amount, reference string
	cmd := &cobra.Command{
		Use:   "grantcredits",
		Short: "Add credits to a user's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" || amount == "" {
				_ = cmd.Usage()
				return errHelp
			}
			bal, err := cli.grantCredits(context.Background(), uname, amount, reference)
			if err != nil {
				return err
			}
			cmd.Printf("credits: %s, reserved: %s\n", bal.Credits, bal.ReservedCredits)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email.")
	cmd.Flags().StringVar(&amount, "amount", "", "The amount of credits to add.")
	cmd.Flags().StringVar(&reference, "reference", "admin-grant", "The ledger reference.")
	return cmd
}

func (cli *commandLine) grantCredits(ctx context.Context, uname, amount, reference string) (ledger.Balance, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return ledger.Balance{}, core.NewValidationError(fmt.Errorf("invalid amount %q", amount))
	}
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		return ledger.Balance{}, err
	}
	return cli.ledger.EditUserBalance(ctx, usr.ID, d, ledger.OpAdd, reference)
}
