package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts [account]",
		Short: "List connected accounts",
		Long: `List connected accounts with their ids.

With an account id or email, print that account's full lifecycle
state as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAccounts,
	}
}

func runAccounts(cmd *cobra.Command, args []string) error {
	resolved, err := resolveConfig()
	if err != nil {
		return err
	}

	client := newAPIClient(resolved.ListenAddr)

	if len(args) == 1 {
		accountID, err := client.resolveAccountID(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		var st lifecycle.AccountStatus
		if err := client.get(cmd.Context(), "/v1/accounts/"+accountID, &st); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(st)
	}

	statuses, err := client.listAccounts(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(statuses)
	}

	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, []string{st.AccountID, st.Email, string(st.AuthState)})
	}

	printTable(os.Stdout, []string{"ID", "EMAIL", "AUTH"}, rows)

	return nil
}
