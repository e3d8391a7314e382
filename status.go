package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show all accounts, tokens, and watch status",
		Long: `Display the lifecycle state of every connected account.

Shows auth state, access-token expiry, watch state and deadline, and
the reconciliation cursor. Accounts marked reauth_required need the
user to run 'mailwatch-go login' again.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	resolved, err := resolveConfig()
	if err != nil {
		return err
	}

	client := newAPIClient(resolved.ListenAddr)

	statuses, err := client.listAccounts(cmd.Context())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Println("No accounts connected. Run 'mailwatch-go login' to get started.")

		return nil
	}

	printStatusTable(statuses)

	return nil
}

func printStatusTable(statuses []lifecycle.AccountStatus) {
	now := time.Now()

	headers := []string{"EMAIL", "AUTH", "TOKEN EXPIRES", "WATCH", "WATCH EXPIRES", "HISTORY", "LAST SYNC"}
	rows := make([][]string, 0, len(statuses))

	for _, st := range statuses {
		watchExpires := "-"
		if st.WatchExpiresAt != nil {
			watchExpires = formatUntil(*st.WatchExpiresAt, now)
		}

		lastSync := "-"
		if st.LastSyncedAt != nil {
			lastSync = formatTime(*st.LastSyncedAt)
		}

		rows = append(rows, []string{
			st.Email,
			string(st.AuthState),
			formatUntil(st.AccessExpiresAt, now),
			string(st.WatchState),
			watchExpires,
			fmt.Sprintf("%d", st.HistoryID),
			lastSync,
		})
	}

	printTable(os.Stdout, headers, rows)
}
