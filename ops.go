package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mailwatch-go/internal/lifecycle"
)

// opTarget resolves the positional argument (account id or email) and
// returns the client plus the canonical account id.
func opTarget(ctx context.Context, idOrEmail string) (*apiClient, string, error) {
	resolved, err := resolveConfig()
	if err != nil {
		return nil, "", err
	}

	client := newAPIClient(resolved.ListenAddr)

	accountID, err := client.resolveAccountID(ctx, idOrEmail)
	if err != nil {
		return nil, "", err
	}

	return client, accountID, nil
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <account>",
		Short: "Refresh an account's access token now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, accountID, err := opTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var result struct {
				AccountID       string    `json:"account_id"`
				AccessExpiresAt time.Time `json:"access_expires_at"`
			}

			if err := client.post(cmd.Context(), "/v1/accounts/"+accountID+"/refresh", nil, &result); err != nil {
				return err
			}

			statusf("Token refreshed, valid until %s\n", formatTime(result.AccessExpiresAt))

			return nil
		},
	}
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <account>",
		Short: "Register or renew the mailbox watch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, accountID, err := opTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var result struct {
				AccountID string    `json:"account_id"`
				State     string    `json:"state"`
				ExpiresAt time.Time `json:"expires_at"`
			}

			if err := client.post(cmd.Context(), "/v1/accounts/"+accountID+"/register", nil, &result); err != nil {
				return err
			}

			statusf("Watch %s, expires %s\n", result.State, formatTime(result.ExpiresAt))

			return nil
		},
	}
}

func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync <account>",
		Short: "Run a catch-up reconciliation pass now",
		Long: `Fetch and apply all mailbox changes since the stored cursor.

The daemon runs this automatically after push notifications and
re-authorization; the command forces a pass, for example after
suspected missed notifications.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, accountID, err := opTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var report lifecycle.SyncReport
			if err := client.post(cmd.Context(), "/v1/accounts/"+accountID+"/resync", nil, &report); err != nil {
				return err
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(report)
			}

			printSyncReport(&report)

			return nil
		},
	}
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <account>",
		Short: "Stop the mailbox watch",
		Long: `Stop push notifications for an account.

The account and its cursor are kept; a later 'mailwatch-go register'
resumes coverage and the next resync closes the gap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, accountID, err := opTarget(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if err := client.post(cmd.Context(), "/v1/accounts/"+accountID+"/revoke", nil, nil); err != nil {
				return err
			}

			statusf("Watch stopped\n")

			return nil
		},
	}
}

func printSyncReport(report *lifecycle.SyncReport) {
	fmt.Printf("Synced %d -> %d: %d batches, %d messages in %s\n",
		report.StartHistoryID, report.EndHistoryID,
		report.BatchesApplied, report.MessagesSeen,
		shortDuration(report.Duration.Round(time.Millisecond)))

	if report.Partial {
		fmt.Println("Partial: pass stopped early, cursor held at last confirmed batch. Run resync again.")
	}

	if report.CursorReset {
		fmt.Println("Cursor was re-baselined: changes older than the provider's retention were lost.")
	}
}
