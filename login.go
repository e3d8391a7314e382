package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Connect a Gmail account",
		Long: `Start the OAuth authorization flow for a new or dormant account.

Prints the provider's consent URL. Open it in a browser and approve
access; the provider redirects to the daemon's callback, which stores
the tokens, registers the mailbox watch, and runs the initial catch-up.

The daemon must be running ('mailwatch-go serve').`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	resolved, err := resolveConfig()
	if err != nil {
		return err
	}

	client := newAPIClient(resolved.ListenAddr)

	var start struct {
		URL   string `json:"url"`
		State string `json:"state"`
	}

	if err := client.get(cmd.Context(), "/oauth/start", &start); err != nil {
		return err
	}

	fmt.Println("Open this URL in your browser to authorize access:")
	fmt.Println()
	fmt.Println("  " + start.URL)
	fmt.Println()
	fmt.Println("After approving, the account appears in 'mailwatch-go status'.")

	return nil
}
