package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/auto-dns/dnspod-ddns/internal/app"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage DNSPod API accounts",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an API key pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secretID, _ := cmd.Flags().GetString("secret-id")
		secretKey, _ := cmd.Flags().GetString("secret-key")
		if secretKey == "" {
			secretKey = os.Getenv("DNSPOD_SECRET_KEY")
		}
		if secretID == "" || secretKey == "" {
			return fmt.Errorf("--secret-id and --secret-key (or DNSPOD_SECRET_KEY) are required")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			acct, err := a.Accounts().CreateAccount(ctx, domain.Account{
				Name:      args[0],
				SecretID:  secretID,
				SecretKey: secretKey,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created account %d (%s)\n", acct.ID, acct.Name)
			return nil
		})
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			accounts, err := a.Accounts().ListAccounts(ctx)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Secret ID", "Created"})
			table.SetAutoWrapText(false)
			for _, acct := range accounts {
				table.Append([]string{
					strconv.FormatInt(acct.ID, 10),
					acct.Name,
					acct.SecretID,
					acct.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			table.Render()
			return nil
		})
	},
}

func init() {
	accountsAddCmd.Flags().String("secret-id", "", "DNSPod SecretId")
	accountsAddCmd.Flags().String("secret-key", "", "DNSPod SecretKey")
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd)
}
