package main

import (
	"context"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/auto-dns/dnspod-ddns/internal/app"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Query the domains registered to an account",
}

var domainsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the domains an account can manage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetInt64("account")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			domains, err := a.Records().Domains(ctx, accountID)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "Name", "Status", "Records"})
			table.SetAutoWrapText(false)
			for _, d := range domains {
				table.Append([]string{
					strconv.FormatUint(d.DomainID, 10),
					d.Name,
					d.Status,
					strconv.FormatUint(d.RecordCount, 10),
				})
			}
			table.Render()
			return nil
		})
	},
}

func init() {
	domainsListCmd.Flags().Int64("account", 0, "account id")
	_ = domainsListCmd.MarkFlagRequired("account")
	domainsCmd.AddCommand(domainsListCmd)
}
