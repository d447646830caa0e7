package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/auto-dns/dnspod-ddns/internal/app"
	"github.com/auto-dns/dnspod-ddns/internal/core"
	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the address records kept in sync",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			records, err := a.Records().Records(ctx)
			if err != nil {
				return err
			}
			printRecords(records)
			return nil
		})
	},
}

var recordsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or adopt a record at DNSPod and keep it in sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := trackRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if req.Value == "" {
				a.Refresh(ctx)
			}
			rec, err := a.Records().Track(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("Tracking %s (id %d, provider record %d)\n", rec.Render(), rec.ID, rec.ProviderRecordID)
			return nil
		})
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a managed record at DNSPod and stop tracking it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid record id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Records().Untrack(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Deleted record %d\n", id)
			return nil
		})
	},
}

func trackRequestFromFlags(cmd *cobra.Command) (core.TrackRequest, error) {
	flags := cmd.Flags()
	accountID, _ := flags.GetInt64("account")
	fqdn, _ := flags.GetString("fqdn")
	host, _ := flags.GetString("host")
	zone, _ := flags.GetString("domain")
	typeName, _ := flags.GetString("type")
	ttl, _ := flags.GetInt("ttl")
	value, _ := flags.GetString("value")
	domainType, _ := flags.GetInt("domain-type")

	if fqdn != "" {
		var ok bool
		host, zone, ok = dnspod.SplitFQDN(fqdn, domainType)
		if !ok {
			return core.TrackRequest{}, fmt.Errorf("cannot split %q with domain type %d", fqdn, domainType)
		}
	}
	if host == "" || zone == "" {
		return core.TrackRequest{}, fmt.Errorf("either --fqdn or both --host and --domain are required")
	}
	rt, err := domain.ParseRecordType(typeName)
	if err != nil {
		return core.TrackRequest{}, err
	}
	return core.TrackRequest{
		AccountID: accountID,
		Host:      host,
		Domain:    zone,
		Type:      rt,
		TTL:       ttl,
		Value:     value,
	}, nil
}

func printRecords(records []domain.ManagedRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Account", "Name", "Type", "Value", "TTL", "Provider ID"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_RIGHT})
	table.SetAutoWrapText(false)
	for _, r := range records {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.AccountID, 10),
			r.FQDN(),
			string(r.Type),
			r.Value,
			strconv.Itoa(r.TTL),
			strconv.FormatUint(r.ProviderRecordID, 10),
		})
	}
	table.Render()
}

func init() {
	recordsAddCmd.Flags().Int64("account", 0, "account id owning the record")
	recordsAddCmd.Flags().String("fqdn", "", "fully qualified name, split into host and domain")
	recordsAddCmd.Flags().Int("domain-type", dnspod.DomainTypeSingle, "labels in the domain suffix when splitting --fqdn (1 or 2)")
	recordsAddCmd.Flags().String("host", "", "host part, @ for the apex")
	recordsAddCmd.Flags().String("domain", "", "registered domain")
	recordsAddCmd.Flags().String("type", "A", "record type (A or AAAA)")
	recordsAddCmd.Flags().Int("ttl", 0, "record ttl in seconds (default app.default_ttl)")
	recordsAddCmd.Flags().String("value", "", "record value (default the current public address)")
	_ = recordsAddCmd.MarkFlagRequired("account")

	recordsCmd.AddCommand(recordsListCmd, recordsAddCmd, recordsDeleteCmd)
}
