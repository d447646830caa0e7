package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auto-dns/dnspod-ddns/internal/app"
	"github.com/auto-dns/dnspod-ddns/internal/secretbox"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Look up the public address of every configured family",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap := a.Refresh(ctx)
			for _, f := range a.Families() {
				addr, _ := snap.Get(f)
				if !addr.IsValid() {
					fmt.Printf("%s\t<none>\n", f)
					continue
				}
				fmt.Printf("%s\t%s\n", f, addr)
			}
			return nil
		})
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new base64 sealing key for store.sealing_key",
	Args:  cobra.NoArgs,
	// Needs no config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secretbox.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}
