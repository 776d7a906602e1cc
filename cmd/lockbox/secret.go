package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/lockbox/internal/vaultclient"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Read secrets",
}

var secretGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the value of a secret",
	Long: `Prints the value of a secret to stdout.

Without --token the device token of this machine is used, so the device
must have been registered and authorized first.

Examples:
  lockbox secret get DB_PASSWORD -p payments
  export DB_PASSWORD=$(lockbox secret get DB_PASSWORD -p payments)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireProject(); err != nil {
			return err
		}
		token := authToken
		if token == "" {
			token = vaultclient.DeviceToken(vaultclient.LocalDeviceID())
		}
		client := vaultclient.New(serverURL, projectName, token, timeout)
		return runSecretGet(cmd.Context(), cmd.OutOrStdout(), client, args[0])
	},
}

var deviceIDCmd = &cobra.Command{
	Use:   "device-id",
	Short: "Print this machine's device id and device token",
	RunE: func(cmd *cobra.Command, args []string) error {
		id := vaultclient.LocalDeviceID()
		fmt.Fprintf(cmd.OutOrStdout(), "Device ID: %s\nDevice Token: %s\n", id, vaultclient.DeviceToken(id))
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretGetCmd)
}

func runSecretGet(ctx context.Context, out io.Writer, client *vaultclient.Client, key string) error {
	s, err := client.GetSecret(ctx, key)
	if err != nil {
		return fmt.Errorf("get secret %q: %w", key, err)
	}
	fmt.Fprintln(out, s.Value)
	return nil
}
