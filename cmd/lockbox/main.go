// Command lockbox is the device-side CLI: it registers this machine with a
// Lockbox server, waits for authorization, and reads secrets with the
// resulting device token.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "1.0"

var (
	serverURL   string
	projectName string
	authToken   string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lockbox",
	Short: "Lockbox - register devices and read secrets from a Lockbox server.",
	Long: `Lockbox registers this machine as a device of a project and, once the
device is authorized, reads secrets using its device token.

The device id is derived from the working directory, hostname and MAC
address, so running from the same directory on the same machine always
yields the same device.

Environment:
  LOCKBOX_URL        server base URL
  LOCKBOX_PROJECT    project name
  LOCKBOX_TOKEN      master or project token (enables reject on timeout)
  LOCKBOX_DEVICE_ID  override the derived device id`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("LOCKBOX_URL", "http://localhost:8080"), "lockbox server URL")
	rootCmd.PersistentFlags().StringVarP(&projectName, "project", "p", os.Getenv("LOCKBOX_PROJECT"), "project name")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("LOCKBOX_TOKEN"), "master or project token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(deviceIDCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireProject() error {
	if projectName == "" {
		return fmt.Errorf("a project is required: pass --project or set LOCKBOX_PROJECT")
	}
	return nil
}
