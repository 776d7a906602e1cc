package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/internal/vaultclient"
	"github.com/kiranshivaraju/lockbox/pkg/models"
)

var (
	registerName        string
	registerTags        []string
	registerDescription string
	registerMaxWait     time.Duration
	registerInterval    time.Duration
	registerNoWait      bool
)

func init() {
	registerCmd.Flags().StringVarP(&registerName, "name", "n", "", "device name (default <dir>-<id prefix>)")
	registerCmd.Flags().StringSliceVarP(&registerTags, "tag", "t", nil, "device tag, repeatable")
	registerCmd.Flags().StringVar(&registerDescription, "description", "", "device description")
	registerCmd.Flags().DurationVar(&registerMaxWait, "max-wait", device.DefaultMaxWait, "how long to wait for authorization")
	registerCmd.Flags().DurationVar(&registerInterval, "interval", device.DefaultPollInterval, "status poll interval")
	registerCmd.Flags().BoolVar(&registerNoWait, "no-wait", false, "register and exit without waiting")
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this machine as a device and wait for authorization",
	Long: `Registers this machine in a project and polls until an operator
authorizes or rejects it.

If --token is given and the device is still pending when --max-wait runs
out, the device is rejected so it does not linger in the pending queue.

Examples:
  # Register and wait up to five minutes
  lockbox register -p payments

  # Register a CI runner that an auto-approval pattern will accept
  lockbox register -p payments -t ci -t github-runner`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireProject(); err != nil {
			return err
		}
		wd, _ := os.Getwd()
		opts := registerOptions{
			Project:     projectName,
			DeviceID:    vaultclient.LocalDeviceID(),
			WorkDir:     wd,
			Name:        registerName,
			Tags:        registerTags,
			Description: registerDescription,
			Wait: device.WaitParams{
				Interval:  registerInterval,
				MaxWait:   registerMaxWait,
				CanReject: authToken != "",
			},
			NoWait:  registerNoWait,
			Spinner: isTerminal(os.Stdout),
		}
		client := vaultclient.New(serverURL, projectName, authToken, timeout)
		return runRegister(cmd.Context(), cmd.OutOrStdout(), client, opts)
	},
}

type registerOptions struct {
	Project     string
	DeviceID    string
	WorkDir     string
	Name        string
	Tags        []string
	Description string
	Wait        device.WaitParams
	NoWait      bool
	Spinner     bool
}

// errNotAuthorized is returned when registration ends without authorization.
var errNotAuthorized = errors.New("device is not authorized")

func runRegister(ctx context.Context, out io.Writer, client *vaultclient.Client, opts registerOptions) error {
	name := opts.Name
	if name == "" {
		name = vaultclient.DefaultDeviceName(opts.WorkDir, opts.DeviceID)
	}

	fmt.Fprintf(out, "Registering device %s in project %s...\n", color.CyanString(name), color.CyanString(opts.Project))
	fmt.Fprintf(out, "Device ID: %s\n", opts.DeviceID)

	d, created, err := client.Register(ctx, vaultclient.RegisterRequest{
		DeviceID:         opts.DeviceID,
		Name:             name,
		Tags:             opts.Tags,
		Description:      opts.Description,
		UserAgent:        fmt.Sprintf("lockbox-cli/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH),
		WorkingDirectory: opts.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	if !created {
		fmt.Fprintln(out, color.YellowString("Device was already registered"))
	}

	if d.Status == models.DeviceStatusAuthorized {
		fmt.Fprintf(out, "%s Device authorized (%s)\n", color.GreenString("✓"), authorizedBy(d))
		printToken(out, opts.DeviceID)
		return nil
	}
	if opts.NoWait {
		fmt.Fprintln(out, "Device is pending authorization")
		return nil
	}

	fmt.Fprintf(out, "Waiting up to %s for authorization...\n", opts.Wait.MaxWait)
	stopSpinner := startSpinner(out, "Waiting for authorization...", opts.Spinner)
	outcome, err := device.WaitForAuthorization(ctx, client, d.ID, opts.Wait)
	stopSpinner()
	if err != nil {
		return fmt.Errorf("wait for authorization: %w", err)
	}

	if outcome.Authorized() {
		fmt.Fprintf(out, "%s Device authorized after %s\n", color.GreenString("✓"), outcome.Waited.Round(time.Second))
		printToken(out, opts.DeviceID)
		return nil
	}

	fmt.Fprintf(out, "%s %s\n", color.RedString("✗"), outcome.Note)
	return fmt.Errorf("%w: status %s", errNotAuthorized, outcome.Status)
}

func authorizedBy(d *models.Device) string {
	if d.AuthorizedBy == nil {
		return "authorized"
	}
	return "by " + *d.AuthorizedBy
}

func printToken(out io.Writer, deviceID string) {
	fmt.Fprintf(out, "Device token: %s\n", vaultclient.DeviceToken(deviceID))
}

// startSpinner shows a spinner on out until the returned func is called.
func startSpinner(out io.Writer, message string, enabled bool) func() {
	if !enabled {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " " + message
	// Continue without colour if it cannot be set.
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
