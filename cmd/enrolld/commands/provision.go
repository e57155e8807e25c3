package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enrolld/enrolld/pkg/delegation"
	"github.com/enrolld/enrolld/pkg/engine"
	"github.com/enrolld/enrolld/pkg/service"
)

func newProvisionCommand() *cobra.Command {
	var (
		action           string
		adminPackage     string
		adminClass       string
		accountToMigrate string
		adminExtras      map[string]string
		downloadURL      string
		downloadChecksum string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Start a provisioning run",
		Long: `Submit a provisioning request to a running daemon.

The daemon decides how to handle it: run the task list locally, hand the
request to the provisioning role holder, or persist it and wait for the
encryption reboot.`,
		Example: `  # Provision a managed work profile
  enrolld provision --action provision-managed-profile \
    --admin-package com.example.mdm --admin-class .DeviceAdmin

  # Provision the whole device
  enrolld provision --action provision-managed-device \
    --admin-package com.example.mdm

  # Pass extras through to the admin app
  enrolld provision --action provision-managed-profile \
    --admin-package com.example.mdm --extra team=platform`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := &engine.ProvisioningRequest{
				Action: engine.Action(action),
				AdminComponent: engine.ComponentName{
					Package: adminPackage,
					Class:   adminClass,
				},
				AccountToMigrate: accountToMigrate,
				AdminExtras:      adminExtras,
			}
			if downloadURL != "" {
				req.RoleHolderDownload = &engine.DownloadInfo{
					Location: downloadURL,
					Checksum: downloadChecksum,
				}
			}

			var result service.StartResult
			if err := newAPIClient().do(cmd.Context(), "POST", "/v1/provision", req, &result); err != nil {
				return err
			}

			return printResult(result, func() {
				switch {
				case result.AwaitingReboot:
					fmt.Println("Request persisted; provisioning resumes after the encryption reboot")
				case result.Outcome == delegation.OutcomeDelegateToUpdater:
					fmt.Printf("Delegated to role holder updater %s\n", result.Launch.Package)
				case result.Outcome != delegation.OutcomeRunLocally:
					fmt.Printf("Delegated: %s\n", result.Outcome)
				default:
					fmt.Printf("Run started: %s\n", result.RunID)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", string(engine.ActionManagedProfile), "provisioning action")
	cmd.Flags().StringVar(&adminPackage, "admin-package", "", "admin application package name")
	cmd.Flags().StringVar(&adminClass, "admin-class", "", "admin receiver class within the package")
	cmd.Flags().StringVar(&accountToMigrate, "migrate-account", "", "account to move into the managed profile")
	cmd.Flags().StringToStringVar(&adminExtras, "extra", nil, "extras passed to the admin app (key=value)")
	cmd.Flags().StringVar(&downloadURL, "role-holder-url", "", "download location for the role holder package")
	cmd.Flags().StringVar(&downloadChecksum, "role-holder-checksum", "", "expected SHA-256 of the role holder download")

	if err := cmd.MarkFlagRequired("admin-package"); err != nil {
		panic(err)
	}

	return cmd
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the run in progress",
		Long: `Request cancellation of the current provisioning run.

Cancellation is cooperative: the running task finishes its current step
before the run stops and its changes are rolled back. A request parked for
the encryption reboot is dropped immediately.`,
		Example: `  enrolld cancel`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newAPIClient().do(cmd.Context(), "POST", "/v1/provision/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("Cancellation requested")
			return nil
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Trigger the post-reboot resume check",
		Long: `Ask the daemon to check the resume slot for a provisioning run that
was interrupted by the encryption reboot.

The daemon already performs this check once at startup; the check is a
no-op after the first attempt in a daemon's lifetime.`,
		Example: `  enrolld resume`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newAPIClient().do(cmd.Context(), "POST", "/v1/provision/resume", nil, nil); err != nil {
				return err
			}
			fmt.Println("Resume check triggered")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the current run",
		Example: `  enrolld status

  # Machine readable
  enrolld status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status service.Status
			if err := newAPIClient().do(cmd.Context(), "GET", "/v1/provision/status", nil, &status); err != nil {
				return err
			}

			return printResult(status, func() {
				fmt.Printf("State:  %s\n", status.State)
				if status.RunID != "" {
					fmt.Printf("Run:    %s\n", status.RunID)
				}
				if status.Action != "" {
					fmt.Printf("Action: %s\n", status.Action)
				}
				if status.Stage != "" {
					fmt.Printf("Stage:  %s\n", status.Stage)
				}
				if status.Code != "" {
					fmt.Printf("Error:  %s\n", status.Code)
				}
				if status.FactoryReset {
					fmt.Println("The device must be factory reset")
				}
				if status.AwaitingReboot {
					fmt.Println("Waiting for the encryption reboot")
				}
			})
		},
	}
}
