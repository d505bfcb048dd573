package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vm-provisioner",
	Short: "VM request portal and Proxmox provisioner",
	Long: `vm-provisioner accepts VM requests from users, lets admins approve them and
provisions approved VMs on Proxmox VE (template clone with full-create fallback).

Running without a subcommand starts the HTTP API (same as "serve").`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(sanitizeCmd)
}
