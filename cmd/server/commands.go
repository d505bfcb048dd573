package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"vm-provisioner/internal/models"
	"vm-provisioner/internal/sanitize"
	provisionservice "vm-provisioner/internal/services/provision_service"
	pve "vm-provisioner/internal/services/proxmox_service"

	"github.com/spf13/cobra"
)

var (
	provisionName     string
	provisionTier     string
	provisionCategory string
	showPassword      bool
	discoverVMID      int
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision one VM directly, without the request workflow",
	Long: `Provision a VM on Proxmox with the same clone/create logic the API uses and
print its vmid. Intended for operators; nothing is written to the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := sanitize.VMName(provisionName)
		if name == "" {
			return errors.New("--name must not be empty")
		}
		tier := models.VMTier(provisionTier)
		if _, ok := cfg.Tiers.Lookup(tier); !ok {
			return fmt.Errorf("tier %q is not configured", provisionTier)
		}

		proxmox, err := pve.NewFromConfig(cfg.Proxmox)
		if err != nil {
			return err
		}
		user, password, err := provisionservice.GenerateCredentials()
		if err != nil {
			return err
		}

		p := provisionservice.NewProvisioner(proxmox, provisionservice.OptionsFromConfig(cfg))
		vmid, err := p.Provision(cmd.Context(), provisionservice.ProvisionRequest{
			Name:       name,
			Tier:       tier,
			Category:   provisionCategory,
			CIUser:     user,
			CIPassword: password,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ VM %s created (vmid %d)\n", name, vmid)
		fmt.Printf("  user: %s\n", user)
		if showPassword {
			fmt.Printf("  password: %s\n", password)
		}
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Print hostname and IPv4 address of a running VM",
	RunE: func(cmd *cobra.Command, args []string) error {
		if discoverVMID <= 0 {
			return errors.New("--vmid is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		proxmox, err := pve.NewFromConfig(cfg.Proxmox)
		if err != nil {
			return err
		}

		info := newDiscoverer(proxmox, cfg).Discover(cmd.Context(), discoverVMID)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	},
}

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize <name>",
	Short: "Show the hypervisor-safe form of a VM name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := sanitize.VMName(args[0])
		if name == "" {
			return errors.New("name is empty")
		}
		fmt.Println(name)
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "VM name (sanitized before use)")
	provisionCmd.Flags().StringVar(&provisionTier, "tier", "", "bronze, silver or gold")
	provisionCmd.Flags().StringVar(&provisionCategory, "category", "", "optional category, stored as a Proxmox tag")
	provisionCmd.Flags().BoolVar(&showPassword, "show-password", false, "print the generated guest password")
	_ = provisionCmd.MarkFlagRequired("name")
	_ = provisionCmd.MarkFlagRequired("tier")

	discoverCmd.Flags().IntVar(&discoverVMID, "vmid", 0, "VM id")
	_ = discoverCmd.MarkFlagRequired("vmid")
}
