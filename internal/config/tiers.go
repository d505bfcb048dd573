package config

import (
	"fmt"
	"os"

	"vm-provisioner/internal/models"

	"gopkg.in/yaml.v3"
)

// TierSpec is the fixed resource allocation of one VM tier.
type TierSpec struct {
	CPU        int `yaml:"cpu" json:"cpu"`
	RAM        int `yaml:"ram" json:"ram"`   // MiB
	Disk       int `yaml:"disk" json:"disk"` // GiB
	TemplateID int `yaml:"template" json:"template,omitempty"`
}

// TierTable maps tier names to their resources and cloud-init templates.
type TierTable map[models.VMTier]TierSpec

// DefaultTiers 는 기본 bronze/silver/gold 정의를 반환합니다.
func DefaultTiers() TierTable {
	return TierTable{
		models.TierBronze: {CPU: 1, RAM: 2048, Disk: 20, TemplateID: 1000},
		models.TierSilver: {CPU: 2, RAM: 4096, Disk: 40, TemplateID: 2000},
		models.TierGold:   {CPU: 4, RAM: 8192, Disk: 60, TemplateID: 3000},
	}
}

type tiersFile struct {
	Tiers map[string]TierSpec `yaml:"tiers"`
}

// LoadTiersFile reads a YAML tier table:
//
//	tiers:
//	  bronze: {cpu: 1, ram: 2048, disk: 20, template: 1000}
//
// A template of 0 disables the clone path for that tier.
func LoadTiersFile(path string) (TierTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiers file %s: %v", path, err)
	}
	var f tiersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tiers file %s: %v", path, err)
	}
	table := make(TierTable, len(f.Tiers))
	for name, spec := range f.Tiers {
		table[models.VMTier(name)] = spec
	}
	return table, table.Validate()
}

// Lookup returns the spec of a tier, or false if the tier is unknown.
func (t TierTable) Lookup(tier models.VMTier) (TierSpec, bool) {
	spec, ok := t[tier]
	return spec, ok
}

func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("no VM tiers configured")
	}
	for name, spec := range t {
		if !name.Valid() {
			return fmt.Errorf("unknown tier %q (bronze, silver, gold)", name)
		}
		if spec.CPU <= 0 || spec.RAM <= 0 || spec.Disk <= 0 {
			return fmt.Errorf("tier %s: cpu, ram and disk must be positive", name)
		}
		if spec.TemplateID < 0 {
			return fmt.Errorf("tier %s: template id must not be negative", name)
		}
	}
	return nil
}
